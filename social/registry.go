package social

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/Luke-Grammer/Distributed-TinySNS/message"
)

// usernamePattern is the full set of characters a username may contain.
// Usernames double as file name components, so anything outside
// this set is rejected at login rather than reaching the filesystem.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidUsername reports whether name is non-empty and contains only
// allowed username characters.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// Registry is the process-wide username -> User mapping. It owns
// membership mutations (Login/Follow/Unfollow); per-user connection and
// stream state is owned by the User itself.
type Registry struct {
	dataDir string

	mu    sync.Mutex
	users map[string]*User
	order []string // registration order, mirrors users.txt
}

func NewRegistry(dataDir string) *Registry {
	return &Registry{dataDir: dataDir, users: make(map[string]*User)}
}

// Load reconstructs the registry from disk: the global user list, then
// each user's follow-list file, deriving the symmetric followers set, so
// a respawned primary comes back with the follow graph it had on disk.
//
// Follow-lists are loaded eagerly at startup rather than lazily on each
// user's next login: a follower set can only be derived by scanning every
// user's following file up front.
func (r *Registry) Load() error {
	names, err := LoadUsers(r.dataDir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, name := range names {
		if _, ok := r.users[name]; !ok {
			r.users[name] = newUser(name)
			r.order = append(r.order, name)
		}
	}
	r.mu.Unlock()

	for _, name := range names {
		following, err := LoadFollowing(r.dataDir, name)
		if err != nil {
			return err
		}
		u, _ := r.Get(name)
		for _, f := range following {
			u.addFollowing(f)
			if followee, ok := r.Get(f); ok {
				followee.addFollower(name)
			}
		}
		size, err := InboundFileSize(r.dataDir, name)
		if err != nil {
			return err
		}
		u.setFollowingFileSize(size)
	}
	return nil
}

// All returns every known username, in registration order.
func (r *Registry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Get(username string) (*User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	return u, ok
}

// Login creates and self-seeds unknown usernames (a new user follows
// themself, so self-authored posts mirror into their own outbound log via
// the ordinary fan-out loop); known, disconnected usernames are
// reconnected; known, connected usernames are rejected.
func (r *Registry) Login(username string) (string, error) {
	if !ValidUsername(username) {
		return message.ReplyInvalidUsername, nil
	}
	r.mu.Lock()
	u, exists := r.users[username]
	if !exists {
		u = newUser(username)
		u.addFollowing(username)
		u.addFollower(username)
		r.users[username] = u
		r.order = append(r.order, username)
	}
	r.mu.Unlock()

	if !exists {
		if err := AppendUser(r.dataDir, username); err != nil {
			return "", err
		}
		if err := AppendFollow(r.dataDir, username, username); err != nil {
			return "", err
		}
		u.setConnected(true)
		return message.ReplyLoginSuccessful, nil
	}

	if u.Connected() {
		return message.ReplyInvalidUsername, nil
	}
	u.setConnected(true)
	return message.ReplyWelcomeBackPrefix + username, nil
}

// List returns every known username and username's followers, both in
// registration order.
func (r *Registry) List(username string) (allUsers, followers []string, err error) {
	u, ok := r.Get(username)
	if !ok {
		return nil, nil, fmt.Errorf("social: unknown user %q", username)
	}
	isFollower := make(map[string]bool)
	for _, name := range u.Followers() {
		isFollower[name] = true
	}
	allUsers = r.All()
	followers = []string{}
	for _, name := range allUsers {
		if isFollower[name] {
			followers = append(followers, name)
		}
	}
	return allUsers, followers, nil
}

// Follow adds the follower -> followee edge and persists it.
func (r *Registry) Follow(follower, followee string) (string, error) {
	if follower == followee {
		return message.ReplyFollowInvalidUsername, nil
	}
	a, aok := r.Get(follower)
	b, bok := r.Get(followee)
	if !aok || !bok {
		return message.ReplyFollowInvalidUsername, nil
	}
	if a.isFollowing(followee) {
		return message.ReplyFollowAlreadyFollowing, nil
	}
	a.addFollowing(followee)
	b.addFollower(follower)
	if err := AppendFollow(r.dataDir, follower, followee); err != nil {
		return "", err
	}
	return message.ReplyFollowSuccessful, nil
}

// Unfollow removes the follower -> followee edge and rewrites the
// follower's follow-list file.
func (r *Registry) Unfollow(follower, followee string) (string, error) {
	if follower == followee {
		return message.ReplyUnfollowInvalidUsername, nil
	}
	a, aok := r.Get(follower)
	b, bok := r.Get(followee)
	if !aok || !bok {
		return message.ReplyUnfollowInvalidUsername, nil
	}
	if !a.isFollowing(followee) {
		return message.ReplyUnfollowNotFollowing, nil
	}
	a.removeFollowing(followee)
	b.removeFollower(follower)
	if err := WriteFollowing(r.dataDir, follower, a.Following()); err != nil {
		return "", err
	}
	return message.ReplyUnfollowSuccessful, nil
}
