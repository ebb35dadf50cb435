// Package social implements the user registry, follow graph, and timeline
// fan-out engine. Registry and Engine are explicit components passed into
// handlers rather than process-wide singletons, so tests can run several
// independent instances in one process.
package social

import "sync"

// User tracks one registered account: its follow edges and, while an RPC
// session is live, its connection and timeline-stream state.
//
// Once created a User is never moved or deleted — callers
// hold onto the pointer returned by Registry.Get/Login for the process
// lifetime, so fan-out can safely cache follower pointers between posts.
type User struct {
	Username string

	mu                sync.Mutex
	connected         bool
	stream            *Stream
	followingFileSize int64

	followers map[string]struct{}
	following []string // ordered, preserves follow order for replay
}

func newUser(username string) *User {
	return &User{Username: username, followers: make(map[string]struct{})}
}

func (u *User) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connected
}

func (u *User) setConnected(c bool) {
	u.mu.Lock()
	u.connected = c
	u.mu.Unlock()
}

// attach binds a live timeline stream to this user. It is the only place
// connected flips true as a side effect of something other than Login,
// keeping the invariant that a live stream implies a connected user.
func (u *User) attach(s *Stream) {
	u.mu.Lock()
	u.stream = s
	u.connected = true
	u.mu.Unlock()
}

// detach clears the live stream on disconnect.
func (u *User) detach() {
	u.mu.Lock()
	u.stream = nil
	u.connected = false
	u.mu.Unlock()
}

func (u *User) liveStream() *Stream {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stream
}

func (u *User) isFollowing(name string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, f := range u.following {
		if f == name {
			return true
		}
	}
	return false
}

func (u *User) addFollowing(name string) {
	u.mu.Lock()
	u.following = append(u.following, name)
	u.mu.Unlock()
}

// removeFollowing drops name from the following list, preserving the order
// of the remaining entries; the caller rewrites the on-disk list in full.
func (u *User) removeFollowing(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, f := range u.following {
		if f == name {
			u.following = append(u.following[:i], u.following[i+1:]...)
			return
		}
	}
}

// Following returns a snapshot of the usernames this user follows, in
// follow order.
func (u *User) Following() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.following))
	copy(out, u.following)
	return out
}

func (u *User) addFollower(name string) {
	u.mu.Lock()
	u.followers[name] = struct{}{}
	u.mu.Unlock()
}

func (u *User) removeFollower(name string) {
	u.mu.Lock()
	delete(u.followers, name)
	u.mu.Unlock()
}

// Followers returns the unordered set of followers as a slice. Ordering
// of the returned slice is arbitrary; followers form an unordered set.
func (u *User) Followers() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.followers))
	for name := range u.followers {
		out = append(out, name)
	}
	return out
}

func (u *User) setFollowingFileSize(n int64) {
	u.mu.Lock()
	u.followingFileSize = n
	u.mu.Unlock()
}

// nextFollowingFileSize increments and returns the inbound log's line
// count, the new tail marker after one inbound append.
func (u *User) nextFollowingFileSize() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.followingFileSize++
	return u.followingFileSize
}
