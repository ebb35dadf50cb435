package message

import "fmt"

// SentinelText is the reserved post body that opens a Timeline stream
// instead of being delivered as a real post. Sending it as a genuine
// post is indistinguishable from an attach request — a known
// limitation inherited from the wire contract, not fixed here.
const SentinelText = "Set Stream"

// Post is a single micro-blog entry, exchanged on the Timeline stream
// and persisted one-per-line in the follower/outbound logs.
//
// Text must not contain embedded newlines. The on-disk form is
// whitespace-separated (`<seconds> <poster> <text>`), so embedded
// whitespace in Text is also lossy on reload — callers that need
// multi-word posts to round-trip exactly must not rely on this format.
type Post struct {
	SecondsSinceEpoch int64  `json:"seconds_since_epoch"`
	Poster            string `json:"poster"`
	Text              string `json:"text"`
}

// IsSentinel reports whether this Post is the stream-attach sentinel
// rather than a real post.
func (p Post) IsSentinel() bool {
	return p.Text == SentinelText
}

// Line renders the post in the persisted `<seconds> <poster> <text>` format.
func (p Post) Line() string {
	return fmt.Sprintf("%d %s %s\n", p.SecondsSinceEpoch, p.Poster, p.Text)
}

// LoginArgs requests a session for Username.
type LoginArgs struct {
	Username string `json:"username"`
}

// LoginReply carries the login reply string — clients parse this text,
// so it must match exactly.
type LoginReply struct {
	Msg string `json:"msg"`
}

// ListArgs requests the known-user and follower lists for Username.
type ListArgs struct {
	Username string `json:"username"`
}

// ListReply enumerates every known username and Username's followers,
// in registry insertion order.
type ListReply struct {
	AllUsers  []string `json:"all_users"`
	Followers []string `json:"followers"`
}

// FollowArgs requests that Follower begin following Followee.
type FollowArgs struct {
	Follower string `json:"follower"`
	Followee string `json:"followee"`
}

// FollowReply carries the Follow reply string.
type FollowReply struct {
	Msg string `json:"msg"`
}

// UnfollowArgs requests that Follower stop following Followee.
type UnfollowArgs struct {
	Follower string `json:"follower"`
	Followee string `json:"followee"`
}

// UnfollowReply carries the Unfollow reply string.
type UnfollowReply struct {
	Msg string `json:"msg"`
}

// Reply string contract, parsed verbatim by the client.
const (
	ReplyFollowInvalidUsername   = "Follow Failed -- Invalid Username"
	ReplyFollowAlreadyFollowing  = "Follow Failed -- Already Following User"
	ReplyFollowSuccessful        = "Follow Successful"
	ReplyUnfollowInvalidUsername = "Unfollow Failed -- Invalid Username"
	ReplyUnfollowNotFollowing    = "Unfollow Failed -- Not Following User"
	ReplyUnfollowSuccessful      = "Unfollow Successful"
	ReplyInvalidUsername         = "Invalid Username"
	ReplyLoginSuccessful         = "Login Successful!"
	ReplyWelcomeBackPrefix       = "Welcome Back "
)
