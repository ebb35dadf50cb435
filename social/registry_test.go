package social

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Luke-Grammer/Distributed-TinySNS/message"
)

func TestLoginNewAndReturningUser(t *testing.T) {
	reg := NewRegistry(t.TempDir())

	msg, err := reg.Login("alice")
	if err != nil {
		t.Fatal(err)
	}
	if msg != message.ReplyLoginSuccessful {
		t.Fatalf("first login: expect %q, got %q", message.ReplyLoginSuccessful, msg)
	}

	// A connected username rejects a second login.
	msg, err = reg.Login("alice")
	if err != nil {
		t.Fatal(err)
	}
	if msg != message.ReplyInvalidUsername {
		t.Fatalf("concurrent login: expect %q, got %q", message.ReplyInvalidUsername, msg)
	}

	u, ok := reg.Get("alice")
	if !ok {
		t.Fatal("alice not in registry after login")
	}
	u.setConnected(false)

	msg, err = reg.Login("alice")
	if err != nil {
		t.Fatal(err)
	}
	if msg != message.ReplyWelcomeBackPrefix+"alice" {
		t.Fatalf("returning login: expect welcome back, got %q", msg)
	}
}

func TestLoginRejectsBadUsernameCharacters(t *testing.T) {
	reg := NewRegistry(t.TempDir())

	for _, name := range []string{"", "al ice", "bob!", "eve/../../etc", "名前"} {
		msg, err := reg.Login(name)
		if err != nil {
			t.Fatal(err)
		}
		if msg != message.ReplyInvalidUsername {
			t.Fatalf("login %q: expect %q, got %q", name, message.ReplyInvalidUsername, msg)
		}
	}

	if msg, _ := reg.Login("A-z0.9_"); msg != message.ReplyLoginSuccessful {
		t.Fatalf("all-allowed-characters username rejected: %q", msg)
	}
}

func TestLoginSeedsSelfFollow(t *testing.T) {
	dataDir := t.TempDir()
	reg := NewRegistry(dataDir)
	if _, err := reg.Login("alice"); err != nil {
		t.Fatal(err)
	}

	u, _ := reg.Get("alice")
	if !u.isFollowing("alice") {
		t.Fatal("new user should follow themself")
	}

	following, err := LoadFollowing(dataDir, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(following) != 1 || following[0] != "alice" {
		t.Fatalf("follow-list file should seed the user's own name, got %v", following)
	}
}

func TestFollowUnfollowReplies(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	reg.Login("alice")
	reg.Login("bob")

	cases := []struct {
		op       func() (string, error)
		expected string
	}{
		{func() (string, error) { return reg.Follow("alice", "bob") }, message.ReplyFollowSuccessful},
		{func() (string, error) { return reg.Follow("alice", "bob") }, message.ReplyFollowAlreadyFollowing},
		{func() (string, error) { return reg.Follow("alice", "alice") }, message.ReplyFollowInvalidUsername},
		{func() (string, error) { return reg.Follow("alice", "nobody") }, message.ReplyFollowInvalidUsername},
		{func() (string, error) { return reg.Unfollow("alice", "bob") }, message.ReplyUnfollowSuccessful},
		{func() (string, error) { return reg.Unfollow("alice", "bob") }, message.ReplyUnfollowNotFollowing},
		{func() (string, error) { return reg.Unfollow("alice", "alice") }, message.ReplyUnfollowInvalidUsername},
		{func() (string, error) { return reg.Unfollow("alice", "nobody") }, message.ReplyUnfollowInvalidUsername},
	}
	for i, tc := range cases {
		msg, err := tc.op()
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if msg != tc.expected {
			t.Fatalf("case %d: expect %q, got %q", i, tc.expected, msg)
		}
	}
}

// TestFollowUnfollowRoundTrip checks that Follow then Unfollow leaves both
// the in-memory graph and the on-disk follow-list byte-identical to what
// they were before.
func TestFollowUnfollowRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	reg := NewRegistry(dataDir)
	reg.Login("alice")
	reg.Login("bob")

	path := filepath.Join(dataDir, "users", "alice.list")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if msg, _ := reg.Follow("alice", "bob"); msg != message.ReplyFollowSuccessful {
		t.Fatalf("follow failed: %q", msg)
	}
	if msg, _ := reg.Unfollow("alice", "bob"); msg != message.ReplyUnfollowSuccessful {
		t.Fatalf("unfollow failed: %q", msg)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatalf("follow-list changed across a follow/unfollow round trip:\nbefore %q\nafter  %q", before, after)
	}

	a, _ := reg.Get("alice")
	if a.isFollowing("bob") {
		t.Fatal("alice still follows bob in memory after unfollow")
	}
	b, _ := reg.Get("bob")
	for _, f := range b.Followers() {
		if f == "alice" {
			t.Fatal("bob still lists alice as a follower after unfollow")
		}
	}
}

// TestFollowListMatchesDisk checks that after any follow/unfollow sequence
// the on-disk list equals the in-memory following sequence line for line.
func TestFollowListMatchesDisk(t *testing.T) {
	dataDir := t.TempDir()
	reg := NewRegistry(dataDir)
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		reg.Login(name)
	}

	reg.Follow("alice", "bob")
	reg.Follow("alice", "carol")
	reg.Follow("alice", "dave")
	reg.Unfollow("alice", "carol")

	a, _ := reg.Get("alice")
	mem := a.Following()
	disk, err := LoadFollowing(dataDir, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(mem) != len(disk) {
		t.Fatalf("memory %v vs disk %v", mem, disk)
	}
	for i := range mem {
		if mem[i] != disk[i] {
			t.Fatalf("line %d: memory %q vs disk %q", i, mem[i], disk[i])
		}
	}
}

// TestLoadReconstructsGraph restarts the registry from disk and checks the
// follow graph comes back identical, with every user disconnected.
func TestLoadReconstructsGraph(t *testing.T) {
	dataDir := t.TempDir()
	reg := NewRegistry(dataDir)
	reg.Login("alice")
	reg.Login("bob")
	reg.Login("carol")
	reg.Follow("alice", "bob")
	reg.Follow("carol", "bob")

	restarted := NewRegistry(dataDir)
	if err := restarted.Load(); err != nil {
		t.Fatal(err)
	}

	if all := restarted.All(); len(all) != 3 || all[0] != "alice" || all[1] != "bob" || all[2] != "carol" {
		t.Fatalf("registration order lost across restart: %v", all)
	}

	a, ok := restarted.Get("alice")
	if !ok {
		t.Fatal("alice missing after reload")
	}
	if a.Connected() {
		t.Fatal("reloaded user should start disconnected")
	}
	if !a.isFollowing("bob") || !a.isFollowing("alice") {
		t.Fatalf("alice's following lost across restart: %v", a.Following())
	}

	b, _ := restarted.Get("bob")
	followers := map[string]bool{}
	for _, f := range b.Followers() {
		followers[f] = true
	}
	if !followers["alice"] || !followers["carol"] || !followers["bob"] {
		t.Fatalf("bob's followers lost across restart: %v", b.Followers())
	}
}

func TestListIncludesSelfFollower(t *testing.T) {
	reg := NewRegistry(t.TempDir())
	reg.Login("alice")
	reg.Login("bob")

	all, followers, err := reg.List("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0] != "alice" || all[1] != "bob" {
		t.Fatalf("all users in registration order: got %v", all)
	}
	if len(followers) != 1 || followers[0] != "alice" {
		t.Fatalf("a fresh user's only follower is themself: got %v", followers)
	}
}
