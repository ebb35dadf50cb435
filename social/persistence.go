package social

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Luke-Grammer/Distributed-TinySNS/message"
)

// On-disk layout: a global user list, a per-user follow-list under
// users/, and split inbound/outbound timeline logs under timelines/.
func usersFile(dataDir string) string          { return filepath.Join(dataDir, "users.txt") }
func followFile(dataDir, username string) string {
	return filepath.Join(dataDir, "users", username+".list")
}
func inboundFile(dataDir, username string) string {
	return filepath.Join(dataDir, "timelines", username+".following.log")
}
func outboundFile(dataDir, username string) string {
	return filepath.Join(dataDir, "timelines", username+".log")
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func appendLine(path, line string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func countLines(path string) (int64, error) {
	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}
	return int64(len(lines)), nil
}

// LoadUsers returns every username ever persisted, in registration order.
func LoadUsers(dataDir string) ([]string, error) { return readLines(usersFile(dataDir)) }

// AppendUser appends username to the global user list.
func AppendUser(dataDir, username string) error {
	return appendLine(usersFile(dataDir), username+"\n")
}

// LoadFollowing returns username's persisted follow list, in file order.
func LoadFollowing(dataDir, username string) ([]string, error) {
	return readLines(followFile(dataDir, username))
}

// AppendFollow appends one followee to username's follow-list file.
func AppendFollow(dataDir, username, followee string) error {
	return appendLine(followFile(dataDir, username), followee+"\n")
}

// WriteFollowing rewrites username's follow-list file in full; unfollow
// removes a middle line, so an append-only update cannot express it.
func WriteFollowing(dataDir, username string, following []string) error {
	path := followFile(dataDir, username)
	if err := ensureDir(path); err != nil {
		return err
	}
	var b strings.Builder
	for _, name := range following {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// AppendInbound appends one post to username's inbound (following) log.
func AppendInbound(dataDir, username string, p message.Post) error {
	return appendLine(inboundFile(dataDir, username), p.Line())
}

// AppendOutbound appends one post to username's outbound log.
func AppendOutbound(dataDir, username string, p message.Post) error {
	return appendLine(outboundFile(dataDir, username), p.Line())
}

// InboundFileSize returns the current line count of username's inbound log,
// used to reconstruct the replay tail marker on restart.
func InboundFileSize(dataDir, username string) (int64, error) {
	return countLines(inboundFile(dataDir, username))
}

// ReplayInbound returns the newest at most limit posts from username's
// durable inbound log, oldest first.
func ReplayInbound(dataDir, username string, limit int) ([]message.Post, error) {
	lines, err := readLines(inboundFile(dataDir, username))
	if err != nil {
		return nil, err
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	posts := make([]message.Post, 0, len(lines))
	for _, line := range lines {
		p, err := parseLine(line)
		if err != nil {
			continue
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// parseLine parses "<seconds> <poster> <text>". Post text is taken to be a
// single whitespace-delimited token: multi-word posts round-trip only
// their first word. This is a known limitation of the on-disk format,
// preserved for compatibility rather than silently fixed.
func parseLine(line string) (message.Post, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return message.Post{}, fmt.Errorf("social: malformed timeline line %q", line)
	}
	sec, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return message.Post{}, err
	}
	return message.Post{SecondsSinceEpoch: sec, Poster: fields[1], Text: fields[2]}, nil
}
