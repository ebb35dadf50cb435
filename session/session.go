// Package session implements the client-side state machine:
// DISCOVERING → CONNECTED(command) ⇄ CONNECTED(timeline) → DISCONNECTED,
// including transparent re-discovery of the primary through the router
// and a resend of the last unsent timeline post on the next attach (a
// resend that fails is kept and tried again on the attach after that).
//
// The reader/writer handoff state of a timeline session — a done channel
// created per attach and the one-slot unsent-line stash held by the
// Session value — is not package-level, so nothing here prevents running
// several sessions in one process (e.g. under test).
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Luke-Grammer/Distributed-TinySNS/client"
	"github.com/Luke-Grammer/Distributed-TinySNS/codec"
	"github.com/Luke-Grammer/Distributed-TinySNS/loadbalance"
	"github.com/Luke-Grammer/Distributed-TinySNS/message"
	"github.com/Luke-Grammer/Distributed-TinySNS/protocol"
	"github.com/Luke-Grammer/Distributed-TinySNS/registry"
)

// ServiceName is the service name the unary RPCs dispatch under, matching
// server.SNS's registration ("SNS.Login", "SNS.Follow", ...).
const ServiceName = "SNS"

// Session drives one username's full client lifecycle against a router +
// primary pair: discovery, login, the command loop, and the Timeline
// stream with reconnect.
type Session struct {
	username  string
	reg       registry.Registry
	rpc       *client.Client
	codecType byte
	in        *bufio.Scanner
	out       io.Writer

	lastAddr string // last primary address this session successfully used
	lastMsg  string // one unsent line, retried on the next attach
}

// New builds a Session. reg backs both the RPC client's own per-call
// discovery (client.Client re-resolves the primary on every unary call)
// and this Session's explicit discovery
// calls, which exist only to notice an address change and print the
// reconnect banner.
func New(username string, reg registry.Registry, bal loadbalance.Balancer, codecType byte, poolSize int, in io.Reader, out io.Writer) *Session {
	return &Session{
		username:  username,
		reg:       reg,
		rpc:       client.NewClient(reg, bal, codecType, poolSize),
		codecType: codecType,
		in:        bufio.NewScanner(in),
		out:       out,
	}
}

// Run executes one DISCOVERING → CONNECTED(command) ⇄ CONNECTED(timeline)
// cycle repeatedly until the input stream is exhausted (EOF) or discovery
// finds no primary registered at all, at which point it reports "no master
// available" and stops.
func (s *Session) Run() error {
	for {
		addr, err := s.discover()
		if err != nil {
			return err
		}
		if addr == "" {
			fmt.Fprintln(s.out, "no master available")
			return nil
		}
		if s.lastAddr != "" && s.lastAddr != addr {
			fmt.Fprintf(s.out, "reconnected to new primary at %s\n", addr)
		}
		s.lastAddr = addr

		msg, err := s.login()
		if err != nil {
			// A failed Login round-trip loops back to DISCOVERING —
			// the retry middleware inside client.Client has already chased
			// a mid-call failover; a further error here means discovery
			// itself needs to run again.
			continue
		}
		if msg == message.ReplyInvalidUsername {
			fmt.Fprintln(s.out, message.ReplyInvalidUsername)
			return nil
		}
		fmt.Fprintln(s.out, msg)

		if !s.commandLoop(addr) {
			return nil // input exhausted
		}
	}
}

// discover asks the registry for the current primary's address, returning
// "" if none is registered.
func (s *Session) discover() (string, error) {
	instances, err := s.reg.Discover(ServiceName)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", nil
	}
	return instances[0].Addr, nil
}

func (s *Session) login() (string, error) {
	var reply message.LoginReply
	if err := s.rpc.Call(ServiceName+".Login", &message.LoginArgs{Username: s.username}, &reply); err != nil {
		return "", err
	}
	return reply.Msg, nil
}

// commandLoop implements CONNECTED(command): read one line, dispatch LIST
// / FOLLOW / UNFOLLOW / TIMELINE, repeat. Returns false when input is
// exhausted (the whole session should end), true when TIMELINE was
// entered and returned (the caller should re-discover and log in again,
// since a Timeline stream closing always means a disconnect).
func (s *Session) commandLoop(addr string) bool {
	for s.in.Scan() {
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToUpper(fields[0]) {
		case "LIST":
			if len(fields) != 1 {
				fmt.Fprintln(s.out, "FAILURE_INVALID")
				continue
			}
			s.doList()
		case "FOLLOW":
			if len(fields) != 2 {
				fmt.Fprintln(s.out, "FAILURE_INVALID")
				continue
			}
			s.doFollow(fields[1])
		case "UNFOLLOW":
			if len(fields) != 2 {
				fmt.Fprintln(s.out, "FAILURE_INVALID")
				continue
			}
			s.doUnfollow(fields[1])
		case "TIMELINE":
			if len(fields) != 1 {
				fmt.Fprintln(s.out, "FAILURE_INVALID")
				continue
			}
			s.timeline(addr)
			return true
		default:
			fmt.Fprintln(s.out, "FAILURE_INVALID")
		}
	}
	return false
}

func (s *Session) doList() {
	var reply message.ListReply
	if err := s.rpc.Call(ServiceName+".List", &message.ListArgs{Username: s.username}, &reply); err != nil {
		fmt.Fprintln(s.out, "FAILURE_UNKNOWN")
		return
	}
	fmt.Fprintf(s.out, "All Users: %s\n", strings.Join(reply.AllUsers, ", "))
	fmt.Fprintf(s.out, "Followers: %s\n", strings.Join(reply.Followers, ", "))
}

func (s *Session) doFollow(target string) {
	var reply message.FollowReply
	if err := s.rpc.Call(ServiceName+".Follow", &message.FollowArgs{Follower: s.username, Followee: target}, &reply); err != nil {
		fmt.Fprintln(s.out, "FAILURE_UNKNOWN")
		return
	}
	fmt.Fprintln(s.out, reply.Msg)
}

func (s *Session) doUnfollow(target string) {
	var reply message.UnfollowReply
	if err := s.rpc.Call(ServiceName+".Unfollow", &message.UnfollowArgs{Follower: s.username, Followee: target}, &reply); err != nil {
		fmt.Fprintln(s.out, "FAILURE_UNKNOWN")
		return
	}
	fmt.Fprintln(s.out, reply.Msg)
}

// timeline implements CONNECTED(timeline): dial the primary
// directly (the Timeline stream bypasses the unary transport's
// multiplexed request/response matching — it's a raw stream of
// MsgTypeStreamPost frames), send the sentinel, then run the reader and
// writer halves until one of them observes the connection die.
func (s *Session) timeline(addr string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintln(s.out, "FAILURE_UNKNOWN")
		return
	}
	defer conn.Close()

	if err := s.writePost(conn, message.Post{Poster: s.username, Text: message.SentinelText}); err != nil {
		fmt.Fprintln(s.out, "FAILURE_UNKNOWN")
		return
	}

	// If a previous timeline session ended mid-write, resend that line
	// now, before taking any new input.
	if s.lastMsg != "" {
		retry := s.lastMsg
		s.lastMsg = ""
		if err := s.writePost(conn, message.Post{SecondsSinceEpoch: time.Now().Unix(), Poster: s.username, Text: retry}); err != nil {
			s.lastMsg = retry
		}
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go s.timelineReader(conn, stop)
	s.timelineWriter(conn, stop, done)
}

// timelineReader renders incoming posts until the stream closes, then
// signals stop. stop does not interrupt a line read the writer already
// has in progress: the writer checks it before each read, so it ends only
// after its current read returns.
func (s *Session) timelineReader(conn net.Conn, stop func()) {
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			stop()
			return
		}
		if header.MsgType != protocol.MsgTypeStreamPost {
			continue
		}
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		var rpcMsg message.RPCMessage
		if err := cdc.Decode(body, &rpcMsg); err != nil {
			continue
		}
		var post message.Post
		if err := json.Unmarshal(rpcMsg.Payload, &post); err != nil {
			continue
		}
		fmt.Fprintf(s.out, "%s (%d) >> %s\n", post.Poster, post.SecondsSinceEpoch, post.Text)
	}
}

// timelineWriter prompts for lines and posts them until stdin is
// exhausted, stop fires (reader saw the stream close), or a write fails —
// in which case the unsent line is stashed in lastMsg for retry on the
// next attach.
func (s *Session) timelineWriter(conn net.Conn, stop func(), done <-chan struct{}) {
	defer stop()
	for {
		select {
		case <-done:
			return
		default:
		}
		if !s.in.Scan() {
			return
		}
		line := s.in.Text()
		if line == "" {
			continue
		}
		post := message.Post{SecondsSinceEpoch: time.Now().Unix(), Poster: s.username, Text: line}
		if err := s.writePost(conn, post); err != nil {
			s.lastMsg = line
			return
		}
	}
}

func (s *Session) writePost(conn net.Conn, post message.Post) error {
	payload, err := json.Marshal(post)
	if err != nil {
		return err
	}
	cdc := codec.GetCodec(codec.CodecType(s.codecType))
	body, err := cdc.Encode(&message.RPCMessage{ServiceMethod: "Timeline", Payload: payload})
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: s.codecType,
		MsgType:   protocol.MsgTypeStreamPost,
		BodyLen:   uint32(len(body)),
	}
	return protocol.Encode(conn, &header, body)
}
