package social

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/Luke-Grammer/Distributed-TinySNS/codec"
	"github.com/Luke-Grammer/Distributed-TinySNS/message"
	"github.com/Luke-Grammer/Distributed-TinySNS/protocol"
)

// ReplayBufferSize bounds both the newest-posts replay on stream attach and
// the live in-memory buffer between the fan-out writer and a user's own
// stream drainer.
const ReplayBufferSize = 20

// Stream is one online user's live bidirectional timeline connection. The
// fan-out writer (running on whichever goroutine is handling the poster's
// connection) enqueues posts; a dedicated drain goroutine per stream is
// the sole writer to conn. The buffer between them is the per-user
// producer/consumer pair separating fan-out from delivery.
type Stream struct {
	conn      net.Conn
	codecType byte

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []message.Post
	closed bool
}

func newStream(conn net.Conn, codecType byte) *Stream {
	s := &Stream{conn: conn, codecType: codecType}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enqueue hands a post to this stream's drain goroutine. Overflow drops
// the oldest buffered post; the durable log keeps every post regardless.
func (s *Stream) enqueue(p message.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.buf) >= ReplayBufferSize {
		s.buf = s.buf[1:]
	}
	s.buf = append(s.buf, p)
	s.cond.Signal()
}

// drain blocks waiting for buffered posts and writes each to the
// connection in order, until the stream is closed or a write fails.
func (s *Stream) drain() {
	for {
		s.mu.Lock()
		for len(s.buf) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		p := s.buf[0]
		s.buf = s.buf[1:]
		s.mu.Unlock()

		if err := s.write(p); err != nil {
			s.Close()
			return
		}
	}
}

func (s *Stream) write(p message.Post) error {
	payload, err := json.Marshal(p)
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
	return protocol.Encode(s.conn, &header, body)
}

func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Engine runs the Timeline streaming RPC: it owns no state of its own
// beyond a reference to the Registry and the data directory.
type Engine struct {
	registry *Registry
	dataDir  string
}

func NewEngine(reg *Registry, dataDir string) *Engine {
	return &Engine{registry: reg, dataDir: dataDir}
}

// Attach binds conn as username's live timeline stream: it replays the
// newest durable posts, starts the stream's drain goroutine, then blocks
// reading further posts from conn and fanning each out, until the
// connection closes. Returning nil means the client disconnected
// normally; callers should not treat that as a server error.
func (e *Engine) Attach(conn net.Conn, codecType byte, username string) error {
	user, ok := e.registry.Get(username)
	if !ok {
		return fmt.Errorf("social: unknown user %q", username)
	}

	replay, err := ReplayInbound(e.dataDir, username, ReplayBufferSize)
	if err != nil {
		return err
	}

	stream := newStream(conn, codecType)
	for _, p := range replay {
		if err := stream.write(p); err != nil {
			return err
		}
	}

	user.attach(stream)
	go stream.drain()
	defer func() {
		stream.Close()
		user.detach()
	}()

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return nil
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
		if post.IsSentinel() {
			// A second "Set Stream" mid-connection is indistinguishable from
			// a real post with that exact text — the sentinel is part of the
			// wire contract. Treat it as a no-op re-attach.
			continue
		}
		post.Poster = username

		if err := e.fanOut(post); err != nil {
			log.Printf("social: fan-out from %s: %v", username, err)
		}
	}
}

// fanOut delivers one accepted post to every follower of its poster: the
// durable appends are the commit point, live delivery follows them.
// The poster reaches their own logs through the self-follow edge seeded at
// login, so their outbound .log records the post without a special case —
// only live re-delivery to the poster is suppressed.
func (e *Engine) fanOut(post message.Post) error {
	poster, ok := e.registry.Get(post.Poster)
	if !ok {
		return fmt.Errorf("social: unknown poster %q", post.Poster)
	}

	for _, followerName := range poster.Followers() {
		follower, ok := e.registry.Get(followerName)
		if !ok {
			continue
		}
		if err := AppendInbound(e.dataDir, followerName, post); err != nil {
			log.Printf("social: append inbound for %s: %v", followerName, err)
			continue
		}
		follower.nextFollowingFileSize()
		// Convenience mirror: each follower's outbound log also gets a
		// copy of everything they receive.
		if err := AppendOutbound(e.dataDir, followerName, post); err != nil {
			log.Printf("social: append outbound for %s: %v", followerName, err)
		}

		if followerName == post.Poster {
			// Self-posts mirror to disk only, never re-delivered on the
			// poster's own live stream.
			continue
		}
		if stream := follower.liveStream(); stream != nil && follower.Connected() {
			stream.enqueue(post)
		}
	}
	return nil
}
