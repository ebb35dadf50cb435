// Package client implements the RPC client with service discovery, load balancing,
// a shared transport pool for multiplexed connections, and retry-on-failover.
//
// Call flow:
//
//	Call("SNS.Login", args, reply)
//	  → Registry.Discover("SNS")     → resolve the current primary via the router
//	  → Balancer.Pick(instances)      → select one address
//	  → getTransport(addr)            → get a shared transport (round-robin)
//	  → transport.SendPayload()       → send request, get response channel
//	  → <-channel                     → wait for response
//	  → json.Unmarshal → reply        → done
//
// The whole discover→send→wait round-trip is wrapped in RetryMiddleware, so
// a request that lands on a primary mid-failover is retried against a
// freshly re-discovered address.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Luke-Grammer/Distributed-TinySNS/codec"
	"github.com/Luke-Grammer/Distributed-TinySNS/loadbalance"
	"github.com/Luke-Grammer/Distributed-TinySNS/message"
	"github.com/Luke-Grammer/Distributed-TinySNS/middleware"
	"github.com/Luke-Grammer/Distributed-TinySNS/registry"
	"github.com/Luke-Grammer/Distributed-TinySNS/transport"
)

// Client manages the full RPC call lifecycle: service discovery → load balancing → transport → call.
type Client struct {
	registry   registry.Registry                       // Service discovery (router-backed or mock)
	balancer   loadbalance.Balancer                    // Load balancing strategy
	transports map[string][]*transport.ClientTransport // Per-address transport pool (shared, not borrowed)
	codecType  codec.CodecType                         // Serialization format
	mu         sync.Mutex                              // Protects transports map (not the transports themselves)
	poolSize   int                                     // Number of transports per address
	counter    uint64                                  // Atomic counter for round-robin transport selection
	handler    middleware.HandlerFunc                  // Retry + logging wrapped around the raw round-trip
}

// NewClient creates a client with the given registry, load balancer, codec type, and pool size.
//
// poolSize determines how many TCP connections are maintained per server address.
// Each connection supports multiplexing, so even poolSize=1 handles concurrent calls.
// Larger pools reduce write lock contention under very high concurrency.
//
// Call() is wrapped in RetryMiddleware + LoggingMiddleware: a connection-refused
// or timeout error right after a primary/standby failover is retried
// against a freshly re-discovered address rather than surfaced to the caller.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, codecType byte, poolSize int) *Client {
	c := &Client{
		registry:   reg,
		balancer:   bal,
		transports: make(map[string][]*transport.ClientTransport),
		codecType:  codec.CodecType(codecType),
		poolSize:   poolSize,
	}
	chain := middleware.Chain(middleware.LoggingMiddleware(), middleware.RetryMiddleware(3, 200*time.Millisecond))
	c.handler = chain(c.roundTrip)
	return c
}

// getTransport returns a shared transport for the given address using round-robin selection.
//
// Design: transports are SHARED, not borrowed/returned. Since each ClientTransport supports
// multiplexing, there's no need to exclusively hold a transport during a call. The transport
// is only "used" during Send() (a few microseconds), not during the entire call (which includes
// waiting for the response). Shared access avoids 95% idle time from exclusive holding.
//
// Lock strategy:
//   - mu.Lock protects the transports map (read + write). This is nanosecond-level.
//   - net.Dial is inside the lock only on first access (pool creation). Subsequent calls
//     just read the map and select via atomic counter — no lock needed for selection.
func (c *Client) getTransport(addr string) (*transport.ClientTransport, error) {
	// Atomic counter for round-robin — each goroutine captures its own value (no race)
	n := atomic.AddUint64(&c.counter, 1)

	// Lock only to protect map access (not transport usage)
	c.mu.Lock()
	pool, ok := c.transports[addr]

	if !ok {
		// First access to this address — create all transports upfront
		pool = make([]*transport.ClientTransport, c.poolSize)
		for i := 0; i < c.poolSize; i++ {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				c.mu.Unlock()
				return nil, err
			}
			pool[i] = transport.NewClientTransport(conn, c.codecType)
		}
		// Stored only once every dial succeeded, so a failed dial leaves no
		// half-filled pool behind for the retry to pick from.
		c.transports[addr] = pool
	}
	c.mu.Unlock()

	// Round-robin selection — lock-free, uses the captured counter value
	return pool[n%uint64(c.poolSize)], nil
}

// Call performs a synchronous RPC call, retried through the middleware
// chain built in NewClient (a client observes a post-failover
// connection-refused/timeout error and must re-discover the primary, not
// fail the caller's command outright).
func (c *Client) Call(serviceMethod string, args any, reply any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}

	resp := c.handler(context.Background(), &message.RPCMessage{ServiceMethod: serviceMethod, Payload: payload})
	if resp.Error != "" {
		return fmt.Errorf("server error: %v", resp.Error)
	}
	return json.Unmarshal(resp.Payload, &reply)
}

// roundTrip is the un-retried network round-trip: discover → pick →
// transport → send → wait. Every retryable failure is reported through
// RPCMessage.Error rather than a Go error, so RetryMiddleware can inspect
// it without unwrapping anything. There is no application-level timeout;
// retry is the only policy layered on top of the transport.
//
// Steps:
//  1. Parse serviceMethod ("SNS.Login" → service="SNS")
//  2. Discover instances from registry (re-resolves the primary every call,
//     so a failover is picked up on the very next retry)
//  3. Pick an instance using load balancer
//  4. Get a shared transport for that instance
//  5. Send the request and wait for the response
func (c *Client) roundTrip(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	split := strings.Split(req.ServiceMethod, ".")
	if len(split) != 2 {
		return &message.RPCMessage{Error: fmt.Sprintf("invalid serviceMethod format: %v", req.ServiceMethod)}
	}
	serviceName := split[0]

	instances, err := c.registry.Discover(serviceName)
	if err != nil {
		return &message.RPCMessage{Error: err.Error()}
	}

	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return &message.RPCMessage{Error: err.Error()}
	}

	t, err := c.getTransport(instance.Addr)
	if err != nil {
		return &message.RPCMessage{Error: err.Error()}
	}

	_, ch, err := t.SendPayload(req.ServiceMethod, req.Payload)
	if err != nil {
		return &message.RPCMessage{Error: err.Error()}
	}

	return <-ch
}
