package registry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Luke-Grammer/Distributed-TinySNS/router"
)

// RouterRegistry implements Registry by speaking the router's raw TCP
// protocol instead of a general-purpose KV store. serviceName is
// accepted for interface compatibility but unused — the router only ever
// tracks one kind of thing, the current primary.
type RouterRegistry struct {
	backendAddr string // router's backend port, dialed to register/deregister
	clientAddr  string // router's client port, dialed to discover
	rpcPort     string // the primary's well-known RPC port, appended to a discovered IP

	registrationConn net.Conn // held open for the lifetime of a MASTER registration
}

// NewRouterRegistry creates a registry bound to one router's backend and
// client ports. rpcPort is the port every primary serves RPCs on: the
// router only ever hands back a bare IP, and the client supplies its own
// idea of the port rather than the router advertising one.
func NewRouterRegistry(backendAddr, clientAddr, rpcPort string) *RouterRegistry {
	return &RouterRegistry{backendAddr: backendAddr, clientAddr: clientAddr, rpcPort: rpcPort}
}

// Register dials the router's backend port and sends the 'M' ("MASTER")
// byte. ttl is unused; the router has no lease concept, it tracks
// liveness via connection close instead.
//
// The connection is intentionally left open: the router keys a primary's
// registration on that same long-lived TCP connection, so closing it
// immediately would deregister the caller. The registry keeps it (closing
// any connection from an earlier Register) until Deregister or Close, or
// until the process exits.
func (r *RouterRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	conn, err := net.Dial("tcp", r.backendAddr)
	if err != nil {
		return fmt.Errorf("registry: dial router backend: %w", err)
	}
	if _, err := conn.Write([]byte{router.MsgMaster}); err != nil {
		conn.Close()
		return fmt.Errorf("registry: send MASTER: %w", err)
	}
	if r.registrationConn != nil {
		r.registrationConn.Close()
	}
	r.registrationConn = conn
	return nil
}

// Deregister sends the 'D' ("DEAD") byte over a fresh connection to the
// router's backend port and closes this registry's held registration
// connection, if any. addr is not sent: the router removes the address
// the 'D' connection comes from. The standby is the usual caller.
func (r *RouterRegistry) Deregister(serviceName string, addr string) error {
	conn, err := net.Dial("tcp", r.backendAddr)
	if err != nil {
		return fmt.Errorf("registry: dial router backend: %w", err)
	}
	defer conn.Close()
	_, err = conn.Write([]byte{router.MsgDead})
	if r.registrationConn != nil {
		r.registrationConn.Close()
		r.registrationConn = nil
	}
	return err
}

// Close releases the held registration connection, if any, without
// notifying the router (used on graceful shutdown, where the router's
// own zero-byte-read detection reaps the entry).
func (r *RouterRegistry) Close() error {
	if r.registrationConn == nil {
		return nil
	}
	err := r.registrationConn.Close()
	r.registrationConn = nil
	return err
}

// Discover dials the router's client port once and parses the single
// reply: either the literal byte '0' (no primary) or an ASCII IPv4 address.
func (r *RouterRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	conn, err := net.Dial("tcp", r.clientAddr)
	if err != nil {
		return nil, fmt.Errorf("registry: dial router client port: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, net.IPv4len*4) // generous upper bound on an ASCII dotted-quad
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("registry: read router reply: %w", err)
	}
	if n == 1 && buf[0] == router.NoMasterByte {
		return nil, nil
	}
	// The address may arrive NUL-terminated.
	host := strings.TrimRight(string(buf[:n]), "\x00")
	return []ServiceInstance{{Addr: net.JoinHostPort(host, r.rpcPort)}}, nil
}

// Watch polls Discover once a second and emits the instance list whenever
// the primary's address changes, so a long-lived caller can notice a
// failover without re-dialing the router itself. Emissions are deduped on
// the first instance's address; a failed poll is skipped, not emitted.
// The channel is never closed and the polling goroutine runs for the life
// of the process, so callers must keep receiving.
func (r *RouterRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	go func() {
		var last string
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			instances, err := r.Discover(serviceName)
			if err != nil {
				continue
			}
			cur := ""
			if len(instances) > 0 {
				cur = instances[0].Addr
			}
			if cur != last {
				last = cur
				ch <- instances
			}
		}
	}()
	return ch
}
