// Package failover implements the primary/standby liveness and respawn
// protocol: a 1Hz "ALIVE" heartbeat with a 5s receive timeout over a
// single TCP connection, and a supervisor that respawns a dead peer with
// its original CLI flags.
//
// Both roles run one shared state machine, distinguished only by who
// accepts and who dials the heartbeat socket and by two role-specific
// side effects (the standby's death notice, the primary's router
// re-registration). Monitor preserves that symmetry: Endpoint hides the
// accept-vs-dial difference, and onDeath/onRespawn carry the two
// role-specific hooks.
package failover

import (
	"fmt"
	"net"
	"time"
)

// Role distinguishes which side of a primary/standby pair is running the
// state machine. The heartbeat and respawn logic itself does not branch on
// Role — only the caller's Endpoint and hooks do.
type Role int

const (
	RolePrimary Role = iota
	RoleStandby
)

func (r Role) String() string {
	if r == RolePrimary {
		return "primary"
	}
	return "standby"
}

const (
	aliveMessage      = "ALIVE"
	heartbeatInterval = time.Second
	heartbeatTimeout  = 5 * time.Second
	// respawnSleep is the pause between killing/starting the peer and
	// re-acquiring the heartbeat connection.
	respawnSleep = 2 * time.Second
)

// Heartbeat runs the keepalive loop over a single connection; each round
// sends "ALIVE", then reads with a 5s deadline. A write failure, a read
// failure, a timeout, or a short read is peer death.
type Heartbeat struct {
	conn net.Conn
}

// NewHeartbeat wraps an already-established heartbeat connection (accepted
// by the primary or dialed by the standby).
func NewHeartbeat(conn net.Conn) *Heartbeat {
	return &Heartbeat{conn: conn}
}

// Run blocks sending "ALIVE" once a second and reading the peer's reply
// with a 5s deadline, until a round fails — which this treats as the peer
// being dead — or done is closed.
func (h *Heartbeat) Run(done <-chan struct{}) error {
	buf := make([]byte, len(aliveMessage))
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
		}

		if _, err := h.conn.Write([]byte(aliveMessage)); err != nil {
			return fmt.Errorf("failover: heartbeat send: %w", err)
		}
		if err := h.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout)); err != nil {
			return fmt.Errorf("failover: set read deadline: %w", err)
		}
		n, err := h.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("failover: heartbeat recv: %w", err)
		}
		if n != len(aliveMessage) {
			return fmt.Errorf("failover: short heartbeat read (%d bytes)", n)
		}
	}
}

// Close closes the underlying heartbeat connection, the first step of
// peer-death handling.
func (h *Heartbeat) Close() error {
	return h.conn.Close()
}
