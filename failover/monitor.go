package failover

import (
	"fmt"
	"log"
	"net"
	"time"
)

// Endpoint yields the heartbeat connection for one round of the state
// machine: the primary accepts (it owns the heartbeat listener), the
// standby dials. The pair communicates over a single TCP connection on
// the primary's heartbeat port.
type Endpoint interface {
	Connect() (net.Conn, error)
}

// ListenEndpoint implements Endpoint for the primary side: Accept blocks
// until the standby (re)connects.
type ListenEndpoint struct {
	Listener net.Listener
}

func (e *ListenEndpoint) Connect() (net.Conn, error) {
	return e.Listener.Accept()
}

// DialEndpoint implements Endpoint for the standby side: Connect dials the
// primary's heartbeat address.
type DialEndpoint struct {
	Addr string
}

func (e *DialEndpoint) Connect() (net.Conn, error) {
	return net.Dial("tcp", e.Addr)
}

// Monitor runs the failover loop for one side of a primary/standby pair:
// acquire a heartbeat connection, run the keepalive loop until the peer
// is presumed dead, respawn it, wait, re-acquire the connection, and
// resume. It runs until Stop is called or an Endpoint failure makes
// recovery impossible — a fatal error on the heartbeat listener/dial
// itself, not a timed-out receive, is terminal.
type Monitor struct {
	role       Role
	endpoint   Endpoint
	supervisor *Supervisor

	// onDeath runs once peer death is detected, before respawning.
	// Standby-only (send "DEAD" to the router); nil for the primary.
	onDeath func() error

	// onRespawn runs once the peer is back up and the heartbeat channel
	// is re-acquired. Primary-only (re-register "MASTER" with the
	// router); nil for the standby.
	onRespawn func() error

	stop chan struct{}
}

// NewMonitor builds a Monitor for one role. Either hook may be nil.
func NewMonitor(role Role, endpoint Endpoint, supervisor *Supervisor, onDeath, onRespawn func() error) *Monitor {
	return &Monitor{
		role:       role,
		endpoint:   endpoint,
		supervisor: supervisor,
		onDeath:    onDeath,
		onRespawn:  onRespawn,
		stop:       make(chan struct{}),
	}
}

// Stop ends the monitor loop after its current heartbeat round returns.
func (m *Monitor) Stop() {
	close(m.stop)
}

// Run blocks executing the failover loop. It returns only when Stop is
// called, acquiring a fresh heartbeat connection fails outright, or the
// peer process cannot be started (the process is expected to exit in
// those cases and let its sibling notice the death and respawn it).
func (m *Monitor) Run() error {
	respawned := false
	for {
		select {
		case <-m.stop:
			return nil
		default:
		}

		conn, err := m.endpoint.Connect()
		if err != nil {
			return fmt.Errorf("failover(%s): acquire heartbeat connection: %w", m.role, err)
		}

		if respawned {
			respawned = false
			if m.onRespawn != nil {
				if rerr := m.onRespawn(); rerr != nil {
					log.Printf("failover(%s): re-register failed: %v", m.role, rerr)
				}
			}
		}

		hb := NewHeartbeat(conn)
		err = hb.Run(m.stop)
		hb.Close()

		select {
		case <-m.stop:
			return nil
		default:
		}
		if err == nil {
			// Run only returns nil without an error if m.stop fired mid-read;
			// the select above already handles that case, so reaching here
			// with a nil error and an open stop channel doesn't happen in
			// practice, but treat it as a clean loop-back rather than death.
			continue
		}

		log.Printf("failover(%s): peer presumed dead: %v", m.role, err)

		if m.onDeath != nil {
			if derr := m.onDeath(); derr != nil {
				log.Printf("failover(%s): death notice failed: %v", m.role, derr)
			}
		}

		if err := m.supervisor.Respawn(); err != nil {
			return fmt.Errorf("failover(%s): respawn peer: %w", m.role, err)
		}

		time.Sleep(respawnSleep)
		respawned = true
	}
}
