package failover

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
)

// Flags mirrors the four CLI flags every primary/standby process is
// launched with (-h/-c/-b/-a): they are passed to a respawned peer
// unchanged, so it comes back up with the same identity and ports.
type Flags struct {
	ClientPort    int
	BackendPort   int
	HeartbeatPort int
	RouterAddr    string
}

// Args renders the flags in the peer binary's own CLI form.
func (f Flags) Args() []string {
	return []string{
		fmt.Sprintf("-c=%d", f.ClientPort),
		fmt.Sprintf("-b=%d", f.BackendPort),
		fmt.Sprintf("-h=%d", f.HeartbeatPort),
		fmt.Sprintf("-a=%s", f.RouterAddr),
	}
}

// Supervisor owns a handle to the one peer process it spawns, and
// replaces a shell-level `pkill <name>` + `fork`/`exec` with a direct
// kill-then-start on that handle, which removes the race between kill
// and start and the dependence on process names.
type Supervisor struct {
	peerBinary string
	flags      Flags

	mu     sync.Mutex
	cmd    *exec.Cmd
	reaped chan struct{} // closed once the background reaper has Waited on cmd; nil for adopted processes
}

// NewSupervisor creates a supervisor that will respawn peerBinary with
// flags whenever asked.
func NewSupervisor(peerBinary string, flags Flags) *Supervisor {
	return &Supervisor{peerBinary: peerBinary, flags: flags}
}

// Adopt records an already-running peer process (e.g. the sibling started
// by the launcher script at cold start) so the first Respawn kills the
// right thing instead of leaving it orphaned.
func (s *Supervisor) Adopt(cmd *exec.Cmd) {
	s.mu.Lock()
	s.cmd = cmd
	s.reaped = nil
	s.mu.Unlock()
}

// Respawn kills whatever process this supervisor previously started (if
// any) and starts a fresh one with the same flags. The old process is
// fully reaped before the new one starts, so a failed old process never
// lingers as a zombie; os/exec reaps via Wait rather than a SIGCHLD
// handler. Each spawned process is Waited on by exactly one goroutine —
// Wait must not be called twice on the same handle — so Respawn blocks on
// the previous spawn's reaper instead of calling Wait itself.
func (s *Supervisor) Respawn() error {
	s.mu.Lock()
	old, oldReaped := s.cmd, s.reaped
	s.mu.Unlock()

	if old != nil && old.Process != nil {
		_ = old.Process.Kill()
		if oldReaped != nil {
			<-oldReaped
		} else {
			// Adopted processes have no reaper goroutine.
			_ = old.Wait()
		}
	}

	cmd := exec.Command(s.peerBinary, s.flags.Args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failover: start peer %s: %w", s.peerBinary, err)
	}

	reaped := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.reaped = reaped
	s.mu.Unlock()

	// Reap in the background so an unexpected peer exit never leaves a
	// zombie, without blocking the caller on the peer's lifetime.
	go func() {
		defer close(reaped)
		if err := cmd.Wait(); err != nil {
			log.Printf("failover: peer %s exited: %v", s.peerBinary, err)
		}
	}()
	return nil
}

// Stop kills the currently supervised process, if any, without starting a
// replacement. Used on graceful shutdown of the supervising side; the
// reaper goroutine from the last Respawn collects the exit status.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.reaped = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
