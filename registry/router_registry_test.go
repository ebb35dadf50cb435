package registry

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Luke-Grammer/Distributed-TinySNS/router"
)

func TestRouterRegistryDiscoverEmpty(t *testing.T) {
	// No router running: Discover should surface a dial error, not panic.
	reg := NewRouterRegistry("127.0.0.1:1", "127.0.0.1:1", "9000")
	if _, err := reg.Discover("primary"); err == nil {
		t.Fatal("expected dial error when no router is listening")
	}
}

// startRouter runs a real router on ephemeral ports and returns its
// backend and client addresses.
func startRouter(t *testing.T) (string, string) {
	t.Helper()
	r := router.New()
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	clientLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	backendAddr := backendLn.Addr().String()
	clientAddr := clientLn.Addr().String()
	backendLn.Close()
	clientLn.Close()

	go r.Serve("tcp", backendAddr, clientAddr)
	time.Sleep(30 * time.Millisecond)
	t.Cleanup(func() { r.Close() })
	return backendAddr, clientAddr
}

func TestRouterRegistryRegisterAndDiscover(t *testing.T) {
	backendAddr, clientAddr := startRouter(t)
	reg := NewRouterRegistry(backendAddr, clientAddr, "9999")

	instances, err := reg.Discover("primary")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 0 {
		t.Fatalf("expected no primary registered yet, got %v", instances)
	}

	if err := reg.Register("primary", ServiceInstance{Addr: "127.0.0.1:9999"}, 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	instances, err = reg.Discover("primary")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1 registered primary, got %d", len(instances))
	}
	if !strings.HasSuffix(instances[0].Addr, ":9999") {
		t.Fatalf("expected discovered address to carry the configured RPC port, got %q", instances[0].Addr)
	}

	if err := reg.Deregister("primary", instances[0].Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	instances, err = reg.Discover("primary")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 0 {
		t.Fatalf("expected 0 registered primaries after deregister, got %d", len(instances))
	}
}

func TestRouterRegistryWatchEmitsOnChange(t *testing.T) {
	backendAddr, clientAddr := startRouter(t)
	reg := NewRouterRegistry(backendAddr, clientAddr, "9999")

	ch := reg.Watch("primary")

	// With no primary registered the watcher stays silent: an empty
	// discovery matches the initial state, so there is nothing to emit.
	select {
	case got := <-ch:
		t.Fatalf("unexpected emission before any registration: %v", got)
	case <-time.After(1500 * time.Millisecond):
	}

	if err := reg.Register("primary", ServiceInstance{}, 0); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if len(got) != 1 || !strings.HasSuffix(got[0].Addr, ":9999") {
			t.Fatalf("expected one instance on the configured RPC port, got %v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no emission after the primary registered")
	}

	if err := reg.Deregister("primary", ""); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if len(got) != 0 {
			t.Fatalf("expected an empty emission after deregistration, got %v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no emission after the primary deregistered")
	}
}
