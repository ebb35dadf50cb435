package loadbalance

import (
	"fmt"
	"testing"

	"github.com/Luke-Grammer/Distributed-TinySNS/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: "127.0.0.1:3010"},
	{Addr: "127.0.0.1:3011"},
	{Addr: "127.0.0.1:3012"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick([]registry.ServiceInstance{})
	if err == nil {
		t.Fatal("expect error for empty instances")
	}
}

func TestRoundRobinSingleInstance(t *testing.T) {
	b := &RoundRobinBalancer{}
	one := []registry.ServiceInstance{{Addr: "127.0.0.1:3010"}}
	for i := 0; i < 5; i++ {
		inst, err := b.Pick(one)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr != one[0].Addr {
			t.Fatalf("expect %s, got %s", one[0].Addr, inst.Addr)
		}
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testInstances {
		b.Add(&testInstances[i])
	}

	// Same key should always map to the same instance
	inst1, _ := b.Pick("alice")
	inst2, _ := b.Pick("alice")
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Different keys should (likely) map to different instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("user-%d", i))
		seen[inst.Addr] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}
