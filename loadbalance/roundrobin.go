package loadbalance

import (
	"fmt"
	"github.com/Luke-Grammer/Distributed-TinySNS/registry"
	"sync/atomic"
)

// RoundRobinBalancer distributes requests evenly across all discovered
// primaries in order, using an atomic counter for lock-free operation.
// With the usual single-primary hierarchy it always picks that one.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

// Pick selects the next primary in round-robin order.
func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no primary available")
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
