// Package loadbalance picks which primary a client call lands on. The
// router's hierarchy holds one address in practice, but discovery returns
// a list, so the client still routes through a Balancer:
//   - RoundRobin:      the Balancer implementation; trivially correct for 0 or 1 primaries
//   - ConsistentHash:  pins a username to one primary when several exist;
//     it picks by key, so it does not implement Balancer
package loadbalance

import "github.com/Luke-Grammer/Distributed-TinySNS/registry"

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each RPC to select a target primary.
type Balancer interface {
	// Pick selects one primary from the discovered list.
	// Called on every RPC call — must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
