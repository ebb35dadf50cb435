// Package registry defines the discovery interface and data types used to
// find the current primary.
//
// Service discovery here solves a narrower problem than a general service
// mesh: "who is the current primary, if anyone?" Exactly one implementation
// exists, RouterRegistry, which speaks the router's bespoke wire protocol
// instead of a general-purpose KV store.
package registry

// ServiceInstance represents a single reachable primary.
type ServiceInstance struct {
	Addr string // Network address, e.g., "127.0.0.1:3010"
}

// Registry is the interface for primary registration and discovery.
// RouterRegistry is the production implementation; tests substitute a
// mockRegistry backed by an in-memory slice.
type Registry interface {
	// Register announces the caller as the primary. Called once, after
	// binding the client-facing listener, and again after every
	// failover-triggered respawn.
	Register(serviceName string, instance ServiceInstance, ttl int64) error

	// Deregister reports that the given primary address has died. The
	// standby calls this after detecting its primary died; the router
	// has no lease concept.
	Deregister(serviceName string, addr string) error

	// Discover returns the currently registered primary, if any. The
	// slice has length 0 or 1 in practice, but the interface (and the
	// router's internal hierarchy) permits more.
	Discover(serviceName string) ([]ServiceInstance, error)

	// Watch polls Discover and emits the instance list whenever it
	// changes, so a long-lived caller can notice a failover without
	// re-dialing the router itself.
	Watch(serviceName string) <-chan []ServiceInstance
}
