// Package loadbalance picks which ConnectServer endpoint serves the next exchange.
//
// Two strategies are implemented:
//   - RoundRobin:      equal-capacity endpoints
//   - WeightedRandom:  endpoints with different capacity
package loadbalance

import "fmt"

// Endpoint is one ConnectServer address a client may use.
type Endpoint struct {
	Addr   string
	Weight int // relative share for WeightedRandom; <= 0 counts as 1
}

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each exchange to select a target endpoint.
type Balancer interface {
	// Pick selects one endpoint from the available list.
	// Called on every exchange, so it must be goroutine-safe.
	Pick(endpoints []Endpoint) (*Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name. An empty name selects round robin.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
