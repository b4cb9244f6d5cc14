package loadbalance

import (
	"fmt"
	"sync/atomic"
)

// RoundRobinBalancer cycles through the endpoints in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter uint64
}

func (b *RoundRobinBalancer) Pick(endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}
	index := (atomic.AddUint64(&b.counter, 1) - 1) % uint64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "round_robin"
}
