package loadbalance

import (
	"fmt"
	"math/rand"
)

type WeightedRandomBalancer struct{}

func weight(e Endpoint) int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}

func (b *WeightedRandomBalancer) Pick(endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}

	total := 0
	for _, e := range endpoints {
		total += weight(e)
	}

	// Walk the cumulative weights until r falls inside one
	r := rand.Intn(total)
	for i := range endpoints {
		r -= weight(endpoints[i])
		if r < 0 {
			return &endpoints[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "weighted_random"
}
