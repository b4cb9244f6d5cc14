package loadbalance

import (
	"testing"
)

var testEndpoints = []Endpoint{
	{Addr: ":44401", Weight: 10},
	{Addr: ":44402", Weight: 5},
	{Addr: ":44403", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all endpoints in order
	for i := 0; i < 3; i++ {
		ep, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		if ep.Addr != testEndpoints[i].Addr {
			t.Fatalf("pick %d: expect %s, got %s", i, testEndpoints[i].Addr, ep.Addr)
		}
	}

	// Pick again, should wrap around to first
	ep, _ := b.Pick(testEndpoints)
	if ep.Addr != testEndpoints[0].Addr {
		t.Fatalf("expect wrap around to %s, got %s", testEndpoints[0].Addr, ep.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick([]Endpoint{})
	if err == nil {
		t.Fatal("expect error for empty endpoints")
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		ep, err := b.Pick(testEndpoints)
		if err != nil {
			t.Fatal(err)
		}
		counts[ep.Addr]++
	}

	// Weight ratio is 10:5:10, so :44401 and :44403 should be ~2x of :44402
	ratio := float64(counts[":44401"]) / float64(counts[":44402"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :44401/:44402 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	ep, err := b.Pick([]Endpoint{{Addr: "a"}, {Addr: "b"}})
	if err != nil || ep == nil {
		t.Fatalf("zero weights should still pick, got %v, %v", ep, err)
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"", "round_robin", "weighted_random"} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
	if _, err := New("consistent_hash"); err == nil {
		t.Error("expect error for unknown strategy")
	}
}
