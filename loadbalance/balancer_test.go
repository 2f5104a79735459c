package loadbalance

import (
	"slices"
	"sync"
	"testing"

	"pirate-rpc/registry"
)

var testListings = []registry.Listing{
	{Address: "10.0.0.1", Port: 9399},
	{Address: "10.0.0.2", Port: 9399},
	{Address: "10.0.0.3", Port: 9399},
}

func TestFirstAliveKeepsOrder(t *testing.T) {
	got := FirstAlive{}.Order("Echo", testListings)
	if !slices.Equal(got, testListings) {
		t.Fatalf("expect directory order, got %v", got)
	}
}

func TestRoundRobin(t *testing.T) {
	b := NewRoundRobin()

	// three passes should each start on a different listing
	firsts := make([]registry.Listing, 3)
	for i := range 3 {
		got := b.Order("Echo", testListings)
		if len(got) != len(testListings) {
			t.Fatalf("expect %d listings, got %d", len(testListings), len(got))
		}
		firsts[i] = got[0]
	}
	if !slices.Equal(firsts, testListings) {
		t.Fatalf("expect rotation through %v, got %v", testListings, firsts)
	}

	// the fourth pass wraps around
	if got := b.Order("Echo", testListings); got[0] != testListings[0] {
		t.Fatalf("expect wrap around to %v, got %v", testListings[0], got[0])
	}

	// other services rotate independently
	if got := b.Order("Arith", testListings); got[0] != testListings[0] {
		t.Fatalf("expect a new service to start at the first listing, got %v", got[0])
	}

	// input is untouched
	if testListings[0].Address != "10.0.0.1" {
		t.Fatal("Order modified its input")
	}
}

func TestRoundRobinConcurrent(t *testing.T) {
	b := NewRoundRobin()
	counts := make([]int, len(testListings))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first := b.Order("Echo", testListings)[0]
			mu.Lock()
			counts[slices.Index(testListings, first)]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	for i, c := range counts {
		if c != 10 {
			t.Fatalf("listing %d started %d passes, expect 10", i, c)
		}
	}
}

func TestRoundRobinShortLists(t *testing.T) {
	b := NewRoundRobin()
	if got := b.Order("Echo", nil); len(got) != 0 {
		t.Fatalf("expect empty order, got %v", got)
	}
	one := testListings[:1]
	if got := b.Order("Echo", one); !slices.Equal(got, one) {
		t.Fatalf("expect %v, got %v", one, got)
	}
}

func TestRandom(t *testing.T) {
	// reverse instead of shuffling
	b := &Random{shuffle: func(n int, swap func(i, j int)) {
		for i := range n / 2 {
			swap(i, n-1-i)
		}
	}}
	got := b.Order("Echo", testListings)
	want := []registry.Listing{testListings[2], testListings[1], testListings[0]}
	if !slices.Equal(got, want) {
		t.Fatalf("expect %v, got %v", want, got)
	}
	if testListings[0].Address != "10.0.0.1" {
		t.Fatal("Order modified its input")
	}

	// the real shuffle is a permutation
	shuffled := (&Random{}).Order("Echo", testListings)
	for _, l := range testListings {
		if !slices.Contains(shuffled, l) {
			t.Fatalf("shuffle lost %v: %v", l, shuffled)
		}
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "first-alive", "round-robin", "random"} {
		p, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if name != "" && p.Name() != name {
			t.Fatalf("ByName(%q).Name() = %q", name, p.Name())
		}
	}
	if _, err := ByName("consistent-hash"); err == nil {
		t.Fatal("expect an error for an unknown policy")
	}
}
