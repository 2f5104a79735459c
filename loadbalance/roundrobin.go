package loadbalance

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"pirate-rpc/registry"
)

// RoundRobin rotates the starting listing on each pass, with one counter per service so
// that busy services do not skew the rotation of quiet ones.
type RoundRobin struct {
	counters *xsync.MapOf[string, *atomic.Uint64]
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{counters: xsync.NewMapOf[string, *atomic.Uint64]()}
}

// Order returns listings rotated left by the service's counter.
func (b *RoundRobin) Order(serviceName string, listings []registry.Listing) []registry.Listing {
	if len(listings) < 2 {
		return listings
	}
	counter, _ := b.counters.LoadOrCompute(serviceName, func() *atomic.Uint64 {
		return new(atomic.Uint64)
	})
	start := int((counter.Add(1) - 1) % uint64(len(listings)))

	ordered := make([]registry.Listing, 0, len(listings))
	ordered = append(ordered, listings[start:]...)
	return append(ordered, listings[:start]...)
}

func (b *RoundRobin) Name() string {
	return "round-robin"
}
