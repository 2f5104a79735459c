// Package loadbalance decides the order in which the resolver tries a service's listings.
//
// The resolver walks the ordered listings and takes the first live one, so a policy
// controls which servers get traffic first:
//   - FirstAlive: directory order, every call prefers the first listed server
//   - RoundRobin: rotates the starting listing per service on every pass
//   - Random:     a fresh shuffle on every pass
package loadbalance

import (
	"fmt"

	"pirate-rpc/registry"
)

// Policy orders the listings of a service for one resolver pass.
// Called on every pass of every call, must be goroutine-safe.
type Policy interface {
	// Order returns the listings in the order they should be tried. It must not modify
	// the input slice.
	Order(serviceName string, listings []registry.Listing) []registry.Listing

	// Name returns the policy name (for logging/config).
	Name() string
}

// FirstAlive keeps the directory order.
type FirstAlive struct{}

func (FirstAlive) Order(_ string, listings []registry.Listing) []registry.Listing {
	return listings
}

func (FirstAlive) Name() string {
	return "first-alive"
}

// ByName returns the policy configured under name. An empty name means FirstAlive.
func ByName(name string) (Policy, error) {
	switch name {
	case "", "first-alive":
		return FirstAlive{}, nil
	case "round-robin":
		return NewRoundRobin(), nil
	case "random":
		return &Random{}, nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown policy %q", name)
	}
}
