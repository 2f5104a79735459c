package loadbalance

import (
	"math/rand/v2"
	"slices"

	"pirate-rpc/registry"
)

// Random tries the listings in a new random order on every pass.
type Random struct {
	// shuffle is replaced in tests; nil means rand.Shuffle.
	shuffle func(n int, swap func(i, j int))
}

func (b *Random) Order(_ string, listings []registry.Listing) []registry.Listing {
	ordered := slices.Clone(listings)
	shuffle := b.shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	return ordered
}

func (b *Random) Name() string {
	return "random"
}
