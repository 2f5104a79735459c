package registry

import (
	"context"
	"net"
	"strconv"
)

// Listing is one advertised {address, port} candidate for a service.
type Listing struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

func (l Listing) String() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// Registry is the service directory the resolver reads from.
// AllListingsFor may return an empty slice; it is called again on every resolver pass.
type Registry interface {
	AllListingsFor(ctx context.Context, serviceName string) ([]Listing, error)
}

// Registrar is implemented by directories that brokers can advertise themselves in.
// ttl is in seconds; 0 means the listing never expires on its own.
type Registrar interface {
	Register(ctx context.Context, serviceName string, listing Listing, ttl int64) error
	Deregister(ctx context.Context, serviceName string, listing Listing) error
}
