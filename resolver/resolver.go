// Package resolver turns a service name into a connectable "tcp://host:port" endpoint.
//
// Each pass lists the service in the directory, orders the listings with a
// loadbalance.Policy and returns the first one whose host is alive. When no listing is
// alive the fallback (the per-call or configured default server) is tried. Passes are
// separated by a short sleep; running out of passes is ErrHostNotFound.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"pirate-rpc/config"
	"pirate-rpc/health"
	"pirate-rpc/loadbalance"
	"pirate-rpc/registry"
	"pirate-rpc/transport"
)

// PassInterval is the pause between two resolver passes.
const PassInterval = 10 * time.Millisecond

// ErrHostNotFound is returned when every pass ended without a live candidate.
var ErrHostNotFound = errors.New("resolver: no live host found")

// Resolver is safe for concurrent use; one instance serves every connector of a client.
type Resolver struct {
	dir      registry.Registry
	checker  *health.Checker
	policy   loadbalance.Policy
	attempts int

	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	lookup func(ctx context.Context, host string) (string, error)
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithPolicy overrides the policy named in the configuration.
func WithPolicy(p loadbalance.Policy) Option {
	return func(r *Resolver) { r.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithSleep replaces the pause between passes.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Resolver) { r.sleep = sleep }
}

// WithLookup replaces the host to IPv4 resolution.
func WithLookup(lookup func(ctx context.Context, host string) (string, error)) Option {
	return func(r *Resolver) { r.lookup = lookup }
}

// New creates a Resolver reading listings from dir. dir may be nil, in which case only
// the fallback server is ever considered.
func New(dir registry.Registry, checker *health.Checker, cfg *config.Config, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		dir:      dir,
		checker:  checker,
		attempts: max(cfg.ServerLookupAttempts, config.MinServerLookupAttempts),
		log:      slog.Default(),
		sleep:    sleepContext,
		lookup:   lookupIPv4,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy == nil {
		p, err := loadbalance.ByName(cfg.LoadBalancePolicy)
		if err != nil {
			return nil, err
		}
		r.policy = p
	}
	return r, nil
}

// Resolve returns the endpoint of a live server for serviceName. Endpoints present in
// exclude are never returned. It fails with ErrHostNotFound after all passes, or with
// the context's error if ctx ends first.
func (r *Resolver) Resolve(ctx context.Context, serviceName string, fallback registry.Listing, exclude map[string]struct{}) (string, error) {
	for pass := 1; pass <= r.attempts; pass++ {
		if endpoint, ok := r.pass(ctx, serviceName, fallback, exclude); ok {
			r.log.Debug("resolved server", "service", serviceName, "endpoint", endpoint, "pass", pass)
			return endpoint, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if pass < r.attempts {
			if err := r.sleep(ctx, PassInterval); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w for service %q after %d passes", ErrHostNotFound, serviceName, r.attempts)
}

func (r *Resolver) pass(ctx context.Context, serviceName string, fallback registry.Listing, exclude map[string]struct{}) (string, bool) {
	var listings []registry.Listing
	if r.dir != nil {
		var err error
		listings, err = r.dir.AllListingsFor(ctx, serviceName)
		if err != nil {
			r.log.Warn("directory lookup failed", "service", serviceName, "error", err)
			listings = nil
		}
	}

	for _, l := range r.policy.Order(serviceName, listings) {
		if endpoint, ok := r.candidate(ctx, l, exclude); ok {
			return endpoint, true
		}
	}
	if fallback.Address == "" {
		return "", false
	}
	return r.candidate(ctx, fallback, exclude)
}

func (r *Resolver) candidate(ctx context.Context, l registry.Listing, exclude map[string]struct{}) (string, bool) {
	ip, err := r.lookup(ctx, l.Address)
	if err != nil {
		r.log.Debug("skipping unresolvable listing", "listing", l.String(), "error", err)
		return "", false
	}
	endpoint := transport.Endpoint(ip, l.Port)
	if _, skip := exclude[endpoint]; skip {
		return "", false
	}
	if !r.checker.Alive(ctx, ip) {
		return "", false
	}
	return endpoint, true
}

// lookupIPv4 returns host unchanged if it is an IP literal, otherwise its first IPv4 address.
func lookupIPv4(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no IPv4 address for %s", host)
	}
	return ips[0].String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
