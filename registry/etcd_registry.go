// Package registry provides the service directory: where the resolver finds the
// listings advertised for a service.
//
// Three backends are available:
//   - EtcdRegistry:   listings under /pirate-rpc/{service}/{host:port}, lease-based TTL
//   - RedisRegistry:  a sorted set per service, scored by expiry time
//   - StaticRegistry: an in-memory table, optionally loaded from a YAML file
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdPrefix = "/pirate-rpc/"

// EtcdRegistry implements Registry and Registrar using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	log    *slog.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // etcd key -> lease kept alive for it
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, log: slog.Default(), leases: make(map[string]clientv3.LeaseID)}, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

func etcdKey(serviceName string, listing Listing) string {
	return etcdPrefix + serviceName + "/" + listing.String()
}

// Register adds a listing to etcd. With ttl > 0 the key is attached to a lease that is
// kept alive in the background; if the broker dies the lease expires and the listing
// disappears on its own.
// Re-registering a listing replaces (and revokes) its previous lease.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, listing Listing, ttl int64) error {
	val, err := json.Marshal(listing)
	if err != nil {
		return err
	}
	key := etcdKey(serviceName, listing)

	if ttl <= 0 {
		if _, err = r.client.Put(ctx, key, string(val)); err != nil {
			return err
		}
		r.swapLease(ctx, key, clientv3.NoLease)
		return nil
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	_, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}
	r.swapLease(ctx, key, lease.ID)

	// KeepAlive must outlive the caller's ctx, it runs until the client is closed
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a listing from etcd and revokes its lease, which also ends the
// KeepAlive stream for it.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, listing Listing) error {
	key := etcdKey(serviceName, listing)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}

	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := r.client.Revoke(ctx, id); err != nil {
		return fmt.Errorf("registry: revoke lease for %s: %w", key, err)
	}
	return nil
}

// leaseFor reports the lease currently kept alive for a listing.
func (r *EtcdRegistry) leaseFor(serviceName string, listing Listing) (clientv3.LeaseID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.leases[etcdKey(serviceName, listing)]
	return id, ok
}

// swapLease records id as the lease for key (NoLease clears it) and revokes the lease
// it replaces.
func (r *EtcdRegistry) swapLease(ctx context.Context, key string, id clientv3.LeaseID) {
	r.mu.Lock()
	old, had := r.leases[key]
	if id == clientv3.NoLease {
		delete(r.leases, key)
	} else {
		r.leases[key] = id
	}
	r.mu.Unlock()

	if had && old != id {
		if _, err := r.client.Revoke(ctx, old); err != nil {
			r.log.Warn("revoking replaced lease", "key", key, "error", err)
		}
	}
}

// AllListingsFor returns all listings currently registered for a service.
// Malformed values are skipped.
func (r *EtcdRegistry) AllListingsFor(ctx context.Context, serviceName string) ([]Listing, error) {
	resp, err := r.client.Get(ctx, etcdPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	listings := make([]Listing, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var listing Listing
		if err := json.Unmarshal(kv.Value, &listing); err != nil {
			r.log.Warn("skipping malformed listing", "key", string(kv.Key), "error", err)
			continue
		}
		listings = append(listings, listing)
	}
	return listings, nil
}
