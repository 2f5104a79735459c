package registry

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v2"
)

// StaticRegistry is an in-memory directory. It never expires listings; ttl is ignored.
type StaticRegistry struct {
	mu       sync.RWMutex
	services map[string][]Listing
}

// NewStaticRegistry creates a registry holding a copy of services.
func NewStaticRegistry(services map[string][]Listing) *StaticRegistry {
	r := &StaticRegistry{services: make(map[string][]Listing, len(services))}
	for name, listings := range services {
		r.services[name] = slices.Clone(listings)
	}
	return r
}

// staticFile is the on-disk layout read by LoadStaticFile:
//
//	services:
//	  Echo:
//	    - address: 127.0.0.1
//	      port: 9399
type staticFile struct {
	Services map[string][]Listing `yaml:"services"`
}

// LoadStaticFile reads a YAML listings file. Environment variables in the file are expanded.
func LoadStaticFile(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to read listings file: %w", err)
	}

	var f staticFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("registry: failed to parse listings file: %w", err)
	}
	for name, listings := range f.Services {
		for _, l := range listings {
			if l.Address == "" || l.Port <= 0 || l.Port > 65535 {
				return nil, fmt.Errorf("registry: service %s: invalid listing %q", name, l.String())
			}
		}
	}
	return NewStaticRegistry(f.Services), nil
}

func (r *StaticRegistry) AllListingsFor(_ context.Context, serviceName string) ([]Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.services[serviceName]), nil
}

func (r *StaticRegistry) Register(_ context.Context, serviceName string, listing Listing, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.services[serviceName], listing) {
		return nil
	}
	r.services[serviceName] = append(r.services[serviceName], listing)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, serviceName string, listing Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[serviceName] = slices.DeleteFunc(r.services[serviceName], func(l Listing) bool {
		return l == listing
	})
	return nil
}
