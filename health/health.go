// Package health answers "is this host alive?" for the server resolver.
//
// Answers come from a TTL cache shared by every connector in the process. On a miss (or a
// stale record) the Checker opens a raw TCP connection to the host's ping port and closes
// it again; only reachability is tested, no bytes are exchanged.
package health

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"pirate-rpc/metrics"
)

// Record is the last liveness result for a host.
type Record struct {
	Host     string
	ProbedAt time.Time
	Open     bool
}

// Cache maps host → Record. Safe for concurrent use; lookups for different hosts never
// contend on a shared lock.
type Cache struct {
	records *xsync.MapOf[string, Record]
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{records: xsync.NewMapOf[string, Record]()}
}

var (
	defaultCache     *Cache
	defaultCacheOnce sync.Once
)

// Default is the process-wide Cache.
func Default() *Cache {
	defaultCacheOnce.Do(func() {
		defaultCache = NewCache()
	})
	return defaultCache
}

func (c *Cache) Get(host string) (Record, bool) {
	return c.records.Load(host)
}

func (c *Cache) Put(r Record) {
	c.records.Store(r.Host, r)
}

// Forget drops the record for host so the next check probes again.
func (c *Cache) Forget(host string) {
	c.records.Delete(host)
}

func (c *Cache) Len() int {
	return c.records.Size()
}

// ProbeFunc reports whether host:port accepts a TCP connection within timeout.
type ProbeFunc func(ctx context.Context, host string, port int, timeout time.Duration) bool

// TCPProbe connects to host:port and closes the connection immediately. Keepalive,
// no-delay and a zero linger are set so the close resets the connection instead of
// lingering in TIME_WAIT.
func TCPProbe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout, KeepAlive: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			return false
		}
		if err := tcp.SetLinger(0); err != nil {
			return false
		}
	}
	return true
}

// Checker decides whether a host is alive, consulting the Cache before probing.
type Checker struct {
	cache   *Cache
	ttl     time.Duration
	port    int
	timeout time.Duration
	probe   ProbeFunc
	now     func() time.Time
	log     *slog.Logger
}

// Option customises a Checker.
type Option func(*Checker)

// WithProbe replaces the TCP probe.
func WithProbe(p ProbeFunc) Option {
	return func(c *Checker) { c.probe = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithLogger sets the logger used for probe results.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.log = l }
}

// NewChecker creates a Checker that probes pingPort on each host. A pingPort <= 0
// disables checking: every host is then reported alive.
func NewChecker(cache *Cache, ttl time.Duration, pingPort int, probeTimeout time.Duration, opts ...Option) *Checker {
	c := &Checker{
		cache:   cache,
		ttl:     ttl,
		port:    pingPort,
		timeout: probeTimeout,
		probe:   TCPProbe,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether liveness checks probe at all.
func (c *Checker) Enabled() bool {
	return c.port > 0
}

// Alive reports whether host answered its most recent probe. A cached record no older
// than the TTL is reused; anything older counts as absent and triggers a new probe.
func (c *Checker) Alive(ctx context.Context, host string) bool {
	if !c.Enabled() {
		return true
	}

	now := c.now()
	if rec, ok := c.cache.Get(host); ok && now.Sub(rec.ProbedAt) <= c.ttl {
		metrics.HealthCacheHits.Inc()
		return rec.Open
	}

	// records are shared; a caller's cancellation must not cache a live host as closed
	open := c.probe(context.WithoutCancel(ctx), host, c.port, c.timeout)
	c.cache.Put(Record{Host: host, ProbedAt: now, Open: open})

	result := "closed"
	if open {
		result = "open"
	}
	metrics.HealthProbes.WithLabelValues(result).Inc()
	c.log.Debug("liveness probe", "host", host, "port", c.port, "open", open)
	return open
}
