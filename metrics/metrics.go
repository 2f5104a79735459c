// Package metrics holds the Prometheus collectors shared by the client-side transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Attempts counts request attempts (one socket, one send+recv) per service.
	Attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pirate_rpc_attempts_total",
			Help: "Total number of request attempts",
		},
		[]string{"service"},
	)

	// Timeouts counts attempts that ended in a send/receive timeout.
	Timeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pirate_rpc_attempt_timeouts_total",
			Help: "Total number of request attempts that timed out",
		},
		[]string{"service"},
	)

	// Calls counts finished calls by outcome (ok, ServiceUnavailable, DeadlineExceeded, TransportFault).
	Calls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pirate_rpc_calls_total",
			Help: "Total number of calls by outcome",
		},
		[]string{"service", "outcome"},
	)

	// CallLatency tracks the wall time of whole calls, retries included.
	CallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pirate_rpc_call_latency_seconds",
			Help:    "Call latency in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// Preflight counts CHECK_AVAILABLE handshakes by result (available, rejected, failed).
	Preflight = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pirate_rpc_preflight_total",
			Help: "Total number of preflight handshakes by result",
		},
		[]string{"result"},
	)

	// HealthProbes counts TCP liveness probes by result (open, closed).
	HealthProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pirate_rpc_health_probes_total",
			Help: "Total number of TCP liveness probes by result",
		},
		[]string{"result"},
	)

	// HealthCacheHits counts liveness checks answered from the cache.
	HealthCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pirate_rpc_health_cache_hits_total",
			Help: "Total number of liveness checks served from the health cache",
		},
	)

	// RateLimited counts calls rejected by the client-side rate limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pirate_rpc_rate_limited_total",
			Help: "Total number of calls rejected by the client-side rate limiter",
		},
		[]string{"service"},
	)

	// BrokerRequests counts requests handled by the development broker by kind (check, request).
	BrokerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pirate_rpc_broker_requests_total",
			Help: "Total number of frames handled by the broker",
		},
		[]string{"kind", "result"},
	)
)
