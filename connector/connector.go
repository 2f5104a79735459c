// Package connector sends one request to a service, retrying on timeouts.
//
// A Connector is created per logical call and follows the Lazy Pirate pattern: every
// attempt resolves a server, opens a fresh socket, sends the request and waits for the
// reply with a bounded timeout. A timeout throws the socket away and starts over from
// resolution, so the retry can land on a different server. Anything else ends the call.
//
//	attempt 1..ClientRetries:
//	    resolve → open → [preflight] → send → recv → close
//	    ok       → return reply
//	    timeout  → next attempt
//	    fatal    → return TransportFault / ServiceUnavailable
//	exhausted   → return DeadlineExceeded
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pirate-rpc/config"
	"pirate-rpc/metrics"
	"pirate-rpc/protocol"
	"pirate-rpc/registry"
	"pirate-rpc/resolver"
	"pirate-rpc/rpcerr"
	"pirate-rpc/transport"
)

// maxAcquireRounds bounds how many candidates one attempt may reject in preflight before
// giving up on the service.
const maxAcquireRounds = 32

// Options are the per-call overrides.
type Options struct {
	// Host/Port name the server to use when the directory has no live listing.
	// Empty means the configured default server.
	Host string
	Port int

	// Timeout overrides both the send and receive timeout of the request. Zero keeps
	// the configured timeouts, a negative value disables them.
	Timeout time.Duration

	// FirstAliveLoadBalance enables the CHECK_AVAILABLE preflight for this call even if
	// it is not enabled in the configuration.
	FirstAliveLoadBalance bool
}

// Socket is the subset of *transport.Socket a Connector uses.
type Socket interface {
	Connect(endpoint string) error
	SetSendTimeout(d time.Duration) error
	SetRecvTimeout(d time.Duration) error
	SetLinger(d time.Duration) error
	Send(body []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Resolver finds the endpoint of a live server. *resolver.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, serviceName string, fallback registry.Listing, exclude map[string]struct{}) (string, error)
}

// SocketFactory creates an unconnected socket.
type SocketFactory func() (Socket, error)

// DefaultSocketFactory creates sockets from the process-wide transport context.
func DefaultSocketFactory() (Socket, error) {
	s, err := transport.DefaultRegistry().Context().NewSocket()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Connector carries the state of one call. It is not safe for concurrent use and
// SendRequest may be called only once.
type Connector struct {
	id       uuid.UUID
	service  string
	request  []byte
	opts     Options
	cfg      *config.Config
	resolver Resolver
	sockets  SocketFactory
	log      *slog.Logger

	used     bool
	attempt  int
	started  time.Time
	rejected map[string]struct{}
}

// Option customises a Connector.
type Option func(*Connector)

func WithSocketFactory(f SocketFactory) Option {
	return func(c *Connector) { c.sockets = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.log = l }
}

// New creates a Connector for one call of service with the given request payload.
func New(service string, request []byte, opts Options, cfg *config.Config, r Resolver, options ...Option) *Connector {
	c := &Connector{
		id:       uuid.New(),
		service:  service,
		request:  request,
		opts:     opts,
		cfg:      cfg,
		resolver: r,
		sockets:  DefaultSocketFactory,
		log:      slog.Default(),
		rejected: make(map[string]struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	c.log = c.log.With("connector", c.id.String(), "service", service)
	return c
}

// ID identifies the call in log lines.
func (c *Connector) ID() uuid.UUID {
	return c.id
}

// Attempts returns the number of attempts made so far.
func (c *Connector) Attempts() int {
	return c.attempt
}

// SendRequest runs the call and returns the reply payload. Every error it returns is an
// *rpcerr.Error.
func (c *Connector) SendRequest(ctx context.Context) ([]byte, error) {
	if c.used {
		return nil, c.fail(rpcerr.CodeTransportFault, errors.New("connector: SendRequest called twice"))
	}
	c.used = true
	c.started = time.Now()

	var lastErr error
	for c.attempt = 1; c.attempt <= max(c.cfg.ClientRetries, 1); c.attempt++ {
		metrics.Attempts.WithLabelValues(c.service).Inc()

		reply, timedOut, err := c.try(ctx)
		if err == nil {
			return reply, nil
		}
		if !timedOut {
			return nil, err
		}
		metrics.Timeouts.WithLabelValues(c.service).Inc()
		c.log.Debug("request timed out", "attempt", c.attempt, "error", err)
		lastErr = err
	}
	c.attempt = max(c.cfg.ClientRetries, 1)
	return nil, c.fail(rpcerr.CodeDeadlineExceeded, lastErr)
}

// try runs one attempt. timedOut reports a Timeout classification; any other error is
// already an *rpcerr.Error.
func (c *Connector) try(ctx context.Context) (reply []byte, timedOut bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, c.fail(rpcerr.CodeTransportFault, err)
	}

	sock, err := c.acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	// a cancelled call unblocks Send/Recv by closing the socket under them
	stop := context.AfterFunc(ctx, func() { sock.Close() })
	defer func() {
		stop()
		c.log.Debug("closing socket", "attempt", c.attempt)
		if cerr := sock.Close(); cerr != nil && err == nil {
			reply, err = nil, c.fail(rpcerr.CodeTransportFault, cerr)
		}
	}()

	send, recv := c.requestTimeouts()
	if err := sock.SetSendTimeout(send); err != nil {
		return nil, false, c.fail(rpcerr.CodeTransportFault, err)
	}
	if err := sock.SetRecvTimeout(recv); err != nil {
		return nil, false, c.fail(rpcerr.CodeTransportFault, err)
	}

	c.log.Debug("sending request", "attempt", c.attempt, "bytes", len(c.request))
	if err := sock.Send(c.request); err != nil {
		timedOut, err = c.classify(ctx, err)
		return nil, timedOut, err
	}

	c.log.Debug("waiting for response", "attempt", c.attempt, "timeout", recv)
	reply, err = sock.Recv()
	if err != nil {
		timedOut, err = c.classify(ctx, err)
		return nil, timedOut, err
	}
	c.log.Debug("received response", "attempt", c.attempt, "bytes", len(reply))
	return reply, false, nil
}

// classify turns a request-phase socket error into try's results.
func (c *Connector) classify(ctx context.Context, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, c.fail(rpcerr.CodeTransportFault, fmt.Errorf("%w: %w", ctxErr, err))
	}
	if rpcerr.Classify(err, rpcerr.PhaseRequest) == rpcerr.KindTimeout {
		return true, err
	}
	return false, c.fail(rpcerr.CodeTransportFault, err)
}

// acquire returns a connected socket that passed preflight (when enabled). Candidates
// rejected in preflight are excluded from resolution for the rest of the call.
func (c *Connector) acquire(ctx context.Context) (Socket, error) {
	fallback := c.fallback()
	for round := 0; round < maxAcquireRounds; round++ {
		endpoint, err := c.resolver.Resolve(ctx, c.service, fallback, c.rejected)
		if err != nil {
			if errors.Is(err, resolver.ErrHostNotFound) {
				return nil, c.fail(rpcerr.CodeServiceUnavailable, err)
			}
			return nil, c.fail(rpcerr.CodeTransportFault, err)
		}

		sock, err := c.open(endpoint)
		if err != nil {
			return nil, c.fail(rpcerr.CodeTransportFault, err)
		}
		if !c.preflightEnabled() {
			return sock, nil
		}

		ok, err := c.preflight(sock, endpoint)
		if err != nil {
			sock.Close()
			return nil, c.fail(rpcerr.CodeTransportFault, err)
		}
		if ok {
			return sock, nil
		}
		sock.Close()
		c.rejected[endpoint] = struct{}{}
	}
	return nil, c.fail(rpcerr.CodeServiceUnavailable,
		fmt.Errorf("%d candidates rejected in preflight", maxAcquireRounds))
}

func (c *Connector) open(endpoint string) (Socket, error) {
	sock, err := c.sockets()
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Connect(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	c.log.Debug("opened socket", "attempt", c.attempt, "endpoint", endpoint)
	return sock, nil
}

// preflight asks the broker behind sock whether a worker is free. A false result with a
// nil error means the candidate should be skipped; an error is fatal.
func (c *Connector) preflight(sock Socket, endpoint string) (bool, error) {
	if err := sock.SetSendTimeout(max(c.cfg.CheckAvailableSendTimeout, config.MinCheckAvailableTimeout)); err != nil {
		return false, err
	}
	if err := sock.SetRecvTimeout(max(c.cfg.CheckAvailableRecvTimeout, config.MinCheckAvailableTimeout)); err != nil {
		return false, err
	}

	err := sock.Send([]byte(protocol.CheckAvailable))
	var reply []byte
	if err == nil {
		reply, err = sock.Recv()
	}
	if rpcerr.Classify(err, rpcerr.PhasePreflight) == rpcerr.KindRecoverable {
		metrics.Preflight.WithLabelValues("failed").Inc()
		c.log.Debug("preflight failed", "endpoint", endpoint, "error", err)
		return false, nil
	}
	if protocol.IsNoWorkersAvailable(reply) {
		metrics.Preflight.WithLabelValues("rejected").Inc()
		c.log.Debug("no workers available", "endpoint", endpoint)
		return false, nil
	}
	metrics.Preflight.WithLabelValues("available").Inc()
	return true, nil
}

func (c *Connector) preflightEnabled() bool {
	return c.cfg.FirstAliveLoadBalance || c.opts.FirstAliveLoadBalance
}

func (c *Connector) fallback() registry.Listing {
	if c.opts.Host != "" {
		port := c.opts.Port
		if port == 0 {
			port = c.cfg.DefaultPort
		}
		return registry.Listing{Address: c.opts.Host, Port: port}
	}
	return registry.Listing{Address: c.cfg.DefaultHost, Port: c.cfg.DefaultPort}
}

func (c *Connector) requestTimeouts() (send, recv time.Duration) {
	if c.opts.Timeout != 0 {
		return c.opts.Timeout, c.opts.Timeout
	}
	return c.cfg.SendTimeout, c.cfg.RecvTimeout
}

func (c *Connector) fail(code rpcerr.Code, err error) *rpcerr.Error {
	_, recv := c.requestTimeouts()
	return &rpcerr.Error{
		Code:     code,
		Service:  c.service,
		Attempts: c.attempt,
		Elapsed:  time.Since(c.started),
		Timeout:  recv,
		Err:      err,
	}
}
