// Package broker implements a small load-balancing broker that speaks the client's wire
// protocol. It exists for development and tests: it answers the CHECK_AVAILABLE
// preflight, runs requests on a bounded set of in-process workers and can advertise
// itself in a service directory.
//
// Request processing:
//
//	Accept conn → handleConn (one request at a time, the client socket is strictly REQ)
//	  → CHECK_AVAILABLE: WORKERS_AVAILABLE if a worker slot is free, else NO_WORKERS_AVAILABLE
//	  → anything else:   wait for a slot → Handler → reply with the request's seq
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"pirate-rpc/metrics"
	"pirate-rpc/protocol"
	"pirate-rpc/registry"
)

// Handler processes one request payload. Returning an error drops the client's
// connection without a reply, which the client sees as a timeout.
type Handler func(ctx context.Context, request []byte) ([]byte, error)

// Echo is a Handler that replies with the request.
func Echo(_ context.Context, request []byte) ([]byte, error) {
	return request, nil
}

// Broker serves one service. Create it with New.
type Broker struct {
	handler Handler
	slots   chan struct{} // one token per busy worker
	log     *slog.Logger

	// directory registration, optional
	registrar registry.Registrar
	service   string
	advertise registry.Listing
	ttl       int64

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[net.Conn]struct{}

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// Option customises a Broker.
type Option func(*Broker)

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.log = l }
}

// WithRegistrar advertises the broker as listing under service while it serves.
// ttl is in seconds, 0 registers without expiry.
func WithRegistrar(reg registry.Registrar, service string, listing registry.Listing, ttl int64) Option {
	return func(b *Broker) {
		b.registrar = reg
		b.service = service
		b.advertise = listing
		b.ttl = ttl
	}
}

// New creates a Broker running at most workers requests at once.
func New(handler Handler, workers int, opts ...Option) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		handler: handler,
		slots:   make(chan struct{}, max(workers, 1)),
		log:     slog.Default(),
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ListenAndServe listens on address and calls Serve.
func (b *Broker) ListenAndServe(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return b.Serve(ln)
}

// Serve registers the broker (if configured) and accepts connections on ln until
// Shutdown. It returns nil after a Shutdown.
func (b *Broker) Serve(ln net.Listener) error {
	if !b.track(ln) {
		ln.Close()
		return nil
	}

	if b.registrar != nil {
		if err := b.registrar.Register(b.ctx, b.service, b.advertise, b.ttl); err != nil {
			return fmt.Errorf("broker: register %s as %s: %w", b.advertise, b.service, err)
		}
		b.log.Info("registered", "service", b.service, "listing", b.advertise.String(), "ttl", b.ttl)
	}
	b.log.Info("broker listening", "address", ln.Addr().String(), "workers", cap(b.slots))

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener, Accept fails with net.ErrClosed
			if b.shutdown.Load() {
				return nil
			}
			return err
		}
		go b.handleConn(conn)
	}
}

// ServePing accepts connections on ln and closes them straight away. Clients probe it to
// decide whether this host is alive.
func (b *Broker) ServePing(ln net.Listener) error {
	if !b.track(ln) {
		ln.Close()
		return nil
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if b.shutdown.Load() {
				return nil
			}
			return err
		}
		conn.Close()
	}
}

// Available reports whether a worker slot is free right now.
func (b *Broker) Available() bool {
	return len(b.slots) < cap(b.slots)
}

func (b *Broker) track(ln net.Listener) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown.Load() {
		return false
	}
	b.listeners = append(b.listeners, ln)
	return true
}

// handleConn serves one client socket. Frames are handled in order; a REQ socket never
// sends the next request before it has the reply to the previous one.
func (b *Broker) handleConn(conn net.Conn) {
	b.mu.Lock()
	if b.shutdown.Load() {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				b.log.Warn("dropping connection", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			b.log.Warn("unexpected frame", "remote", conn.RemoteAddr().String(), "type", header.MsgType.String())
			return
		}

		reply, ok := b.handleFrame(body)
		if !ok {
			return
		}
		if err := protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeReply, Seq: header.Seq}, reply); err != nil {
			b.log.Debug("failed to write reply", "remote", conn.RemoteAddr().String(), "error", err)
			return
		}
	}
}

// handleFrame returns the reply to body; false drops the connection without one.
func (b *Broker) handleFrame(body []byte) ([]byte, bool) {
	if string(body) == protocol.CheckAvailable {
		if b.Available() {
			metrics.BrokerRequests.WithLabelValues("check", "available").Inc()
			return []byte(protocol.WorkersAvailable), true
		}
		metrics.BrokerRequests.WithLabelValues("check", "busy").Inc()
		return []byte(protocol.NoWorkersAvailable), true
	}

	b.mu.Lock()
	if b.shutdown.Load() {
		b.mu.Unlock()
		return nil, false
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	select {
	case b.slots <- struct{}{}:
	case <-b.ctx.Done():
		return nil, false
	}
	reply, err := b.handler(b.ctx, body)
	<-b.slots

	if err != nil {
		metrics.BrokerRequests.WithLabelValues("request", "error").Inc()
		b.log.Warn("handler failed", "error", err)
		return nil, false
	}
	metrics.BrokerRequests.WithLabelValues("request", "ok").Inc()
	return reply, true
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the directory so clients stop resolving to this broker
//  2. Close the listeners
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close the remaining client connections
func (b *Broker) Shutdown(timeout time.Duration) error {
	var errs []error
	if b.registrar != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := b.registrar.Deregister(ctx, b.service, b.advertise); err != nil {
			errs = append(errs, fmt.Errorf("broker: deregister: %w", err))
		}
		cancel()
	}

	b.mu.Lock()
	b.shutdown.Store(true)
	for _, ln := range b.listeners {
		ln.Close()
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("broker: timeout waiting for ongoing requests to finish"))
	}

	b.cancel()
	b.mu.Lock()
	for conn := range b.conns {
		conn.Close()
	}
	b.mu.Unlock()
	return errors.Join(errs...)
}
