// Package client is the caller-facing API: send a payload to a named service and get
// the reply, or a typed *rpcerr.Error.
//
//	c, _ := client.NewClient(cfg, dir)
//	reply, err := c.Send(ctx, "Echo", []byte("ping"), connector.Options{})
//	if errors.Is(err, rpcerr.ErrDeadlineExceeded) { ... }
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/protobuf/proto"

	"pirate-rpc/config"
	"pirate-rpc/connector"
	"pirate-rpc/health"
	"pirate-rpc/message"
	"pirate-rpc/middleware"
	"pirate-rpc/registry"
	"pirate-rpc/resolver"
	"pirate-rpc/rpcerr"
)

// Client is safe for concurrent use. Every call gets its own Connector; only the
// resolver, the health cache and the transport context are shared.
type Client struct {
	cfg      *config.Config
	resolver connector.Resolver
	sockets  connector.SocketFactory
	log      *slog.Logger

	deadline time.Duration
	extra    []middleware.Middleware
	handler  middleware.HandlerFunc
}

// Option customises a Client.
type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithResolver replaces the directory-backed resolver.
func WithResolver(r connector.Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// WithSocketFactory replaces the sockets of the process-wide transport context.
func WithSocketFactory(f connector.SocketFactory) Option {
	return func(c *Client) { c.sockets = f }
}

// WithCallDeadline bounds each call, retries included.
func WithCallDeadline(d time.Duration) Option {
	return func(c *Client) { c.deadline = d }
}

// WithMiddleware appends middlewares; they run inside the built-in ones.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.extra = append(c.extra, mws...) }
}

// NewClient creates a Client that looks services up in dir. dir may be nil to always
// use the default server.
func NewClient(cfg *config.Config, dir registry.Registry, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:     cfg,
		sockets: connector.DefaultSocketFactory,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.resolver == nil {
		checker := health.NewChecker(health.Default(), cfg.HostAliveCheckInterval, cfg.PingPort, cfg.PingTimeout,
			health.WithLogger(c.log))
		r, err := resolver.New(dir, checker, cfg, resolver.WithLogger(c.log))
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		c.resolver = r
	}

	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(c.log),
		middleware.MetricsMiddleware(),
	}
	if c.deadline > 0 {
		mws = append(mws, middleware.DeadlineMiddleware(c.deadline))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	mws = append(mws, c.extra...)
	c.handler = middleware.Chain(mws...)(c.send)
	return c, nil
}

func (c *Client) send(ctx context.Context, req *message.Request) *message.Response {
	conn := connector.New(req.Service, req.Payload, req.Options, c.cfg, c.resolver,
		connector.WithSocketFactory(c.sockets),
		connector.WithLogger(c.log))
	reply, err := conn.SendRequest(ctx)
	return &message.Response{Payload: reply, Err: err, Attempts: conn.Attempts()}
}

// Send delivers request to service and returns the reply. Errors are *rpcerr.Error.
func (c *Client) Send(ctx context.Context, service string, request []byte, opts connector.Options) ([]byte, error) {
	resp := c.handler(ctx, &message.Request{Service: service, Payload: request, Options: opts})
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Payload, nil
}

// Call sends req as a protobuf message and decodes the reply into resp.
func (c *Client) Call(ctx context.Context, service string, req, resp proto.Message, opts connector.Options) error {
	payload, err := proto.Marshal(req)
	if err != nil {
		return &rpcerr.Error{Code: rpcerr.CodeTransportFault, Service: service, Err: fmt.Errorf("marshal request: %w", err)}
	}
	reply, err := c.Send(ctx, service, payload, opts)
	if err != nil {
		return err
	}
	if err := proto.Unmarshal(reply, resp); err != nil {
		return &rpcerr.Error{Code: rpcerr.CodeTransportFault, Service: service, Err: fmt.Errorf("unmarshal reply: %w", err)}
	}
	return nil
}
