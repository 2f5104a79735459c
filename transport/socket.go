// Package transport implements the request socket the connector sends through, and the
// per-process messaging context that owns those sockets.
//
// A Socket behaves like a REQ socket: it strictly alternates Send and Recv, carries
// independent send and receive timeouts, and is meant to be used for a single attempt
// and then closed. Under the hood it is one TCP connection speaking the frame protocol
// from package protocol, dialled lazily on the first Send.
//
//	Connect("tcp://host:port")   records the endpoint, no I/O
//	Send(body)                   dial (first time) → write frame(seq=n)
//	Recv()                       read frame, require reply with seq=n
//	Close()                      linger as configured, release from the Context
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"pirate-rpc/protocol"
)

// Infinite disables a send or receive timeout. Any negative duration behaves the same.
const Infinite time.Duration = -1

var (
	// ErrAgain means the operation could not complete before its timeout: the peer did not
	// answer, could not be reached, or went away. It is the only retryable socket error.
	ErrAgain = errors.New("transport: resource temporarily unavailable")
	// ErrClosed is returned by any operation on a closed socket.
	ErrClosed = errors.New("transport: socket closed")
	// ErrTerminated is returned when the owning Context has been terminated.
	ErrTerminated = errors.New("transport: context terminated")
	// ErrState is returned when Send/Recv are called out of order.
	ErrState = errors.New("transport: operation not valid in current socket state")
	// ErrProtocol is returned when the peer sends something that is not a valid reply.
	ErrProtocol = errors.New("transport: protocol violation")
	// ErrInvalidEndpoint is returned by Connect for an endpoint it cannot parse.
	ErrInvalidEndpoint = errors.New("transport: invalid endpoint")
)

// Socket is a single-owner request socket. Close may be called from another goroutine
// (Context.Term does so); all other methods belong to the goroutine that created it.
type Socket struct {
	ctx *Context
	id  uint64

	mu       sync.Mutex // guards conn and closed
	conn     net.Conn
	closed   bool
	endpoint string // host:port

	sndTimeout time.Duration
	rcvTimeout time.Duration
	linger     time.Duration // negative: leave the OS default

	seq           uint32
	awaitingReply bool
}

func newSocket(ctx *Context, id uint64) *Socket {
	return &Socket{
		ctx:        ctx,
		id:         id,
		sndTimeout: Infinite,
		rcvTimeout: Infinite,
		linger:     -1,
	}
}

func (s *Socket) String() string {
	return fmt.Sprintf("socket#%d(%s)", s.id, s.endpoint)
}

// SetSendTimeout bounds each Send. It applies to the dial as well.
func (s *Socket) SetSendTimeout(d time.Duration) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.sndTimeout = d
	return nil
}

// SetRecvTimeout bounds each Recv.
func (s *Socket) SetRecvTimeout(d time.Duration) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.rcvTimeout = d
	return nil
}

// SetLinger sets how long Close waits to flush unsent data. Zero discards it immediately.
func (s *Socket) SetLinger(d time.Duration) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.linger = d
	return nil
}

// Connect records the endpoint the socket will talk to. The connection itself is
// established by the first Send, so an unreachable peer surfaces there as ErrAgain.
func (s *Socket) Connect(endpoint string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.endpoint != "" {
		return fmt.Errorf("%w: already connected to %s", ErrState, s.endpoint)
	}
	addr, err := ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	s.endpoint = addr
	return nil
}

// Send writes body as one request frame.
func (s *Socket) Send(body []byte) error {
	if s.endpoint == "" {
		return fmt.Errorf("%w: send before connect", ErrState)
	}
	if s.awaitingReply {
		return fmt.Errorf("%w: send while awaiting reply", ErrState)
	}
	conn, err := s.connection()
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(deadline(s.sndTimeout)); err != nil {
		return s.ioError("send", err)
	}
	seq := s.seq + 1
	if err := protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: seq}, body); err != nil {
		if errors.Is(err, protocol.ErrMalformed) {
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		return s.ioError("send", err)
	}
	s.seq = seq
	s.awaitingReply = true
	return nil
}

// Recv reads the reply to the last Send.
func (s *Socket) Recv() ([]byte, error) {
	if !s.awaitingReply {
		return nil, fmt.Errorf("%w: recv without a pending request", ErrState)
	}
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}

	if err := conn.SetReadDeadline(deadline(s.rcvTimeout)); err != nil {
		return nil, s.ioError("recv", err)
	}
	header, body, err := protocol.Decode(conn)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformed) {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		return nil, s.ioError("recv", err)
	}
	if header.MsgType != protocol.MsgTypeReply {
		return nil, fmt.Errorf("%w: expected reply frame, got %s", ErrProtocol, header.MsgType)
	}
	if header.Seq != s.seq {
		return nil, fmt.Errorf("%w: reply seq %d does not match request seq %d", ErrProtocol, header.Seq, s.seq)
	}
	s.awaitingReply = false
	return body, nil
}

// Close releases the connection and detaches the socket from its Context.
// Closing an already closed socket is a no-op.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.ctx.release(s)
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport: close %s: %w", s.endpoint, err)
	}
	return nil
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// connection returns the live connection, dialling it on first use.
func (s *Socket) connection() (net.Conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	dialer := net.Dialer{}
	if s.sndTimeout >= 0 {
		dialer.Timeout = s.sndTimeout
	}
	conn, err := dialer.Dial("tcp", s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrAgain, s.endpoint, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: set nodelay: %w", err)
		}
		if s.linger >= 0 {
			if err := tcp.SetLinger(int(s.linger / time.Second)); err != nil {
				conn.Close()
				return nil, fmt.Errorf("transport: set linger: %w", err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return nil, ErrClosed
	}
	s.conn = conn
	return conn, nil
}

// ioError maps an I/O failure onto the socket error vocabulary. A closed peer, a reset
// connection and an expired deadline all mean "would block": the request did not get
// through in time and may be retried elsewhere.
func (s *Socket) ioError(op string, err error) error {
	if s.isClosed() || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s timed out on %s", ErrAgain, op, s.endpoint)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %s on %s: peer went away: %w", ErrAgain, op, s.endpoint, err)
	}
	return fmt.Errorf("transport: %s on %s: %w", op, s.endpoint, err)
}

func deadline(d time.Duration) time.Time {
	if d < 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// ParseEndpoint validates a "tcp://host:port" endpoint and returns "host:port".
func ParseEndpoint(endpoint string) (string, error) {
	addr, ok := strings.CutPrefix(endpoint, "tcp://")
	if !ok {
		return "", fmt.Errorf("%w: %q: only tcp:// is supported", ErrInvalidEndpoint, endpoint)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || port == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	return addr, nil
}

// Endpoint formats host and port as a connectable endpoint.
func Endpoint(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, fmt.Sprint(port))
}
