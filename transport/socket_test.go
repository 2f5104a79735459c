package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"pirate-rpc/protocol"
)

// serveFrames accepts connections on a loopback listener and answers each request frame
// with reply(body). A nil reply leaves the request unanswered.
func serveFrames(t *testing.T, reply func(h *protocol.Header, body []byte) (*protocol.Header, []byte)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					h, body, err := protocol.Decode(conn)
					if err != nil {
						return
					}
					rh, rbody := reply(h, body)
					if rh == nil {
						continue
					}
					if err := protocol.Encode(conn, rh, rbody); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return "tcp://" + ln.Addr().String()
}

func echo(h *protocol.Header, body []byte) (*protocol.Header, []byte) {
	return &protocol.Header{MsgType: protocol.MsgTypeReply, Seq: h.Seq}, body
}

func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return "tcp://" + addr
}

func TestSocketSendRecv(t *testing.T) {
	endpoint := serveFrames(t, echo)
	ctx := NewContext()

	s, err := ctx.NewSocket()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.SetLinger(0); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(endpoint); err != nil {
		t.Fatal(err)
	}

	// strict alternation over several round trips
	for _, msg := range []string{"one", "two", "three"} {
		if err := s.Send([]byte(msg)); err != nil {
			t.Fatalf("send %s: %v", msg, err)
		}
		reply, err := s.Recv()
		if err != nil {
			t.Fatalf("recv %s: %v", msg, err)
		}
		if string(reply) != msg {
			t.Fatalf("expect %q, got %q", msg, reply)
		}
	}
}

func TestSocketRecvTimeout(t *testing.T) {
	endpoint := serveFrames(t, func(*protocol.Header, []byte) (*protocol.Header, []byte) {
		return nil, nil
	})
	s, _ := NewContext().NewSocket()
	defer s.Close()
	s.SetRecvTimeout(50 * time.Millisecond)
	if err := s.Connect(endpoint); err != nil {
		t.Fatal(err)
	}
	if err := s.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := s.Recv()
	if !errors.Is(err, ErrAgain) {
		t.Fatalf("expect ErrAgain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("recv blocked for %s", elapsed)
	}
}

func TestSocketDialRefused(t *testing.T) {
	s, _ := NewContext().NewSocket()
	defer s.Close()
	s.SetSendTimeout(200 * time.Millisecond)
	if err := s.Connect(closedPort(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.Send([]byte("hello")); !errors.Is(err, ErrAgain) {
		t.Fatalf("expect ErrAgain for refused dial, got %v", err)
	}
}

func TestSocketPeerGoesAway(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		protocol.Decode(conn)
		conn.Close()
	}()

	s, _ := NewContext().NewSocket()
	defer s.Close()
	s.SetRecvTimeout(2 * time.Second)
	s.Connect("tcp://" + ln.Addr().String())
	if err := s.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Recv(); !errors.Is(err, ErrAgain) {
		t.Fatalf("expect ErrAgain when the peer hangs up, got %v", err)
	}
}

func TestSocketSeqMismatch(t *testing.T) {
	endpoint := serveFrames(t, func(h *protocol.Header, body []byte) (*protocol.Header, []byte) {
		return &protocol.Header{MsgType: protocol.MsgTypeReply, Seq: h.Seq + 10}, body
	})
	s, _ := NewContext().NewSocket()
	defer s.Close()
	s.SetRecvTimeout(time.Second)
	s.Connect(endpoint)
	if err := s.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Recv(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expect ErrProtocol, got %v", err)
	}
}

func TestSocketStateErrors(t *testing.T) {
	endpoint := serveFrames(t, echo)
	s, _ := NewContext().NewSocket()
	defer s.Close()

	if err := s.Send([]byte("x")); !errors.Is(err, ErrState) {
		t.Fatalf("send before connect: expect ErrState, got %v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, ErrState) {
		t.Fatalf("recv before send: expect ErrState, got %v", err)
	}
	if err := s.Connect(endpoint); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(endpoint); !errors.Is(err, ErrState) {
		t.Fatalf("second connect: expect ErrState, got %v", err)
	}
	if err := s.Send([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Send([]byte("y")); !errors.Is(err, ErrState) {
		t.Fatalf("double send: expect ErrState, got %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		endpoint string
		want     string
		ok       bool
	}{
		{"tcp://127.0.0.1:9399", "127.0.0.1:9399", true},
		{"tcp://localhost:80", "localhost:80", true},
		{"tcp://[::1]:80", "[::1]:80", true},
		{"udp://127.0.0.1:9399", "", false},
		{"127.0.0.1:9399", "", false},
		{"tcp://127.0.0.1", "", false},
		{"tcp://:9399", "", false},
	}
	for _, tc := range cases {
		got, err := ParseEndpoint(tc.endpoint)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseEndpoint(%q) = %q, %v; want %q", tc.endpoint, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidEndpoint) {
			t.Errorf("ParseEndpoint(%q): expect ErrInvalidEndpoint, got %v", tc.endpoint, err)
		}
	}
	if got := Endpoint("127.0.0.1", 9399); got != "tcp://127.0.0.1:9399" {
		t.Fatalf("Endpoint: got %s", got)
	}
}

func TestSocketCloseIdempotent(t *testing.T) {
	ctx := NewContext()
	s, _ := ctx.NewSocket()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect("tcp://127.0.0.1:1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	if stats := ctx.Stats(); stats.Opened != 1 || stats.Closed != 1 {
		t.Fatalf("expect 1 open/1 close, got %+v", stats)
	}
}
