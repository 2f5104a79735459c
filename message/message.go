// Package message defines the call envelope passed through the client middleware chain.
//
// A Request is one logical send: a service name, the opaque payload and the per-call
// options. The Response carries either the reply payload or the typed call error.
package message

import "pirate-rpc/connector"

// Request describes one call.
type Request struct {
	Service string            // logical service name, e.g. "Echo"
	Payload []byte            // opaque request bytes, never inspected by the transport
	Options connector.Options // per-call overrides
}

// Response is the outcome of a Request.
//
//   - On success: Payload holds the reply, Err is nil.
//   - On failure: Err is an *rpcerr.Error, Payload is nil.
type Response struct {
	Payload  []byte
	Err      error
	Attempts int // number of request attempts made, 0 if the call never reached a socket
}

// Failed builds a Response for err.
func Failed(err error) *Response {
	return &Response{Err: err}
}
