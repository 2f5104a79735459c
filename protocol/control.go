package protocol

import "bytes"

// Control sentinels exchanged on a request socket before the real payload.
const (
	// CheckAvailable is the client's preflight probe.
	CheckAvailable = "CHECK_AVAILABLE"
	// WorkersAvailable tells the client to send the real request on this socket.
	WorkersAvailable = "WORKERS_AVAILABLE"
	// NoWorkersAvailable tells the client to abandon this socket and try another broker.
	NoWorkersAvailable = "NO_WORKERS_AVAILABLE"
	// WorkerReady is sent by a worker to its broker to register capacity.
	// Reserved: clients never emit it.
	WorkerReady = "\x01"
)

// IsNoWorkersAvailable reports whether a preflight reply rejects the broker.
// Any other reply means the socket may be used.
func IsNoWorkersAvailable(reply []byte) bool {
	return bytes.Equal(reply, []byte(NoWorkersAvailable))
}

// IsControl reports whether body is one of the reserved control sentinels.
func IsControl(body []byte) bool {
	switch string(body) {
	case CheckAvailable, WorkersAvailable, NoWorkersAvailable, WorkerReady:
		return true
	}
	return false
}
