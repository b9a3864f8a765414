// File: internal/transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-independent facade for the client stream socket. The
// platform files supply non-blocking TCP sockets with explicit
// readiness semantics for the event loop.

package transport

import (
	"github.com/momentics/wsdial/api"
)

// Conn is a connecting or connected stream socket.
type Conn interface {
	api.NetConn

	// FinishConnect reports the outcome of a non-blocking connect.
	// Valid once the socket signals writability for the first time.
	FinishConnect() error
}

// Connect resolves address (host:port) and starts a non-blocking TCP
// connect. The returned socket is usually still connecting; the caller
// waits for writability and calls FinishConnect.
func Connect(address string) (Conn, error) {
	return platformConnect(address)
}

// Pair returns two connected non-blocking stream sockets. Intended for
// in-process wiring and tests.
func Pair() (Conn, Conn, error) {
	return platformPair()
}
