// File: api/events.go
// Package api defines core event types for wsdial.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Readiness is the bit-set of socket conditions reported by the event
// loop for one service call.
type Readiness uint32

const (
	EventReadable Readiness = 1 << iota
	EventWritable
	EventError
	EventHangUp
)

// Has reports whether all bits are present.
func (r Readiness) Has(bits Readiness) bool {
	return r&bits == bits
}

// Dead reports an error or hang-up condition on the socket.
func (r Readiness) Dead() bool {
	return r&(EventError|EventHangUp) != 0
}
