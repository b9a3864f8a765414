// File: api/descriptors.go
// Package api defines the protocol and extension descriptor tables.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Protocol describes one subprotocol the application can speak. The
// configured table is shared and read-only; connections reference
// entries, never copy or mutate them.
type Protocol struct {
	// Name is the subprotocol token sent and matched on the wire.
	Name string

	// Handler receives lifecycle events once this protocol is selected.
	// The first table entry's handler additionally receives the
	// context-level hooks (ExtensionConfirmer, HeaderAppender,
	// PollFDObserver) when it implements them.
	Handler ProtocolHandler

	// RxBufferSize overrides the default receive buffer size when
	// nonzero.
	RxBufferSize int

	// NewPerSession allocates protocol user data for a connection.
	// Nil means the protocol keeps no per-connection data. An error
	// fails the establishment.
	NewPerSession func() (any, error)
}

// Extension describes one extension available for negotiation.
type Extension struct {
	Name    string
	Handler ExtensionHandler
}
