// File: api/callbacks.go
// Package api defines the handler capability interfaces dispatched by
// the connection state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handlers replace the integer reason-code callback table of classic
// WebSocket stacks: each reason becomes a method, each bare-int result
// a typed Verdict. Optional hooks are modeled as narrow interfaces the
// core probes with type assertions, so a handler only implements what
// it cares about.

package api

// Verdict is the typed decision returned by negotiation hooks.
// The zero value allows, matching the unhandled-callback convention.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictDeny
)

// Conn is the narrow view of a connection exposed to handlers. The
// concrete type lives in the client package.
type Conn interface {
	// ID returns the stable identifier assigned at dial time.
	ID() string

	// UserData returns the per-connection protocol data, if any.
	UserData() any

	// SetUserData replaces the per-connection protocol data.
	SetUserData(v any)

	// Fd returns the socket descriptor, for external poll integration.
	Fd() uintptr

	// Close force-closes the connection. Safe to call from hooks.
	Close() error
}

// ProtocolHandler receives lifecycle events for the subprotocol
// selected on a connection.
type ProtocolHandler interface {
	// Established is invoked exactly once, after the server handshake
	// has been fully validated.
	Established(c Conn)

	// Receive is handed bytes read for the connection after
	// establishment. A non-nil error closes the connection.
	Receive(c Conn, data []byte) error

	// ConnectionError reports a failed establishment. It fires before
	// the protocol-violation close so the application can react.
	ConnectionError(c Conn, cause error)

	// Closed is invoked when an established connection goes away, no
	// matter which side initiated it.
	Closed(c Conn)
}

// WritableHandler receives the socket-writable notification requested
// through Scheduler.CallbackOnWritable for an established connection.
// A non-nil error closes the connection.
type WritableHandler interface {
	Writable(c Conn) error
}

// PreEstablishFilter gives the selected protocol's handler a look at
// the validated response just before establishment completes. The
// verdict is recorded but establishment proceeds either way; a handler
// that needs a hard veto must call c.Close from inside the hook.
type PreEstablishFilter interface {
	FilterPreEstablish(c Conn) Verdict
}

// ExtensionConfirmer lets the leading protocol's handler rule on each
// extension candidate before it is offered to the server.
type ExtensionConfirmer interface {
	ConfirmExtension(c Conn, name string) Verdict
}

// HeaderAppender lets the leading protocol's handler contribute extra
// request headers (cookies and the like). The hook must write whole
// CRLF-terminated lines into dst, which is sized to the remaining
// request capacity, and return the byte count written. An error aborts
// the handshake.
type HeaderAppender interface {
	AppendHandshakeHeader(c Conn, dst []byte) (int, error)
}

// PollFDObserver mirrors poll-subscription changes to an application
// that integrates an external event loop. AddPollFD and DelPollFD
// bracket the socket's lifetime in the poll set; SetModePollFD and
// ClearModePollFD report interest-bit changes in between.
type PollFDObserver interface {
	AddPollFD(c Conn, bits Readiness)
	DelPollFD(c Conn)
	SetModePollFD(c Conn, bits Readiness)
	ClearModePollFD(c Conn, bits Readiness)
}

// ExtensionHandler receives negotiation and lifecycle events for one
// configured extension.
type ExtensionHandler interface {
	// OkToPropose rules on offering the named candidate extension.
	// Every configured extension is asked about every candidate,
	// including its own name; one VerdictDeny vetoes the offer.
	OkToPropose(candidate string) Verdict

	// Construct builds per-connection state once the server accepts
	// the extension. A non-nil error fails the establishment.
	Construct(c Conn) (any, error)

	// AnyEstablished is broadcast to every configured extension when
	// any connection establishes; state is non-nil only when the
	// extension is active on that connection.
	AnyEstablished(c Conn, state any)

	// Destroy releases per-connection state during close.
	Destroy(c Conn, state any)
}
