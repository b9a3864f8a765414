// File: client/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection entity and its phase payloads. The handshake phase and
// the established phase carry disjoint state, so exactly one of the
// two payload structs is attached at any moment between dial and
// close.

package client

import (
	"crypto/x509"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/internal/tlsdrv"
	"github.com/momentics/wsdial/internal/transport"
	"github.com/momentics/wsdial/pool"
	"github.com/momentics/wsdial/protocol"
)

// Mode is the connection phase driven by the service dispatch.
type Mode uint8

const (
	ModeConnecting Mode = iota
	ModeAwaitingProxyReply
	ModeIssuingHandshake
	ModeWaitingExtensionConnect
	ModePendingCandidateChild
	ModeAwaitingServerReply
	ModeEstablished
	ModeClosed
)

func (m Mode) String() string {
	switch m {
	case ModeConnecting:
		return "connecting"
	case ModeAwaitingProxyReply:
		return "awaiting-proxy-reply"
	case ModeIssuingHandshake:
		return "issuing-handshake"
	case ModeWaitingExtensionConnect:
		return "waiting-extension-connect"
	case ModePendingCandidateChild:
		return "pending-candidate-child"
	case ModeAwaitingServerReply:
		return "awaiting-server-reply"
	case ModeEstablished:
		return "established"
	case ModeClosed:
		return "closed"
	}
	return "unknown"
}

// activeExtension pairs an accepted extension descriptor with its
// per-connection state from Construct.
type activeExtension struct {
	desc  *api.Extension
	state any
}

// handshakeState carries everything the connect phases need. It is
// dropped wholesale at establishment.
type handshakeState struct {
	path         *ownedString
	host         *ownedString
	origin       *ownedString
	protocolList *ownedString

	lexer          *protocol.ResponseLexer
	expectedAccept string
	version        int

	// staged negotiation results, moved into wsState on establishment
	selected *api.Protocol
	active   []activeExtension
}

// releaseOwned drops whatever handshake strings are still held.
func (h *handshakeState) releaseOwned() {
	h.path.release()
	h.host.release()
	h.origin.release()
	h.protocolList.release()
}

// wsState is the established-phase payload.
type wsState struct {
	proto *api.Protocol
	exts  []activeExtension
	rx    *pool.Padded
}

// Connection is one client connect attempt and, eventually, one
// established WebSocket session. All mutable fields are owned by the
// service goroutine.
type Connection struct {
	id  string
	ctx *Context

	sock transport.Conn
	tls  *tlsdrv.Session

	mode Mode

	// exactly one of hs/ws is non-nil between dial and close
	hs *handshakeState
	ws *wsState

	userData any

	useTLS          bool
	allowSelfSigned bool
	serverName      string
	roots           *x509.CertPool
	viaProxy        bool
	proxyConnect    []byte
	target          string

	wantWritable bool

	timeoutKind api.TimeoutKind
	timeoutAt   time.Time
	timeoutSeq  uint64

	span trace.Span
}

// ID returns the identifier assigned at dial time.
func (c *Connection) ID() string { return c.id }

// UserData returns the per-connection protocol data.
func (c *Connection) UserData() any { return c.userData }

// SetUserData replaces the per-connection protocol data.
func (c *Connection) SetUserData(v any) { c.userData = v }

// Fd returns the socket descriptor.
func (c *Connection) Fd() uintptr { return c.sock.RawFD() }

// Mode returns the current connection phase.
func (c *Connection) Mode() Mode { return c.mode }

// Subprotocol names the negotiated subprotocol once established.
func (c *Connection) Subprotocol() string {
	if c.ws != nil {
		return c.ws.proto.Name
	}
	return ""
}

// Close tears the connection down. An established session announces a
// normal closure to the peer; an unfinished connect just goes away.
func (c *Connection) Close() error {
	if c.mode == ModeEstablished {
		c.ctx.closeConn(c, CloseNormal)
	} else {
		c.ctx.closeConn(c, CloseNoStatus)
	}
	return nil
}

// Write sends raw bytes on an established connection. Framing is the
// caller's business; protocol.AppendClientFrame builds valid client
// frames. Short writes return api.ErrWantWrite, the usual cue to ask
// for a writable callback and retry the rest.
func (c *Connection) Write(p []byte) (int, error) {
	if c.mode != ModeEstablished {
		return 0, api.ErrTransportClosed
	}
	return c.write(p)
}

// read pulls bytes through the TLS session when one is attached.
func (c *Connection) read(p []byte) (int, error) {
	if c.tls != nil {
		return c.tls.Read(p)
	}
	return c.sock.Read(p)
}

// write pushes bytes through the TLS session when one is attached.
func (c *Connection) write(p []byte) (int, error) {
	if c.tls != nil {
		return c.tls.Write(p)
	}
	return c.sock.Write(p)
}

// becomeEstablished swaps the handshake payload for the established
// one. The receive buffer follows the selected protocol's size, with
// the context default as fallback.
func (c *Connection) becomeEstablished(defaultRx, pre, post int) {
	hs := c.hs
	size := hs.selected.RxBufferSize
	if size <= 0 {
		size = defaultRx
	}
	c.ws = &wsState{
		proto: hs.selected,
		exts:  hs.active,
		rx:    pool.NewPadded(size, pre, post),
	}
	c.hs = nil
	c.mode = ModeEstablished
}

// activeExtensions lists extension states in either phase, for close
// teardown.
func (c *Connection) activeExtensions() []activeExtension {
	if c.ws != nil {
		return c.ws.exts
	}
	if c.hs != nil {
		return c.hs.active
	}
	return nil
}
