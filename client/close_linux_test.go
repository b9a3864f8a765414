// File: client/close_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"errors"
	"io"
	"testing"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/internal/transport"
	"github.com/momentics/wsdial/protocol"
)

// establish runs the scripted peer through a plain upgrade and waits
// for the connection to come up.
func establish(t *testing.T, x *Context, c *Connection, peer transport.Conn) {
	t.Helper()
	go func() {
		raw, err := peerRead(peer, hasTerminator)
		if err == nil {
			_ = peerWrite(peer, []byte(upgradeReply(string(raw))))
		}
	}()
	serviceUntil(t, x, func() bool { return c.mode == ModeEstablished || c.mode == ModeClosed })
	if c.mode != ModeEstablished {
		t.Fatal("connection did not establish")
	}
}

func TestCloseAnnouncesNormalClosure(t *testing.T) {
	proto := &recHandler{}
	x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
	c, peer := newPairConn(t, x, DialOptions{Address: "server.test:80"})
	establish(t, x, c, peer)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.mode != ModeClosed {
		t.Fatalf("mode = %v", c.mode)
	}
	if proto.closed != 1 {
		t.Fatalf("closed callbacks = %d", proto.closed)
	}

	raw, err := peerRead(peer, func(b []byte) bool { return len(b) >= 8 })
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("peer read: %v", err)
	}
	f, consumed, perr := protocol.ParseServerFrame(raw)
	if perr != nil || consumed == 0 {
		t.Fatalf("close frame parse: %d, %v (raw %v)", consumed, perr, raw)
	}
	if f.Opcode != protocol.OpClose {
		t.Fatalf("opcode = %#x", f.Opcode)
	}
	code, ok := protocol.CloseCode(f.Payload)
	if !ok || code != uint16(CloseNormal) {
		t.Fatalf("close code = %d", code)
	}
}

func TestCloseBeforeEstablishmentIsSilent(t *testing.T) {
	proto := &recHandler{}
	x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
	c, peer := newPairConn(t, x, DialOptions{Address: "server.test:80"})

	// drive as far as the reply wait, then abandon the attempt
	go func() { _, _ = peerRead(peer, hasTerminator) }()
	serviceUntil(t, x, func() bool { return c.mode == ModeAwaitingServerReply || c.mode == ModeClosed })
	if c.mode != ModeAwaitingServerReply {
		t.Fatalf("mode = %v", c.mode)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// no close frame for an unfinished handshake, just EOF
	if _, err := peerRead(peer, func(b []byte) bool { return len(b) > 0 }); !errors.Is(err, io.EOF) {
		t.Fatalf("peer read err = %v, want EOF", err)
	}
	if proto.closed != 0 || len(proto.connErrs) != 0 {
		t.Fatal("an abandoned attempt fires no callbacks")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	proto := &recHandler{}
	x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
	c, peer := newPairConn(t, x, DialOptions{Address: "server.test:80"})
	establish(t, x, c, peer)

	x.closeConn(c, CloseNormal)
	x.closeConn(c, CloseNormal)
	_ = c.Close()

	if proto.closed != 1 {
		t.Fatalf("closed callbacks = %d, want 1", proto.closed)
	}
	if x.conns.Len() != 0 {
		t.Fatalf("connection still tracked after close")
	}
}

func TestCloseDestroysExtensionState(t *testing.T) {
	proto := &recHandler{}
	ext := &recExtension{}
	x := newTestContext(t, Config{
		Protocols:  []api.Protocol{{Name: "chat", Handler: proto}},
		Extensions: []api.Extension{{Name: "permessage-deflate", Handler: ext}},
	})
	c, peer := newPairConn(t, x, DialOptions{Address: "server.test:80"})

	go func() {
		raw, err := peerRead(peer, hasTerminator)
		if err == nil {
			_ = peerWrite(peer, []byte(upgradeReply(string(raw), "Sec-WebSocket-Extensions: permessage-deflate")))
		}
	}()
	serviceUntil(t, x, func() bool { return c.mode == ModeEstablished || c.mode == ModeClosed })
	if c.mode != ModeEstablished {
		t.Fatal("connection did not establish")
	}
	if ext.constructs != 1 {
		t.Fatalf("constructs = %d", ext.constructs)
	}

	_ = c.Close()
	if ext.destroys != 1 {
		t.Fatalf("destroys = %d, want 1", ext.destroys)
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	proto := &recHandler{}
	x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
	c1, _ := newPairConn(t, x, DialOptions{Address: "server.test:80"})
	c2, _ := newPairConn(t, x, DialOptions{Address: "server.test:80"})

	if err := x.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if c1.mode != ModeClosed || c2.mode != ModeClosed {
		t.Fatalf("modes after shutdown: %v, %v", c1.mode, c2.mode)
	}
	if _, err := x.Service(0); !errors.Is(err, api.ErrTransportClosed) {
		t.Fatalf("service after shutdown: %v", err)
	}
}
