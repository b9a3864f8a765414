// File: client/validate_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reply validation matrix. Each test parks a connection in the
// reply-waiting phase, feeds a scripted response through the lexer and
// asserts where the handshake lands.

package client

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/extensions/deflate"
	"github.com/momentics/wsdial/protocol"
)

// the accept value from the RFC 6455 worked example
const testAccept = "HSmrc0sMlYUkAGmm5OPpG2HaGWk="

// newReplyConn returns a connection parked in the reply-waiting phase
// with the accept value precomputed.
func newReplyConn(t *testing.T, x *Context, offer string) *Connection {
	t.Helper()
	c, _ := newPairConn(t, x, DialOptions{Address: "server.test:80", RequestProtocols: offer})
	c.mode = ModeAwaitingServerReply
	c.hs.expectedAccept = testAccept
	return c
}

func feedReply(t *testing.T, c *Connection, reply string) {
	t.Helper()
	for i := 0; i < len(reply); i++ {
		res, err := c.hs.lexer.Feed(reply[i])
		if err != nil {
			t.Fatalf("Feed(%q) at offset %d: %v", reply[i], i, err)
		}
		if res == protocol.FeedComplete {
			if i != len(reply)-1 {
				t.Fatalf("reply completed early at offset %d", i)
			}
			return
		}
	}
	t.Fatal("reply never completed")
}

func okReply(extra ...string) string {
	s := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + testAccept + "\r\n"
	for _, h := range extra {
		s += h + "\r\n"
	}
	return s + "\r\n"
}

func TestInterpretAcceptsValidReply(t *testing.T) {
	proto := &recHandler{}
	x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
	c := newReplyConn(t, x, "chat")

	feedReply(t, c, okReply("Sec-WebSocket-Protocol: chat"))
	x.interpretServerHandshake(c)

	if c.mode != ModeEstablished {
		t.Fatalf("mode = %v, want established", c.mode)
	}
	if proto.established != 1 || len(proto.connErrs) != 0 {
		t.Fatalf("established = %d, errors = %v", proto.established, proto.connErrs)
	}
	if got := c.Subprotocol(); got != "chat" {
		t.Fatalf("subprotocol = %q", got)
	}
}

func TestInterpretRejectsBadReplies(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  error
	}{
		{
			name: "non-101 status",
			reply: "HTTP/1.1 200 OK\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: " + testAccept + "\r\n\r\n",
			want: ErrBadStatus,
		},
		{
			name: "wrong upgrade header",
			reply: "HTTP/1.1 101 Switching Protocols\r\nUpgrade: h2c\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: " + testAccept + "\r\n\r\n",
			want: ErrBadUpgrade,
		},
		{
			name: "missing upgrade header",
			reply: "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: " + testAccept + "\r\n\r\n",
			want: ErrBadUpgrade,
		},
		{
			name: "wrong connection header",
			reply: "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: close\r\n" +
				"Sec-WebSocket-Accept: " + testAccept + "\r\n\r\n",
			want: ErrBadConnectionHeader,
		},
		{
			name: "accept mismatch",
			reply: "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Accept: c29tZXRoaW5nIGVsc2UgZW50aXJlbHk=\r\n\r\n",
			want: ErrBadAccept,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proto := &recHandler{}
			x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
			c := newReplyConn(t, x, "chat")

			feedReply(t, c, tc.reply)
			x.interpretServerHandshake(c)

			if c.mode != ModeClosed {
				t.Fatalf("mode = %v, want closed", c.mode)
			}
			if proto.established != 0 {
				t.Fatal("bad reply must not establish")
			}
			if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], tc.want) {
				t.Fatalf("connection errors = %v, want %v", proto.connErrs, tc.want)
			}
			if got := x.Counters().FailedProtocol.Load(); got != 1 {
				t.Fatalf("failed protocol counter = %d", got)
			}
		})
	}
}

func TestInterpretSubprotocolSelection(t *testing.T) {
	t.Run("server picks one of the offer", func(t *testing.T) {
		h1, h2 := &recHandler{}, &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{
			{Name: "chat", Handler: h1},
			{Name: "superchat", Handler: h2},
		}})
		c := newReplyConn(t, x, "chat, superchat")

		feedReply(t, c, okReply("Sec-WebSocket-Protocol: superchat"))
		x.interpretServerHandshake(c)

		if c.Subprotocol() != "superchat" {
			t.Fatalf("subprotocol = %q", c.Subprotocol())
		}
		if h2.established != 1 || h1.established != 0 {
			t.Fatalf("established went to the wrong handler: %d/%d", h1.established, h2.established)
		}
	})

	t.Run("absent header defaults to the first protocol", func(t *testing.T) {
		h1, h2 := &recHandler{}, &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{
			{Name: "chat", Handler: h1},
			{Name: "superchat", Handler: h2},
		}})
		c := newReplyConn(t, x, "chat, superchat")

		feedReply(t, c, okReply())
		x.interpretServerHandshake(c)

		if c.mode != ModeEstablished || c.Subprotocol() != "chat" {
			t.Fatalf("mode = %v, subprotocol = %q", c.mode, c.Subprotocol())
		}
		if h1.established != 1 {
			t.Fatal("leading handler not established")
		}
	})

	t.Run("server invents a protocol", func(t *testing.T) {
		proto := &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
		c := newReplyConn(t, x, "chat, superchat")

		feedReply(t, c, okReply("Sec-WebSocket-Protocol: binary"))
		x.interpretServerHandshake(c)

		if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], ErrBadSubprotocol) {
			t.Fatalf("connection errors = %v", proto.connErrs)
		}
	})

	t.Run("server answers an empty offer", func(t *testing.T) {
		proto := &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
		c := newReplyConn(t, x, "")

		feedReply(t, c, okReply("Sec-WebSocket-Protocol: chat"))
		x.interpretServerHandshake(c)

		if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], ErrBadSubprotocol) {
			t.Fatalf("connection errors = %v", proto.connErrs)
		}
	})

	t.Run("offered name with no descriptor", func(t *testing.T) {
		proto := &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
		c := newReplyConn(t, x, "chat, mystery")

		feedReply(t, c, okReply("Sec-WebSocket-Protocol: mystery"))
		x.interpretServerHandshake(c)

		if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], ErrUnknownSubprotocol) {
			t.Fatalf("connection errors = %v", proto.connErrs)
		}
	})
}

// After the server's pick binds a descriptor, later failures report to
// that protocol's handler, not the leading one.
func TestInterpretErrorRoutingAfterSelection(t *testing.T) {
	h1, h2 := &recHandler{}, &recHandler{}
	x := newTestContext(t, Config{Protocols: []api.Protocol{
		{Name: "chat", Handler: h1},
		{Name: "superchat", Handler: h2},
	}})
	c := newReplyConn(t, x, "chat, superchat")

	reply := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Protocol: superchat\r\n" +
		"Sec-WebSocket-Accept: c29tZXRoaW5nIGVsc2UgZW50aXJlbHk=\r\n\r\n"
	feedReply(t, c, reply)
	x.interpretServerHandshake(c)

	if len(h1.connErrs) != 0 {
		t.Fatalf("leading handler got errors: %v", h1.connErrs)
	}
	if len(h2.connErrs) != 1 || !errors.Is(h2.connErrs[0], ErrBadAccept) {
		t.Fatalf("selected handler errors = %v", h2.connErrs)
	}
}

func TestInterpretExtensionNegotiation(t *testing.T) {
	t.Run("accepted extension is constructed", func(t *testing.T) {
		proto := &recHandler{}
		ext := &recExtension{}
		x := newTestContext(t, Config{
			Protocols:  []api.Protocol{{Name: "chat", Handler: proto}},
			Extensions: []api.Extension{{Name: "permessage-deflate", Handler: ext}},
		})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply("Sec-WebSocket-Extensions: permessage-deflate"))
		x.interpretServerHandshake(c)

		if c.mode != ModeEstablished {
			t.Fatalf("mode = %v", c.mode)
		}
		if ext.constructs != 1 {
			t.Fatalf("constructs = %d", ext.constructs)
		}
		if len(ext.anyEst) != 1 || ext.anyEst[0] == nil {
			t.Fatalf("established notification state = %v", ext.anyEst)
		}
	})

	t.Run("inactive extension hears nil state", func(t *testing.T) {
		proto := &recHandler{}
		ext := &recExtension{}
		x := newTestContext(t, Config{
			Protocols:  []api.Protocol{{Name: "chat", Handler: proto}},
			Extensions: []api.Extension{{Name: "permessage-deflate", Handler: ext}},
		})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply())
		x.interpretServerHandshake(c)

		if ext.constructs != 0 {
			t.Fatalf("constructs = %d", ext.constructs)
		}
		if len(ext.anyEst) != 1 || ext.anyEst[0] != nil {
			t.Fatalf("established notification state = %v", ext.anyEst)
		}
	})

	t.Run("unknown name fails the whole handshake", func(t *testing.T) {
		proto := &recHandler{}
		ext := &recExtension{}
		x := newTestContext(t, Config{
			Protocols:  []api.Protocol{{Name: "chat", Handler: proto}},
			Extensions: []api.Extension{{Name: "permessage-deflate", Handler: ext}},
		})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply("Sec-WebSocket-Extensions: permessage-deflate, x-made-up"))
		x.interpretServerHandshake(c)

		if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], ErrUnknownExtension) {
			t.Fatalf("connection errors = %v", proto.connErrs)
		}
		// the one already constructed must be torn down with the close
		if ext.constructs != 1 || ext.destroys != 1 {
			t.Fatalf("constructs/destroys = %d/%d", ext.constructs, ext.destroys)
		}
		if len(ext.anyEst) != 0 {
			t.Fatal("failed negotiation must not announce establishment")
		}
	})

	t.Run("extension with no descriptor at all", func(t *testing.T) {
		proto := &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply("Sec-WebSocket-Extensions: permessage-deflate"))
		x.interpretServerHandshake(c)

		if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], ErrUnknownExtension) {
			t.Fatalf("connection errors = %v", proto.connErrs)
		}
	})

	t.Run("oversized name is rejected", func(t *testing.T) {
		proto := &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
		c := newReplyConn(t, x, "chat")

		long := strings.Repeat("x", maxExtensionNameLen+1)
		feedReply(t, c, okReply("Sec-WebSocket-Extensions: "+long))
		x.interpretServerHandshake(c)

		if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], ErrExtensionNameTooLong) {
			t.Fatalf("connection errors = %v", proto.connErrs)
		}
	})

	t.Run("acceptance list is capped", func(t *testing.T) {
		proto := &recHandler{}
		ext := &recExtension{}
		x := newTestContext(t, Config{
			Protocols:  []api.Protocol{{Name: "chat", Handler: proto}},
			Extensions: []api.Extension{{Name: "pmce", Handler: ext}},
		})
		c := newReplyConn(t, x, "chat")

		list := strings.Repeat("pmce, ", maxActiveExtensions) + "pmce"
		feedReply(t, c, okReply("Sec-WebSocket-Extensions: "+list))
		x.interpretServerHandshake(c)

		if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], ErrTooManyExtensions) {
			t.Fatalf("connection errors = %v", proto.connErrs)
		}
		if ext.constructs != maxActiveExtensions || ext.destroys != maxActiveExtensions {
			t.Fatalf("constructs/destroys = %d/%d", ext.constructs, ext.destroys)
		}
	})

	t.Run("construct failure aborts", func(t *testing.T) {
		proto := &recHandler{}
		ext := &recExtension{constructErr: errors.New("no memory for state")}
		x := newTestContext(t, Config{
			Protocols:  []api.Protocol{{Name: "chat", Handler: proto}},
			Extensions: []api.Extension{{Name: "permessage-deflate", Handler: ext}},
		})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply("Sec-WebSocket-Extensions: permessage-deflate"))
		x.interpretServerHandshake(c)

		if c.mode != ModeClosed || len(proto.connErrs) != 1 {
			t.Fatalf("mode = %v, errors = %v", c.mode, proto.connErrs)
		}
	})
}

// TestInterpretDeflateExtension runs the shipped permessage-deflate
// handler through a real acceptance: the constructed state must
// compress, and the close path must release it.
func TestInterpretDeflateExtension(t *testing.T) {
	proto := &recHandler{}
	x := newTestContext(t, Config{
		Protocols:  []api.Protocol{{Name: "chat", Handler: proto}},
		Extensions: []api.Extension{deflate.Descriptor(deflate.Options{})},
	})
	c := newReplyConn(t, x, "chat")

	feedReply(t, c, okReply("Sec-WebSocket-Extensions: "+deflate.Name))
	x.interpretServerHandshake(c)

	if c.mode != ModeEstablished {
		t.Fatalf("mode = %v", c.mode)
	}
	if len(c.ws.exts) != 1 {
		t.Fatalf("active extensions = %d", len(c.ws.exts))
	}
	st, ok := c.ws.exts[0].state.(*deflate.State)
	if !ok {
		t.Fatalf("state type %T", c.ws.exts[0].state)
	}
	if st.ConnID() != c.id {
		t.Fatalf("state conn id = %q, want %q", st.ConnID(), c.id)
	}

	payload := []byte("negotiated and ready")
	wire, err := st.Deflate(payload)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	back, err := st.Inflate(wire)
	if err != nil || !bytes.Equal(back, payload) {
		t.Fatalf("round trip: %q, %v", back, err)
	}

	x.closeConn(c, CloseNormal)
	if _, err := st.Deflate(payload); err != deflate.ErrReleased {
		t.Fatalf("state must be released on close, got %v", err)
	}
}

func TestInterpretPerSessionAllocation(t *testing.T) {
	t.Run("allocated before establishment", func(t *testing.T) {
		proto := &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{
			Name:          "chat",
			Handler:       proto,
			NewPerSession: func() (any, error) { return map[string]int{}, nil },
		}}})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply())
		x.interpretServerHandshake(c)

		if c.UserData() == nil {
			t.Fatal("per-session data missing")
		}
	})

	t.Run("allocation failure aborts", func(t *testing.T) {
		boom := errors.New("allocator down")
		proto := &recHandler{}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{
			Name:          "chat",
			Handler:       proto,
			NewPerSession: func() (any, error) { return nil, boom },
		}}})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply())
		x.interpretServerHandshake(c)

		if c.mode != ModeClosed {
			t.Fatalf("mode = %v", c.mode)
		}
		if len(proto.connErrs) != 1 || !errors.Is(proto.connErrs[0], boom) {
			t.Fatalf("connection errors = %v", proto.connErrs)
		}
	})
}

func TestInterpretPreEstablishFilter(t *testing.T) {
	t.Run("objection is recorded, not enforced", func(t *testing.T) {
		proto := &recHandler{filterVerdict: api.VerdictDeny}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply())
		x.interpretServerHandshake(c)

		if c.mode != ModeEstablished || proto.established != 1 {
			t.Fatalf("mode = %v, established = %d", c.mode, proto.established)
		}
		if proto.filterCalls != 1 {
			t.Fatalf("filter calls = %d", proto.filterCalls)
		}
	})

	t.Run("a hard veto closes from inside the hook", func(t *testing.T) {
		proto := &recHandler{closeInFilter: true}
		x := newTestContext(t, Config{Protocols: []api.Protocol{{Name: "chat", Handler: proto}}})
		c := newReplyConn(t, x, "chat")

		feedReply(t, c, okReply())
		x.interpretServerHandshake(c)

		if c.mode != ModeClosed {
			t.Fatalf("mode = %v", c.mode)
		}
		if proto.established != 0 || proto.closed != 0 {
			t.Fatalf("callbacks after in-hook close: est=%d closed=%d", proto.established, proto.closed)
		}
		if got := x.Counters().Established.Load(); got != 0 {
			t.Fatalf("established counter = %d", got)
		}
	})
}

func TestOfferedSubprotocolMatching(t *testing.T) {
	cases := []struct {
		list, want string
		ok         bool
	}{
		{"chat", "chat", true},
		{"chat, superchat", "superchat", true},
		{"chat,superchat", "superchat", true},
		{" chat ,\tsuperchat ", "chat", true},
		{"chat, superchat", "super", false},
		{"", "chat", false},
		{"chatter", "chat", false},
	}
	for _, tc := range cases {
		if got := offeredSubprotocol(tc.list, tc.want); got != tc.ok {
			t.Errorf("offeredSubprotocol(%q, %q) = %v, want %v", tc.list, tc.want, got, tc.ok)
		}
	}
}

func TestSplitExtensionNames(t *testing.T) {
	names, err := splitExtensionNames("permessage-deflate,  x-webkit-deflate-frame\tx-custom")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"permessage-deflate", "x-webkit-deflate-frame", "x-custom"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if _, err := splitExtensionNames(strings.Repeat("y", 128)); !errors.Is(err, ErrExtensionNameTooLong) {
		t.Fatalf("oversized name: err = %v", err)
	}
}
