// File: client/validate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Validation of the completed server reply and the transition into an
// established connection. Checks run in a fixed order; the first
// failure routes through bail2, which reports the connection error to
// the application before the protocol-error close.

package client

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/protocol"
)

const (
	// maxExtensionNameLen bounds one name in the extensions header.
	// Longer names are rejected outright rather than truncated.
	maxExtensionNameLen = 127

	// maxActiveExtensions bounds the per-connection extension list.
	maxActiveExtensions = 16
)

// Validation failures, surfaced through ProtocolHandler.ConnectionError.
var (
	ErrBadStatus            = errors.New("server sent a non-101 response")
	ErrBadUpgrade           = errors.New("server sent bad Upgrade header")
	ErrBadConnectionHeader  = errors.New("server sent bad Connection header")
	ErrBadSubprotocol       = errors.New("server chose a subprotocol that was not offered")
	ErrUnknownSubprotocol   = errors.New("server chose a subprotocol with no configured descriptor")
	ErrUnknownExtension     = errors.New("server requested an unknown extension")
	ErrExtensionNameTooLong = errors.New("extension name exceeds the length limit")
	ErrTooManyExtensions    = fmt.Errorf("%w: more accepted extensions than the connection can hold", api.ErrResourceExhausted)
	ErrBadAccept            = errors.New("server accept value does not match the computed key")
)

// interpretServerHandshake runs once the lexer reports completion.
func (x *Context) interpretServerHandshake(c *Connection) {
	hs := c.hs
	lx := hs.lexer

	status, _ := lx.Token(protocol.TokenStatusLine)
	if !strings.HasPrefix(strings.ToLower(string(status)), "101") {
		x.log.Warn("server sent bad http response", zap.String("conn", c.id), zap.ByteString("status", status))
		x.bail2(c, fmt.Errorf("%w: %q", ErrBadStatus, status))
		return
	}

	upgrade, _ := lx.Token(protocol.TokenUpgrade)
	if strings.ToLower(string(upgrade)) != "websocket" {
		x.log.Warn("server sent bad upgrade header", zap.String("conn", c.id), zap.ByteString("upgrade", upgrade))
		x.bail2(c, fmt.Errorf("%w: %q", ErrBadUpgrade, upgrade))
		return
	}

	connHdr, _ := lx.Token(protocol.TokenConnection)
	if strings.ToLower(string(connHdr)) != "upgrade" {
		x.log.Warn("server sent bad connection header", zap.String("conn", c.id), zap.ByteString("connection", connHdr))
		x.bail2(c, fmt.Errorf("%w: %q", ErrBadConnectionHeader, connHdr))
		return
	}

	// confirm the subprotocol the server wants to talk was in the
	// list we offered, then bind its descriptor
	serverProto, _ := lx.Token(protocol.TokenProtocol)
	if len(serverProto) == 0 {
		x.log.Debug("no subprotocol in reply, defaulting to first configured", zap.String("conn", c.id))
		hs.selected = x.leading()
		hs.protocolList.release()
	} else {
		want := string(serverProto)
		offered := offeredSubprotocol(hs.protocolList.get(), want)

		// done with the offer string now
		hs.protocolList.release()

		if !offered {
			x.log.Error("server sent bad protocol", zap.String("conn", c.id), zap.String("protocol", want))
			x.bail2(c, fmt.Errorf("%w: %q", ErrBadSubprotocol, want))
			return
		}
		for i := range x.cfg.Protocols {
			if x.cfg.Protocols[i].Name == want {
				hs.selected = &x.cfg.Protocols[i]
				break
			}
		}
		if hs.selected == nil {
			x.log.Error("server requested a protocol we said we supported but do not",
				zap.String("conn", c.id), zap.String("protocol", want))
			x.bail2(c, fmt.Errorf("%w: %q", ErrUnknownSubprotocol, want))
			return
		}
	}

	// instantiate the accepted extensions
	extHdr, _ := lx.Token(protocol.TokenExtensions)
	if len(extHdr) == 0 {
		x.log.Debug("no client extensions allowed by server", zap.String("conn", c.id))
	} else {
		names, err := splitExtensionNames(string(extHdr))
		if err != nil {
			x.log.Warn("bad extensions header", zap.String("conn", c.id), zap.Error(err))
			x.bail2(c, err)
			return
		}
		for _, name := range names {
			desc := x.findExtension(name)
			if desc == nil {
				x.log.Warn("server said we should use an unknown extension",
					zap.String("conn", c.id), zap.String("extension", name))
				x.bail2(c, fmt.Errorf("%w: %q", ErrUnknownExtension, name))
				return
			}
			if len(hs.active) >= maxActiveExtensions {
				x.bail2(c, ErrTooManyExtensions)
				return
			}
			state, cerr := desc.Handler.Construct(c)
			if cerr != nil {
				x.log.Error("extension construct failed",
					zap.String("conn", c.id), zap.String("extension", name), zap.Error(cerr))
				x.bail2(c, fmt.Errorf("extension %s: %w", name, cerr))
				return
			}
			x.log.Debug("instantiating client extension", zap.String("conn", c.id), zap.String("extension", name))
			hs.active = append(hs.active, activeExtension{desc: desc, state: state})
		}
	}

	// confirm his accept token is the one we precomputed
	acc, _ := lx.Token(protocol.TokenAccept)
	if string(acc) != hs.expectedAccept {
		x.log.Warn("server sent bad accept value",
			zap.String("conn", c.id), zap.ByteString("got", acc), zap.String("computed", hs.expectedAccept))
		x.bail2(c, ErrBadAccept)
		return
	}

	if hs.selected.NewPerSession != nil {
		ud, uerr := hs.selected.NewPerSession()
		if uerr != nil {
			x.log.Error("per-session data allocation failed", zap.String("conn", c.id), zap.Error(uerr))
			x.bail2(c, fmt.Errorf("per-session data: %w", uerr))
			return
		}
		c.userData = ud
	}

	// last chance for the application to look at the reply. The
	// verdict is recorded only; a handler that needs a hard veto
	// closes the connection from inside the hook.
	if f, ok := hs.selected.Handler.(api.PreEstablishFilter); ok {
		verdict := f.FilterPreEstablish(c)
		if c.mode == ModeClosed {
			return
		}
		if verdict != api.VerdictAllow {
			x.log.Debug("pre-establish filter objected, proceeding anyway", zap.String("conn", c.id))
		}
	}

	x.SetTimeout(c, api.TimeoutNone, 0)

	// the parsed headers are never needed again
	lx.ReleaseTokens()

	selected := hs.selected
	c.becomeEstablished(x.cfg.RxBufferDefault, rxPrePadding, rxPostPadding)
	x.counters.Established.Add(1)
	if c.span != nil {
		c.span.AddEvent("established")
	}
	x.log.Debug("handshake ok", zap.String("conn", c.id), zap.String("protocol", selected.Name))

	actives := c.ws.exts

	selected.Handler.Established(c)
	if c.mode == ModeClosed {
		return
	}

	// inform all configured extensions, not just active ones
	for i := range x.cfg.Extensions {
		ext := &x.cfg.Extensions[i]
		if ext.Handler == nil {
			continue
		}
		var state any
		for _, ae := range actives {
			if ae.desc == ext {
				state = ae.state
				break
			}
		}
		ext.Handler.AnyEstablished(c, state)
		if c.mode == ModeClosed {
			return
		}
	}
}

// bail2 is the protocol-violation exit: the connection error reaches
// the selected protocol's handler, or the leading one when failure
// happened before selection, then the close carries a protocol-error
// status.
func (x *Context) bail2(c *Connection, cause error) {
	werr := api.WrapError(api.ErrCodeProtocolViolation, cause, "server handshake rejected")
	h := x.leading().Handler
	if c.hs != nil && c.hs.selected != nil && c.hs.selected.Handler != nil {
		h = c.hs.selected.Handler
	}
	if h != nil {
		h.ConnectionError(c, werr)
	}
	x.counters.FailedProtocol.Add(1)
	if c.hs != nil {
		c.hs.lexer.ReleaseTokens()
	}
	if c.span != nil {
		c.span.RecordError(werr)
	}
	x.closeConn(c, CloseProtocolError)
}

// offeredSubprotocol reports whether want appears in the comma
// separated offer list, ignoring surrounding spaces and tabs.
func offeredSubprotocol(list, want string) bool {
	for _, tok := range strings.Split(list, ",") {
		if strings.Trim(tok, " \t") == want {
			return true
		}
	}
	return false
}

// splitExtensionNames breaks the extensions header into names on
// commas, spaces and tabs. Empty fields are skipped; an over-long
// name is an explicit failure, never a silent truncation.
func splitExtensionNames(s string) ([]string, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	for _, f := range fields {
		if len(f) > maxExtensionNameLen {
			return nil, fmt.Errorf("%w: %d bytes", ErrExtensionNameTooLong, len(f))
		}
	}
	return fields, nil
}

func (x *Context) findExtension(name string) *api.Extension {
	for i := range x.cfg.Extensions {
		if x.cfg.Extensions[i].Name == name && x.cfg.Extensions[i].Handler != nil {
			return &x.cfg.Extensions[i]
		}
	}
	return nil
}
