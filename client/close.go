// File: client/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection teardown. Mirrors the single close path every failure
// branch of the connect machine funnels into: optional close frame,
// user callback, extension destruction, poll-set and table removal,
// socket shutdown.

package client

import (
	"crypto/rand"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/protocol"
)

// CloseStatus is a WebSocket close status code.
type CloseStatus uint16

const (
	CloseNormal           CloseStatus = 1000
	CloseGoingAway        CloseStatus = 1001
	CloseProtocolError    CloseStatus = 1002
	CloseUnacceptableData CloseStatus = 1003

	// CloseNoStatus means no close frame is sent at all; the socket
	// is simply torn down. Used for every pre-establishment failure.
	CloseNoStatus CloseStatus = 1005

	CloseAbnormal CloseStatus = 1006
)

// closeConn tears the connection down. Safe to call more than once;
// only the first call does anything.
func (x *Context) closeConn(c *Connection, status CloseStatus) {
	if c.mode == ModeClosed {
		return
	}
	prev := c.mode

	// Пока сокет ещё жив, уведомляем партнёра. Ошибки записи здесь
	// уже никого не интересуют.
	if prev == ModeEstablished && status != CloseNoStatus {
		x.sendCloseFrame(c, status)
	}

	c.mode = ModeClosed
	c.timeoutSeq++
	c.timeoutKind = api.TimeoutNone

	if prev == ModeEstablished && c.ws != nil && c.ws.proto != nil && c.ws.proto.Handler != nil {
		c.ws.proto.Handler.Closed(c)
	}

	for _, ae := range c.activeExtensions() {
		if ae.desc != nil && ae.desc.Handler != nil {
			ae.desc.Handler.Destroy(c, ae.state)
		}
	}

	if c.hs != nil {
		c.hs.releaseOwned()
		c.hs = nil
	}
	c.ws = nil

	fd := c.sock.RawFD()
	x.notifyDelPollFD(c)
	if err := x.poller.Unregister(fd); err != nil {
		x.log.Debug("unregister on close", zap.Uint64("fd", uint64(fd)), zap.Error(err))
	}
	x.conns.Delete(fd)

	if c.tls != nil {
		c.tls.Close()
		c.tls = nil
	}
	if err := c.sock.Close(); err != nil {
		x.log.Debug("socket close", zap.Error(err))
	}

	if c.span != nil {
		c.span.SetAttributes(attribute.Int("close.status", int(status)))
		c.span.End()
		c.span = nil
	}

	x.log.Debug("connection closed",
		zap.String("conn", c.id),
		zap.Stringer("prev_mode", prev),
		zap.Uint16("status", uint16(status)))
}

// sendCloseFrame writes a masked close frame carrying the status
// code. Best effort: a connection being torn down cannot do anything
// about a failed write.
func (x *Context) sendCloseFrame(c *Connection, status CloseStatus) {
	frame, err := protocol.AppendCloseFrame(nil, uint16(status), x.entropyReader())
	if err != nil {
		return
	}
	c.write(frame)
}

func (x *Context) entropyReader() io.Reader {
	if x.entropy != nil {
		return x.entropy
	}
	return rand.Reader
}
