// File: client/service.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The connection state machine. One readiness report drives exactly
// one phase; a phase that completes mid-event hands the rest of the
// report to the next phase through a bounded re-dispatch instead of
// waiting for the poller again. Validation of the completed reply
// lives in validate.go.

package client

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/internal/tlsdrv"
	"github.com/momentics/wsdial/protocol"
)

// proxyReplyOK is the only reply prefix accepted from a proxy.
const proxyReplyOK = "HTTP/1.0 200 "

// serviceConn dispatches one readiness report for one connection.
func (x *Context) serviceConn(c *Connection, ready api.Readiness) {
	// Две итерации покрывают оба сквозных перехода: завершение
	// connect и совпавший ответ прокси сразу продолжаются выпуском
	// рукопожатия на том же событии.
	for pass := 0; pass < 2; pass++ {
		if c.mode == ModeClosed {
			return
		}
		again := false
		switch c.mode {
		case ModeConnecting:
			again = x.serviceConnecting(c, ready)
		case ModeAwaitingProxyReply:
			again = x.serviceProxyReply(c, ready)
		case ModeIssuingHandshake:
			x.serviceIssueHandshake(c)
		case ModeAwaitingServerReply:
			x.serviceServerReply(c, ready)
		case ModeEstablished:
			x.serviceEstablished(c, ready)
		case ModeWaitingExtensionConnect, ModePendingCandidateChild:
			x.log.Debug("event in placeholder mode", zap.String("conn", c.id), zap.Stringer("mode", c.mode))
		}
		if !again {
			return
		}
	}
}

// serviceConnecting finishes the non-blocking connect. Plain dials
// continue straight into the handshake on the same event; proxied
// dials write the caller-built preamble and wait for the reply.
func (x *Context) serviceConnecting(c *Connection, ready api.Readiness) bool {
	if ready.Dead() {
		x.log.Warn("connect failed", zap.String("conn", c.id), zap.String("target", c.target))
		x.connFailed(c, fmt.Errorf("connect: %w", api.ErrTransportClosed))
		return false
	}
	if !ready.Has(api.EventWritable) {
		return false
	}
	if err := c.sock.FinishConnect(); err != nil {
		x.log.Warn("connect failed", zap.String("conn", c.id), zap.String("target", c.target), zap.Error(err))
		x.connFailed(c, fmt.Errorf("connect %s: %w", c.target, err))
		return false
	}
	if !c.viaProxy {
		c.mode = ModeIssuingHandshake
		return true
	}

	n, err := c.sock.Write(c.proxyConnect)
	if err != nil || n < len(c.proxyConnect) {
		x.log.Error("error writing proxy preamble", zap.String("conn", c.id), zap.Error(err))
		x.connFailed(c, fmt.Errorf("proxy preamble: %w", api.ErrTransportClosed))
		return false
	}
	c.proxyConnect = nil
	c.mode = ModeAwaitingProxyReply
	x.SetTimeout(c, api.TimeoutAwaitingProxyReply, x.responseTimeout())
	return false
}

// serviceProxyReply takes one read from the proxy and demands the
// exact success literal at the front. Anything else ends the attempt.
// On a match the handshake is issued on the same event.
func (x *Context) serviceProxyReply(c *Connection, ready api.Readiness) bool {
	if ready.Dead() {
		x.log.Warn("proxy connection dead", zap.String("conn", c.id))
		x.connFailed(c, fmt.Errorf("proxy: %w", api.ErrTransportClosed))
		return false
	}
	if !ready.Has(api.EventReadable) {
		return false
	}

	buf := x.scratch.GetBuffer()
	defer x.scratch.PutBuffer(buf)

	n, err := c.sock.Read(buf)
	if err != nil {
		x.log.Error("error reading from proxy socket", zap.String("conn", c.id), zap.Error(err))
		x.connFailed(c, fmt.Errorf("proxy read: %w", err))
		return false
	}
	if n < len(proxyReplyOK) || string(buf[:len(proxyReplyOK)]) != proxyReplyOK {
		x.log.Error("error from proxy", zap.String("conn", c.id), zap.ByteString("reply", buf[:n]))
		x.connFailed(c, fmt.Errorf("proxy refused tunnel"))
		return false
	}
	x.counters.ProxyReplies.Add(1)

	// дальше соединение защищает таймаут фазы рукопожатия
	x.SetTimeout(c, api.TimeoutNone, 0)
	c.mode = ModeIssuingHandshake
	return true
}

// serviceIssueHandshake drives the optional TLS session to completion
// and sends the upgrade request. TLS stalls reschedule themselves via
// a writable callback; TLS failures only log, the timeout guard reaps
// the connection if new bytes never rescue the handshake.
func (x *Context) serviceIssueHandshake(c *Connection) {
	// A writable callback may fire here from a time when there was no
	// real connection progress to make; stop watching for writability
	// until someone asks again.
	x.disarmWritable(c)

	if c.useTLS {
		if c.tls == nil {
			c.tls = tlsdrv.NewSession(c.sock, tlsdrv.Config{
				ServerName: c.serverName,
				RootCAs:    c.roots,
			}, x.log)
		}
		outcome, err := c.tls.Step()
		switch outcome {
		case tlsdrv.Retry:
			x.counters.TLSRetries.Add(1)
			x.log.Info("tls handshake wants retry", zap.String("conn", c.id))
			x.CallbackOnWritable(c)
			return
		case tlsdrv.Failed:
			// retry if new data comes until we run into the
			// connection timeout or win
			x.log.Error("tls connect error", zap.String("conn", c.id), zap.Error(err))
			return
		case tlsdrv.Done:
			if verr := c.tls.VerifyPeer(c.allowSelfSigned); verr != nil {
				x.log.Error("server certificate did not verify", zap.String("conn", c.id), zap.Error(verr))
				x.connFailed(c, fmt.Errorf("peer verify: %w", verr))
				return
			}
		}
	}

	hs := c.hs
	buf := x.scratch.GetBuffer()
	defer x.scratch.PutBuffer(buf)

	var confirmer api.ExtensionConfirmer
	if v, ok := x.leading().Handler.(api.ExtensionConfirmer); ok {
		confirmer = v
	}
	var appender api.HeaderAppender
	if v, ok := x.leading().Handler.(api.HeaderAppender); ok {
		appender = v
	}

	req, accept, err := protocol.BuildClientRequest(buf, &protocol.RequestSpec{
		Path:       hs.path.get(),
		Host:       hs.host.get(),
		Origin:     hs.origin.get(),
		Protocols:  hs.protocolList.get(),
		Version:    hs.version,
		Extensions: x.cfg.Extensions,
		Conn:       c,
		Confirmer:  confirmer,
		Appender:   appender,
		Log:        x.log,
	}, x.entropyReader())
	if err != nil {
		x.log.Error("failed to generate handshake, closing", zap.String("conn", c.id), zap.Error(err))
		x.connFailed(c, fmt.Errorf("generate handshake: %w", err))
		return
	}
	hs.expectedAccept = accept

	// ownership transfer is complete, the request carries the values
	hs.path.release()
	hs.host.release()
	hs.origin.release()

	n, werr := c.write(req)
	if werr != nil || n < len(req) {
		x.log.Debug("error writing handshake request", zap.String("conn", c.id), zap.Error(werr))
		x.connFailed(c, fmt.Errorf("write handshake: %w", api.ErrTransportClosed))
		return
	}

	hs.lexer.Reset()
	c.mode = ModeAwaitingServerReply
	x.SetTimeout(c, api.TimeoutAwaitingServerReply, x.responseTimeout())
	x.log.Debug("handshake request sent", zap.String("conn", c.id), zap.Int("bytes", n))
}

// serviceServerReply consumes the server response strictly one byte at
// a time. The server may coalesce the response and the first frames in
// one packet, so the lexer must stop exactly on the header terminator
// and leave the rest unread.
func (x *Context) serviceServerReply(c *Connection, ready api.Readiness) {
	if ready.Dead() {
		x.log.Debug("server connection dead", zap.String("conn", c.id))
		x.bail3(c, fmt.Errorf("reply wait: %w", api.ErrTransportClosed))
		return
	}
	if !ready.Has(api.EventReadable) {
		x.bail3(c, fmt.Errorf("reply wait: unexpected readiness"))
		return
	}

	lx := c.hs.lexer
	var one [1]byte
	for !lx.Complete() {
		n, err := c.read(one[:])
		if err != nil || n == 0 {
			switch {
			case errors.Is(err, api.ErrWantRead), errors.Is(err, api.ErrWantWrite):
				return
			case err == nil, errors.Is(err, io.EOF):
				// частичный ответ, ждём следующих пакетов; страховкой
				// остаётся таймаут фазы
				return
			default:
				x.log.Warn("reply read failed", zap.String("conn", c.id), zap.Error(err))
				x.bail3(c, fmt.Errorf("reply read: %w", err))
				return
			}
		}
		if _, perr := lx.Feed(one[0]); perr != nil {
			x.log.Warn("reply parse failed", zap.String("conn", c.id), zap.Error(perr))
			x.bail3(c, fmt.Errorf("parse reply: %w", perr))
			return
		}
	}

	x.interpretServerHandshake(c)
}

// serviceEstablished hands post-handshake readiness to the selected
// protocol: requested writable callbacks first, then at most one read.
func (x *Context) serviceEstablished(c *Connection, ready api.Readiness) {
	if ready.Dead() {
		x.log.Debug("established connection dead", zap.String("conn", c.id))
		x.closeConn(c, CloseNoStatus)
		return
	}

	if ready.Has(api.EventWritable) {
		x.disarmWritable(c)
		if wh, ok := c.ws.proto.Handler.(api.WritableHandler); ok {
			if err := wh.Writable(c); err != nil {
				x.log.Debug("writable handler failed", zap.String("conn", c.id), zap.Error(err))
				x.closeConn(c, CloseNoStatus)
				return
			}
		}
	}

	if !ready.Has(api.EventReadable) {
		return
	}
	buf := c.ws.rx.Payload()
	n, err := c.read(buf)
	switch {
	case err == nil && n > 0:
		if herr := c.ws.proto.Handler.Receive(c, buf[:n]); herr != nil {
			x.log.Debug("receive handler failed", zap.String("conn", c.id), zap.Error(herr))
			x.closeConn(c, CloseNoStatus)
		}
	case errors.Is(err, api.ErrWantRead), errors.Is(err, api.ErrWantWrite):
		// spurious wakeup
	case errors.Is(err, io.EOF):
		x.log.Debug("remote closed connection", zap.String("conn", c.id))
		x.closeConn(c, CloseNoStatus)
	case err != nil:
		x.log.Debug("read failed on established connection", zap.String("conn", c.id), zap.Error(err))
		x.closeConn(c, CloseNoStatus)
	}
}

// connFailed is the transport-class failure exit: no error callback,
// status-less close.
func (x *Context) connFailed(c *Connection, cause error) {
	x.counters.FailedTransport.Add(1)
	if c.span != nil {
		c.span.RecordError(api.WrapError(api.ErrCodeTransport, cause, "connect attempt failed"))
	}
	x.closeConn(c, CloseNoStatus)
}

// bail3 ends a failed reply wait. The retained subprotocol offer goes
// with the rest of the handshake state; no error callback fires.
func (x *Context) bail3(c *Connection, cause error) {
	x.log.Info("closing connection in reply wait", zap.String("conn", c.id), zap.Error(cause))
	if c.hs != nil {
		c.hs.protocolList.release()
	}
	x.counters.FailedTransport.Add(1)
	if c.span != nil {
		c.span.RecordError(api.WrapError(api.ErrCodeTransport, cause, "reply wait failed"))
	}
	x.closeConn(c, CloseNoStatus)
}
