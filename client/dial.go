// File: client/dial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound attempt construction: socket, poll registration, the
// initial timeout guard. The state machine takes over on the first
// readiness report.

package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/internal/transport"
	"github.com/momentics/wsdial/protocol"
)

// Dial starts one WebSocket connect attempt. It never blocks: the
// returned connection is still connecting and must be driven through
// Service (or Run) on the same goroutine until it establishes or
// closes.
func (x *Context) Dial(opts DialOptions) (*Connection, error) {
	if x.closed {
		return nil, fmt.Errorf("dial: %w", api.ErrTransportClosed)
	}
	opts.withDefaults()
	if err := validateStruct("dial", &opts); err != nil {
		return nil, err
	}

	x.counters.DialsStarted.Add(1)

	target := opts.Address
	if opts.ViaProxy {
		target = opts.ProxyAddress
	}

	sock, err := transport.Connect(target)
	if err != nil {
		x.counters.FailedTransport.Add(1)
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	c := &Connection{
		id:   uuid.NewString(),
		ctx:  x,
		sock: sock,
		mode: ModeConnecting,
		hs: &handshakeState{
			path:         newOwned(opts.Path),
			host:         newOwned(opts.Host),
			origin:       newOwned(opts.Origin),
			protocolList: newOwned(opts.RequestProtocols),
			lexer:        protocol.NewResponseLexer(),
			version:      opts.Version,
		},
		useTLS:          opts.UseTLS,
		allowSelfSigned: opts.AllowSelfSigned,
		serverName:      opts.ServerName,
		roots:           opts.RootCAs,
		viaProxy:        opts.ViaProxy,
		proxyConnect:    opts.ProxyConnect,
		target:          opts.Address,
	}

	_, span := x.tracer.Start(context.Background(), "wsdial.dial",
		trace.WithAttributes(
			attribute.String("peer.address", opts.Address),
			attribute.String("http.path", opts.Path),
			attribute.Bool("tls", opts.UseTLS),
			attribute.Bool("proxy", opts.ViaProxy),
		))
	c.span = span

	fd := sock.RawFD()
	if err := x.poller.Register(fd, api.EventReadable|api.EventWritable); err != nil {
		span.End()
		sock.Close()
		x.counters.FailedTransport.Add(1)
		return nil, fmt.Errorf("dial %s: register: %w", target, err)
	}
	c.wantWritable = true
	x.conns.Put(fd, c)
	x.notifyAddPollFD(c, api.EventReadable|api.EventWritable)

	x.SetTimeout(c, api.TimeoutSentClientHandshake, x.connectTimeout())

	x.log.Debug("dial started",
		zap.String("conn", c.id),
		zap.String("target", target),
		zap.Bool("tls", opts.UseTLS),
		zap.Bool("proxy", opts.ViaProxy))
	return c, nil
}
