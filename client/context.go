// File: client/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client context: owns the reactor, the descriptor-to-connection
// table and the shared machinery of the connect path. One goroutine
// drives it through Service or Run; connections and their callbacks
// all live on that goroutine, as in any poll-mode loop.

package client

import (
	"container/heap"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
	"github.com/momentics/wsdial/control"
	"github.com/momentics/wsdial/internal/connstore"
	"github.com/momentics/wsdial/pool"
	"github.com/momentics/wsdial/reactor"
)

// Context is the client engine behind every dial.
type Context struct {
	cfg Config

	log      *zap.Logger
	tracer   trace.Tracer
	counters *control.ClientCounters
	registry *control.MetricsRegistry
	probes   *control.DebugProbes

	scratch *pool.BytePool
	entropy io.Reader

	poller reactor.EventReactor
	conns  *connstore.Store

	writable *queue.Queue // connections waiting for POLLOUT arming
	timeouts timeoutQueue // pending timeout guards, earliest first

	events []reactor.Event

	// runtime overrides, written by reload listeners off-loop
	dynResponse atomic.Int64
	dynConnect  atomic.Int64

	// heap length mirror for off-loop probe reads
	pendingGuards atomic.Int64

	lastPublish time.Time
	closed      bool
}

// NewContext validates cfg and builds the client engine.
func NewContext(cfg Config) (*Context, error) {
	cfg.withDefaults()
	if err := validateStruct("config", &cfg); err != nil {
		return nil, err
	}
	p, err := reactor.NewReactor()
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	x := &Context{
		cfg:      cfg,
		log:      cfg.Logger,
		tracer:   otel.Tracer("wsdial/client"),
		counters: &control.ClientCounters{},
		registry: control.NewMetricsRegistry(),
		probes:   control.NewDebugProbes(),
		scratch:  pool.NewBytePool(scratchBufSize),
		entropy:  cfg.Entropy,
		poller:   p,
		conns:    connstore.NewStore(16),
		writable: queue.New(),
		events:   make([]reactor.Event, cfg.MaxEvents),
	}
	x.probes.RegisterProbe("client.conns", func() any { return x.conns.Len() })
	x.probes.RegisterProbe("client.pending_timeouts", func() any { return x.pendingGuards.Load() })
	control.RegisterPlatformProbes(x.probes)
	if x.cfg.Runtime != nil {
		x.cfg.Runtime.OnReload(x.applyRuntime)
		x.applyRuntime()
	}
	return x, nil
}

// applyRuntime pulls tunable overrides out of the settings store. It
// runs on the reload caller's goroutine, so the overrides go through
// atomics.
func (x *Context) applyRuntime() {
	x.dynResponse.Store(int64(x.cfg.Runtime.Duration("response_timeout", 0)))
	x.dynConnect.Store(int64(x.cfg.Runtime.Duration("connect_timeout", 0)))
}

// responseTimeout is the current reply-wait bound.
func (x *Context) responseTimeout() time.Duration {
	if d := x.dynResponse.Load(); d > 0 {
		return time.Duration(d)
	}
	return x.cfg.ResponseTimeout
}

// connectTimeout is the current TCP connect bound.
func (x *Context) connectTimeout() time.Duration {
	if d := x.dynConnect.Load(); d > 0 {
		return time.Duration(d)
	}
	return x.cfg.ConnectTimeout
}

// Metrics returns the exportable metrics registry.
func (x *Context) Metrics() *control.MetricsRegistry { return x.registry }

// Probes exposes the debug state probes.
func (x *Context) Probes() *control.DebugProbes { return x.probes }

// Counters exposes the raw hot-path counters.
func (x *Context) Counters() *control.ClientCounters { return x.counters }

// Shutdown closes every connection and releases the reactor.
func (x *Context) Shutdown() error {
	if x.closed {
		return nil
	}
	x.closed = true
	var all []*Connection
	x.conns.Range(func(fd uintptr, v any) bool {
		all = append(all, v.(*Connection))
		return true
	})
	for _, c := range all {
		x.closeConn(c, CloseGoingAway)
	}
	return x.poller.Close()
}

// SetTimeout arms or clears the connection's single pending timeout
// guard. Arming replaces any previous guard.
func (x *Context) SetTimeout(c api.Conn, kind api.TimeoutKind, d time.Duration) {
	conn, ok := c.(*Connection)
	if !ok {
		return
	}
	conn.timeoutSeq++
	conn.timeoutKind = kind
	if kind == api.TimeoutNone {
		return
	}
	conn.timeoutAt = time.Now().Add(d)
	heap.Push(&x.timeouts, &timeoutEntry{c: conn, when: conn.timeoutAt, seq: conn.timeoutSeq})
	x.pendingGuards.Store(int64(len(x.timeouts)))
}

// CallbackOnWritable queues a request to watch the connection's socket
// for writability; arming happens on the next Service pass.
func (x *Context) CallbackOnWritable(c api.Conn) {
	conn, ok := c.(*Connection)
	if !ok || conn.mode == ModeClosed {
		return
	}
	x.writable.Add(conn)
}

// leading returns the first protocol descriptor; its handler receives
// the context-level hooks.
func (x *Context) leading() *api.Protocol {
	return &x.cfg.Protocols[0]
}

func (x *Context) notifyAddPollFD(c *Connection, bits api.Readiness) {
	if o, ok := x.leading().Handler.(api.PollFDObserver); ok {
		o.AddPollFD(c, bits)
	}
}

func (x *Context) notifyDelPollFD(c *Connection) {
	if o, ok := x.leading().Handler.(api.PollFDObserver); ok {
		o.DelPollFD(c)
	}
}

func (x *Context) notifySetMode(c *Connection, bits api.Readiness) {
	if o, ok := x.leading().Handler.(api.PollFDObserver); ok {
		o.SetModePollFD(c, bits)
	}
}

func (x *Context) notifyClearMode(c *Connection, bits api.Readiness) {
	if o, ok := x.leading().Handler.(api.PollFDObserver); ok {
		o.ClearModePollFD(c, bits)
	}
}

func (x *Context) maybePublish(now time.Time) {
	if now.Sub(x.lastPublish) < 500*time.Millisecond {
		return
	}
	x.lastPublish = now
	x.counters.Publish(x.registry)
}
