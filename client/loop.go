// File: client/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The service loop: reactor wait, per-fd dispatch, writable-callback
// queue and the timeout guard sweep. The guards are the only clock in
// the machinery; a connection that stops making progress is reaped
// here, never from inside the state machine.

package client

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
)

// servicePauseMs is the wait bound used by Run between passes.
const servicePauseMs = 50

// timeoutEntry is one armed guard. Entries are never removed early;
// re-arming bumps the connection's sequence so stale entries fall
// through the sweep.
type timeoutEntry struct {
	c    *Connection
	when time.Time
	seq  uint64
}

type timeoutQueue []*timeoutEntry

func (q timeoutQueue) Len() int           { return len(q) }
func (q timeoutQueue) Less(i, j int) bool { return q[i].when.Before(q[j].when) }
func (q timeoutQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *timeoutQueue) Push(v any)        { *q = append(*q, v.(*timeoutEntry)) }
func (q *timeoutQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Service runs one pass of the event loop: arm queued writable
// requests, wait up to timeoutMs (-1 means until something happens),
// dispatch readiness per connection, then reap expired guards.
// Returns the number of readiness events handled.
//
// Dial and Service must run on the same goroutine; connections and
// all callbacks live on it.
func (x *Context) Service(timeoutMs int) (int, error) {
	if x.closed {
		return 0, fmt.Errorf("service: %w", api.ErrTransportClosed)
	}

	x.drainWritable()

	n, err := x.poller.Wait(x.events, x.clampWait(timeoutMs))
	if err != nil {
		return 0, fmt.Errorf("service: reactor wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := x.events[i]
		v, ok := x.conns.Get(ev.Fd)
		if !ok {
			continue
		}
		x.serviceConn(v.(*Connection), ev.Ready)
	}

	now := time.Now()
	x.sweepTimeouts(now)
	x.maybePublish(now)
	return n, nil
}

// Run services the context until ctx is done. Convenience loop for
// callers that do not integrate their own poller.
func (x *Context) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := x.Service(servicePauseMs); err != nil {
			return err
		}
	}
}

// clampWait caps the poll wait so the earliest armed guard is swept
// close to its deadline. Stale heap heads only wake the loop early,
// which is harmless.
func (x *Context) clampWait(timeoutMs int) int {
	if len(x.timeouts) == 0 {
		return timeoutMs
	}
	d := time.Until(x.timeouts[0].when)
	if d < 0 {
		d = 0
	}
	ms := int((d + time.Millisecond - 1) / time.Millisecond)
	if timeoutMs < 0 || ms < timeoutMs {
		return ms
	}
	return timeoutMs
}

// drainWritable arms poll writability for every queued request. A
// request whose connection has moved past the modes that care about
// writability is dropped, so a stale grant can never reach the
// reply-wait phase as a readiness event.
func (x *Context) drainWritable() {
	for x.writable.Length() > 0 {
		c := x.writable.Remove().(*Connection)
		if c.wantWritable {
			continue
		}
		switch c.mode {
		case ModeIssuingHandshake, ModeEstablished:
			x.armWritable(c)
		}
	}
}

func (x *Context) armWritable(c *Connection) {
	if c.wantWritable {
		return
	}
	c.wantWritable = true
	if err := x.poller.Modify(c.sock.RawFD(), api.EventReadable|api.EventWritable); err != nil {
		x.log.Debug("arm writable", zap.String("conn", c.id), zap.Error(err))
	}
	x.notifySetMode(c, api.EventWritable)
}

// disarmWritable drops the write subscription. Called on every entry
// to the handshake-issue phase, armed or not, so external pollers see
// the same clear notification cadence either way.
func (x *Context) disarmWritable(c *Connection) {
	if c.wantWritable {
		if err := x.poller.Modify(c.sock.RawFD(), api.EventReadable); err != nil {
			x.log.Debug("disarm writable", zap.String("conn", c.id), zap.Error(err))
		}
	}
	c.wantWritable = false
	x.notifyClearMode(c, api.EventWritable)
}

// sweepTimeouts force-closes every connection whose armed guard has
// expired. No callback fires; the close is the notification.
func (x *Context) sweepTimeouts(now time.Time) {
	for len(x.timeouts) > 0 {
		top := x.timeouts[0]
		if top.when.After(now) {
			return
		}
		heap.Pop(&x.timeouts)
		x.pendingGuards.Store(int64(len(x.timeouts)))
		c := top.c
		if c.mode == ModeClosed || c.timeoutSeq != top.seq || c.timeoutKind == api.TimeoutNone {
			continue
		}
		x.counters.TimeoutsFired.Add(1)
		x.log.Info("connection timed out waiting",
			zap.String("conn", c.id),
			zap.Stringer("mode", c.mode),
			zap.Int("kind", int(c.timeoutKind)))
		x.closeConn(c, CloseNoStatus)
	}
}
