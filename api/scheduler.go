// Package api
// Author: momentics
//
// Scheduler contract between the connection state machine and the
// event loop that owns timers and poll subscriptions.

package api

import "time"

// TimeoutKind labels the single pending-timeout guard armed on a
// connection. Arming a new kind replaces the previous guard.
type TimeoutKind int

const (
	TimeoutNone TimeoutKind = iota
	TimeoutAwaitingProxyReply
	TimeoutSentClientHandshake
	TimeoutAwaitingServerReply
)

// Scheduler is implemented by the event loop. The state machine never
// polls the clock itself: expiry of the armed guard must result in a
// forced close from the loop.
type Scheduler interface {
	// SetTimeout arms the guard on the connection, replacing any
	// previous one. TimeoutNone clears the guard.
	SetTimeout(c Conn, kind TimeoutKind, d time.Duration)

	// CallbackOnWritable schedules one writable-readiness service call
	// for the connection even if the peer never sends. Required for
	// TLS retries stalled on a blocked write.
	CallbackOnWritable(c Conn)
}
