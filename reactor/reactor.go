// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface. Level-triggered:
// subscriptions mirror a pollfd events word and are rewritten with
// Modify as the connection arms and disarms writability.

package reactor

import (
	"github.com/momentics/wsdial/api"
)

// EventReactor multiplexes socket readiness for the client loop.
type EventReactor interface {
	// Register subscribes fd with an initial interest set.
	Register(fd uintptr, interest api.Readiness) error

	// Modify rewrites the interest set for a registered fd.
	Modify(fd uintptr, interest api.Readiness) error

	// Unregister removes fd from the watch list.
	Unregister(fd uintptr) error

	// Wait blocks up to timeoutMs (-1 means forever) and fills events.
	// Returns the number of events written.
	Wait(events []Event, timeoutMs int) (int, error)

	// Close releases the reactor descriptor.
	Close() error
}

// Event is one readiness report. Error and hang-up bits arrive even
// when not subscribed.
type Event struct {
	Fd    uintptr
	Ready api.Readiness
}
