// File: client/handlers_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Recording handler and extension doubles shared by the client tests.

package client

import (
	"github.com/momentics/wsdial/api"
)

// recHandler records protocol lifecycle events for assertions.
type recHandler struct {
	established int
	closed      int
	writable    int
	filterCalls int
	received    [][]byte
	connErrs    []error

	filterVerdict api.Verdict
	closeInFilter bool
	receiveErr    error
	writableErr   error
}

func (h *recHandler) Established(c api.Conn) { h.established++ }

func (h *recHandler) Receive(c api.Conn, data []byte) error {
	h.received = append(h.received, append([]byte(nil), data...))
	return h.receiveErr
}

func (h *recHandler) ConnectionError(c api.Conn, cause error) {
	h.connErrs = append(h.connErrs, cause)
}

func (h *recHandler) Closed(c api.Conn) { h.closed++ }

func (h *recHandler) FilterPreEstablish(c api.Conn) api.Verdict {
	h.filterCalls++
	if h.closeInFilter {
		c.Close()
	}
	return h.filterVerdict
}

func (h *recHandler) Writable(c api.Conn) error {
	h.writable++
	return h.writableErr
}

// recExtension records extension lifecycle events.
type recExtension struct {
	constructs int
	destroys   int
	anyEst     []any

	vetoAll      bool
	constructErr error
}

func (e *recExtension) OkToPropose(candidate string) api.Verdict {
	if e.vetoAll {
		return api.VerdictDeny
	}
	return api.VerdictAllow
}

func (e *recExtension) Construct(c api.Conn) (any, error) {
	e.constructs++
	if e.constructErr != nil {
		return nil, e.constructErr
	}
	return &e.constructs, nil
}

func (e *recExtension) AnyEstablished(c api.Conn, state any) {
	e.anyEst = append(e.anyEst, state)
}

func (e *recExtension) Destroy(c api.Conn, state any) { e.destroys++ }
