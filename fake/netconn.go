// File: fake/netconn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adapters between Go's blocking net.Conn world and the non-blocking
// NetConn shape the service loop speaks. Tests pair an in-memory pipe
// with whichever side of the boundary they exercise.

package fake

import (
	"errors"
	"net"
	"time"

	"github.com/momentics/wsdial/api"
)

// NonBlocking wraps a net.Conn so it behaves like an api.NetConn:
// short deadlines turn blocking reads and writes into ErrWantRead and
// ErrWantWrite. The descriptor is synthetic.
func NonBlocking(c net.Conn) api.NetConn { return &nonBlockingConn{c: c} }

type nonBlockingConn struct {
	c net.Conn
}

func (p *nonBlockingConn) Read(b []byte) (int, error) {
	_ = p.c.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := p.c.Read(b)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, api.ErrWantRead
		}
	}
	return n, err
}

func (p *nonBlockingConn) Write(b []byte) (int, error) {
	_ = p.c.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
	n, err := p.c.Write(b)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, api.ErrWantWrite
		}
	}
	return n, err
}

func (p *nonBlockingConn) Close() error   { return p.c.Close() }
func (p *nonBlockingConn) RawFD() uintptr { return 0 }

// Blocking wraps an api.NetConn in the net.Conn shape by spinning on
// the want sentinels. The standard library TLS stack can then drive
// one end of a non-blocking pair. Deadlines are accepted and ignored.
func Blocking(c api.NetConn) net.Conn { return &blockingConn{c: c} }

type blockingConn struct {
	c api.NetConn
}

func (b *blockingConn) Read(p []byte) (int, error) {
	for {
		n, err := b.c.Read(p)
		if errors.Is(err, api.ErrWantRead) {
			time.Sleep(time.Millisecond)
			continue
		}
		return n, err
	}
}

func (b *blockingConn) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := b.c.Write(p[total:])
		total += n
		if errors.Is(err, api.ErrWantWrite) {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (b *blockingConn) Close() error                     { return b.c.Close() }
func (b *blockingConn) LocalAddr() net.Addr              { return pipeAddr{} }
func (b *blockingConn) RemoteAddr() net.Addr             { return pipeAddr{} }
func (b *blockingConn) SetDeadline(time.Time) error      { return nil }
func (b *blockingConn) SetReadDeadline(time.Time) error  { return nil }
func (b *blockingConn) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "fake" }
func (pipeAddr) String() string  { return "fake" }
