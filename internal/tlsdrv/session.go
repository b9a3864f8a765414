// File: internal/tlsdrv/session.go
// Package tlsdrv drives a TLS handshake over a non-blocking socket in
// discrete steps.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// crypto/tls retains the first handshake error forever, so a handshake
// cannot be re-driven over a stream that fails with would-block. The
// session therefore runs Handshake exactly once on its own goroutine,
// over an adapter whose reads and writes park until Step reports the
// socket ready again. Step itself never blocks: it pumps the gates,
// polls for the result, and tells the caller to retry until the
// goroutine settles.

package tlsdrv

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsdial/api"
)

// Outcome is the result of one handshake step.
type Outcome int

const (
	// Retry means the handshake wants the socket readable or writable.
	// The caller must arrange a writable-readiness callback, since a
	// stalled write would otherwise never be serviced again.
	Retry Outcome = iota
	Done
	Failed
)

var errSessionClosed = errors.New("tlsdrv: session closed")

// Config carries the TLS parameters for one client session.
type Config struct {
	// ServerName is sent in SNI. Certificate chain verification is a
	// separate explicit call, see Session.VerifyPeer.
	ServerName string

	// RootCAs overrides the system roots for VerifyPeer.
	RootCAs *x509.CertPool
}

// Session owns one TLS client handshake and, after Done, the encrypted
// byte stream. Created lazily on the first handshake-issue attempt and
// closed together with the connection.
type Session struct {
	adapter *gatedConn
	tconn   *tls.Conn
	roots   *x509.CertPool

	started bool
	settled bool
	result  error
	done    chan error

	log *zap.Logger
}

// NewSession wraps the socket for a stepped client handshake. The
// socket stays owned by the caller; closing the session never closes
// it.
func NewSession(nc api.NetConn, cfg Config, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	adapter := newGatedConn(nc)
	tcfg := &tls.Config{
		ServerName: cfg.ServerName,
		MinVersion: tls.VersionTLS12,
		// verification happens explicitly after the handshake, so the
		// self-signed tolerance can be applied to the chain result
		InsecureSkipVerify: true,
	}
	return &Session{
		adapter: adapter,
		tconn:   tls.Client(adapter, tcfg),
		roots:   cfg.RootCAs,
		done:    make(chan error, 1),
		log:     log,
	}
}

// Step drives the handshake without blocking. Retry outcomes are not
// errors; the error value is non-nil only for Failed.
func (s *Session) Step() (Outcome, error) {
	if !s.started {
		s.started = true
		go func() {
			s.done <- s.tconn.HandshakeContext(context.Background())
		}()
	}
	if s.settled {
		if s.result != nil {
			return Failed, s.result
		}
		return Done, nil
	}

	// wake parked reads and writes, then give the handshake goroutine
	// a chance to consume what just arrived
	s.adapter.pulse()
	runtime.Gosched()

	select {
	case err := <-s.done:
		s.settle(err)
		if err != nil {
			s.log.Error("tls handshake failed", zap.Error(err))
			return Failed, err
		}
		s.log.Debug("tls handshake complete",
			zap.Uint16("version", s.tconn.ConnectionState().Version))
		return Done, nil
	default:
	}

	s.log.Debug("tls handshake wants readiness, retrying")
	return Retry, nil
}

func (s *Session) settle(err error) {
	s.settled = true
	s.result = err
	s.adapter.setPassthrough()
}

// Read returns decrypted bytes once the handshake is Done. Stalls
// surface as api.ErrWantRead or api.ErrWantWrite.
func (s *Session) Read(p []byte) (int, error) {
	if !s.settled {
		return 0, api.ErrWantRead
	}
	if s.result != nil {
		return 0, s.result
	}
	n, err := s.tconn.Read(p)
	return n, unwrapWant(err)
}

// Write encrypts and writes p after the handshake is Done.
func (s *Session) Write(p []byte) (int, error) {
	if !s.settled {
		return 0, api.ErrWantWrite
	}
	if s.result != nil {
		return 0, s.result
	}
	n, err := s.tconn.Write(p)
	return n, unwrapWant(err)
}

// Close releases the handshake goroutine and best-effort notifies the
// peer. The underlying socket is left open for its owner.
func (s *Session) Close() error {
	if s.settled && s.result == nil {
		_ = s.tconn.CloseWrite()
	}
	s.adapter.close()
	return nil
}

// wantError adapts the would-block sentinels to a temporary net.Error,
// which is the one shape crypto/tls lets through without latching the
// connection into a permanent error state.
type wantError struct {
	want error
}

func (e *wantError) Error() string   { return e.want.Error() }
func (e *wantError) Timeout() bool   { return true }
func (e *wantError) Temporary() bool { return true }
func (e *wantError) Unwrap() error   { return e.want }

func unwrapWant(err error) error {
	var we *wantError
	if errors.As(err, &we) {
		return we.want
	}
	return err
}

// gatedConn presents the non-blocking socket to crypto/tls as a
// net.Conn. While the handshake runs, would-block outcomes park the
// calling goroutine until pulse; after setPassthrough they convert to
// temporary errors instead.
type gatedConn struct {
	nc        api.NetConn
	readGate  chan struct{}
	writeGate chan struct{}
	closed    chan struct{}
	pass      atomic.Bool
	closeOnce atomic.Bool
}

func newGatedConn(nc api.NetConn) *gatedConn {
	return &gatedConn{
		nc:        nc,
		readGate:  make(chan struct{}, 1),
		writeGate: make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

func (g *gatedConn) pulse() {
	select {
	case g.readGate <- struct{}{}:
	default:
	}
	select {
	case g.writeGate <- struct{}{}:
	default:
	}
}

func (g *gatedConn) setPassthrough() {
	g.pass.Store(true)
}

func (g *gatedConn) close() {
	if g.closeOnce.CompareAndSwap(false, true) {
		close(g.closed)
	}
}

func (g *gatedConn) Read(p []byte) (int, error) {
	for {
		n, err := g.nc.Read(p)
		if err != nil && errors.Is(err, api.ErrWantRead) {
			if g.pass.Load() {
				return n, &wantError{want: api.ErrWantRead}
			}
			select {
			case <-g.readGate:
				continue
			case <-g.closed:
				return 0, errSessionClosed
			}
		}
		return n, err
	}
}

func (g *gatedConn) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := g.nc.Write(p[total:])
		total += n
		if err == nil {
			continue
		}
		if errors.Is(err, api.ErrWantWrite) {
			if g.pass.Load() {
				return total, &wantError{want: api.ErrWantWrite}
			}
			select {
			case <-g.writeGate:
				continue
			case <-g.closed:
				return total, errSessionClosed
			}
		}
		return total, err
	}
	return total, nil
}

// Close implements net.Conn for crypto/tls; the socket itself stays
// with its owner.
func (g *gatedConn) Close() error {
	g.close()
	return nil
}

type sessionAddr struct{}

func (sessionAddr) Network() string { return "wsdial" }
func (sessionAddr) String() string  { return "tls-session" }

func (g *gatedConn) LocalAddr() net.Addr                { return sessionAddr{} }
func (g *gatedConn) RemoteAddr() net.Addr               { return sessionAddr{} }
func (g *gatedConn) SetDeadline(t time.Time) error      { return nil }
func (g *gatedConn) SetReadDeadline(t time.Time) error  { return nil }
func (g *gatedConn) SetWriteDeadline(t time.Time) error { return nil }
