// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines transport socket abstraction (NetConn) for compatibility
// with custom event loops and non-blocking connection service.

package api

// NetConn abstracts a full-duplex network byte stream that may or may
// not be backed by Go's net.Conn. All calls are non-blocking: when no
// progress is possible the call returns ErrWantRead or ErrWantWrite
// instead of waiting. TLS-wrapped streams use the same two sentinels
// for renegotiation-driven stalls in either direction.
type NetConn interface {
	// Read reads into a preallocated buffer. Returns (0, io.EOF) on
	// orderly remote close and (0, ErrWantRead) when no bytes are
	// buffered.
	Read(p []byte) (n int, err error)

	// Write writes buffer contents into the connection. A short write
	// together with ErrWantWrite means the kernel buffer filled up.
	Write(p []byte) (n int, err error)

	// Close shuts down the connection and notifies upstream layers.
	Close() error

	// RawFD returns the underlying OS-level file descriptor.
	RawFD() uintptr
}
