// File: fake/conn.go
// Package fake provides controllable stand-ins for the api interfaces,
// shared by tests across the module.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import "sync"

// Conn is a scripted api.Conn. It records user-data swaps and close
// calls so negotiation and extension tests can assert against them.
type Conn struct {
	mu       sync.Mutex
	id       string
	fd       uintptr
	userData any
	closes   int
	closeErr error
}

// NewConn creates a fake connection with the given identifier.
func NewConn(id string) *Conn {
	return &Conn{id: id}
}

// ID implements api.Conn.ID.
func (c *Conn) ID() string { return c.id }

// UserData implements api.Conn.UserData.
func (c *Conn) UserData() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData
}

// SetUserData implements api.Conn.SetUserData.
func (c *Conn) SetUserData(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userData = v
}

// Fd implements api.Conn.Fd.
func (c *Conn) Fd() uintptr { return c.fd }

// Close implements api.Conn.Close. Every call is counted.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return c.closeErr
}

// SetFd configures the descriptor reported by Fd.
func (c *Conn) SetFd(fd uintptr) { c.fd = fd }

// SetCloseError configures the error returned by Close.
func (c *Conn) SetCloseError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
}

// Closes reports how many times Close has been called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
