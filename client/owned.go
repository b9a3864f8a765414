// File: client/owned.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection-owned handshake strings. Every service path must release
// each one exactly once; release is explicit so the paths stay
// auditable, and a second release is a visible no-op instead of
// corruption.

package client

// ownedString is a handshake string with single-release semantics.
// A nil ownedString means the value was never supplied.
type ownedString struct {
	val      string
	released bool
}

func newOwned(s string) *ownedString {
	if s == "" {
		return nil
	}
	return &ownedString{val: s}
}

// get returns the value, or "" once released or never set.
func (o *ownedString) get() string {
	if o == nil || o.released {
		return ""
	}
	return o.val
}

// active reports whether the string still holds a value.
func (o *ownedString) active() bool {
	return o != nil && !o.released
}

// release drops the value. Reports whether this call was the one that
// released it.
func (o *ownedString) release() bool {
	if o == nil || o.released {
		return false
	}
	o.released = true
	o.val = ""
	return true
}
