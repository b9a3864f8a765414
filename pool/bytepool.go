// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte buffer pooling for the client service path. Scratch buffers
// cycle through a sync.Pool; established connections get a padded
// receive buffer they keep for their lifetime.

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage.
type SyncPool[T any] struct {
	pool *sync.Pool
}

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

// BytePool hands out fixed-size scratch buffers.
type BytePool struct {
	size int
	sp   *SyncPool[[]byte]
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		sp:   NewSyncPool(func() []byte { return make([]byte, size) }),
	}
}

// GetBuffer returns a buffer of the pool's fixed size.
func (b *BytePool) GetBuffer() []byte {
	return b.sp.Get()
}

// PutBuffer returns a buffer to the pool. Foreign sizes are dropped.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) < b.size {
		return
	}
	b.sp.Put(buf[:b.size])
}

// Size reports the fixed buffer size.
func (b *BytePool) Size() int {
	return b.size
}

// Padded is a receive buffer with reserved bytes before and after the
// payload window, so frames can be built around received data in place.
type Padded struct {
	raw  []byte
	pre  int
	post int
}

// NewPadded allocates a buffer with size payload bytes between pre and
// post reserves.
func NewPadded(size, pre, post int) *Padded {
	return &Padded{
		raw:  make([]byte, pre+size+post),
		pre:  pre,
		post: post,
	}
}

// Payload is the usable window between the reserves.
func (p *Padded) Payload() []byte {
	return p.raw[p.pre : len(p.raw)-p.post]
}

// Raw exposes the whole allocation including both reserves.
func (p *Padded) Raw() []byte {
	return p.raw
}

// PayloadSize reports the window length.
func (p *Padded) PayloadSize() int {
	return len(p.raw) - p.pre - p.post
}
