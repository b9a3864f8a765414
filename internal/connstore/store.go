// File: internal/connstore/store.go
// Package connstore
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe descriptor-to-connection lookup. The event loop
// resolves every readiness event through this table, so reads dominate.

package connstore

import (
	"sync"
)

// Store maps raw descriptors to their connection objects.
type Store struct {
	shards []*shard
	mask   uint32
}

type shard struct {
	mu    sync.RWMutex
	conns map[uintptr]any
}

// NewStore constructs a sharded store with shardCount shards.
func NewStore(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = 16
	}
	// power-of-two shards for bitmasking
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{conns: make(map[uintptr]any)}
	}
	return &Store{shards: shards, mask: m - 1}
}

// shard picks the shard for a descriptor. Descriptors are small dense
// integers, so the low bits spread them evenly without hashing.
func (s *Store) shard(fd uintptr) *shard {
	return s.shards[uint32(fd)&s.mask]
}

// Put stores or replaces the connection for fd.
func (s *Store) Put(fd uintptr, conn any) {
	sh := s.shard(fd)
	sh.mu.Lock()
	sh.conns[fd] = conn
	sh.mu.Unlock()
}

// Get fetches the connection for fd if present.
func (s *Store) Get(fd uintptr) (any, bool) {
	sh := s.shard(fd)
	sh.mu.RLock()
	c, ok := sh.conns[fd]
	sh.mu.RUnlock()
	return c, ok
}

// Delete removes and returns the connection for fd.
func (s *Store) Delete(fd uintptr) (any, bool) {
	sh := s.shard(fd)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.conns[fd]
	if ok {
		delete(sh.conns, fd)
	}
	return c, ok
}

// Range applies fn to every stored connection until fn returns false.
func (s *Store) Range(fn func(fd uintptr, conn any) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for fd, c := range sh.conns {
			if !fn(fd, c) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// Len counts stored connections.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
