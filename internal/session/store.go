// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe registry of live connections.

package session

import "sync"

// Registry tracks live connections so that shutdown can close all of them.
type Registry[T any] struct {
	shards []*registryShard[T]
	mask   uint64
}

type registryShard[T any] struct {
	mu    sync.RWMutex
	conns map[uint64]T
}

// NewRegistry constructs a sharded registry with shardCount shards.
func NewRegistry[T any](shardCount int) *Registry[T] {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*registryShard[T], m)
	for i := range shards {
		shards[i] = &registryShard[T]{conns: make(map[uint64]T)}
	}
	return &Registry[T]{shards: shards, mask: uint64(m - 1)}
}

func (r *Registry[T]) shard(id uint64) *registryShard[T] {
	return r.shards[id&r.mask]
}

// Add stores conn under id.
func (r *Registry[T]) Add(id uint64, conn T) {
	sh := r.shard(id)
	sh.mu.Lock()
	sh.conns[id] = conn
	sh.mu.Unlock()
}

// Remove deletes id and reports whether it was present.
func (r *Registry[T]) Remove(id uint64) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.conns[id]; !ok {
		return false
	}
	delete(sh.conns, id)
	return true
}

// Len returns the number of live connections.
func (r *Registry[T]) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot returns a copy of the live connections. Callers may close them
// (and thereby Remove them) while ranging over the result.
func (r *Registry[T]) Snapshot() []T {
	var out []T
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, c := range sh.conns {
			out = append(out, c)
		}
		sh.mu.RUnlock()
	}
	return out
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
