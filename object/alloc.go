package object

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/coral/pkg/fault"
)

// PoisonByte fills memory returned to a PoisonAllocator.
const PoisonByte = 0xDB

// Allocator provides payload storage. Allocate must return zeroed memory.
type Allocator interface {
	Allocate(size int) ([]byte, error)
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Allocate(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (HeapAllocator) Free([]byte) {}

// PoisonAllocator overwrites freed payloads with PoisonByte so stale reads
// show up as garbage instead of plausible data.
type PoisonAllocator struct {
	Allocator
}

// NewPoisonAllocator wraps next, or a HeapAllocator when next is nil.
func NewPoisonAllocator(next Allocator) *PoisonAllocator {
	if next == nil {
		next = HeapAllocator{}
	}
	return &PoisonAllocator{Allocator: next}
}

func (p *PoisonAllocator) Free(b []byte) {
	for i := range b {
		b[i] = PoisonByte
	}
	p.Allocator.Free(b)
}

// LimitAllocator fails allocations once the bytes outstanding would exceed
// Limit.
type LimitAllocator struct {
	Allocator
	limit int64
	used  atomic.Int64
}

// NewLimitAllocator wraps next, or a HeapAllocator when next is nil.
func NewLimitAllocator(next Allocator, limit int64) *LimitAllocator {
	if next == nil {
		next = HeapAllocator{}
	}
	return &LimitAllocator{Allocator: next, limit: limit}
}

func (l *LimitAllocator) Allocate(size int) ([]byte, error) {
	if l.used.Add(int64(size)) > l.limit {
		l.used.Add(-int64(size))
		return nil, fmt.Errorf("object: allocate %d bytes over limit %d: %w", size, l.limit, fault.ErrOutOfMemory)
	}
	b, err := l.Allocator.Allocate(size)
	if err != nil {
		l.used.Add(-int64(size))
		return nil, err
	}
	return b, nil
}

func (l *LimitAllocator) Free(b []byte) {
	l.used.Add(-int64(len(b)))
	l.Allocator.Free(b)
}

// Used returns the number of bytes currently allocated.
func (l *LimitAllocator) Used() int64 { return l.used.Load() }
