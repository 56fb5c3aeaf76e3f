package object

import (
	"sync/atomic"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Object header
// ---------------------------------------------------------------------------

type lifecycle uint32

const (
	stateAllocated lifecycle = iota
	stateLive
	stateDestroying
	stateFreed
)

func (s lifecycle) String() string {
	switch s {
	case stateAllocated:
		return "allocated"
	case stateLive:
		return "live"
	case stateDestroying:
		return "destroying"
	case stateFreed:
		return "freed"
	}
	return "unknown"
}

// Payload is the instance storage a method operates on. Bytes is the fixed
// size region handed out by the runtime's Allocator; Native carries Go values
// (pointers, closures) that must not be hidden inside raw bytes.
type Payload struct {
	Bytes  []byte
	Native any
}

// Mode tells whether an instance owns its payload or reads through to the
// instance it was copied from.
type Mode int

const (
	Owned Mode = iota
	View
)

func (m Mode) String() string {
	if m == View {
		return "view"
	}
	return "owned"
}

// Object is a runtime instance: a header plus its payload.
//
// The header fields are atomics so that a validity check from one goroutine
// never races with a destroy running on another.
type Object struct {
	rt       *Runtime
	class    atomic.Pointer[Class]
	refCount atomic.Uint64
	copyOf   atomic.Pointer[Object]
	checksum atomic.Uintptr
	state    atomic.Uint32
	size     int
	payload  Payload
}

// headerSize is what Alloc adds to every payload when sizing an instance.
const headerSize = int(unsafe.Sizeof(Object{}))

func (o *Object) address() uintptr { return uintptr(unsafe.Pointer(o)) }

func (o *Object) computeChecksum(c *Class) uintptr {
	return o.address() ^ uintptr(unsafe.Pointer(c)) ^ uintptr(o.size)
}

// valid reports whether o is initialized, not destroyed, and its header is
// intact.
func (o *Object) valid() bool {
	if lifecycle(o.state.Load()) != stateLive || o.refCount.Load() == 0 {
		return false
	}
	c := o.class.Load()
	return c != nil && o.checksum.Load() == o.computeChecksum(c)
}

// Class returns the instance's class, or nil before initialization.
func (o *Object) Class() *Class { return o.class.Load() }

// RefCount returns the current reference count. It is zero for instances
// that are not yet initialized or already destroyed.
func (o *Object) RefCount() uint64 { return o.refCount.Load() }

// Size returns the payload size in bytes.
func (o *Object) Size() int { return o.size }

// Valid reports whether the instance can be dispatched on.
func (o *Object) Valid() bool { return o.valid() }

// Mode reports whether the instance owns its payload or is a view of the
// instance it was copied from.
func (o *Object) Mode() Mode {
	if o.copyOf.Load() != nil {
		return View
	}
	return Owned
}

// CopyOf returns the instance o was copied from while o is still a view.
func (o *Object) CopyOf() *Object { return o.copyOf.Load() }

// root follows the copy chain to the instance that owns the payload.
func (o *Object) root() *Object {
	for {
		next := o.copyOf.Load()
		if next == nil {
			return o
		}
		o = next
	}
}

// Data returns the payload reads should go through, resolving the copy chain.
func (o *Object) Data() *Payload { return &o.root().payload }
