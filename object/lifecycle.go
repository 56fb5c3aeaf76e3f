package object

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/coral/pkg/fault"
)

// ---------------------------------------------------------------------------
// Allocation and initialization
// ---------------------------------------------------------------------------

// Alloc returns a zeroed, uninitialized instance with a payload of size bytes.
func (rt *Runtime) Alloc(size int) (*Object, error) {
	if size < 0 {
		return nil, fmt.Errorf("object: alloc %d bytes: %w", size, fault.ErrInvalidArgument)
	}
	if size > math.MaxInt-headerSize {
		return nil, fmt.Errorf("object: alloc %d bytes: %w", size, fault.ErrOverflow)
	}
	b, err := rt.alloc.Allocate(size)
	if err != nil {
		return nil, fmt.Errorf("object: alloc %d bytes: %w", size, err)
	}
	if b == nil {
		return nil, fmt.Errorf("object: alloc %d bytes: %w", size, fault.ErrOutOfMemory)
	}
	o := &Object{rt: rt, size: size}
	o.payload.Bytes = b
	rt.metrics.allocated()
	return o, nil
}

// Init makes a freshly allocated instance live with a reference count of one.
// The instance is also recorded on the calling goroutine's init list, so a
// pool Drain reclaims it if nobody else ever releases it.
func (rt *Runtime) Init(o *Object, c *Class) error {
	if o == nil || c == nil {
		return fault.ErrNilArgument
	}
	if !c.valid() || c.class.Load() != rt.root {
		return fmt.Errorf("object: init with class %s: %w", c.name, fault.ErrUninitialized)
	}
	if c == rt.root {
		return fmt.Errorf("object: init with class %s: use NewClass: %w", c.name, fault.ErrInvalidArgument)
	}
	if !c.HasMethod(MethodHashCode) || !c.HasMethod(MethodIsEqual) {
		return fmt.Errorf("object: init with class %s: missing %s or %s: %w",
			c.name, MethodHashCode, MethodIsEqual, fault.ErrInvalidArgument)
	}
	if o.class.Load() != nil || o.checksum.Load() != 0 {
		return fmt.Errorf("object: init %s: %w", c.name, fault.ErrAlreadyInitialized)
	}
	if !o.refCount.CompareAndSwap(0, 1) {
		return fmt.Errorf("object: init %s: %w", c.name, fault.ErrAlreadyInitialized)
	}

	o.class.Store(c)
	o.checksum.Store(o.computeChecksum(c))
	o.state.Store(uint32(stateLive))
	rt.metrics.initialized()

	rt.Pool().track(o)
	return nil
}

// New allocates and initializes an instance of c.
func (rt *Runtime) New(c *Class, size int) (*Object, error) {
	o, err := rt.Alloc(size)
	if err != nil {
		return nil, err
	}
	if err := rt.Init(o, c); err != nil {
		rt.alloc.Free(o.payload.Bytes)
		return nil, err
	}
	return o, nil
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

func fatal(op string, o *Object, count uint64) {
	name := "<none>"
	if c := o.class.Load(); c != nil {
		name = c.name
	}
	log.Criticalf("%s on %s instance %#x observed reference count %d", op, name, o.address(), count)
	panic(&fault.FatalError{Op: op, Count: count})
}

// Retain increments the reference count. Classes are permanent, so retaining
// one is a no-op.
func (rt *Runtime) Retain(o *Object) error {
	if o == nil {
		return fault.ErrNilArgument
	}
	if !o.valid() {
		return fmt.Errorf("object: retain: %w", fault.ErrUninitialized)
	}
	if rt.isClass(o) {
		return nil
	}
	if prev := o.refCount.Add(1) - 1; prev == 0 || prev == math.MaxUint64 {
		fatal("retain", o, prev)
	}
	return nil
}

// tryRetain retains o unless its count already reached zero. It never panics,
// which is what a weak load needs while the target may be dying.
func (rt *Runtime) tryRetain(o *Object) bool {
	if !o.valid() {
		return false
	}
	for {
		n := o.refCount.Load()
		if n == 0 || n == math.MaxUint64 {
			return false
		}
		if o.refCount.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release decrements the reference count, destroying the instance when it
// reaches zero. Exactly one release observes the transition to zero.
func (rt *Runtime) Release(o *Object) error {
	if o == nil {
		return fault.ErrNilArgument
	}
	if !o.valid() {
		return fmt.Errorf("object: release: %w", fault.ErrUninitialized)
	}
	if rt.isClass(o) {
		return nil
	}
	for {
		n := o.refCount.Load()
		if n == 0 || n == math.MaxUint64 {
			fatal("release", o, n)
		}
		if !o.refCount.CompareAndSwap(n, n-1) {
			continue
		}
		if n > 1 {
			return nil
		}
		if !o.state.CompareAndSwap(uint32(stateLive), uint32(stateDestroying)) {
			// A direct Destroy got there first.
			return nil
		}
		rt.finish(o)
		return nil
	}
}

// Autorelease retains o and schedules one release for the end of the calling
// goroutine's innermost pool frame. Without an open frame the release waits
// for Drain.
func (rt *Runtime) Autorelease(o *Object) error {
	if err := rt.Retain(o); err != nil {
		return err
	}
	if err := rt.Pool().add(o); err != nil {
		_ = rt.Release(o)
		return err
	}
	rt.metrics.autoreleased()
	return nil
}

// ---------------------------------------------------------------------------
// Destruction
// ---------------------------------------------------------------------------

// Destroy tears o down regardless of its reference count. Only the first of
// any number of concurrent Destroy or final Release calls does the work; the
// others fail with fault.ErrUninitialized.
func (rt *Runtime) Destroy(o *Object) error {
	if o == nil {
		return fault.ErrNilArgument
	}
	if rt.isClass(o) {
		return fmt.Errorf("object: destroy class %s: %w", o.class.Load().name, fault.ErrInvalidArgument)
	}
	if !o.state.CompareAndSwap(uint32(stateLive), uint32(stateDestroying)) {
		return fmt.Errorf("object: destroy: %w", fault.ErrUninitialized)
	}
	o.refCount.Store(0)
	rt.finish(o)
	return nil
}

// finish runs the teardown of an instance the caller has claimed by moving it
// to stateDestroying.
func (rt *Runtime) finish(o *Object) {
	c := o.class.Load()

	if orig := o.copyOf.Swap(nil); orig != nil {
		// Views share their original's payload, so only the link is dropped.
		if err := rt.Release(orig); err != nil {
			log.Warningf("destroy %s view: release original: %s", c.name, err)
		}
	} else if m, err := c.Method(MethodDestroy); err == nil {
		if _, err := rt.invoke(o, &o.payload, m, nil); err != nil {
			log.Warningf("destroy %s: %s", c.name, err)
		}
	}

	rt.notify.post(o, NotificationDestroy)

	rt.alloc.Free(o.payload.Bytes)
	o.payload = Payload{}
	o.checksum.Store(0)
	o.state.Store(uint32(stateFreed))
	rt.metrics.destroyed()
}

// ---------------------------------------------------------------------------
// Copying
// ---------------------------------------------------------------------------

// Copy returns a new instance of src's class. See CopyInto.
func (rt *Runtime) Copy(src *Object) (*Object, error) {
	if src == nil {
		return nil, fault.ErrNilArgument
	}
	if !src.valid() {
		return nil, fmt.Errorf("object: copy: %w", fault.ErrUninitialized)
	}
	dst, err := rt.Alloc(src.size)
	if err != nil {
		return nil, err
	}
	if err := rt.CopyInto(dst, src); err != nil {
		if dst.state.Load() == uint32(stateAllocated) {
			rt.alloc.Free(dst.payload.Bytes)
		}
		return nil, err
	}
	return dst, nil
}

// CopyInto initializes the allocated instance dst as a copy of src.
//
// dst first becomes a view: it retains src and reads through to its payload.
// When the class has a copy method it is invoked with dst's own payload and
// src as the argument; on success dst owns its payload and the link to src is
// released. Without a copy method the view stands until dst is destroyed.
func (rt *Runtime) CopyInto(dst, src *Object) error {
	if dst == nil || src == nil {
		return fault.ErrNilArgument
	}
	if dst == src {
		return fmt.Errorf("object: copy into self: %w", fault.ErrInvalidArgument)
	}
	if !src.valid() {
		return fmt.Errorf("object: copy: %w", fault.ErrUninitialized)
	}
	if dst.size != src.size {
		return fmt.Errorf("object: copy %d bytes into %d: %w", src.size, dst.size, fault.ErrInvalidArgument)
	}
	c := src.class.Load()
	if err := rt.Init(dst, c); err != nil {
		return err
	}
	if err := rt.Retain(src); err != nil {
		_ = rt.Destroy(dst)
		return err
	}
	dst.copyOf.Store(src)

	m, err := c.Method(MethodCopy)
	if errors.Is(err, fault.ErrNotFound) {
		return nil
	}
	if _, err := rt.invoke(dst, &dst.payload, m, src); err != nil {
		_ = rt.Release(dst)
		return fmt.Errorf("object: copy %s: %w", c.name, err)
	}
	if orig := dst.copyOf.Swap(nil); orig != nil {
		if err := rt.Release(orig); err != nil {
			log.Warningf("copy %s: release original: %s", c.name, err)
		}
	}
	return nil
}
