package object

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/coral/pkg/gid"

	"github.com/chazu/coral/pkg/fault"
)

// ErrForeignPool is returned when a pool is used from a goroutine other than
// the one it belongs to.
var ErrForeignPool = fmt.Errorf("object: pool used from another goroutine: %w", fault.ErrUnavailable)

// ---------------------------------------------------------------------------
// Goroutine-local pools
// ---------------------------------------------------------------------------

// Pool holds the deferred releases of one goroutine. Frames nest: an object
// autoreleased while a frame is open belongs to the innermost one and is
// released when that frame ends.
type Pool struct {
	rt  *Runtime
	gid int64

	frames []*Frame
	loose  []*Object // autoreleased with no frame open

	inits       []*Object
	nextCompact int
}

// Frame is one start/end pair on a Pool. End it with a defer right after
// Start.
type Frame struct {
	pool  *Pool
	items []*Object
	ended bool
}

// Pool returns the calling goroutine's pool, creating it on first use.
//
// A goroutine that initializes instances keeps their creation references on
// its pool until it calls Drain, so such goroutines must drain before they
// exit. Pools created only to frame a dispatch are dropped again once the
// dispatch returns.
func (rt *Runtime) Pool() *Pool {
	p, _ := rt.pool()
	return p
}

// pool is Pool that also reports whether the pool was created by this call.
func (rt *Runtime) pool() (*Pool, bool) {
	me := gid.Current()
	if p, ok := rt.pools.Load(me); ok {
		return p.(*Pool), false
	}
	p := &Pool{rt: rt, gid: me, nextCompact: rt.compactThreshold}
	actual, loaded := rt.pools.LoadOrStore(me, p)
	return actual.(*Pool), !loaded
}

// forget drops p from the runtime if it holds nothing.
func (rt *Runtime) forget(p *Pool) {
	if len(p.frames) == 0 && len(p.loose) == 0 && len(p.inits) == 0 {
		rt.pools.CompareAndDelete(p.gid, p)
	}
}

// PoolCount returns the number of goroutines that currently have a pool.
func (rt *Runtime) PoolCount() int {
	n := 0
	rt.pools.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Drain releases everything the calling goroutine's pool still holds and
// forgets the pool. Goroutines that touched the runtime should drain before
// they exit. It returns the number of releases performed.
func (rt *Runtime) Drain() (int, error) {
	me := gid.Current()
	p, ok := rt.pools.LoadAndDelete(me)
	if !ok {
		return 0, nil
	}
	return p.(*Pool).Drain()
}

func (p *Pool) owned() bool { return gid.Current() == p.gid }

// Depth returns the number of open frames.
func (p *Pool) Depth() int { return len(p.frames) }

// Pending returns the number of autoreleased objects not yet released, across
// all frames.
func (p *Pool) Pending() int {
	n := len(p.loose)
	for _, f := range p.frames {
		n += len(f.items)
	}
	return n
}

// Start opens a frame.
func (p *Pool) Start() (*Frame, error) {
	if !p.owned() {
		return nil, ErrForeignPool
	}
	f := &Frame{pool: p}
	p.frames = append(p.frames, f)
	return f, nil
}

func (p *Pool) add(o *Object) error {
	if !p.owned() {
		return ErrForeignPool
	}
	if n := len(p.frames); n > 0 {
		top := p.frames[n-1]
		top.items = append(top.items, o)
		return nil
	}
	p.loose = append(p.loose, o)
	return nil
}

// track records a newly initialized instance on the init list. The list holds
// the creation reference of every instance nobody else accounts for; entries
// for instances destroyed elsewhere are compacted away as the list grows.
func (p *Pool) track(o *Object) {
	p.inits = append(p.inits, o)
	if len(p.inits) < p.nextCompact {
		return
	}
	before := len(p.inits)
	p.inits = slices.DeleteFunc(p.inits, func(o *Object) bool {
		return lifecycle(o.state.Load()) == stateFreed
	})
	p.nextCompact = max(p.rt.compactThreshold, 2*len(p.inits))
	log.Debugf("pool %d: compacted init list %d -> %d", p.gid, before, len(p.inits))
}

// Untrack removes o from the calling goroutine's init list, so Drain leaves
// its creation reference to whoever now owns it. It reports whether o was
// listed.
func (rt *Runtime) Untrack(o *Object) bool {
	v, ok := rt.pools.Load(gid.Current())
	if !ok {
		return false
	}
	p := v.(*Pool)
	i := slices.Index(p.inits, o)
	if i < 0 {
		return false
	}
	p.inits = slices.Delete(p.inits, i, i+1)
	return true
}

// End releases the objects autoreleased into f, most recent first, and closes
// it. Frames opened after f and still open are ended first. Ending a frame
// twice fails with fault.ErrNotFound.
func (f *Frame) End() error {
	p := f.pool
	if !p.owned() {
		return ErrForeignPool
	}
	if f.ended {
		return fmt.Errorf("object: end frame: already ended: %w", fault.ErrNotFound)
	}
	i := slices.Index(p.frames, f)
	if i < 0 {
		return fmt.Errorf("object: end frame: %w", fault.ErrNotFound)
	}

	var errs []error
	for len(p.frames) > i {
		top := p.frames[len(p.frames)-1]
		p.frames = p.frames[:len(p.frames)-1]
		top.ended = true
		errs = append(errs, p.release(top.items)...)
		top.items = nil
	}
	return errors.Join(errs...)
}

// release drops one reference for each of objs in reverse order. Objects that
// were already destroyed through another path are skipped silently.
func (p *Pool) release(objs []*Object) []error {
	var errs []error
	for i := len(objs) - 1; i >= 0; i-- {
		if err := p.rt.Release(objs[i]); err != nil && !errors.Is(err, fault.ErrUninitialized) {
			errs = append(errs, err)
		}
	}
	return errs
}

// Drain ends every open frame, then releases every pending object including
// the init list. It returns the number of objects it attempted to release.
func (p *Pool) Drain() (int, error) {
	if !p.owned() {
		return 0, ErrForeignPool
	}
	n := 0
	var errs []error
	for len(p.frames) > 0 {
		top := p.frames[len(p.frames)-1]
		p.frames = p.frames[:len(p.frames)-1]
		top.ended = true
		n += len(top.items)
		errs = append(errs, p.release(top.items)...)
		top.items = nil
	}

	n += len(p.loose)
	errs = append(errs, p.release(p.loose)...)
	p.loose = nil

	n += len(p.inits)
	errs = append(errs, p.release(p.inits)...)
	p.inits = nil
	p.nextCompact = p.rt.compactThreshold

	p.rt.metrics.drained()
	log.Debugf("pool %d: drained %d objects", p.gid, n)
	return n, errors.Join(errs...)
}
