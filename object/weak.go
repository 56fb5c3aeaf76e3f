package object

import (
	"fmt"
	"sync"

	"github.com/chazu/coral/pkg/fault"
)

// ErrReferenceCleared is returned when loading a weak reference whose target
// has been destroyed.
var ErrReferenceCleared = fmt.Errorf("object: weak reference cleared: %w", fault.ErrNotFound)

// ---------------------------------------------------------------------------
// WeakReference: a non-owning handle cleared on destroy
// ---------------------------------------------------------------------------

type weakState struct {
	mu        sync.Mutex
	target    *Object
	observer  ObserverID
	finalizer func(target *Object)
}

func weakOf(data *Payload) (*weakState, error) {
	st, ok := data.Native.(*weakState)
	if !ok || st == nil {
		return nil, fmt.Errorf("object: weak reference has no state: %w", fault.ErrUninitialized)
	}
	return st, nil
}

// watch points st at target and subscribes to its destroy notification.
func (rt *Runtime) watch(st *weakState, target *Object) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	id, err := rt.AddObserver(target, func(t *Object, n Notification) {
		if n != NotificationDestroy {
			return
		}
		st.mu.Lock()
		if st.target != t {
			st.mu.Unlock()
			return
		}
		st.target = nil
		fin := st.finalizer
		st.mu.Unlock()

		// The finalizer sees the target mid-teardown, for identification only.
		if fin != nil {
			fin(t)
		}
	})
	if err != nil {
		return err
	}
	st.target = target
	st.observer = id
	return nil
}

func (rt *Runtime) bootstrapWeakReference() error {
	c, err := rt.NewClass(ClassWeakReference)
	if err != nil {
		return err
	}
	rt.weak = c

	// get returns the target retained; the caller releases it.
	if err := c.AddMethod(MethodGet, func(_ *Object, data *Payload, _ any) (any, error) {
		st, err := weakOf(data)
		if err != nil {
			return nil, err
		}
		st.mu.Lock()
		t := st.target
		st.mu.Unlock()
		if t == nil || !rt.tryRetain(t) {
			return nil, ErrReferenceCleared
		}
		return t, nil
	}); err != nil {
		return err
	}

	if err := c.AddMethod(MethodDestroy, func(_ *Object, data *Payload, _ any) (any, error) {
		st, err := weakOf(data)
		if err != nil {
			return nil, err
		}
		st.mu.Lock()
		t, id := st.target, st.observer
		st.target = nil
		st.mu.Unlock()
		if t != nil {
			rt.notify.remove(t, id)
		}
		data.Native = nil
		return nil, nil
	}); err != nil {
		return err
	}

	if err := c.AddMethod(MethodCopy, func(_ *Object, data *Payload, args any) (any, error) {
		src, ok := args.(*Object)
		if !ok {
			return nil, fault.ErrTypeMismatch
		}
		from, err := weakOf(src.Data())
		if err != nil {
			return nil, err
		}
		from.mu.Lock()
		t, fin := from.target, from.finalizer
		from.mu.Unlock()

		st := &weakState{finalizer: fin}
		if t != nil && t.valid() {
			if err := rt.watch(st, t); err != nil {
				return nil, err
			}
		}
		data.Native = st
		return nil, nil
	}); err != nil {
		return err
	}

	return c.ReplaceMethod(MethodIsEqual, func(obj *Object, data *Payload, args any) (any, error) {
		other, ok := args.(*Object)
		if !ok || other == nil {
			return nil, fault.ErrTypeMismatch
		}
		if other.Class() != obj.Class() {
			return false, nil
		}
		a, err := weakOf(data)
		if err != nil {
			return nil, err
		}
		b, err := weakOf(other.Data())
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		ta := a.target
		a.mu.Unlock()
		b.mu.Lock()
		tb := b.target
		b.mu.Unlock()
		return ta != nil && ta == tb, nil
	})
}

// NewWeakReference returns a WeakReference to target. It does not retain
// target; when target is destroyed the reference clears itself and then runs
// finalizer, if any, on the destroying goroutine.
func (rt *Runtime) NewWeakReference(target *Object, finalizer func(target *Object)) (*Object, error) {
	if target == nil {
		return nil, fault.ErrNilArgument
	}
	if !target.valid() {
		return nil, fmt.Errorf("object: new weak reference: %w", fault.ErrUninitialized)
	}
	w, err := rt.New(rt.weak, 0)
	if err != nil {
		return nil, err
	}
	st := &weakState{finalizer: finalizer}
	w.payload.Native = st
	if err := rt.watch(st, target); err != nil {
		_ = rt.Destroy(w)
		return nil, err
	}
	return w, nil
}

// LoadWeak returns the target of w retained, or ErrReferenceCleared once the
// target has been destroyed. The caller releases the result.
func (rt *Runtime) LoadWeak(w *Object) (*Object, error) {
	if err := rt.expect(w, rt.weak); err != nil {
		return nil, err
	}
	v, err := rt.Dispatch(w, MethodGet, nil)
	if err != nil {
		return nil, err
	}
	return v.(*Object), nil
}

// WeakAlive reports whether w still points at a live target.
func (rt *Runtime) WeakAlive(w *Object) (bool, error) {
	if err := rt.expect(w, rt.weak); err != nil {
		return false, err
	}
	st, err := weakOf(w.Data())
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.target != nil && st.target.valid(), nil
}
