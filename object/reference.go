package object

import (
	"fmt"

	"github.com/chazu/coral/pkg/fault"
)

// MethodGet is the accessor shared by Reference, WeakReference and Context.
const MethodGet = "get"

// ---------------------------------------------------------------------------
// Reference: an owning handle
// ---------------------------------------------------------------------------

func referenceTarget(data *Payload) (*Object, error) {
	t, ok := data.Native.(*Object)
	if !ok || t == nil {
		return nil, fmt.Errorf("object: reference has no target: %w", fault.ErrUninitialized)
	}
	return t, nil
}

func (rt *Runtime) bootstrapReference() error {
	c, err := rt.NewClass(ClassReference)
	if err != nil {
		return err
	}
	rt.reference = c

	if err := c.AddMethod(MethodGet, func(_ *Object, data *Payload, _ any) (any, error) {
		return referenceTarget(data)
	}); err != nil {
		return err
	}

	if err := c.AddMethod(MethodDestroy, func(_ *Object, data *Payload, _ any) (any, error) {
		t, err := referenceTarget(data)
		if err != nil {
			return nil, err
		}
		data.Native = nil
		return nil, rt.Release(t)
	}); err != nil {
		return err
	}

	if err := c.AddMethod(MethodCopy, func(_ *Object, data *Payload, args any) (any, error) {
		src, ok := args.(*Object)
		if !ok {
			return nil, fault.ErrTypeMismatch
		}
		t, err := referenceTarget(src.Data())
		if err != nil {
			return nil, err
		}
		if err := rt.Retain(t); err != nil {
			return nil, err
		}
		data.Native = t
		return nil, nil
	}); err != nil {
		return err
	}

	if err := c.ReplaceMethod(MethodHashCode, func(_ *Object, data *Payload, _ any) (any, error) {
		t, err := referenceTarget(data)
		if err != nil {
			return nil, err
		}
		return rt.HashCode(t)
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
		a, err := referenceTarget(data)
		if err != nil {
			return nil, err
		}
		b, err := referenceTarget(other.Data())
		if err != nil {
			return nil, err
		}
		return rt.IsEqual(a, b)
	})
}

// NewReference returns a Reference holding a strong reference to target.
// Destroying the reference releases target exactly once.
func (rt *Runtime) NewReference(target *Object) (*Object, error) {
	if target == nil {
		return nil, fault.ErrNilArgument
	}
	if !target.valid() {
		return nil, fmt.Errorf("object: new reference: %w", fault.ErrUninitialized)
	}
	if err := rt.Retain(target); err != nil {
		return nil, err
	}
	ref, err := rt.New(rt.reference, 0)
	if err != nil {
		_ = rt.Release(target)
		return nil, err
	}
	ref.payload.Native = target
	return ref, nil
}

// ReferenceTarget returns the object ref holds. The result is borrowed: it
// stays valid as long as ref does.
func (rt *Runtime) ReferenceTarget(ref *Object) (*Object, error) {
	if err := rt.expect(ref, rt.reference); err != nil {
		return nil, err
	}
	v, err := rt.Dispatch(ref, MethodGet, nil)
	if err != nil {
		return nil, err
	}
	return v.(*Object), nil
}
