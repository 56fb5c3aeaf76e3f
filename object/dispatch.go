package object

import (
	"fmt"

	"github.com/chazu/coral/pkg/fault"
)

// Dispatch looks up name in o's class and invokes it inside a fresh
// autorelease frame on the calling goroutine. The receiver is validated first:
// a destroyed, never initialized or corrupted instance fails with
// fault.ErrUninitialized instead of running any method.
func (rt *Runtime) Dispatch(o *Object, name string, args any) (any, error) {
	if o == nil {
		return nil, fault.ErrNilArgument
	}
	if !o.valid() {
		return nil, fmt.Errorf("object: dispatch %s: %w", name, fault.ErrUninitialized)
	}
	m, err := o.class.Load().Method(name)
	if err != nil {
		return nil, err
	}
	rt.metrics.dispatched(name)
	return rt.invoke(o, o.Data(), m, args)
}

func (rt *Runtime) invoke(o *Object, data *Payload, m Method, args any) (result any, err error) {
	pool, fresh := rt.pool()
	frame, err := pool.Start()
	if err != nil {
		return nil, err
	}
	defer func() {
		if endErr := frame.End(); endErr != nil && err == nil {
			err = endErr
		}
		if fresh {
			rt.forget(pool)
		}
	}()
	return m(o, data, args)
}

// HashCode dispatches hash_code.
func (rt *Runtime) HashCode(o *Object) (uint64, error) {
	v, err := rt.Dispatch(o, MethodHashCode, nil)
	if err != nil {
		return 0, err
	}
	h, ok := v.(uint64)
	if !ok {
		return 0, fmt.Errorf("object: hash_code returned %T: %w", v, fault.ErrTypeMismatch)
	}
	return h, nil
}

// IsEqual dispatches is_equal on a with b as the argument.
func (rt *Runtime) IsEqual(a, b *Object) (bool, error) {
	if a == nil || b == nil {
		return false, fault.ErrNilArgument
	}
	if !b.valid() {
		return false, fmt.Errorf("object: is_equal: %w", fault.ErrUninitialized)
	}
	v, err := rt.Dispatch(a, MethodIsEqual, b)
	if err != nil {
		return false, err
	}
	eq, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("object: is_equal returned %T: %w", v, fault.ErrTypeMismatch)
	}
	return eq, nil
}
