package object

import (
	"fmt"

	"github.com/chazu/coral/pkg/fault"
)

type contextState struct {
	data       any
	destructor func(data any)
}

func (rt *Runtime) bootstrapContext() error {
	c, err := rt.NewClass(ClassContext)
	if err != nil {
		return err
	}
	rt.context = c

	if err := c.AddMethod(MethodGet, func(_ *Object, data *Payload, _ any) (any, error) {
		st, ok := data.Native.(*contextState)
		if !ok {
			return nil, fmt.Errorf("object: context has no state: %w", fault.ErrUninitialized)
		}
		return st.data, nil
	}); err != nil {
		return err
	}

	return c.AddMethod(MethodDestroy, func(_ *Object, data *Payload, _ any) (any, error) {
		st, ok := data.Native.(*contextState)
		if !ok {
			return nil, nil
		}
		data.Native = nil
		if st.destructor != nil {
			st.destructor(st.data)
		}
		return nil, nil
	})
}

// NewContext returns a Context carrying data across the type-erased method
// boundary, for instance the captured parameters of a step function. Context
// has no copy method: copies are views sharing the original's data, and only
// the original runs the destructor.
//
// destructor, when non-nil, runs once with data when the context is destroyed.
func (rt *Runtime) NewContext(data any, destructor func(data any)) (*Object, error) {
	ctx, err := rt.New(rt.context, 0)
	if err != nil {
		return nil, err
	}
	ctx.payload.Native = &contextState{data: data, destructor: destructor}
	return ctx, nil
}

// ContextData returns the data a context carries.
func (rt *Runtime) ContextData(ctx *Object) (any, error) {
	if err := rt.expect(ctx, rt.context); err != nil {
		return nil, err
	}
	return rt.Dispatch(ctx, MethodGet, nil)
}
