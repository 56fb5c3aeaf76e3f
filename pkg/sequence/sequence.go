// Package sequence provides the Range runtime class: a finite numeric
// sequence whose elements are computed on demand by a step function. The
// step function and its captured parameters travel in a Context instance
// owned by the range.
package sequence

import (
	"fmt"
	"math"

	"github.com/cockroachdb/apd/v3"
	"github.com/tliron/commonlog"

	"github.com/chazu/coral/object"
	"github.com/chazu/coral/pkg/fault"
)

var log = commonlog.GetLogger("coral.sequence")

// ClassName is the registered class name.
const ClassName = "Range"

// Method names.
const (
	MethodAt  = "at"
	MethodLen = "len"
)

// StepFunc computes element i of a range starting at start.
type StepFunc func(start float64, i int) float64

// Linear steps by a constant delta.
func Linear(delta float64) StepFunc {
	return func(start float64, i int) float64 { return start + float64(i)*delta }
}

// Geometric steps by a constant ratio.
func Geometric(rate float64) StepFunc {
	return func(start float64, i int) float64 { return start * math.Pow(rate, float64(i)) }
}

type rangeState struct {
	start float64
	count int
	step  *object.Object
}

// Ranges creates and reads Range instances of one runtime.
type Ranges struct {
	rt    *object.Runtime
	class *object.Class
}

// Register installs the Range class in rt.
func Register(rt *object.Runtime) (*Ranges, error) {
	if rt == nil {
		return nil, fault.ErrNilArgument
	}
	c, err := rt.NewClass(ClassName)
	if err != nil {
		return nil, err
	}
	r := &Ranges{rt: rt, class: c}
	if err := c.AddMethod(MethodAt, r.at); err != nil {
		return nil, err
	}
	if err := c.AddMethod(MethodLen, func(_ *object.Object, data *object.Payload, _ any) (any, error) {
		st, err := stateOf(data)
		if err != nil {
			return nil, err
		}
		return st.count, nil
	}); err != nil {
		return nil, err
	}
	if err := c.AddMethod(object.MethodDestroy, func(_ *object.Object, data *object.Payload, _ any) (any, error) {
		st, err := stateOf(data)
		if err != nil {
			return nil, nil
		}
		data.Native = nil
		return nil, rt.Release(st.step)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// Class returns the Range class.
func (r *Ranges) Class() *object.Class { return r.class }

func stateOf(data *object.Payload) (*rangeState, error) {
	st, ok := data.Native.(*rangeState)
	if !ok {
		return nil, fmt.Errorf("sequence: range has no state: %w", fault.ErrUninitialized)
	}
	return st, nil
}

func (r *Ranges) at(_ *object.Object, data *object.Payload, args any) (any, error) {
	i, ok := args.(int)
	if !ok {
		return nil, fmt.Errorf("sequence: index is %T: %w", args, fault.ErrTypeMismatch)
	}
	st, err := stateOf(data)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, fmt.Errorf("sequence: index %d: %w", i, fault.ErrInvalidArgument)
	}
	if i >= st.count {
		return nil, fmt.Errorf("sequence: index %d of %d: %w", i, st.count, fault.ErrEndOfSequence)
	}
	v, err := r.rt.ContextData(st.step)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(StepFunc)
	if !ok {
		return nil, fmt.Errorf("sequence: step is %T: %w", v, fault.ErrTypeMismatch)
	}
	return fn(st.start, i), nil
}

// New returns a Range of count elements computed by fn from start.
func (r *Ranges) New(start float64, count int, fn StepFunc) (*object.Object, error) {
	if fn == nil {
		return nil, fault.ErrNilArgument
	}
	if count < 0 {
		return nil, fmt.Errorf("sequence: count %d: %w", count, fault.ErrInvalidArgument)
	}
	if math.IsNaN(start) || math.IsInf(start, 0) {
		return nil, fmt.Errorf("sequence: start %v: %w", start, fault.ErrInvalidArgument)
	}
	step, err := r.rt.NewContext(fn, nil)
	if err != nil {
		return nil, err
	}
	o, err := r.rt.New(r.class, 0)
	if err != nil {
		_ = r.rt.Release(step)
		return nil, err
	}
	// The range owns the step context's creation reference.
	r.rt.Untrack(step)
	o.Data().Native = &rangeState{start: start, count: count, step: step}
	return o, nil
}

// NewLinear returns the half-open range [start, stop) stepping by step. The
// element count is computed in exact decimal arithmetic and compared with
// the float64 computation; when the two disagree the range fails with
// fault.ErrPrecisionLoss rather than silently gaining or losing an element.
func (r *Ranges) NewLinear(start, stop, step float64) (*object.Object, error) {
	for _, v := range []float64{start, stop, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("sequence: linear bound %v: %w", v, fault.ErrInvalidArgument)
		}
	}
	if step == 0 {
		return nil, fmt.Errorf("sequence: zero step: %w", fault.ErrInvalidArgument)
	}
	count, err := LinearCount(start, stop, step)
	if err != nil {
		return nil, err
	}
	return r.New(start, count, Linear(step))
}

// NewGeometric returns count elements start, start*rate, start*rate^2 and so on.
func (r *Ranges) NewGeometric(start, rate float64, count int) (*object.Object, error) {
	if rate == 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("sequence: rate %v: %w", rate, fault.ErrInvalidArgument)
	}
	return r.New(start, count, Geometric(rate))
}

var decimalContext = apd.BaseContext.WithPrecision(34)

// LinearCount returns the number of elements in [start, stop) stepping by
// step. A step pointing away from stop yields zero.
func LinearCount(start, stop, step float64) (int, error) {
	approx := math.Ceil((stop - start) / step)
	if approx <= 0 {
		approx = 0
	}

	var s, e, d, span, q apd.Decimal
	for _, p := range []struct {
		dst *apd.Decimal
		v   float64
	}{{&s, start}, {&e, stop}, {&d, step}} {
		if _, err := p.dst.SetFloat64(p.v); err != nil {
			return 0, fmt.Errorf("sequence: %v: %w", p.v, fault.ErrInvalidArgument)
		}
	}
	if _, err := decimalContext.Sub(&span, &e, &s); err != nil {
		return 0, fmt.Errorf("sequence: span: %w", err)
	}
	if _, err := decimalContext.Quo(&q, &span, &d); err != nil {
		return 0, fmt.Errorf("sequence: quotient: %w", err)
	}
	if _, err := decimalContext.Ceil(&q, &q); err != nil {
		return 0, fmt.Errorf("sequence: ceil: %w", err)
	}
	if q.Sign() < 0 {
		q.SetInt64(0)
	}
	exact, err := q.Int64()
	if err != nil || exact > math.MaxInt32 {
		return 0, fmt.Errorf("sequence: count %s: %w", q.String(), fault.ErrOverflow)
	}
	if float64(exact) != approx {
		log.Debugf("linear count [%v, %v) by %v: exact %d, float %v", start, stop, step, exact, approx)
		return 0, fmt.Errorf("sequence: count of [%v, %v) by %v is %d but float64 gives %v: %w",
			start, stop, step, exact, approx, fault.ErrPrecisionLoss)
	}
	return int(exact), nil
}

func (r *Ranges) check(o *object.Object) error {
	if o == nil {
		return fault.ErrNilArgument
	}
	if !o.Valid() {
		return fmt.Errorf("sequence: %w", fault.ErrUninitialized)
	}
	if o.Class() != r.class {
		return fmt.Errorf("sequence: receiver is %s: %w", o.Class().Name(), fault.ErrTypeMismatch)
	}
	return nil
}

// At returns element i of o.
func (r *Ranges) At(o *object.Object, i int) (float64, error) {
	if err := r.check(o); err != nil {
		return 0, err
	}
	v, err := r.rt.Dispatch(o, MethodAt, i)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Len returns the number of elements of o.
func (r *Ranges) Len(o *object.Object) (int, error) {
	if err := r.check(o); err != nil {
		return 0, err
	}
	v, err := r.rt.Dispatch(o, MethodLen, nil)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Values returns every element of o in order.
func (r *Ranges) Values(o *object.Object) ([]float64, error) {
	n, err := r.Len(o)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.At(o, i)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}
