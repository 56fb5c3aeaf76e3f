// Package integer provides the Integer runtime class: an immutable arbitrary
// precision integer dispatched through the coral object runtime.
//
// Every operation producing a value returns a new instance owned by the
// caller. Integers have no copy method, so a copy is a view of the original.
package integer

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/cespare/xxhash/v2"

	"github.com/chazu/coral/object"
	"github.com/chazu/coral/pkg/fault"
)

// ClassName is the registered class name.
const ClassName = "Integer"

// Method names.
const (
	MethodAdd      = "add"
	MethodSub      = "sub"
	MethodMul      = "mul"
	MethodDivMod   = "divmod"
	MethodAbs      = "abs"
	MethodNeg      = "neg"
	MethodCmp      = "cmp"
	MethodAnd      = "and"
	MethodOr       = "or"
	MethodNot      = "not"
	MethodXor      = "xor"
	MethodLsh      = "lsh"
	MethodRsh      = "rsh"
	MethodBitLen   = "bitlen"
	MethodPopCount = "popcount"
	MethodBit      = "bit"
	MethodSetBit   = "setbit"
	MethodScan     = "scan"
	MethodString   = "string"
)

// SetBit is the argument of the setbit method.
type SetBit struct {
	Index int
	Value uint
}

// Scan is the argument of the scan method: find the first bit equal to Bit at
// or above Start.
type Scan struct {
	Start int
	Bit   uint
}

// DivMod is the result of the divmod method. Division truncates toward zero.
type DivMod struct {
	Quo *object.Object
	Rem *object.Object
}

// Integers creates and operates on Integer instances of one runtime.
type Integers struct {
	rt    *object.Runtime
	class *object.Class
}

// Register installs the Integer class in rt.
func Register(rt *object.Runtime) (*Integers, error) {
	if rt == nil {
		return nil, fault.ErrNilArgument
	}
	c, err := rt.NewClass(ClassName)
	if err != nil {
		return nil, err
	}
	z := &Integers{rt: rt, class: c}

	methods := map[string]object.Method{
		MethodAdd: z.binary(func(r, a, b *big.Int) error { r.Add(a, b); return nil }),
		MethodSub: z.binary(func(r, a, b *big.Int) error { r.Sub(a, b); return nil }),
		MethodMul: z.binary(func(r, a, b *big.Int) error { r.Mul(a, b); return nil }),
		MethodAnd: z.binary(func(r, a, b *big.Int) error { r.And(a, b); return nil }),
		MethodOr:  z.binary(func(r, a, b *big.Int) error { r.Or(a, b); return nil }),
		MethodXor: z.binary(func(r, a, b *big.Int) error { r.Xor(a, b); return nil }),
		MethodAbs: z.unary(func(r, a *big.Int) { r.Abs(a) }),
		MethodNeg: z.unary(func(r, a *big.Int) { r.Neg(a) }),
		MethodNot: z.unary(func(r, a *big.Int) { r.Not(a) }),

		MethodDivMod:   z.divmod,
		MethodCmp:      z.cmp,
		MethodLsh:      z.shift(true),
		MethodRsh:      z.shift(false),
		MethodBitLen:   z.bitlen,
		MethodPopCount: z.popcount,
		MethodBit:      z.bit,
		MethodSetBit:   z.setbit,
		MethodScan:     z.scan,
		MethodString: func(_ *object.Object, data *object.Payload, _ any) (any, error) {
			return valueOf(data).String(), nil
		},
	}
	for name, m := range methods {
		if err := c.AddMethod(name, m); err != nil {
			return nil, err
		}
	}
	if err := c.ReplaceMethod(object.MethodHashCode, z.hashCode); err != nil {
		return nil, err
	}
	if err := c.ReplaceMethod(object.MethodIsEqual, z.isEqual); err != nil {
		return nil, err
	}
	return z, nil
}

// Class returns the Integer class.
func (z *Integers) Class() *object.Class { return z.class }

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func (z *Integers) wrap(v *big.Int) (*object.Object, error) {
	o, err := z.rt.New(z.class, 0)
	if err != nil {
		return nil, err
	}
	o.Data().Native = v
	return o, nil
}

// FromString parses s in the given base (0 means infer from prefix).
func (z *Integers) FromString(s string, base int) (*object.Object, error) {
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("integer: parse %q: %w", s, fault.ErrInvalidArgument)
	}
	return z.wrap(v)
}

// FromInt64 returns an Integer holding v.
func (z *Integers) FromInt64(v int64) (*object.Object, error) {
	return z.wrap(big.NewInt(v))
}

// FromUint64 returns an Integer holding v.
func (z *Integers) FromUint64(v uint64) (*object.Object, error) {
	return z.wrap(new(big.Int).SetUint64(v))
}

// FromBig returns an Integer holding a copy of v.
func (z *Integers) FromBig(v *big.Int) (*object.Object, error) {
	if v == nil {
		return nil, fault.ErrNilArgument
	}
	return z.wrap(new(big.Int).Set(v))
}

func valueOf(data *object.Payload) *big.Int {
	if v, ok := data.Native.(*big.Int); ok {
		return v
	}
	return new(big.Int)
}

// operand extracts the value of an Integer argument.
func (z *Integers) operand(args any) (*big.Int, error) {
	o, ok := args.(*object.Object)
	if !ok || o == nil {
		return nil, fmt.Errorf("integer: operand is %T: %w", args, fault.ErrTypeMismatch)
	}
	if !o.Valid() {
		return nil, fmt.Errorf("integer: operand: %w", fault.ErrUninitialized)
	}
	if o.Class() != z.class {
		return nil, fmt.Errorf("integer: operand is %s: %w", o.Class().Name(), fault.ErrTypeMismatch)
	}
	return valueOf(o.Data()), nil
}

// ---------------------------------------------------------------------------
// Method implementations
// ---------------------------------------------------------------------------

func (z *Integers) binary(op func(r, a, b *big.Int) error) object.Method {
	return func(_ *object.Object, data *object.Payload, args any) (any, error) {
		b, err := z.operand(args)
		if err != nil {
			return nil, err
		}
		r := new(big.Int)
		if err := op(r, valueOf(data), b); err != nil {
			return nil, err
		}
		return z.wrap(r)
	}
}

func (z *Integers) unary(op func(r, a *big.Int)) object.Method {
	return func(_ *object.Object, data *object.Payload, _ any) (any, error) {
		r := new(big.Int)
		op(r, valueOf(data))
		return z.wrap(r)
	}
}

func (z *Integers) divmod(_ *object.Object, data *object.Payload, args any) (any, error) {
	b, err := z.operand(args)
	if err != nil {
		return nil, err
	}
	if b.Sign() == 0 {
		return nil, fmt.Errorf("integer: divide by zero: %w", fault.ErrInvalidArgument)
	}
	q, r := new(big.Int).QuoRem(valueOf(data), b, new(big.Int))
	quo, err := z.wrap(q)
	if err != nil {
		return nil, err
	}
	rem, err := z.wrap(r)
	if err != nil {
		_ = z.rt.Release(quo)
		return nil, err
	}
	return DivMod{Quo: quo, Rem: rem}, nil
}

func (z *Integers) cmp(_ *object.Object, data *object.Payload, args any) (any, error) {
	b, err := z.operand(args)
	if err != nil {
		return nil, err
	}
	return valueOf(data).Cmp(b), nil
}

func (z *Integers) shift(left bool) object.Method {
	return func(_ *object.Object, data *object.Payload, args any) (any, error) {
		n, ok := args.(uint)
		if !ok {
			return nil, fmt.Errorf("integer: shift count is %T: %w", args, fault.ErrTypeMismatch)
		}
		r := new(big.Int)
		if left {
			r.Lsh(valueOf(data), n)
		} else {
			r.Rsh(valueOf(data), n)
		}
		return z.wrap(r)
	}
}

func (z *Integers) bitlen(_ *object.Object, data *object.Payload, _ any) (any, error) {
	return valueOf(data).BitLen(), nil
}

func (z *Integers) popcount(_ *object.Object, data *object.Payload, _ any) (any, error) {
	v := valueOf(data)
	if v.Sign() < 0 {
		return nil, fmt.Errorf("integer: popcount of negative value: %w", fault.ErrInvalidArgument)
	}
	n := 0
	for _, w := range v.Bits() {
		n += bits.OnesCount(uint(w))
	}
	return n, nil
}

func (z *Integers) bit(_ *object.Object, data *object.Payload, args any) (any, error) {
	i, ok := args.(int)
	if !ok {
		return nil, fmt.Errorf("integer: bit index is %T: %w", args, fault.ErrTypeMismatch)
	}
	if i < 0 {
		return nil, fmt.Errorf("integer: bit index %d: %w", i, fault.ErrInvalidArgument)
	}
	return valueOf(data).Bit(i), nil
}

func (z *Integers) setbit(_ *object.Object, data *object.Payload, args any) (any, error) {
	sb, ok := args.(SetBit)
	if !ok {
		return nil, fmt.Errorf("integer: setbit argument is %T: %w", args, fault.ErrTypeMismatch)
	}
	if sb.Index < 0 || sb.Value > 1 {
		return nil, fmt.Errorf("integer: setbit %d=%d: %w", sb.Index, sb.Value, fault.ErrInvalidArgument)
	}
	return z.wrap(new(big.Int).SetBit(valueOf(data), sb.Index, sb.Value))
}

func (z *Integers) scan(_ *object.Object, data *object.Payload, args any) (any, error) {
	sc, ok := args.(Scan)
	if !ok {
		return nil, fmt.Errorf("integer: scan argument is %T: %w", args, fault.ErrTypeMismatch)
	}
	if sc.Start < 0 || sc.Bit > 1 {
		return nil, fmt.Errorf("integer: scan from %d for %d: %w", sc.Start, sc.Bit, fault.ErrInvalidArgument)
	}
	v := valueOf(data)
	for i := sc.Start; i < v.BitLen(); i++ {
		if v.Bit(i) == sc.Bit {
			return i, nil
		}
	}
	// Above BitLen every bit equals the sign fill.
	var fill uint
	if v.Sign() < 0 {
		fill = 1
	}
	if fill == sc.Bit {
		return max(sc.Start, v.BitLen()), nil
	}
	return nil, fmt.Errorf("integer: no %d bit at or above %d: %w", sc.Bit, sc.Start, fault.ErrNotFound)
}

func (z *Integers) hashCode(_ *object.Object, data *object.Payload, _ any) (any, error) {
	v := valueOf(data)
	buf := append([]byte{byte(v.Sign() + 1)}, v.Bytes()...)
	return xxhash.Sum64(buf), nil
}

func (z *Integers) isEqual(_ *object.Object, data *object.Payload, args any) (any, error) {
	b, err := z.operand(args)
	if err != nil {
		return nil, err
	}
	return valueOf(data).Cmp(b) == 0, nil
}

// ---------------------------------------------------------------------------
// Dispatching wrappers
// ---------------------------------------------------------------------------

func (z *Integers) check(o *object.Object) error {
	if o == nil {
		return fault.ErrNilArgument
	}
	if !o.Valid() {
		return fmt.Errorf("integer: %w", fault.ErrUninitialized)
	}
	if o.Class() != z.class {
		return fmt.Errorf("integer: receiver is %s: %w", o.Class().Name(), fault.ErrTypeMismatch)
	}
	return nil
}

func (z *Integers) result(o *object.Object, name string, args any) (*object.Object, error) {
	if err := z.check(o); err != nil {
		return nil, err
	}
	v, err := z.rt.Dispatch(o, name, args)
	if err != nil {
		return nil, err
	}
	r, ok := v.(*object.Object)
	if !ok {
		return nil, fmt.Errorf("integer: %s returned %T: %w", name, v, fault.ErrTypeMismatch)
	}
	return r, nil
}

func (z *Integers) count(o *object.Object, name string, args any) (int, error) {
	if err := z.check(o); err != nil {
		return 0, err
	}
	v, err := z.rt.Dispatch(o, name, args)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("integer: %s returned %T: %w", name, v, fault.ErrTypeMismatch)
	}
	return n, nil
}

// Add returns a + b.
func (z *Integers) Add(a, b *object.Object) (*object.Object, error) { return z.result(a, MethodAdd, b) }

// Sub returns a - b.
func (z *Integers) Sub(a, b *object.Object) (*object.Object, error) { return z.result(a, MethodSub, b) }

// Mul returns a * b.
func (z *Integers) Mul(a, b *object.Object) (*object.Object, error) { return z.result(a, MethodMul, b) }

func (z *Integers) And(a, b *object.Object) (*object.Object, error) { return z.result(a, MethodAnd, b) }
func (z *Integers) Or(a, b *object.Object) (*object.Object, error)  { return z.result(a, MethodOr, b) }
func (z *Integers) Xor(a, b *object.Object) (*object.Object, error) { return z.result(a, MethodXor, b) }
func (z *Integers) Abs(a *object.Object) (*object.Object, error)    { return z.result(a, MethodAbs, nil) }
func (z *Integers) Neg(a *object.Object) (*object.Object, error)    { return z.result(a, MethodNeg, nil) }
func (z *Integers) Not(a *object.Object) (*object.Object, error)    { return z.result(a, MethodNot, nil) }

func (z *Integers) Lsh(a *object.Object, n uint) (*object.Object, error) {
	return z.result(a, MethodLsh, n)
}

func (z *Integers) Rsh(a *object.Object, n uint) (*object.Object, error) {
	return z.result(a, MethodRsh, n)
}

// SetBit returns a with bit i set to v.
func (z *Integers) SetBit(a *object.Object, i int, v uint) (*object.Object, error) {
	return z.result(a, MethodSetBit, SetBit{Index: i, Value: v})
}

// DivMod returns the truncated quotient and remainder of a / b.
func (z *Integers) DivMod(a, b *object.Object) (quo, rem *object.Object, err error) {
	if err := z.check(a); err != nil {
		return nil, nil, err
	}
	v, err := z.rt.Dispatch(a, MethodDivMod, b)
	if err != nil {
		return nil, nil, err
	}
	dm := v.(DivMod)
	return dm.Quo, dm.Rem, nil
}

// Cmp returns -1, 0 or +1 as a is less than, equal to or greater than b.
func (z *Integers) Cmp(a, b *object.Object) (int, error) { return z.count(a, MethodCmp, b) }

func (z *Integers) BitLen(a *object.Object) (int, error)   { return z.count(a, MethodBitLen, nil) }
func (z *Integers) PopCount(a *object.Object) (int, error) { return z.count(a, MethodPopCount, nil) }

// Scan returns the index of the first bit equal to bit at or above start.
func (z *Integers) Scan(a *object.Object, start int, bit uint) (int, error) {
	return z.count(a, MethodScan, Scan{Start: start, Bit: bit})
}

// Bit returns bit i of a in two's complement.
func (z *Integers) Bit(a *object.Object, i int) (uint, error) {
	if err := z.check(a); err != nil {
		return 0, err
	}
	v, err := z.rt.Dispatch(a, MethodBit, i)
	if err != nil {
		return 0, err
	}
	return v.(uint), nil
}

// Value returns a copy of the integer held by o.
func (z *Integers) Value(o *object.Object) (*big.Int, error) {
	if err := z.check(o); err != nil {
		return nil, err
	}
	return new(big.Int).Set(valueOf(o.Data())), nil
}

// String formats o in base 10.
func (z *Integers) String(o *object.Object) (string, error) {
	if err := z.check(o); err != nil {
		return "", err
	}
	v, err := z.rt.Dispatch(o, MethodString, nil)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
