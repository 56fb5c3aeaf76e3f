package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chazu/coral/object"
	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/integer"
	"github.com/chazu/coral/pkg/sequence"
	"github.com/chazu/coral/pkg/treeset"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through the container, pool and reference scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := object.New(cfg.RuntimeOptions(nil))
		if err != nil {
			return err
		}
		return runDemo(rt, cmd.OutOrStdout())
	},
}

func runDemo(rt *object.Runtime, out io.Writer) error {
	steps := []struct {
		name string
		run  func(*object.Runtime, io.Writer) error
	}{
		{"tree set", demoTreeSet},
		{"autorelease framing", demoPool},
		{"weak reference", demoWeak},
		{"integer", demoInteger},
		{"range", demoRange},
	}
	for _, s := range steps {
		fmt.Fprintf(out, "== %s\n", s.name)
		if err := s.run(rt, out); err != nil {
			return fmt.Errorf("demo %s: %w", s.name, err)
		}
	}
	drained, err := rt.Drain()
	if err != nil {
		return err
	}
	st := rt.Stats()
	fmt.Fprintf(out, "== drained %d, live %d, destroyed %d\n", drained, st.Live, st.Destroyed)
	return nil
}

func demoTreeSet(_ *object.Runtime, out io.Writer) error {
	set, err := treeset.New[int64](cmp.Compare[int64], treeset.NoLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "member size %d\n", set.Size())
	for _, v := range []int64{5, 1, 3} {
		if err := set.Insert(v); err != nil {
			return err
		}
	}
	v, err := set.First()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "first %d\n", v)
	for {
		next, err := set.Next(v)
		if errors.Is(err, fault.ErrEndOfSequence) {
			fmt.Fprintf(out, "next(%d): end of sequence\n", v)
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "next(%d) %d\n", v, next)
		v = next
	}
	fmt.Fprintf(out, "count %d\n", set.Count())
	if err := set.Delete(3); err != nil {
		return err
	}
	fmt.Fprintf(out, "after delete(3) count %d:", set.Count())
	for v := range set.All() {
		fmt.Fprintf(out, " %d", v)
	}
	fmt.Fprintln(out)
	return nil
}

func demoPool(rt *object.Runtime, out io.Writer) error {
	cell, err := cellClass(rt)
	if err != nil {
		return err
	}
	frame, err := rt.Pool().Start()
	if err != nil {
		return err
	}
	o, err := rt.New(cell, 8)
	if err != nil {
		return err
	}
	rt.Untrack(o)
	if err := rt.Autorelease(o); err != nil {
		return err
	}
	fmt.Fprintf(out, "inside frame refcount %d\n", o.RefCount())
	if err := frame.End(); err != nil {
		return err
	}
	fmt.Fprintf(out, "after end refcount %d\n", o.RefCount())
	return rt.Release(o)
}

func demoWeak(rt *object.Runtime, out io.Writer) error {
	cell, err := cellClass(rt)
	if err != nil {
		return err
	}
	target, err := rt.New(cell, 8)
	if err != nil {
		return err
	}
	w, err := rt.NewWeakReference(target, func(*object.Object) {
		fmt.Fprintln(out, "finalizer ran")
	})
	if err != nil {
		return err
	}
	alive, err := rt.WeakAlive(w)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "alive %t\n", alive)
	if err := rt.Release(target); err != nil {
		return err
	}
	if _, err := rt.LoadWeak(w); errors.Is(err, object.ErrReferenceCleared) {
		fmt.Fprintln(out, "load after destroy: cleared")
	} else if err != nil {
		return err
	}
	return rt.Release(w)
}

func demoInteger(rt *object.Runtime, out io.Writer) error {
	z, err := integer.Register(rt)
	if err != nil {
		return err
	}
	a, err := z.FromString("340282366920938463463374607431768211456", 10)
	if err != nil {
		return err
	}
	b, err := z.FromInt64(-1)
	if err != nil {
		return err
	}
	sum, err := z.Add(a, b)
	if err != nil {
		return err
	}
	s, err := z.String(sum)
	if err != nil {
		return err
	}
	n, err := z.PopCount(sum)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "2^128 - 1 = %s (%d bits set)\n", s, n)
	return errors.Join(rt.Release(a), rt.Release(b), rt.Release(sum))
}

func demoRange(rt *object.Runtime, out io.Writer) error {
	r, err := sequence.Register(rt)
	if err != nil {
		return err
	}
	o, err := r.NewLinear(0, 1, 0.25)
	if err != nil {
		return err
	}
	values, err := r.Values(o)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "[0, 1) by 0.25: %v\n", values)
	if _, err := r.NewLinear(0, 2.1, 0.7); errors.Is(err, fault.ErrPrecisionLoss) {
		fmt.Fprintln(out, "[0, 2.1) by 0.7: precision loss")
	}
	return rt.Release(o)
}

// cellClass returns the plain class the demos and stress workers allocate.
func cellClass(rt *object.Runtime) (*object.Class, error) {
	if c, err := rt.LookupClass("Cell"); err == nil {
		return c, nil
	}
	return rt.NewClass("Cell")
}
