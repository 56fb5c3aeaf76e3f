package object

import (
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/coral/pkg/fault"
)

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(Options{})
	require.NoError(t, err)
	return rt
}

// counted registers a class whose destroy method counts invocations.
func counted(t *testing.T, rt *Runtime, name string) (*Class, *atomic.Int32) {
	t.Helper()
	c, err := rt.NewClass(name)
	require.NoError(t, err)
	var destroyed atomic.Int32
	require.NoError(t, c.AddMethod(MethodDestroy, func(*Object, *Payload, any) (any, error) {
		destroyed.Add(1)
		return nil, nil
	}))
	return c, &destroyed
}

func fatalOf(fn func()) (fe *fault.FatalError) {
	defer func() {
		fe, _ = recover().(*fault.FatalError)
	}()
	fn()
	return nil
}

// ---------------------------------------------------------------------------
// Bootstrap and class registry
// ---------------------------------------------------------------------------

func TestBootstrapClasses(t *testing.T) {
	rt := newRuntime(t)

	root := rt.RootClass()
	assert.Same(t, root, root.Class(), "root class is its own class")
	assert.True(t, root.Valid())

	for _, c := range []*Class{rt.ReferenceClass(), rt.WeakReferenceClass(), rt.ContextClass()} {
		assert.Same(t, root, c.Class())
		assert.True(t, c.HasMethod(MethodHashCode))
		assert.True(t, c.HasMethod(MethodIsEqual))
	}
	assert.Equal(t, []string{ClassClass, ClassContext, ClassReference, ClassWeakReference}, rt.ClassNames())
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", rt.ID().String())
}

func TestNewClassDuplicate(t *testing.T) {
	rt := newRuntime(t)
	_, err := rt.NewClass("Point")
	require.NoError(t, err)

	_, err = rt.NewClass("Point")
	assert.ErrorIs(t, err, fault.ErrAlreadyExists)
	_, err = rt.NewClass("")
	assert.ErrorIs(t, err, fault.ErrInvalidArgument)

	c, err := rt.LookupClass("Point")
	require.NoError(t, err)
	assert.Equal(t, "Point", c.Name())
	_, err = rt.LookupClass("Nope")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestClassesArePermanent(t *testing.T) {
	rt := newRuntime(t)
	c, err := rt.NewClass("Point")
	require.NoError(t, err)

	require.NoError(t, rt.Retain(&c.Object))
	require.NoError(t, rt.Release(&c.Object))
	require.NoError(t, rt.Release(&c.Object))
	assert.True(t, c.Valid())
	assert.ErrorIs(t, rt.Destroy(&c.Object), fault.ErrInvalidArgument)
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestMetricsAndStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt, err := New(Options{Registerer: reg})
	require.NoError(t, err)
	c, _ := counted(t, rt, "Point")

	o, err := rt.New(c, 8)
	require.NoError(t, err)
	_, err = rt.HashCode(o)
	require.NoError(t, err)
	require.NoError(t, rt.Autorelease(o))
	_, err = rt.Drain()
	require.NoError(t, err)

	stats := rt.Stats()
	assert.Equal(t, uint64(1), stats.Allocated)
	assert.Equal(t, uint64(1), stats.Initialized)
	assert.Equal(t, uint64(1), stats.Destroyed)
	assert.Equal(t, int64(0), stats.Live)
	assert.Equal(t, uint64(1), stats.Autoreleased)
	assert.Equal(t, uint64(1), stats.Drains)
	assert.GreaterOrEqual(t, stats.Dispatched, uint64(1))

	assert.Equal(t, 1.0, testutil.ToFloat64(rt.metrics.allocatedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(rt.metrics.destroyedTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(rt.metrics.liveGauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(rt.metrics.dispatchTotal.WithLabelValues(MethodHashCode)))

	count, err := testutil.GatherAndCount(reg, "coral_object_objects_allocated_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt, err := New(Options{Registerer: reg})
	require.NoError(t, err)

	// A second runtime carries a different runtime label, so both fit.
	_, err = New(Options{Registerer: reg})
	require.NoError(t, err)

	assert.Error(t, rt.metrics.register(reg), "same collectors twice")
}
