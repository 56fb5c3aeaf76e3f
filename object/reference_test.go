package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/coral/pkg/fault"
)

// ---------------------------------------------------------------------------
// Reference
// ---------------------------------------------------------------------------

func TestReferenceOwnsItsTarget(t *testing.T) {
	rt := newRuntime(t)
	c, destroyed := counted(t, rt, "Point")
	target, err := rt.New(c, 8)
	require.NoError(t, err)

	ref, err := rt.NewReference(target)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), target.RefCount())

	got, err := rt.ReferenceTarget(ref)
	require.NoError(t, err)
	assert.Same(t, target, got)

	require.NoError(t, rt.Release(target))
	assert.True(t, target.Valid(), "reference keeps the target alive")

	require.NoError(t, rt.Release(ref))
	assert.Equal(t, int32(1), destroyed.Load())
	assert.False(t, target.Valid())
}

func TestReferenceCopyRetainsAgain(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	target, err := rt.New(c, 8)
	require.NoError(t, err)
	ref, err := rt.NewReference(target)
	require.NoError(t, err)

	cp, err := rt.Copy(ref)
	require.NoError(t, err)
	assert.Equal(t, Owned, cp.Mode())
	assert.Equal(t, uint64(3), target.RefCount())
	assert.Equal(t, uint64(1), ref.RefCount())

	eq, err := rt.IsEqual(ref, cp)
	require.NoError(t, err)
	assert.True(t, eq)

	h1, err := rt.HashCode(ref)
	require.NoError(t, err)
	h2, err := rt.HashCode(target)
	require.NoError(t, err)
	assert.Equal(t, h2, h1)

	require.NoError(t, rt.Release(cp))
	require.NoError(t, rt.Release(ref))
	assert.Equal(t, uint64(1), target.RefCount())
}

func TestReferenceTypeChecks(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	o, err := rt.New(c, 8)
	require.NoError(t, err)

	_, err = rt.ReferenceTarget(o)
	assert.ErrorIs(t, err, fault.ErrTypeMismatch)
	_, err = rt.LoadWeak(o)
	assert.ErrorIs(t, err, fault.ErrTypeMismatch)
	_, err = rt.ContextData(o)
	assert.ErrorIs(t, err, fault.ErrTypeMismatch)

	_, err = rt.NewReference(nil)
	assert.ErrorIs(t, err, fault.ErrNilArgument)
	require.NoError(t, rt.Release(o))
	_, err = rt.NewReference(o)
	assert.ErrorIs(t, err, fault.ErrUninitialized)
}

// ---------------------------------------------------------------------------
// WeakReference
// ---------------------------------------------------------------------------

func TestWeakReferenceClearsOnDestroy(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	target, err := rt.New(c, 8)
	require.NoError(t, err)

	var finalized *Object
	w, err := rt.NewWeakReference(target, func(o *Object) { finalized = o })
	require.NoError(t, err)
	assert.Equal(t, uint64(1), target.RefCount(), "weak references do not retain")
	assert.Equal(t, 1, rt.ObserverCount(target))

	got, err := rt.LoadWeak(w)
	require.NoError(t, err)
	assert.Same(t, target, got)
	assert.Equal(t, uint64(2), target.RefCount(), "load hands out a retained target")
	require.NoError(t, rt.Release(got))

	alive, err := rt.WeakAlive(w)
	require.NoError(t, err)
	assert.True(t, alive)

	require.NoError(t, rt.Release(target))
	assert.Same(t, target, finalized)
	assert.Equal(t, 0, rt.ObserverCount(target))

	_, err = rt.LoadWeak(w)
	assert.ErrorIs(t, err, ErrReferenceCleared)
	assert.ErrorIs(t, err, fault.ErrNotFound)
	alive, err = rt.WeakAlive(w)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestWeakReferenceDestroyedFirst(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	target, err := rt.New(c, 8)
	require.NoError(t, err)

	called := false
	w, err := rt.NewWeakReference(target, func(*Object) { called = true })
	require.NoError(t, err)
	require.NoError(t, rt.Release(w))
	assert.Equal(t, 0, rt.ObserverCount(target))

	require.NoError(t, rt.Release(target))
	assert.False(t, called)
}

func TestWeakReferenceCopy(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	target, err := rt.New(c, 8)
	require.NoError(t, err)
	w, err := rt.NewWeakReference(target, nil)
	require.NoError(t, err)

	cp, err := rt.Copy(w)
	require.NoError(t, err)
	assert.Equal(t, Owned, cp.Mode())
	assert.Equal(t, 2, rt.ObserverCount(target))

	eq, err := rt.IsEqual(w, cp)
	require.NoError(t, err)
	assert.True(t, eq)

	require.NoError(t, rt.Release(target))
	for _, ref := range []*Object{w, cp} {
		_, err := rt.LoadWeak(ref)
		assert.ErrorIs(t, err, ErrReferenceCleared)
	}
}

// ---------------------------------------------------------------------------
// Context
// ---------------------------------------------------------------------------

type stepParams struct {
	delta float64
	rate  float64
}

func TestContextCarriesDataAndRunsDestructorOnce(t *testing.T) {
	rt := newRuntime(t)
	params := &stepParams{delta: 0.5, rate: 2}
	runs := 0
	ctx, err := rt.NewContext(params, func(data any) {
		runs++
		assert.Same(t, params, data)
	})
	require.NoError(t, err)

	got, err := rt.ContextData(ctx)
	require.NoError(t, err)
	assert.Same(t, params, got)

	view, err := rt.Copy(ctx)
	require.NoError(t, err)
	assert.Equal(t, View, view.Mode())
	got, err = rt.ContextData(view)
	require.NoError(t, err)
	assert.Same(t, params, got)

	require.NoError(t, rt.Release(ctx))
	assert.Equal(t, 0, runs, "the view still holds the original")
	require.NoError(t, rt.Release(view))
	assert.Equal(t, 1, runs)
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func TestNotificationCenter(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	o, err := rt.New(c, 8)
	require.NoError(t, err)

	var seen []Notification
	id, err := rt.AddObserver(o, func(target *Object, n Notification) {
		assert.Same(t, o, target)
		seen = append(seen, n)
	})
	require.NoError(t, err)

	n, err := rt.PostNotification(o, "resized")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = rt.PostNotification(o, NotificationDestroy)
	assert.ErrorIs(t, err, fault.ErrInvalidArgument)

	require.NoError(t, rt.RemoveObserver(o, id))
	assert.ErrorIs(t, rt.RemoveObserver(o, id), fault.ErrNotFound)

	n, err = rt.PostNotification(o, "resized")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []Notification{"resized"}, seen)
}

func TestDestroyNotification(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	o, err := rt.New(c, 8)
	require.NoError(t, err)

	var seen []Notification
	_, err = rt.AddObserver(o, func(_ *Object, n Notification) { seen = append(seen, n) })
	require.NoError(t, err)

	require.NoError(t, rt.Release(o))
	assert.Equal(t, []Notification{NotificationDestroy}, seen)
	_, err = rt.AddObserver(o, func(*Object, Notification) {})
	assert.ErrorIs(t, err, fault.ErrUninitialized)
}
