package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/coral/pkg/fault"
)

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

func TestFrameEndReleasesSynchronously(t *testing.T) {
	rt := newRuntime(t)
	c, destroyed := counted(t, rt, "Point")

	f, err := rt.Pool().Start()
	require.NoError(t, err)
	o, err := rt.New(c, 8)
	require.NoError(t, err)
	require.NoError(t, rt.Autorelease(o))
	assert.Equal(t, uint64(2), o.RefCount())

	require.NoError(t, f.End())
	assert.Equal(t, uint64(1), o.RefCount())
	assert.Equal(t, int32(0), destroyed.Load())
}

func TestNestedFramesReleaseInnermostOnly(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	pool := rt.Pool()

	outer, err := pool.Start()
	require.NoError(t, err)
	a, err := rt.New(c, 8)
	require.NoError(t, err)
	require.NoError(t, rt.Autorelease(a))

	inner, err := pool.Start()
	require.NoError(t, err)
	b, err := rt.New(c, 8)
	require.NoError(t, err)
	require.NoError(t, rt.Autorelease(b))
	assert.Equal(t, 2, pool.Depth())
	assert.Equal(t, 2, pool.Pending())

	require.NoError(t, inner.End())
	assert.Equal(t, uint64(1), b.RefCount())
	assert.Equal(t, uint64(2), a.RefCount(), "outer frame still holds a")

	require.NoError(t, outer.End())
	assert.Equal(t, uint64(1), a.RefCount())
	assert.Equal(t, 0, pool.Depth())
}

func TestOuterEndClosesInnerFrames(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	pool := rt.Pool()

	outer, err := pool.Start()
	require.NoError(t, err)
	inner, err := pool.Start()
	require.NoError(t, err)
	o, err := rt.New(c, 8)
	require.NoError(t, err)
	require.NoError(t, rt.Autorelease(o))

	require.NoError(t, outer.End())
	assert.Equal(t, uint64(1), o.RefCount())
	assert.ErrorIs(t, inner.End(), fault.ErrNotFound)
	assert.ErrorIs(t, outer.End(), fault.ErrNotFound)
}

func TestAutoreleaseToleratesDestroyedObjects(t *testing.T) {
	rt := newRuntime(t)
	c, destroyed := counted(t, rt, "Point")

	f, err := rt.Pool().Start()
	require.NoError(t, err)
	o, err := rt.New(c, 8)
	require.NoError(t, err)
	require.NoError(t, rt.Autorelease(o))
	require.NoError(t, rt.Destroy(o))

	assert.NoError(t, f.End())
	assert.Equal(t, int32(1), destroyed.Load())
}

// ---------------------------------------------------------------------------
// Drain
// ---------------------------------------------------------------------------

func TestDrainReleasesLooseAndInitEntries(t *testing.T) {
	rt := newRuntime(t)
	c, destroyed := counted(t, rt, "Point")

	kept, err := rt.New(c, 8)
	require.NoError(t, err)
	loose, err := rt.New(c, 8)
	require.NoError(t, err)
	require.NoError(t, rt.Autorelease(loose))
	assert.Equal(t, 1, rt.Pool().Pending())

	n, err := rt.Drain()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(2), destroyed.Load())
	assert.False(t, kept.Valid())
	assert.False(t, loose.Valid())
}

func TestDrainToleratesObjectsDestroyedElsewhere(t *testing.T) {
	rt := newRuntime(t)
	c, destroyed := counted(t, rt, "Point")
	for i := 0; i < 4; i++ {
		o, err := rt.New(c, 8)
		require.NoError(t, err)
		require.NoError(t, rt.Release(o))
	}

	n, err := rt.Drain()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int32(4), destroyed.Load())
}

func TestDrainEndsOpenFrames(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	pool := rt.Pool()

	f, err := pool.Start()
	require.NoError(t, err)
	o, err := rt.New(c, 8)
	require.NoError(t, err)
	require.True(t, rt.Untrack(o))
	require.NoError(t, rt.Autorelease(o))

	_, err = pool.Drain()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), o.RefCount())
	assert.ErrorIs(t, f.End(), fault.ErrNotFound)
}

func TestUntrackKeepsCreationReference(t *testing.T) {
	rt := newRuntime(t)
	c, destroyed := counted(t, rt, "Point")
	o, err := rt.New(c, 8)
	require.NoError(t, err)

	assert.True(t, rt.Untrack(o))
	assert.False(t, rt.Untrack(o))
	_, err = rt.Drain()
	require.NoError(t, err)
	assert.True(t, o.Valid())

	require.NoError(t, rt.Release(o))
	assert.Equal(t, int32(1), destroyed.Load())
}

func TestInitListCompaction(t *testing.T) {
	rt, err := New(Options{InitCompactThreshold: 4})
	require.NoError(t, err)
	c, _ := counted(t, rt, "Point")

	for i := 0; i < 8; i++ {
		o, err := rt.New(c, 8)
		require.NoError(t, err)
		require.NoError(t, rt.Release(o))
	}
	assert.Less(t, len(rt.Pool().inits), 4)
}

// ---------------------------------------------------------------------------
// Goroutine locality
// ---------------------------------------------------------------------------

func TestPoolsAreGoroutineLocal(t *testing.T) {
	rt := newRuntime(t)
	mine := rt.Pool()

	var g errgroup.Group
	g.Go(func() error {
		if rt.Pool() == mine {
			t.Error("another goroutine got the same pool")
		}
		_, err := mine.Start()
		assert.ErrorIs(t, err, ErrForeignPool)
		assert.ErrorIs(t, err, fault.ErrUnavailable)
		_, err = mine.Drain()
		assert.ErrorIs(t, err, fault.ErrUnavailable)
		_, err = rt.Drain()
		return err
	})
	require.NoError(t, g.Wait())

	f, err := mine.Start()
	require.NoError(t, err)
	require.NoError(t, f.End())
}

func TestEveryGoroutineGetsItsOwnPool(t *testing.T) {
	rt := newRuntime(t)
	const workers = 20
	pools := make([]*Pool, workers)

	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			pools[i] = rt.Pool()
			f, err := pools[i].Start()
			if err != nil {
				return err
			}
			if err := f.End(); err != nil {
				return err
			}
			_, err = rt.Drain()
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := map[*Pool]bool{rt.Pool(): true}
	for _, p := range pools {
		assert.False(t, seen[p], "pool shared between goroutines")
		seen[p] = true
	}
}

func TestDispatchOnlyGoroutinesLeaveNoPool(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	o, err := rt.New(c, 8)
	require.NoError(t, err)
	before := rt.PoolCount()

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			_, err := rt.HashCode(o)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, before, rt.PoolCount())
	assert.False(t, rt.Untrack(nil))

	done := make(chan bool)
	go func() { done <- rt.Untrack(o) }()
	assert.False(t, <-done, "o is on this goroutine's init list")
	assert.Equal(t, before, rt.PoolCount())
}

func TestDrainForgetsPool(t *testing.T) {
	rt := newRuntime(t)
	c, _ := counted(t, rt, "Point")
	before := rt.PoolCount()

	var g errgroup.Group
	g.Go(func() error {
		if _, err := rt.New(c, 8); err != nil {
			return err
		}
		if rt.PoolCount() != before+1 {
			t.Error("initializing goroutine has no pool")
		}
		_, err := rt.Drain()
		return err
	})
	require.NoError(t, g.Wait())
	assert.Equal(t, before, rt.PoolCount())
	assert.Equal(t, int64(0), rt.Stats().Live)
}

func TestForeignFrameEnd(t *testing.T) {
	rt := newRuntime(t)
	f, err := rt.Pool().Start()
	require.NoError(t, err)

	done := make(chan error)
	go func() { done <- f.End() }()
	assert.ErrorIs(t, <-done, ErrForeignPool)
	require.NoError(t, f.End())
}

func TestWorkersEachDrainTheirOwnPool(t *testing.T) {
	rt := newRuntime(t)
	c, destroyed := counted(t, rt, "Point")

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				f, err := rt.Pool().Start()
				if err != nil {
					return err
				}
				o, err := rt.New(c, 8)
				if err != nil {
					return err
				}
				if err := rt.Autorelease(o); err != nil {
					return err
				}
				if err := f.End(); err != nil {
					return err
				}
			}
			_, err := rt.Drain()
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(400), destroyed.Load())
	assert.Equal(t, int64(0), rt.Stats().Live)
}
