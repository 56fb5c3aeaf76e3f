package treemap

import (
	"cmp"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/treeset"
)

func newMap(t *testing.T) *Map[string, int] {
	t.Helper()
	m, err := New[string, int](cmp.Compare[string], treeset.NoLimit)
	require.NoError(t, err)
	return m
}

func TestNewNilComparator(t *testing.T) {
	_, err := New[string, int](nil, treeset.NoLimit)
	assert.ErrorIs(t, err, fault.ErrNilArgument)
}

func TestInsertGet(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.Insert("b", 2))
	require.NoError(t, m.Insert("a", 1))

	v, err := m.Get("b")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.True(t, m.Contains("a"))

	_, err = m.Get("zz")
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.Equal(t, uint64(2), m.Count())
}

func TestKeyUniquenessIgnoresValue(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.Insert("k", 1))

	assert.ErrorIs(t, m.Insert("k", 99), fault.ErrAlreadyExists)
	v, err := m.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 1, v, "failed insert leaves the original value")
}

func TestSetUpdatesValueOnly(t *testing.T) {
	m := newMap(t)
	for i, k := range []string{"c", "a", "b"} {
		require.NoError(t, m.Insert(k, i))
	}
	id := m.ID()
	count := m.Count()

	require.NoError(t, m.Set("a", 100))

	v, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 100, v)
	assert.Equal(t, id, m.ID(), "update does not change tree shape")
	assert.Equal(t, count, m.Count())
	assert.Equal(t, []string{"a", "b", "c"}, slices.Collect(m.Keys()))

	assert.ErrorIs(t, m.Set("missing", 1), fault.ErrNotFound)
}

func TestSetDoesNotInvalidateIterator(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.Insert("a", 1))
	require.NoError(t, m.Insert("b", 2))
	it := m.Iterator()

	require.NoError(t, m.Set("b", 20))

	e, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", e.Key)
	e, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, Entry[string, int]{Key: "b", Value: 20}, e)
}

func TestDeleteInvalidatesIterator(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.Insert("a", 1))
	require.NoError(t, m.Insert("b", 2))
	it := m.Iterator()

	require.NoError(t, m.Delete("b"))
	_, err := it.Next()
	assert.ErrorIs(t, err, treeset.ErrConcurrentModification)
	assert.ErrorIs(t, m.Delete("b"), fault.ErrNotFound)
}

func TestNeighbours(t *testing.T) {
	m := newMap(t)
	for _, k := range []string{"x", "m", "c"} {
		require.NoError(t, m.Insert(k, len(k)))
	}
	first, err := m.First()
	require.NoError(t, err)
	assert.Equal(t, "c", first.Key)

	last, err := m.Last()
	require.NoError(t, err)
	assert.Equal(t, "x", last.Key)

	next, err := m.Next("c")
	require.NoError(t, err)
	assert.Equal(t, "m", next.Key)

	prev, err := m.Prev("m")
	require.NoError(t, err)
	assert.Equal(t, "c", prev.Key)

	_, err = m.Next("x")
	assert.ErrorIs(t, err, fault.ErrEndOfSequence)
}

func TestAllAndValues(t *testing.T) {
	m := newMap(t)
	want := map[string]int{"one": 1, "two": 2, "three": 3}
	for k, v := range want {
		require.NoError(t, m.Insert(k, v))
	}
	assert.Equal(t, want, maps.Collect(m.All()))
	assert.Equal(t, []int{1, 3, 2}, slices.Collect(m.Values()))
}

func TestReverseIterator(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.Insert("a", 1))
	require.NoError(t, m.Insert("b", 2))

	it := m.ReverseIterator()
	e, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", e.Key)
}

func TestClear(t *testing.T) {
	m := newMap(t)
	require.NoError(t, m.Insert("a", 1))
	require.NoError(t, m.Insert("b", 2))

	sum := 0
	m.Clear(func(_ string, v int) { sum += v })
	assert.Equal(t, 3, sum)
	assert.Equal(t, uint64(0), m.Count())
}

func TestLimitPassedThrough(t *testing.T) {
	m, err := New[int, int](cmp.Compare[int], treeset.Limit{Lower: 0, Upper: 1})
	require.NoError(t, err)
	require.NoError(t, m.Insert(1, 1))
	assert.ErrorIs(t, m.Insert(2, 2), treeset.ErrLimit)
	assert.Equal(t, uintptr(8), m.KeySize())
	assert.Equal(t, uintptr(16), m.Size())
}
