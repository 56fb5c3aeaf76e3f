// Package treemap layers unique-key semantics over treeset.
//
// Each member is an Entry holding a key and a value. The ordering function
// only looks at the key, so two entries with equal keys collide no matter what
// values they carry.
package treemap

import (
	"fmt"
	"iter"
	"unsafe"

	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/rbtree"
	"github.com/chazu/coral/pkg/treeset"
)

// Entry is one key/value record.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// Map is an ordered map from K to V. Like treeset.Set it is not synchronized.
type Map[K, V any] struct {
	set *treeset.Set[Entry[K, V]]
}

// New returns an empty map ordered by cmp over keys.
func New[K, V any](cmp rbtree.Compare[K], limit treeset.Limit) (*Map[K, V], error) {
	if cmp == nil {
		return nil, fmt.Errorf("treemap: new: %w", fault.ErrNilArgument)
	}
	set, err := treeset.New(func(a, b Entry[K, V]) int {
		return cmp(a.Key, b.Key)
	}, limit)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{set: set}, nil
}

func probe[K, V any](key K) Entry[K, V] {
	return Entry[K, V]{Key: key}
}

// Count returns the number of entries.
func (m *Map[K, V]) Count() uint64 { return m.set.Count() }

// KeySize returns the number of bytes a key occupies.
func (m *Map[K, V]) KeySize() uintptr {
	var k K
	return unsafe.Sizeof(k)
}

// Size returns the number of bytes each entry occupies.
func (m *Map[K, V]) Size() uintptr { return m.set.Size() }

// ID returns the modification id of the underlying set.
func (m *Map[K, V]) ID() uint64 { return m.set.ID() }

// Insert adds a new entry. An existing key fails with fault.ErrAlreadyExists
// whatever its value.
func (m *Map[K, V]) Insert(key K, value V) error {
	return m.set.Insert(Entry[K, V]{Key: key, Value: value})
}

// Set overwrites the value stored under an existing key. The key and the tree
// shape are left alone. A missing key fails with fault.ErrNotFound.
func (m *Map[K, V]) Set(key K, value V) error {
	return m.set.Replace(Entry[K, V]{Key: key, Value: value})
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, error) {
	e, err := m.set.Get(probe[K, V](key))
	return e.Value, err
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	return m.set.Contains(probe[K, V](key))
}

// Delete removes the entry stored under key.
func (m *Map[K, V]) Delete(key K) error {
	return m.set.Delete(probe[K, V](key))
}

// First returns the entry with the smallest key.
func (m *Map[K, V]) First() (Entry[K, V], error) { return m.set.First() }

// Last returns the entry with the largest key.
func (m *Map[K, V]) Last() (Entry[K, V], error) { return m.set.Last() }

// Next returns the entry following key.
func (m *Map[K, V]) Next(key K) (Entry[K, V], error) {
	return m.set.Next(probe[K, V](key))
}

// Prev returns the entry preceding key.
func (m *Map[K, V]) Prev(key K) (Entry[K, V], error) {
	return m.set.Prev(probe[K, V](key))
}

// Iterator returns a fail-fast ascending iterator over the entries.
func (m *Map[K, V]) Iterator() *treeset.Iterator[Entry[K, V]] { return m.set.Iterator() }

// ReverseIterator returns a fail-fast descending iterator over the entries.
func (m *Map[K, V]) ReverseIterator() *treeset.Iterator[Entry[K, V]] {
	return m.set.ReverseIterator()
}

// All iterates key/value pairs in ascending key order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for e := range m.set.All() {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// Keys iterates the keys in ascending order.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for e := range m.set.All() {
			if !yield(e.Key) {
				return
			}
		}
	}
}

// Values iterates the values in ascending key order.
func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for e := range m.set.All() {
			if !yield(e.Value) {
				return
			}
		}
	}
}

// Clear removes every entry, passing each to destroy when it is non-nil.
func (m *Map[K, V]) Clear(destroy func(K, V)) {
	m.set.Clear(func(e Entry[K, V]) {
		if destroy != nil {
			destroy(e.Key, e.Value)
		}
	})
}
