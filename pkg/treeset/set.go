// Package treeset provides an ordered, deduplicated collection of fixed-layout
// records backed by a red-black tree.
//
// A Set counts its members, enforces an inclusive lower/upper bound on that
// count, and keeps a modification id that every insert and delete bumps.
// Iterators snapshot the id and fail fast once the set changes underneath
// them.
//
// Sets are not synchronized; callers serialize access.
package treeset

import (
	"fmt"
	"iter"
	"math"
	"unsafe"

	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/rbtree"
)

// ErrConcurrentModification is returned by an iterator whose set was modified
// through another path since the iterator last synchronized.
var ErrConcurrentModification = fmt.Errorf("treeset: concurrent modification: %w", fault.ErrUnavailable)

// ErrLimit is returned when an insert or delete would breach the set's limit.
var ErrLimit = fmt.Errorf("treeset: count limit: %w", fault.ErrUnavailable)

// Limit bounds a set's member count, inclusively on both ends.
type Limit struct {
	Lower uint64
	Upper uint64
}

// NoLimit leaves the member count unbounded.
var NoLimit = Limit{Lower: 0, Upper: math.MaxUint64}

// Set is an ordered set of T.
type Set[T any] struct {
	tree  *rbtree.Tree[T]
	cmp   rbtree.Compare[T]
	count uint64
	limit Limit
	id    uint64
}

// New returns an empty set ordered by cmp and bounded by limit.
func New[T any](cmp rbtree.Compare[T], limit Limit) (*Set[T], error) {
	if cmp == nil {
		return nil, fmt.Errorf("treeset: new: %w", fault.ErrNilArgument)
	}
	if limit.Lower > limit.Upper {
		return nil, fmt.Errorf("treeset: new: lower limit %d above upper %d: %w",
			limit.Lower, limit.Upper, fault.ErrInvalidArgument)
	}
	return &Set[T]{
		tree:  rbtree.New(cmp),
		cmp:   cmp,
		limit: limit,
	}, nil
}

// Count returns the number of members.
func (s *Set[T]) Count() uint64 { return s.count }

// Size returns the number of bytes each member occupies.
func (s *Set[T]) Size() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

// Limit returns the configured count bounds.
func (s *Set[T]) Limit() Limit { return s.limit }

// ID returns the modification id. It changes on every insert and delete.
func (s *Set[T]) ID() uint64 { return s.id }

// Insert adds item. It fails with fault.ErrAlreadyExists when an equal member
// is present and with ErrLimit when the set is at its upper bound.
func (s *Set[T]) Insert(item T) error {
	at, found := s.tree.Search(nil, item)
	if found {
		return fault.ErrAlreadyExists
	}
	if s.count >= s.limit.Upper {
		return ErrLimit
	}
	if err := s.tree.Insert(at, rbtree.NewNode(item)); err != nil {
		return err
	}
	s.count++
	s.id++
	return nil
}

// Delete removes the member equal to item. The lower bound is checked before
// anything is modified.
func (s *Set[T]) Delete(item T) error {
	n, found := s.tree.Search(nil, item)
	if !found {
		return fault.ErrNotFound
	}
	return s.deleteNode(n)
}

func (s *Set[T]) deleteNode(n *rbtree.Node[T]) error {
	if s.count <= s.limit.Lower {
		return ErrLimit
	}
	if err := s.tree.Delete(n); err != nil {
		return err
	}
	if err := rbtree.DestroyNode(n); err != nil {
		return err
	}
	s.count--
	s.id++
	return nil
}

// Get returns the stored member equal to item.
func (s *Set[T]) Get(item T) (T, error) {
	n, found := s.tree.Search(nil, item)
	if !found {
		var zero T
		return zero, fault.ErrNotFound
	}
	return n.Value, nil
}

// Contains reports whether a member equal to item is present.
func (s *Set[T]) Contains(item T) bool {
	_, found := s.tree.Search(nil, item)
	return found
}

// Replace overwrites the stored member equal to item with item. Ordering is
// unchanged because the two compare equal, so the modification id is kept.
func (s *Set[T]) Replace(item T) error {
	n, found := s.tree.Search(nil, item)
	if !found {
		return fault.ErrNotFound
	}
	n.Value = item
	return nil
}

// First returns the smallest member.
func (s *Set[T]) First() (T, error) {
	return s.value(s.tree.First(), fault.ErrNotFound)
}

// Last returns the largest member.
func (s *Set[T]) Last() (T, error) {
	return s.value(s.tree.Last(), fault.ErrNotFound)
}

// Next returns the member following item, which must be present.
func (s *Set[T]) Next(item T) (T, error) {
	n, found := s.tree.Search(nil, item)
	if !found {
		var zero T
		return zero, fault.ErrNotFound
	}
	return s.value(s.tree.Next(n), fault.ErrEndOfSequence)
}

// Prev returns the member preceding item, which must be present.
func (s *Set[T]) Prev(item T) (T, error) {
	n, found := s.tree.Search(nil, item)
	if !found {
		var zero T
		return zero, fault.ErrNotFound
	}
	return s.value(s.tree.Prev(n), fault.ErrEndOfSequence)
}

func (s *Set[T]) value(n *rbtree.Node[T], missing error) (T, error) {
	if n == nil {
		var zero T
		return zero, missing
	}
	return n.Value, nil
}

// All iterates the members in ascending order. Mutating the set during the
// loop is not supported; use an Iterator for that.
func (s *Set[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for n := s.tree.First(); n != nil; n = s.tree.Next(n) {
			if !yield(n.Value) {
				return
			}
		}
	}
}

// Backward iterates the members in descending order.
func (s *Set[T]) Backward() iter.Seq[T] {
	return func(yield func(T) bool) {
		for n := s.tree.Last(); n != nil; n = s.tree.Prev(n) {
			if !yield(n.Value) {
				return
			}
		}
	}
}

// Clear removes every member, passing each to destroy when it is non-nil.
// Limits are not consulted: clearing is teardown, not a member delete.
func (s *Set[T]) Clear(destroy func(T)) {
	if s.count == 0 {
		return
	}
	s.tree.Clear(func(n *rbtree.Node[T]) {
		if destroy != nil {
			destroy(n.Value)
		}
	})
	s.count = 0
	s.id++
}
