package treeset

import (
	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/rbtree"
)

// Iterator walks a set while detecting modifications made through any other
// path. The cursor always points at the member the next call to Next will
// return; a nil cursor means the iterator is exhausted.
type Iterator[T any] struct {
	set     *Set[T]
	cursor  *rbtree.Node[T]
	id      uint64
	reverse bool
}

// Iterator returns an ascending iterator positioned at the first member.
func (s *Set[T]) Iterator() *Iterator[T] {
	return &Iterator[T]{set: s, cursor: s.tree.First(), id: s.id}
}

// ReverseIterator returns a descending iterator positioned at the last member.
func (s *Set[T]) ReverseIterator() *Iterator[T] {
	return &Iterator[T]{set: s, cursor: s.tree.Last(), id: s.id, reverse: true}
}

// IteratorFrom returns an ascending iterator positioned at the member equal
// to item.
func (s *Set[T]) IteratorFrom(item T) (*Iterator[T], error) {
	n, found := s.tree.Search(nil, item)
	if !found {
		return nil, fault.ErrNotFound
	}
	return &Iterator[T]{set: s, cursor: n, id: s.id}, nil
}

func (it *Iterator[T]) check() error {
	if it.id != it.set.id {
		return ErrConcurrentModification
	}
	if it.cursor == nil {
		return fault.ErrEndOfSequence
	}
	return nil
}

func (it *Iterator[T]) step(n *rbtree.Node[T]) *rbtree.Node[T] {
	if it.reverse {
		return it.set.tree.Prev(n)
	}
	return it.set.tree.Next(n)
}

// Next returns the member at the cursor and advances.
func (it *Iterator[T]) Next() (T, error) {
	if err := it.check(); err != nil {
		var zero T
		return zero, err
	}
	n := it.cursor
	it.cursor = it.step(n)
	return n.Value, nil
}

// Peek returns the member at the cursor without advancing.
func (it *Iterator[T]) Peek() (T, error) {
	if err := it.check(); err != nil {
		var zero T
		return zero, err
	}
	return it.cursor.Value, nil
}

// Delete removes the member at the cursor. The cursor moves past the doomed
// member first, and the iterator adopts the new modification id so it stays
// usable.
func (it *Iterator[T]) Delete() error {
	if err := it.check(); err != nil {
		return err
	}
	doomed := it.cursor
	it.cursor = it.step(doomed)
	if err := it.set.deleteNode(doomed); err != nil {
		it.cursor = doomed
		return err
	}
	it.id = it.set.id
	return nil
}
