// Package rbtree implements a red-black tree over caller-owned nodes.
//
// The tree is the ordering substrate for treeset and treemap. It stores
// fixed-layout records (the type parameter T) and orders them with a
// caller-supplied comparator. Search reports either the matching node or the
// node under which the key would be inserted, so an insert after a failed
// search needs no second descent.
//
// The tree is not synchronized. All operations, including reads, assume the
// caller has exclusive access.
package rbtree

import (
	"fmt"

	"github.com/chazu/coral/pkg/fault"
)

type color uint8

const (
	red color = iota
	black
)

// Compare orders two records. It returns a negative number when a sorts
// before b, zero when they are equal and a positive number otherwise.
type Compare[T any] func(a, b T) int

// Node holds one record plus its tree linkage. A node obtained from NewNode
// is detached until passed to Insert; Delete detaches it again.
type Node[T any] struct {
	Value T

	parent *Node[T]
	left   *Node[T]
	right  *Node[T]
	color  color
}

// NewNode returns a detached node holding v.
func NewNode[T any](v T) *Node[T] {
	return &Node[T]{Value: v, color: red}
}

// DestroyNode clears a detached node so stale references to it hold nothing.
func DestroyNode[T any](n *Node[T]) error {
	if n == nil {
		return fault.ErrNilArgument
	}
	if n.attached() {
		return fmt.Errorf("rbtree: destroy attached node: %w", fault.ErrInvalidArgument)
	}
	var zero T
	n.Value = zero
	n.color = red
	return nil
}

func (n *Node[T]) attached() bool {
	return n.left != nil || n.right != nil || n.parent != nil
}

// Tree is a red-black tree with a black sentinel leaf.
type Tree[T any] struct {
	root     *Node[T]
	sentinel *Node[T]
	cmp      Compare[T]
	len      int
}

// New returns an empty tree ordered by cmp.
func New[T any](cmp Compare[T]) *Tree[T] {
	sentinel := &Node[T]{color: black}
	return &Tree[T]{
		root:     sentinel,
		sentinel: sentinel,
		cmp:      cmp,
	}
}

// Len returns the number of nodes in the tree.
func (t *Tree[T]) Len() int { return t.len }

// Search descends from start (the root when start is nil) looking for key.
// When found it returns the matching node and true. Otherwise it returns the
// last node visited, which is the insertion parent for key, and false; the
// parent is nil only when the searched subtree is empty.
//
// A non-root start must be an ancestor of key's position.
func (t *Tree[T]) Search(start *Node[T], key T) (*Node[T], bool) {
	n := start
	if n == nil {
		n = t.root
	} else if !n.attached() {
		return nil, false
	}
	parent := t.sentinel
	for n != t.sentinel {
		c := t.cmp(key, n.Value)
		switch {
		case c < 0:
			parent = n
			n = n.left
		case c > 0:
			parent = n
			n = n.right
		default:
			return n, true
		}
	}
	return t.external(parent), false
}

// Insert links the detached node n below the insertion point at, as returned
// by a failed Search, and rebalances. at must be nil only for an empty tree.
func (t *Tree[T]) Insert(at *Node[T], n *Node[T]) error {
	if n == nil {
		return fault.ErrNilArgument
	}
	if n.attached() {
		return fmt.Errorf("rbtree: insert attached node: %w", fault.ErrInvalidArgument)
	}

	n.left = t.sentinel
	n.right = t.sentinel
	n.color = red

	if at == nil {
		if t.root != t.sentinel {
			t.detach(n)
			return fmt.Errorf("rbtree: nil insertion point in non-empty tree: %w", fault.ErrInvalidArgument)
		}
		n.parent = t.sentinel
		t.root = n
		t.len++
		t.insertFixup(n)
		return nil
	}

	c := t.cmp(n.Value, at.Value)
	switch {
	case c == 0:
		t.detach(n)
		return fault.ErrAlreadyExists
	case c < 0:
		if at.left != t.sentinel {
			t.detach(n)
			return fmt.Errorf("rbtree: stale insertion point: %w", fault.ErrInvalidArgument)
		}
		at.left = n
	default:
		if at.right != t.sentinel {
			t.detach(n)
			return fmt.Errorf("rbtree: stale insertion point: %w", fault.ErrInvalidArgument)
		}
		at.right = n
	}
	n.parent = at
	t.len++
	t.insertFixup(n)
	return nil
}

// Delete unlinks n from the tree and rebalances. n is detached afterwards and
// may be reinserted or destroyed.
func (t *Tree[T]) Delete(n *Node[T]) error {
	if n == nil {
		return fault.ErrNilArgument
	}
	if !n.attached() || n == t.sentinel {
		return fmt.Errorf("rbtree: delete detached node: %w", fault.ErrInvalidArgument)
	}
	t.deleteNode(n)
	t.len--
	t.detach(n)
	return nil
}

// First returns the smallest node, or nil when the tree is empty.
func (t *Tree[T]) First() *Node[T] {
	return t.external(t.minNode(t.root))
}

// Last returns the largest node, or nil when the tree is empty.
func (t *Tree[T]) Last() *Node[T] {
	return t.external(t.maxNode(t.root))
}

// Next returns the in-order successor of n, or nil after the last node.
func (t *Tree[T]) Next(n *Node[T]) *Node[T] {
	if n == nil || !n.attached() {
		return nil
	}
	if n.right != t.sentinel {
		return t.minNode(n.right)
	}
	p := n.parent
	for p != t.sentinel && n == p.right {
		n = p
		p = p.parent
	}
	return t.external(p)
}

// Prev returns the in-order predecessor of n, or nil before the first node.
func (t *Tree[T]) Prev(n *Node[T]) *Node[T] {
	if n == nil || !n.attached() {
		return nil
	}
	if n.left != t.sentinel {
		return t.maxNode(n.left)
	}
	p := n.parent
	for p != t.sentinel && n == p.left {
		n = p
		p = p.parent
	}
	return t.external(p)
}

// Clear detaches every node, calling fn (if non-nil) on each in order.
func (t *Tree[T]) Clear(fn func(*Node[T])) {
	n := t.minNode(t.root)
	for n != t.sentinel {
		next := t.Next(n)
		if next == nil {
			next = t.sentinel
		}
		if fn != nil {
			fn(n)
		}
		n = next
	}
	// Detach in a second pass; Next needs intact links above.
	t.postorder(t.root, func(x *Node[T]) { t.detach(x) })
	t.root = t.sentinel
	t.sentinel.parent = nil
	t.len = 0
}

func (t *Tree[T]) postorder(n *Node[T], fn func(*Node[T])) {
	if n == t.sentinel {
		return
	}
	t.postorder(n.left, fn)
	t.postorder(n.right, fn)
	fn(n)
}

// Verify checks every red-black and ordering invariant and reports the first
// violation found.
func (t *Tree[T]) Verify() error {
	if t.root == t.sentinel {
		if t.len != 0 {
			return fmt.Errorf("rbtree: empty tree with len %d", t.len)
		}
		return nil
	}
	if t.root.color != black {
		return fmt.Errorf("rbtree: root is red")
	}
	if t.root.parent != t.sentinel {
		return fmt.Errorf("rbtree: root has a parent")
	}
	count := 0
	if _, err := t.verify(t.root, &count); err != nil {
		return err
	}
	if count != t.len {
		return fmt.Errorf("rbtree: counted %d nodes, len %d", count, t.len)
	}
	var prev *Node[T]
	for n := t.First(); n != nil; n = t.Next(n) {
		if prev != nil && t.cmp(prev.Value, n.Value) >= 0 {
			return fmt.Errorf("rbtree: in-order traversal not strictly ascending")
		}
		prev = n
	}
	return nil
}

func (t *Tree[T]) verify(n *Node[T], count *int) (int, error) {
	if n == t.sentinel {
		return 1, nil
	}
	*count++
	if n.color == red && (n.left.color == red || n.right.color == red) {
		return 0, fmt.Errorf("rbtree: red node with red child")
	}
	if n.left != t.sentinel && n.left.parent != n {
		return 0, fmt.Errorf("rbtree: broken parent link")
	}
	if n.right != t.sentinel && n.right.parent != n {
		return 0, fmt.Errorf("rbtree: broken parent link")
	}
	lh, err := t.verify(n.left, count)
	if err != nil {
		return 0, err
	}
	rh, err := t.verify(n.right, count)
	if err != nil {
		return 0, err
	}
	if lh != rh {
		return 0, fmt.Errorf("rbtree: black height mismatch (%d != %d)", lh, rh)
	}
	if n.color == black {
		lh++
	}
	return lh, nil
}

// external maps the sentinel to nil at the API boundary.
func (t *Tree[T]) external(n *Node[T]) *Node[T] {
	if n == t.sentinel {
		return nil
	}
	return n
}

func (t *Tree[T]) detach(n *Node[T]) {
	n.parent = nil
	n.left = nil
	n.right = nil
}

func (t *Tree[T]) minNode(n *Node[T]) *Node[T] {
	if n == t.sentinel {
		return t.sentinel
	}
	for n.left != t.sentinel {
		n = n.left
	}
	return n
}

func (t *Tree[T]) maxNode(n *Node[T]) *Node[T] {
	if n == t.sentinel {
		return t.sentinel
	}
	for n.right != t.sentinel {
		n = n.right
	}
	return n
}

// ---------------------------------------------------------------------------
// Rotations and fixups
// ---------------------------------------------------------------------------

func (t *Tree[T]) leftRotate(x *Node[T]) {
	y := x.right
	x.right = y.left
	if y.left != t.sentinel {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == t.sentinel:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *Tree[T]) rightRotate(y *Node[T]) {
	x := y.left
	y.left = x.right
	if x.right != t.sentinel {
		x.right.parent = y
	}
	x.parent = y.parent
	switch {
	case y.parent == t.sentinel:
		t.root = x
	case y == y.parent.right:
		y.parent.right = x
	default:
		y.parent.left = x
	}
	x.right = y
	y.parent = x
}

func (t *Tree[T]) insertFixup(z *Node[T]) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.leftRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rightRotate(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rightRotate(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.leftRotate(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *Tree[T]) transplant(u, v *Node[T]) {
	switch {
	case u.parent == t.sentinel:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *Tree[T]) deleteNode(z *Node[T]) {
	y := z
	yOrigColor := y.color
	var x *Node[T]

	switch {
	case z.left == t.sentinel:
		x = z.right
		t.transplant(z, z.right)
	case z.right == t.sentinel:
		x = z.left
		t.transplant(z, z.left)
	default:
		y = t.minNode(z.right)
		yOrigColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOrigColor == black {
		t.deleteFixup(x)
	}
	// The sentinel may have picked up a parent during the fixup.
	t.sentinel.parent = nil
}

func (t *Tree[T]) deleteFixup(x *Node[T]) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rightRotate(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.leftRotate(w)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}
