package object

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"unsafe"

	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/treemap"
	"github.com/chazu/coral/pkg/treeset"
)

// Built-in method names.
const (
	MethodDestroy  = "destroy"
	MethodHashCode = "hash_code"
	MethodIsEqual  = "is_equal"
	MethodCopy     = "copy"
)

// Method is an invokable entry in a class method table. obj is the receiver,
// data the payload resolved through the copy chain, args whatever the caller
// passed to Dispatch.
//
// A method must not return an object it autoreleased: the dispatch frame ends
// before the caller sees the result. Return either a borrowed object the
// receiver keeps alive or a retained one the caller releases, and say which.
type Method func(obj *Object, data *Payload, args any) (any, error)

var (
	// ErrMethodNotFound is returned when a class has no method by that name.
	ErrMethodNotFound = fmt.Errorf("object: method not found: %w", fault.ErrNotFound)

	// ErrMethodExists is returned when adding a method name a second time.
	ErrMethodExists = fmt.Errorf("object: method already exists: %w", fault.ErrAlreadyExists)
)

// CompareNames orders method names by length first and then bytewise, so
// "ab" sorts before "b".
func CompareNames(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// ---------------------------------------------------------------------------
// Class: a named method table
// ---------------------------------------------------------------------------

// Class is the run-time type of an instance. A class is itself an instance of
// the root class named "Class", whose own class is itself.
type Class struct {
	Object
	name    string
	mu      sync.RWMutex
	methods *treemap.Map[string, Method]
}

func newClass(name string) *Class {
	methods, err := treemap.New[string, Method](CompareNames, treeset.NoLimit)
	if err != nil {
		// CompareNames is non-nil and NoLimit is well formed.
		panic(err)
	}
	return &Class{name: name, methods: methods}
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

func (c *Class) String() string { return c.name }

// AddMethod registers m under name.
func (c *Class) AddMethod(name string, m Method) error {
	if c == nil || m == nil {
		return fault.ErrNilArgument
	}
	if name == "" {
		return fmt.Errorf("object: add method to %s: empty name: %w", c.name, fault.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.methods.Insert(name, m); err != nil {
		return fmt.Errorf("object: add method %s.%s: %w", c.name, name, ErrMethodExists)
	}
	log.Debugf("class %s: added method %q", c.name, name)
	return nil
}

// ReplaceMethod swaps the implementation of an existing method.
func (c *Class) ReplaceMethod(name string, m Method) error {
	if c == nil || m == nil {
		return fault.ErrNilArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.methods.Set(name, m); err != nil {
		return fmt.Errorf("object: replace method %s.%s: %w", c.name, name, ErrMethodNotFound)
	}
	return nil
}

// RemoveMethod drops a method from the table.
func (c *Class) RemoveMethod(name string) error {
	if c == nil {
		return fault.ErrNilArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.methods.Delete(name); err != nil {
		return fmt.Errorf("object: remove method %s.%s: %w", c.name, name, ErrMethodNotFound)
	}
	return nil
}

// Method returns the implementation registered under name.
func (c *Class) Method(name string) (Method, error) {
	if c == nil {
		return nil, fault.ErrNilArgument
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, err := c.methods.Get(name)
	if err != nil {
		return nil, fmt.Errorf("object: %s.%s: %w", c.name, name, ErrMethodNotFound)
	}
	return m, nil
}

// HasMethod reports whether name is registered.
func (c *Class) HasMethod(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.methods.Contains(name)
}

// MethodNames lists the registered names in table order.
func (c *Class) MethodNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Collect(c.methods.Keys())
}

// ---------------------------------------------------------------------------
// Default methods
// ---------------------------------------------------------------------------

// identityHash hashes the instance that owns the payload, so a view and its
// original hash alike.
func identityHash(obj *Object, _ *Payload, _ any) (any, error) {
	return uint64(uintptr(unsafe.Pointer(obj.root()))), nil
}

// identityEqual treats two instances as equal when they share a payload.
func identityEqual(obj *Object, _ *Payload, args any) (any, error) {
	other, ok := args.(*Object)
	if !ok || other == nil {
		return nil, fmt.Errorf("object: is_equal: argument is %T: %w", args, fault.ErrTypeMismatch)
	}
	if obj.Class() != other.Class() {
		return false, nil
	}
	return obj.root() == other.root(), nil
}
