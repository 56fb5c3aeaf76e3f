// Package object implements the coral object runtime: reference counted
// instances with a validated header, classes whose method tables are tree
// maps, name-based dispatch, goroutine-local autorelease pools, copy chains,
// and the built-in Reference, WeakReference and Context classes.
//
// Every operation reports failure with an error whose kind is one of the
// sentinels in pkg/fault. Reference count abuse (retaining a destroyed
// instance, releasing past zero) is not an error: it panics with a
// *fault.FatalError.
package object

import (
	"cmp"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tliron/commonlog"

	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/treemap"
	"github.com/chazu/coral/pkg/treeset"
)

var log = commonlog.GetLogger("coral.object")

// Built-in class names.
const (
	ClassClass         = "Class"
	ClassReference     = "Reference"
	ClassWeakReference = "WeakReference"
	ClassContext       = "Context"
)

// DefaultInitCompactThreshold is the init list length at which a pool first
// drops entries for instances that were destroyed through another path.
const DefaultInitCompactThreshold = 1024

// Options configures a Runtime. The zero value is usable.
type Options struct {
	// Allocator provides payload storage. Defaults to HeapAllocator.
	Allocator Allocator

	// Registerer receives the runtime's Prometheus collectors. Nil leaves
	// them unregistered; Stats still works.
	Registerer prometheus.Registerer

	// InitCompactThreshold overrides DefaultInitCompactThreshold.
	InitCompactThreshold int
}

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

// Runtime owns the class registry, the autorelease pools of every goroutine
// that touched it, and the notification center.
type Runtime struct {
	id               uuid.UUID
	alloc            Allocator
	compactThreshold int

	classMu sync.RWMutex
	classes *treemap.Map[string, *Class]

	root      *Class
	reference *Class
	weak      *Class
	context   *Class

	pools   sync.Map // int64 -> *Pool
	notify  *notificationCenter
	metrics *metrics
}

// New creates a runtime and bootstraps its built-in classes.
func New(opts Options) (*Runtime, error) {
	classes, err := treemap.New[string, *Class](cmp.Compare[string], treeset.NoLimit)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{
		id:               uuid.New(),
		alloc:            opts.Allocator,
		compactThreshold: opts.InitCompactThreshold,
		classes:          classes,
		notify:           newNotificationCenter(),
	}
	if rt.alloc == nil {
		rt.alloc = HeapAllocator{}
	}
	if rt.compactThreshold <= 0 {
		rt.compactThreshold = DefaultInitCompactThreshold
	}
	rt.metrics = newMetrics(rt.id)
	if opts.Registerer != nil {
		if err := rt.metrics.register(opts.Registerer); err != nil {
			return nil, fmt.Errorf("object: register metrics: %w", err)
		}
	}

	// The root class is its own class, so it is wired by hand before any
	// other class can be created.
	rt.root = newClass(ClassClass)
	if err := rt.installClass(rt.root, rt.root); err != nil {
		return nil, err
	}
	if err := rt.bootstrapReference(); err != nil {
		return nil, err
	}
	if err := rt.bootstrapWeakReference(); err != nil {
		return nil, err
	}
	if err := rt.bootstrapContext(); err != nil {
		return nil, err
	}

	log.Debugf("runtime %s ready", rt.id)
	return rt, nil
}

// ID returns the runtime's unique identity.
func (rt *Runtime) ID() uuid.UUID { return rt.id }

// RootClass returns the class every class is an instance of.
func (rt *Runtime) RootClass() *Class { return rt.root }

// ReferenceClass returns the built-in strong reference class.
func (rt *Runtime) ReferenceClass() *Class { return rt.reference }

// WeakReferenceClass returns the built-in weak reference class.
func (rt *Runtime) WeakReferenceClass() *Class { return rt.weak }

// ContextClass returns the built-in context class.
func (rt *Runtime) ContextClass() *Class { return rt.context }

// ---------------------------------------------------------------------------
// Class registry
// ---------------------------------------------------------------------------

// NewClass creates and registers a class. The class starts with identity
// based hash_code and is_equal methods; register destroy, copy and any
// replacements before creating instances.
func (rt *Runtime) NewClass(name string) (*Class, error) {
	if name == "" {
		return nil, fmt.Errorf("object: new class: empty name: %w", fault.ErrInvalidArgument)
	}
	c := newClass(name)
	if err := rt.installClass(c, rt.root); err != nil {
		return nil, err
	}
	log.Debugf("registered class %s", name)
	return c, nil
}

func (rt *Runtime) installClass(c, meta *Class) error {
	rt.classMu.Lock()
	defer rt.classMu.Unlock()
	if rt.classes.Contains(c.name) {
		return fmt.Errorf("object: new class %s: %w", c.name, fault.ErrAlreadyExists)
	}

	c.rt = rt
	c.class.Store(meta)
	c.refCount.Store(1)
	c.checksum.Store(c.computeChecksum(meta))
	c.state.Store(uint32(stateLive))

	// Fresh table, so neither insert can collide.
	_ = c.methods.Insert(MethodHashCode, identityHash)
	_ = c.methods.Insert(MethodIsEqual, identityEqual)

	return rt.classes.Insert(c.name, c)
}

// LookupClass finds a registered class by name.
func (rt *Runtime) LookupClass(name string) (*Class, error) {
	rt.classMu.RLock()
	defer rt.classMu.RUnlock()
	c, err := rt.classes.Get(name)
	if err != nil {
		return nil, fmt.Errorf("object: lookup class %s: %w", name, fault.ErrNotFound)
	}
	return c, nil
}

// ClassNames lists the registered classes in name order.
func (rt *Runtime) ClassNames() []string {
	rt.classMu.RLock()
	defer rt.classMu.RUnlock()
	var names []string
	for name := range rt.classes.Keys() {
		names = append(names, name)
	}
	return names
}

func (rt *Runtime) isClass(o *Object) bool {
	return o.class.Load() == rt.root
}

// expect fails with fault.ErrTypeMismatch unless o is a live instance of c.
func (rt *Runtime) expect(o *Object, c *Class) error {
	if o == nil {
		return fault.ErrNilArgument
	}
	if !o.valid() {
		return fault.ErrUninitialized
	}
	if got := o.class.Load(); got != c {
		return fmt.Errorf("object: expected %s, got %s: %w", c.name, got.name, fault.ErrTypeMismatch)
	}
	return nil
}
