package object

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/treemap"
	"github.com/chazu/coral/pkg/treeset"
)

// Notification names an event posted about an instance.
type Notification string

// NotificationDestroy is posted while an instance is being destroyed, after
// its destroy method ran and before its payload is freed. Observers of the
// instance are dropped once it has been delivered.
const NotificationDestroy Notification = "destroy"

// Observer receives notifications about a target instance. Observers run on
// the posting goroutine with no runtime locks held.
type Observer func(target *Object, n Notification)

// ObserverID identifies a registration for RemoveObserver.
type ObserverID uint64

type observation struct {
	id ObserverID
	fn Observer
}

type observed struct {
	target    *Object
	observers []observation
}

// notificationCenter keys observers by target address. Instances never move,
// and the entry keeps its target reachable until the destroy notification
// removes it.
type notificationCenter struct {
	mu      sync.Mutex
	nextID  ObserverID
	targets *treemap.Map[uintptr, *observed]
}

func newNotificationCenter() *notificationCenter {
	targets, err := treemap.New[uintptr, *observed](cmp.Compare[uintptr], treeset.NoLimit)
	if err != nil {
		panic(err)
	}
	return &notificationCenter{targets: targets}
}

func (nc *notificationCenter) add(target *Object, fn Observer) ObserverID {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.nextID++
	id := nc.nextID
	key := target.address()
	entry, err := nc.targets.Get(key)
	if err != nil {
		entry = &observed{target: target}
		_ = nc.targets.Insert(key, entry)
	}
	entry.observers = append(entry.observers, observation{id: id, fn: fn})
	return id
}

func (nc *notificationCenter) remove(target *Object, id ObserverID) bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	key := target.address()
	entry, err := nc.targets.Get(key)
	if err != nil {
		return false
	}
	i := slices.IndexFunc(entry.observers, func(ob observation) bool { return ob.id == id })
	if i < 0 {
		return false
	}
	entry.observers = slices.Delete(entry.observers, i, i+1)
	if len(entry.observers) == 0 {
		_ = nc.targets.Delete(key)
	}
	return true
}

func (nc *notificationCenter) count(target *Object) int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	entry, err := nc.targets.Get(target.address())
	if err != nil {
		return 0
	}
	return len(entry.observers)
}

func (nc *notificationCenter) post(target *Object, n Notification) int {
	nc.mu.Lock()
	key := target.address()
	entry, err := nc.targets.Get(key)
	if err != nil {
		nc.mu.Unlock()
		return 0
	}
	observers := slices.Clone(entry.observers)
	if n == NotificationDestroy {
		_ = nc.targets.Delete(key)
	}
	nc.mu.Unlock()

	for _, ob := range observers {
		ob.fn(target, n)
	}
	return len(observers)
}

// ---------------------------------------------------------------------------
// Runtime surface
// ---------------------------------------------------------------------------

// AddObserver registers fn for notifications about target.
func (rt *Runtime) AddObserver(target *Object, fn Observer) (ObserverID, error) {
	if target == nil || fn == nil {
		return 0, fault.ErrNilArgument
	}
	if !target.valid() {
		return 0, fmt.Errorf("object: add observer: %w", fault.ErrUninitialized)
	}
	return rt.notify.add(target, fn), nil
}

// RemoveObserver drops a registration made with AddObserver.
func (rt *Runtime) RemoveObserver(target *Object, id ObserverID) error {
	if target == nil {
		return fault.ErrNilArgument
	}
	if !rt.notify.remove(target, id) {
		return fmt.Errorf("object: remove observer %d: %w", id, fault.ErrNotFound)
	}
	return nil
}

// ObserverCount returns the number of observers registered on target.
func (rt *Runtime) ObserverCount(target *Object) int {
	if target == nil {
		return 0
	}
	return rt.notify.count(target)
}

// PostNotification delivers n to target's observers and returns how many ran.
// NotificationDestroy is reserved for the runtime.
func (rt *Runtime) PostNotification(target *Object, n Notification) (int, error) {
	if target == nil {
		return 0, fault.ErrNilArgument
	}
	if n == NotificationDestroy {
		return 0, fmt.Errorf("object: post %s: reserved: %w", n, fault.ErrInvalidArgument)
	}
	if !target.valid() {
		return 0, fmt.Errorf("object: post %s: %w", n, fault.ErrUninitialized)
	}
	return rt.notify.post(target, n), nil
}
