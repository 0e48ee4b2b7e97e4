/*
 * TraceGC
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package gc

import (
	"fmt"
	"unsafe"

	"devt.de/krotik/common/datautil"
	"devt.de/krotik/common/errorutil"
	"devt.de/krotik/common/flowutil"
	"devt.de/krotik/common/sortutil"
	"devt.de/krotik/common/timeutil"
	"github.com/krotik/tracegc/config"
	"github.com/krotik/tracegc/heap"
	"github.com/krotik/tracegc/locking"
)

/*
Collector ties the object graph together: the root object, the field
chain, the collector-owned heap, the global reader/writer lock and the
process-wide flags. All public operations enter through this object.

Mutator calls take the read lock for lookups and the write lock for
mutations. Reference registration pairs a read-locked lookup with a
separate write-locked mutation - this is deliberately non-atomic, the
mutator is the sole source of destruction requests and guarantees that
the objects found during the lookup still exist at the write.
*/
type Collector struct {
	lock     *locking.RWSpin      // Global reader/writer lock
	heap     *heap.Heap           // Storage for collector-owned allocations
	events   *flowutil.EventPump  // Event pump for collector events
	trace    *datautil.RingBuffer // History of recent trace messages
	tracing  bool                 // Flag if trace history is kept
	rootAddr uintptr              // Well-known sentinel address of the root
	root     *Object              // Root object - always reachable
	youngest *Field               // Youngest field of the chain

	disableTrivial     bool // Flag if trivial reclamations are suspended
	shuttingDown       bool // Flag if the collector is being torn down
	suppressFinalizers bool // Flag if finalizers are skipped during teardown

	weakInvalidator WeakInvalidator // Hook which runs on weak target-death

	collections    uint64 // Number of collections run
	reclaimed      uint64 // Number of objects destroyed
	finalizersRun  uint64 // Number of finalizers invoked
	lastCollection string // Timestamp of the last collection
}

/*
NewCollector creates a new collector with a root object and a field chain
of FieldCount fields.
*/
func NewCollector() *Collector {
	if config.Config == nil {
		config.LoadDefaultConfig()
	}

	col := &Collector{
		lock:    locking.NewRWSpin(int(config.Int(config.LockSpinIterations))),
		heap:    heap.NewHeap(),
		events:  flowutil.NewEventPump(),
		trace:   datautil.NewRingBuffer(int(config.Int(config.TraceHistorySize))),
		tracing: config.Bool(config.EnableTracing),
	}

	col.weakInvalidator = func(owner uintptr, slot *uintptr) {
		*slot = 0
	}

	Logger.Debug("Doing collector init")
	Logger.Debug("Interesting stats:")
	Logger.Debug(fmt.Sprintf("	sizeof(uintptr) = %v", pointerSize))
	Logger.Debug(fmt.Sprintf("	sizeof(Object) = %v", unsafe.Sizeof(Object{})))
	Logger.Debug(fmt.Sprintf("	sizeof(Reference) = %v", unsafe.Sizeof(Reference{})))
	Logger.Debug(fmt.Sprintf("	sizeof(Field) = %v", unsafe.Sizeof(Field{})))

	var parent *Field
	for i := 0; i < FieldCount; i++ {
		parent = newField(col, parent)
	}
	col.youngest = parent

	col.rootAddr = rootSentinel()
	col.root = newObject(col, col.rootAddr, nil, 0)

	col.lock.WriteLock()
	col.youngest.InsertDeep(col.root)
	col.lock.WriteUnlock()

	return col
}

/*
Events returns the event pump of the collector. Observers must not call
back into the collector - all events except objectRegistered are posted
while the global lock is held.
*/
func (c *Collector) Events() *flowutil.EventPump {
	return c.events
}

/*
Root returns the well-known sentinel address of the root object. The
value is never a valid allocation address and is never dereferenced.
*/
func (c *Collector) Root() uintptr {
	c.assertInitialized()

	return c.rootAddr
}

/*
SetWeakInvalidator installs a hook which runs when the target of a weak
reference died. Passing nil restores the default hook which writes null
to the pointer slot.
*/
func (c *Collector) SetWeakInvalidator(hook WeakInvalidator) {
	c.lock.WriteLock()
	defer c.lock.WriteUnlock()

	if hook == nil {
		hook = func(owner uintptr, slot *uintptr) {
			*slot = 0
		}
	}

	c.weakInvalidator = hook
}

/*
Collect runs a collection. A partial collection only processes the
youngest field - survivors are promoted. A full collection processes
every field of the chain.
*/
func (c *Collector) Collect(partial bool) {
	c.assertInitialized()

	c.lock.WriteLock()
	defer c.lock.WriteUnlock()

	depth := FieldCount
	if partial {
		depth = 1
	}

	c.debug("Doing generational collection")
	c.events.PostEvent(EventCollectionStarted, depth)

	c.youngest.Collect(depth)

	c.collections++
	c.lastCollection = timeutil.MakeTimestamp()

	c.debug("Collection finished")
	c.events.PostEvent(EventCollectionFinished, depth)
}

/*
NewObject allocates collector-owned zero-filled storage of a given
length, registers it as an object and returns its address. The new
object starts out with a strong reference from the given owner.
Allocations are never smaller than a pointer.
*/
func (c *Collector) NewObject(length uint64, owner uintptr, finalizer Finalizer) uintptr {
	c.assertInitialized()

	if length < pointerSize {
		length = pointerSize
	}

	addr, err := c.heap.Allocate(length)
	errorutil.AssertOk(err)

	c.register(addr, owner, finalizer, length)

	return addr
}

/*
RegisterObject registers a host-owned allocation as an object. The new
object starts out with a strong reference from the given owner.
*/
func (c *Collector) RegisterObject(addr uintptr, owner uintptr, finalizer Finalizer) {
	c.assertInitialized()
	errorutil.AssertTrue(addr != 0, "Tried to register object with null address")

	c.register(addr, owner, finalizer, 0)
}

/*
register wraps an address in an object record, hooks it up to its owner
and inserts it into the nursery.
*/
func (c *Collector) register(addr uintptr, owner uintptr, finalizer Finalizer,
	selfAllocated uint64) {

	c.lock.ReadLock()
	ownerObj := c.getObject(owner)
	errorutil.AssertTrue(ownerObj != nil,
		fmt.Sprintf("Could not get owner object: %#x", owner))
	c.lock.ReadUnlock()

	obj := newObject(c, addr, finalizer, selfAllocated)

	ref := newStrongReference(ownerObj, obj, nil)
	obj.addPointing(ref)

	c.lock.WriteLock()
	c.youngest.InsertShallow(obj)
	ownerObj.addOwned(ref)
	c.lock.WriteUnlock()

	c.events.PostEvent(EventObjectRegistered, addr)
}

/*
RegisterReference adds a strong reference between two registered objects.
The pointer slot is optional - if given it is rewritten when the target
is migrated.
*/
func (c *Collector) RegisterReference(owner uintptr, target uintptr, slot *uintptr) {
	c.assertInitialized()

	src, dst := c.lookupPair(owner, target)

	ref := newStrongReference(src, dst, slot)

	c.debug(fmt.Sprintf("+SR %#x => %#x", owner, target))

	c.lock.WriteLock()
	src.addOwned(ref)
	dst.addPointing(ref)
	c.lock.WriteUnlock()
}

/*
UnregisterReference removes one strong reference between two registered
objects.
*/
func (c *Collector) UnregisterReference(owner uintptr, target uintptr) {
	c.assertInitialized()

	src, dst := c.lookupPair(owner, target)

	c.debug(fmt.Sprintf("-SR %#x => %#x", owner, target))

	c.unreference(src, dst, false)
}

/*
RegisterWeakReference adds a weak reference between two registered
objects. The pointer slot is required - it is invalidated when the
target dies.
*/
func (c *Collector) RegisterWeakReference(owner uintptr, target uintptr, slot *uintptr) {
	c.assertInitialized()

	src, dst := c.lookupPair(owner, target)

	ref := newWeakReference(src, dst, slot)

	c.debug(fmt.Sprintf("+WR %#x => %#x (%p)", owner, target, slot))

	c.lock.WriteLock()
	src.addOwned(ref)
	dst.addPointing(ref)
	c.lock.WriteUnlock()
}

/*
UnregisterWeakReference removes one weak reference between two registered
objects.
*/
func (c *Collector) UnregisterWeakReference(owner uintptr, target uintptr) {
	c.assertInitialized()

	src, dst := c.lookupPair(owner, target)

	c.debug(fmt.Sprintf("-WR %#x => %#x", owner, target))

	c.unreference(src, dst, true)
}

/*
unreference finds one reference of the requested kind between two objects
and disowns it. The walk goes over a snapshot of the owner's outgoing
set; the callback mutates the live set.
*/
func (c *Collector) unreference(src *Object, dst *Object, weak bool) {
	c.lock.WriteLock()
	defer c.lock.WriteUnlock()

	for _, ref := range src.ownedRefs() {

		if ref.target != dst || ref.weak != weak {
			continue
		}

		ref.OwnerDisowned()
		return
	}
}

/*
Autorelease drops the automatic root reference which every object starts
out with. This is done after an object was handed to a different owner.
*/
func (c *Collector) Autorelease(addr uintptr) {
	errorutil.AssertTrue(addr != 0, "Tried to autorelease bad object")

	c.UnregisterReference(c.rootAddr, addr)
}

/*
ObjectLive returns whether an address is currently tracked.
*/
func (c *Collector) ObjectLive(addr uintptr) bool {
	c.assertInitialized()

	c.lock.ReadLock()
	defer c.lock.ReadUnlock()

	return c.youngest.Lookup(addr) != nil
}

/*
ObjectSize returns the length of the collector-owned storage of an
object. 0 means the host owns the storage.
*/
func (c *Collector) ObjectSize(addr uintptr) uint64 {
	c.assertInitialized()

	c.lock.ReadLock()
	defer c.lock.ReadUnlock()

	obj := c.getObject(addr)
	errorutil.AssertTrue(obj != nil, fmt.Sprintf("Could not get object: %#x", addr))

	return obj.selfAllocated
}

/*
ObjectMigrate records a new address for an object. The field binding is
rebound and every incoming reference which recorded a pointer slot has
its slot rewritten to the new address.
*/
func (c *Collector) ObjectMigrate(oldAddr uintptr, newAddr uintptr) {
	c.assertInitialized()
	errorutil.AssertTrue(newAddr != 0, "Tried to migrate object to null address")

	c.lock.WriteLock()
	defer c.lock.WriteUnlock()

	obj := c.getObject(oldAddr)
	errorutil.AssertTrue(obj != nil, fmt.Sprintf("Could not get object: %#x", oldAddr))

	c.migrate(obj, oldAddr, newAddr)
}

/*
migrate rebinds an object to a new address. Callers hold the write lock.
*/
func (c *Collector) migrate(obj *Object, oldAddr uintptr, newAddr uintptr) {
	c.debug(fmt.Sprintf("MIG %#x => %#x", oldAddr, newAddr))

	obj.addr = newAddr
	c.youngest.Move(oldAddr, newAddr)

	for ref := range obj.pointing {
		if ref.slot != nil {
			*ref.slot = newAddr
		}
	}
}

/*
ObjectResize changes the length of a collector-owned allocation. If the
storage had to move the object is migrated - all recorded pointer slots
are rewritten.
*/
func (c *Collector) ObjectResize(addr uintptr, newLength uint64) uintptr {
	c.assertInitialized()

	if newLength < pointerSize {
		newLength = pointerSize
	}

	c.lock.WriteLock()
	defer c.lock.WriteUnlock()

	obj := c.getObject(addr)
	errorutil.AssertTrue(obj != nil, fmt.Sprintf("Could not get object: %#x", addr))
	errorutil.AssertTrue(obj.selfAllocated > 0,
		fmt.Sprintf("Tried to resize host-owned object: %#x", addr))

	newAddr, err := c.heap.Resize(addr, newLength)
	errorutil.AssertOk(err)

	obj.selfAllocated = newLength

	if newAddr != addr {
		c.migrate(obj, addr, newAddr)
	}

	return newAddr
}

/*
Terminate destroys the object graph. Finalizers only run if
callFinalizers is set. The teardown order through the field chain does
not respect reference topology - strong references seeing their target
die is absorbed while the shutdown flag is raised. All state is cleared
so the collector cannot be used afterwards.
*/
func (c *Collector) Terminate(callFinalizers bool) {
	c.assertInitialized()

	c.lock.WriteLock()
	defer c.lock.WriteUnlock()

	c.debug("Doing collector shutdown")

	c.shuttingDown = true
	c.suppressFinalizers = !callFinalizers

	before := c.reclaimed

	for f := c.youngest; f != nil; f = f.parent {

		addrs := make([]uint64, 0, len(f.objects))
		for addr := range f.objects {
			if addr != c.rootAddr {
				addrs = append(addrs, uint64(addr))
			}
		}

		// Objects go away youngest field first, highest address first

		sortutil.UInt64s(addrs)

		for i := len(addrs) - 1; i >= 0; i-- {
			if obj, ok := f.objects[uintptr(addrs[i])]; ok {
				obj.Condemn(nil)
			}
		}
	}

	// The root goes last

	c.root.Condemn(nil)

	c.root = nil
	c.youngest = nil
	c.shuttingDown = false
	c.suppressFinalizers = false

	c.debug("Collector shutdown finished")
	c.events.PostEvent(EventShutdown, c.reclaimed-before)
}

/*
getObject resolves an address to its object record. A null address
resolves to nil.
*/
func (c *Collector) getObject(addr uintptr) *Object {
	if addr == 0 {
		return nil
	}

	return c.youngest.Lookup(addr)
}

/*
lookupPair resolves an owner / target address pair under the read lock.
Both addresses must be registered.
*/
func (c *Collector) lookupPair(owner uintptr, target uintptr) (*Object, *Object) {
	c.lock.ReadLock()
	defer c.lock.ReadUnlock()

	src := c.getObject(owner)
	errorutil.AssertTrue(src != nil, fmt.Sprintf("Could not get source object: %#x", owner))

	dst := c.getObject(target)
	errorutil.AssertTrue(dst != nil, fmt.Sprintf("Could not get target object: %#x", target))

	return src, dst
}

/*
assertInitialized makes sure the collector has not been terminated.
*/
func (c *Collector) assertInitialized() {
	errorutil.AssertTrue(c.youngest != nil, ErrNotInitialized.Error())
}

/*
debug records a trace message in the history and hands it to the logger.
*/
func (c *Collector) debug(msg string) {
	if c.tracing {
		c.trace.Log(msg)
	}

	Logger.Debug(msg)
}
