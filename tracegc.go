/*
 * TraceGC
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package tracegc provides the process-wide API of the collector.

The package mirrors the C function set which hosts embed: Init builds the
root object and the field chain, Terminate destroys everything. Hosts
register allocations and the references between them and trigger
collections explicitly. The engine itself lives in the gc package - this
package only manages the process-wide singleton.
*/
package tracegc

import (
	"devt.de/krotik/common/errorutil"
	"github.com/krotik/tracegc/gc"
)

/*
collector is the process-wide collector instance.
*/
var collector *gc.Collector

/*
Init initializes the collector. It constructs the root object and the
chain of fields. Init must not be called on an initialized collector.
*/
func Init() {
	errorutil.AssertTrue(collector == nil, "Collector is already initialized")

	collector = gc.NewCollector()
}

/*
Terminate destroys the object graph and clears all state. Finalizers
only run if callFinalizers is set. The collector can be initialized
again afterwards.
*/
func Terminate(callFinalizers bool) {
	assertInitialized()

	collector.Terminate(callFinalizers)
	collector = nil
}

/*
Collect runs a collection. A partial collection only processes the
youngest generation, a full collection processes all of them.
*/
func Collect(partial bool) {
	assertInitialized()

	collector.Collect(partial)
}

/*
Root returns the well-known sentinel address of the root object.
*/
func Root() uintptr {
	assertInitialized()

	return collector.Root()
}

/*
NewObject allocates collector-owned zero-filled storage, registers it as
an object strongly referenced by the given owner and returns its
address.
*/
func NewObject(length uint64, owner uintptr, finalizer gc.Finalizer) uintptr {
	assertInitialized()

	return collector.NewObject(length, owner, finalizer)
}

/*
RegisterObject registers a host-owned allocation as an object strongly
referenced by the given owner.
*/
func RegisterObject(addr uintptr, owner uintptr, finalizer gc.Finalizer) {
	assertInitialized()

	collector.RegisterObject(addr, owner, finalizer)
}

/*
Autorelease drops the automatic root reference of an object. This is
done after an object was handed to a different owner.
*/
func Autorelease(addr uintptr) {
	assertInitialized()

	collector.Autorelease(addr)
}

/*
RegisterReference adds a strong reference. The pointer slot is optional
and rewritten if the target is migrated.
*/
func RegisterReference(owner uintptr, target uintptr, slot *uintptr) {
	assertInitialized()

	collector.RegisterReference(owner, target, slot)
}

/*
UnregisterReference removes one strong reference.
*/
func UnregisterReference(owner uintptr, target uintptr) {
	assertInitialized()

	collector.UnregisterReference(owner, target)
}

/*
RegisterWeakReference adds a weak reference. The pointer slot is
required - it is invalidated when the target dies.
*/
func RegisterWeakReference(owner uintptr, target uintptr, slot *uintptr) {
	assertInitialized()

	collector.RegisterWeakReference(owner, target, slot)
}

/*
UnregisterWeakReference removes one weak reference.
*/
func UnregisterWeakReference(owner uintptr, target uintptr) {
	assertInitialized()

	collector.UnregisterWeakReference(owner, target)
}

/*
ObjectLive returns whether an address is currently tracked.
*/
func ObjectLive(addr uintptr) bool {
	assertInitialized()

	return collector.ObjectLive(addr)
}

/*
ObjectSize returns the length of the collector-owned storage of an
object. 0 means the host owns the storage.
*/
func ObjectSize(addr uintptr) uint64 {
	assertInitialized()

	return collector.ObjectSize(addr)
}

/*
ObjectMigrate records a new address for an object and rewrites all
recorded pointer slots.
*/
func ObjectMigrate(oldAddr uintptr, newAddr uintptr) {
	assertInitialized()

	collector.ObjectMigrate(oldAddr, newAddr)
}

/*
ObjectResize changes the length of a collector-owned allocation and
returns the (possibly moved) address.
*/
func ObjectResize(addr uintptr, newLength uint64) uintptr {
	assertInitialized()

	return collector.ObjectResize(addr, newLength)
}

/*
SetWeakInvalidator installs a hook which runs when the target of a weak
reference died. Passing nil restores the default hook which writes null
to the pointer slot.
*/
func SetWeakInvalidator(hook gc.WeakInvalidator) {
	assertInitialized()

	collector.SetWeakInvalidator(hook)
}

/*
Collector returns the engine instance for diagnostics (stats, dumps,
events).
*/
func Collector() *gc.Collector {
	assertInitialized()

	return collector
}

/*
assertInitialized makes sure Init was called.
*/
func assertInitialized() {
	errorutil.AssertTrue(collector != nil, gc.ErrNotInitialized.Error())
}
