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
Package gc contains the reachability engine of the collector.

Object graph

The engine tracks host allocations as objects and host declared references
as edges between them. An object is reachable if there is a directed path
of strong references from the distinguished root object to it. Objects
which are not reachable are reclaimed during a collection - their
finalizers run and collector-owned storage is released. Weak references do
not keep their target alive; when the target dies the recorded pointer
slot of the weak reference is invalidated through the weak invalidator.

Generations

Objects live in a fixed chain of three fields (youngest to oldest). New
objects enter the youngest field. An object which survives a collection is
promoted into the next older field. A partial collection only processes
the youngest field, a full collection processes every field in turn.

Collector

The Collector object ties root, field chain, heap, global lock and flags
together and provides the public operations. All contract violations are
fatal - the engine is an in-process invariant keeper and does not attempt
recovery.
*/
package gc

import (
	"errors"
	"strconv"

	"devt.de/krotik/common/logutil"
)

/*
FieldCount is the depth of the field chain. An object which has survived
FieldCount-1 promotions can only be reclaimed by a full collection.
*/
const FieldCount = 3

/*
pointerSize is the width of a host pointer in bytes. Allocations are never
smaller than this.
*/
const pointerSize = strconv.IntSize / 8

/*
Logger is the logger for the reachability engine. Messages are discarded
unless the host attaches a sink.
*/
var Logger = logutil.GetLogger("tracegc.gc")

/*
Finalizer is called with the address of an object after the object was
reclaimed.
*/
type Finalizer func(addr uintptr)

/*
WeakInvalidator is called when the target of a weak reference died. It
receives the address of the owner and the recorded pointer slot of the
reference.
*/
type WeakInvalidator func(owner uintptr, slot *uintptr)

// Collector events
// ================

/*
EventObjectRegistered is posted when an object is registered.

Event source: address of the object
*/
const EventObjectRegistered = "objectRegistered"

/*
EventObjectCondemned is posted when an object is destroyed.

Event source: address of the object
*/
const EventObjectCondemned = "objectCondemned"

/*
EventObjectPromoted is posted when an object survives a collection and
moves into an older field.

Event source: address of the object
*/
const EventObjectPromoted = "objectPromoted"

/*
EventCollectionStarted is posted when a collection begins.

Event source: collection depth
*/
const EventCollectionStarted = "collectionStarted"

/*
EventCollectionFinished is posted when a collection ends.

Event source: collection depth
*/
const EventCollectionFinished = "collectionFinished"

/*
EventShutdown is posted after the collector tore down the object graph.

Event source: number of objects which were destroyed
*/
const EventShutdown = "shutdown"

// Errors
// ======

/*
Engine related error types. They only appear in fatal assertion messages -
there is no error propagation channel to the caller beyond the boolean
liveness query.
*/
var (
	ErrNotInitialized = errors.New("Collector is not initialized")
)

/*
rootSentinel returns the well-known address of the root object. The value
is a bad pointer which no real allocator will return; it is never
dereferenced.
*/
func rootSentinel() uintptr {
	if strconv.IntSize == 64 {
		pattern := uint64(0xDEADBEEFFEEDFACE)
		return uintptr(pattern)
	}

	return uintptr(0xCAFEBABE)
}
