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

	"devt.de/krotik/common/errorutil"
)

/*
Object models one tracked allocation. It knows its raw address, an
optional finalizer and the length of its storage if the collector
allocated it (0 means the host owns the storage). The object holds the
set of references it owns (outgoing) and the set of references pointing
at it (incoming).
*/
type Object struct {
	col           *Collector              // Collector this object belongs to
	addr          uintptr                 // Raw address of the allocation
	finalizer     Finalizer               // Optional host finalizer
	selfAllocated uint64                  // Length of collector-owned storage (0 if host-owned)
	condemned     bool                    // Flag if the object is being destroyed
	owned         map[*Reference]struct{} // Outgoing references
	pointing      map[*Reference]struct{} // Incoming references
}

/*
newObject creates a new object record.
*/
func newObject(col *Collector, addr uintptr, finalizer Finalizer,
	selfAllocated uint64) *Object {

	errorutil.AssertTrue(addr != 0, "Object constructed with null address")

	col.debug(fmt.Sprintf("+OBJ %#x", addr))

	return &Object{col, addr, finalizer, selfAllocated, false,
		make(map[*Reference]struct{}), make(map[*Reference]struct{})}
}

/*
Address returns the raw address of the object.
*/
func (o *Object) Address() uintptr {
	return o.addr
}

/*
SelfAllocated returns the length of collector-owned storage backing this
object. 0 means the host owns the storage.
*/
func (o *Object) SelfAllocated() uint64 {
	return o.selfAllocated
}

/*
IsReferenced returns whether any reference points at this object. Weak
references count here - a trivial reclamation must not kill an object
which a weak observer still references. The mark phase of a collection
uses strong-only reachability instead.
*/
func (o *Object) IsReferenced() bool {
	if o == o.col.root {
		return true
	}

	return len(o.pointing) > 0
}

/*
addOwned inserts a reference into the outgoing set.
*/
func (o *Object) addOwned(ref *Reference) {
	o.owned[ref] = struct{}{}
}

/*
removeOwned removes a reference from the outgoing set.
*/
func (o *Object) removeOwned(ref *Reference) {
	_, ok := o.owned[ref]
	errorutil.AssertTrue(ok, "Reference is not in the owned reference set")

	delete(o.owned, ref)
}

/*
addPointing inserts a reference into the incoming set.
*/
func (o *Object) addPointing(ref *Reference) {
	o.pointing[ref] = struct{}{}
}

/*
removePointing removes a reference from the incoming set.
*/
func (o *Object) removePointing(ref *Reference) {
	_, ok := o.pointing[ref]
	errorutil.AssertTrue(ok, "Reference is not in the pointing reference set")

	delete(o.pointing, ref)
}

/*
ownedRefs returns a snapshot of the outgoing set. Callbacks mutate the
set while it is walked - iteration always happens over a snapshot.
*/
func (o *Object) ownedRefs() []*Reference {
	ret := make([]*Reference, 0, len(o.owned))

	for ref := range o.owned {
		ret = append(ret, ref)
	}

	return ret
}

/*
pointingRefs returns a snapshot of the incoming set.
*/
func (o *Object) pointingRefs() []*Reference {
	ret := make([]*Reference, 0, len(o.pointing))

	for ref := range o.pointing {
		ret = append(ret, ref)
	}

	return ret
}

/*
Condemn is the only way to destroy an object. It is idempotent. A non-nil
last reference marks a trivial reclamation - the reclamation of an object
whose incoming set just emptied because of an unrelated edge mutation -
and is suppressed while the collector plans its own destruction list
during a sweep.

The given last reference - or, without one, every strong incoming edge -
is stripped before the destructor runs; the owners of those edges invoke
the lifecycle callbacks through their own destruction later. Weak
incoming edges stay in place and see the target-died callback from the
destructor.
*/
func (o *Object) Condemn(last *Reference) {
	col := o.col

	if o.condemned {
		return
	}

	if last != nil && col.disableTrivial {
		return
	}

	o.condemned = true

	if last != nil {
		delete(o.pointing, last)
	} else {
		for ref := range o.pointing {
			if !ref.weak {
				delete(o.pointing, ref)
			}
		}
	}

	col.youngest.Remove(o.addr)

	o.destroy()
}

/*
destroy runs the destructor body: finalizer, owner-died callbacks on all
outgoing references, target-died callbacks on all incoming references and
the release of collector-owned storage.
*/
func (o *Object) destroy() {
	col := o.col

	if o.finalizer != nil && !col.suppressFinalizers {
		o.finalizer(o.addr)
		col.finalizersRun++
	}

	for _, ref := range o.ownedRefs() {
		ref.OwnerDied()
	}

	o.owned = make(map[*Reference]struct{})

	for _, ref := range o.pointingRefs() {
		ref.TargetDied()
	}

	o.pointing = make(map[*Reference]struct{})

	if o.selfAllocated > 0 {
		errorutil.AssertOk(col.heap.Free(o.addr))
	}

	col.reclaimed++
	col.events.PostEvent(EventObjectCondemned, o.addr)
}
