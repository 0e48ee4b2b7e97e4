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
Reference models one declared edge from an owner object to a target
object. A strong reference keeps its target reachable, a weak reference
does not. Weak references always record the pointer slot which the host
stores the target address in; strong references may record one for
migration fix-up.

A reference is a member of its owner's outgoing set and its target's
incoming set at the same time. Exactly one of the three lifecycle
callbacks fires for a reference before it goes away.
*/
type Reference struct {
	owner  *Object  // Object holding the reference
	target *Object  // Object the reference points to
	weak   bool     // Flag if the reference is weak
	slot   *uintptr // Host storage location of the target address
}

/*
newStrongReference creates a new strong reference. The pointer slot is
optional and only used for migration fix-up.
*/
func newStrongReference(owner *Object, target *Object, slot *uintptr) *Reference {
	errorutil.AssertTrue(owner != nil, "Reference constructed with null owner")
	errorutil.AssertTrue(target != nil, "Reference constructed with null target")

	return &Reference{owner, target, false, slot}
}

/*
newWeakReference creates a new weak reference. The pointer slot is
required - it is invalidated when the target dies.
*/
func newWeakReference(owner *Object, target *Object, slot *uintptr) *Reference {
	errorutil.AssertTrue(owner != nil, "Reference constructed with null owner")
	errorutil.AssertTrue(target != nil, "Reference constructed with null target")
	errorutil.AssertTrue(slot != nil, "Weak reference constructed with null pointer slot")

	return &Reference{owner, target, true, slot}
}

/*
Owner returns the owner object of the reference.
*/
func (r *Reference) Owner() *Object {
	return r.owner
}

/*
Target returns the target object of the reference.
*/
func (r *Reference) Target() *Object {
	return r.target
}

/*
IsWeak returns whether this is a weak reference.
*/
func (r *Reference) IsWeak() bool {
	return r.weak
}

/*
OwnerDied is called from the destructor of the owner. The reference
removes itself from the target's incoming set and reclaims the target if
this was its last reference. A condemned target is mid-destruction and
walking its own edge sets - it must not be touched here.
*/
func (r *Reference) OwnerDied() {
	col := r.owner.col

	if !r.target.condemned {

		r.target.removePointing(r)

		if !r.target.IsReferenced() {
			col.debug(fmt.Sprintf("-OBJ %#x (completely unreferenced)", r.target.addr))
			r.target.Condemn(r)
		}
	}
}

/*
OwnerDisowned is called when the owner explicitly unregisters the
reference. The reference removes itself from both endpoint sets and
reclaims the target if this was its last reference.
*/
func (r *Reference) OwnerDisowned() {
	col := r.owner.col

	r.owner.removeOwned(r)

	if !r.target.condemned {

		r.target.removePointing(r)

		if !r.target.IsReferenced() {
			col.debug(fmt.Sprintf("-OBJ %#x (completely unreferenced)", r.target.addr))
			r.target.Condemn(r)
		}
	}
}

/*
TargetDied is called from the destructor of the target. For a weak
reference the recorded pointer slot is invalidated. A strong reference
must never see its target die - during shutdown the teardown order does
not respect reference topology and the violation is absorbed.
*/
func (r *Reference) TargetDied() {
	col := r.target.col

	if !r.weak {
		errorutil.AssertTrue(col.shuttingDown,
			"Target died with strong reference attached")
	}

	if !r.owner.condemned {
		r.owner.removeOwned(r)
	}

	if r.weak {
		col.weakInvalidator(r.owner.addr, r.slot)
	}
}
