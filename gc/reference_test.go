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

import "testing"

func TestReferenceConstruction(t *testing.T) {
	col := NewCollector()
	defer col.Terminate(false)

	obj1 := newObject(col, 0x1000, nil, 0)
	obj2 := newObject(col, 0x2000, nil, 0)

	slot := uintptr(0x2000)

	ref := newStrongReference(obj1, obj2, nil)

	if ref.Owner() != obj1 || ref.Target() != obj2 || ref.IsWeak() {
		t.Error("Unexpected strong reference state")
		return
	}

	wref := newWeakReference(obj1, obj2, &slot)

	if wref.Owner() != obj1 || wref.Target() != obj2 || !wref.IsWeak() {
		t.Error("Unexpected weak reference state")
		return
	}

	assertPanic := func(msg string, f func()) {
		defer func() {
			if r := recover(); r != msg {
				t.Error("Unexpected panic value:", r)
			}
		}()

		f()
	}

	assertPanic("Reference constructed with null owner", func() {
		newStrongReference(nil, obj2, nil)
	})

	assertPanic("Reference constructed with null target", func() {
		newStrongReference(obj1, nil, nil)
	})

	assertPanic("Reference constructed with null owner", func() {
		newWeakReference(nil, obj2, &slot)
	})

	assertPanic("Weak reference constructed with null pointer slot", func() {
		newWeakReference(obj1, obj2, nil)
	})
}

func TestStrongTargetDeathViolation(t *testing.T) {
	col := NewCollector()
	defer col.Terminate(false)

	col.RegisterObject(0x1000, col.Root(), nil)
	col.RegisterObject(0x2000, col.Root(), nil)
	col.RegisterReference(0x1000, 0x2000, nil)

	obj2 := col.youngest.Lookup(0x2000)

	var ref *Reference
	for r := range obj2.pointing {
		if r.owner.addr == 0x1000 {
			ref = r
		}
	}

	// Outside of shutdown a strong reference seeing its target die is a
	// contract violation

	defer func() {
		if r := recover(); r != "Target died with strong reference attached" {
			t.Error("Unexpected panic value:", r)
		}
	}()

	ref.TargetDied()
}

func TestCondemnedTargetGuard(t *testing.T) {
	col := NewCollector()
	defer col.Terminate(false)

	col.RegisterObject(0x1000, col.Root(), nil)
	col.RegisterObject(0x2000, col.Root(), nil)
	col.RegisterReference(0x1000, 0x2000, nil)

	obj1 := col.youngest.Lookup(0x1000)
	obj2 := col.youngest.Lookup(0x2000)

	var ref *Reference
	for r := range obj1.owned {
		if r.target == obj2 {
			ref = r
		}
	}

	// A condemned target is mid-destruction - the callback must leave
	// its edge sets alone

	obj2.condemned = true
	before := len(obj2.pointing)

	ref.OwnerDied()

	if len(obj2.pointing) != before {
		t.Error("Callback should not mutate the edge sets of a condemned target")
		return
	}

	obj2.condemned = false
}
