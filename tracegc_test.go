/*
 * TraceGC
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package tracegc

import "testing"

/*
Test harness: objects created through newTestObject carry a finalizer which
records their address so tests can check finalizer discipline.
*/

var finalizersCalled []uintptr

func testFinalizer(addr uintptr) {
	finalizersCalled = append(finalizersCalled, addr)
}

func newTestObject() uintptr {
	return NewObject(10, Root(), testFinalizer)
}

func release(addr uintptr) {
	UnregisterReference(Root(), addr)
}

func finalized(addr uintptr) bool {
	for _, a := range finalizersCalled {
		if a == addr {
			return true
		}
	}

	return false
}

func setup() {
	finalizersCalled = nil
	Init()
}

func TestRootedObjectLifecycle(t *testing.T) {
	setup()

	obj := newTestObject()

	if !ObjectLive(obj) {
		t.Error("Object should be live")
		return
	}

	Collect(true)

	if !ObjectLive(obj) {
		t.Error("Object murdered")
		return
	}

	release(obj)
	Collect(true)

	if ObjectLive(obj) {
		t.Error("Object survived unexpectedly")
		return
	}

	if !finalized(obj) {
		t.Error("Object finalizer not called")
		return
	}

	Terminate(false)
}

func TestBasicInteraction(t *testing.T) {
	setup()

	obj1 := newTestObject()
	obj2 := newTestObject()

	RegisterReference(obj1, obj2, nil)
	release(obj2)

	Collect(true)

	if !ObjectLive(obj1) || !ObjectLive(obj2) {
		t.Error("Object murdered")
		return
	}

	UnregisterReference(obj1, obj2)
	Collect(true)

	if !ObjectLive(obj1) {
		t.Error("Object murdered")
		return
	}

	if ObjectLive(obj2) {
		t.Error("Object survived unexpectedly")
		return
	}

	Terminate(false)
}

func TestWeakReferences(t *testing.T) {
	setup()

	obj := newTestObject()
	handle := obj

	RegisterWeakReference(Root(), obj, &handle)

	Collect(true)

	if !ObjectLive(obj) {
		t.Error("Object murdered")
		return
	}

	if handle == 0 {
		t.Error("Weak reference unexpectedly nullified")
		return
	}

	release(obj)
	Collect(false)

	if ObjectLive(obj) {
		t.Error("Object survived unexpectedly")
		return
	}

	if handle != 0 {
		t.Error("Weak reference pointing to zombie")
		return
	}

	Terminate(false)
}

func TestFinalizerDiscipline(t *testing.T) {
	setup()

	obj := newTestObject()

	Terminate(true)

	if !finalized(obj) {
		t.Error("Object finalizer not called")
		return
	}

	// Terminate without finalizers suppresses the calls

	setup()

	obj = newTestObject()

	Terminate(false)

	if finalized(obj) {
		t.Error("Object finalizer unexpectedly called")
		return
	}
}

func TestTripleInteraction(t *testing.T) {
	setup()

	obj1 := newTestObject()
	obj2 := newTestObject()
	obj3 := newTestObject()

	if !ObjectLive(obj1) || !ObjectLive(obj2) || !ObjectLive(obj3) {
		t.Error("Object murdered")
		return
	}

	RegisterReference(obj1, obj2, nil)
	RegisterReference(obj2, obj1, nil)

	o3h := obj3
	RegisterWeakReference(Root(), obj3, &o3h)

	Collect(true)

	if !ObjectLive(obj1) || !ObjectLive(obj2) || !ObjectLive(obj3) {
		t.Error("Object murdered")
		return
	}

	if o3h == 0 {
		t.Error("Weak reference unexpectedly nullified")
		return
	}

	release(obj3)
	Collect(false)

	if !ObjectLive(obj1) || !ObjectLive(obj2) {
		t.Error("Object murdered")
		return
	}

	if ObjectLive(obj3) {
		t.Error("Object survived unexpectedly")
		return
	}

	if o3h != 0 {
		t.Error("Weak reference pointing to zombie")
		return
	}

	release(obj2)
	release(obj1)
	Collect(false)

	if ObjectLive(obj1) || ObjectLive(obj2) || ObjectLive(obj3) {
		t.Error("Object survived unexpectedly")
		return
	}

	Terminate(false)
}

func TestObjectMigration(t *testing.T) {
	setup()

	RegisterObject(0x1000, Root(), nil)

	slot := uintptr(0x1000)
	RegisterWeakReference(Root(), 0x1000, &slot)

	ObjectMigrate(0x1000, 0x2000)

	if ObjectLive(0x1000) {
		t.Error("Old address should no longer be tracked")
		return
	}

	if !ObjectLive(0x2000) {
		t.Error("New address should be tracked")
		return
	}

	if slot != 0x2000 {
		t.Error("Recorded slot should contain the new address:", slot)
		return
	}

	if res := ObjectSize(0x2000); res != 0 {
		t.Error("Host-owned object should report size 0:", res)
		return
	}

	Terminate(false)
}

func TestObjectResizeRoundtrip(t *testing.T) {
	setup()

	obj := NewObject(32, Root(), nil)

	if res := ObjectSize(obj); res != 32 {
		t.Error("Unexpected object size:", res)
		return
	}

	newAddr := ObjectResize(obj, 64)

	if res := ObjectSize(newAddr); res != 64 {
		t.Error("Unexpected object size:", res)
		return
	}

	if !ObjectLive(newAddr) {
		t.Error("Resized object should be live")
		return
	}

	SetWeakInvalidator(nil)
	Autorelease(newAddr)
	Collect(true)

	if ObjectLive(newAddr) {
		t.Error("Object survived unexpectedly")
		return
	}

	Terminate(false)
}

func TestReinitialization(t *testing.T) {
	setup()

	if res := Root(); !ObjectLive(res) {
		t.Error("Root should be live")
		return
	}

	Terminate(false)

	// The collector can be initialized again after a teardown

	setup()

	obj := newTestObject()

	if !ObjectLive(obj) {
		t.Error("Object should be live")
		return
	}

	if res := Collector().Stats()["fields"].([]int); res[0] != 1 {
		t.Error("Unexpected field counts:", res)
		return
	}

	Terminate(true)
}

func TestUseBeforeInit(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Use before init should panic")
		}
	}()

	Collect(true)
}
