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
	"devt.de/krotik/common/sortutil"
)

/*
Field models one generation of the collector. It maps raw addresses to
object records and links to its parent field. Fields form a fixed chain
from the youngest (nursery) to the oldest; lookups walk toward the
oldest.
*/
type Field struct {
	col     *Collector          // Collector this field belongs to
	objects map[uintptr]*Object // Bindings of this generation
	parent  *Field              // Next older field (nil for the oldest)
}

/*
newField creates a new field with a given parent.
*/
func newField(col *Collector, parent *Field) *Field {
	return &Field{col, make(map[uintptr]*Object), parent}
}

/*
Lookup resolves an address to an object. The youngest binding wins; the
lookup walks toward the oldest field and returns nil if no field binds
the address.
*/
func (f *Field) Lookup(addr uintptr) *Object {
	if obj, ok := f.objects[addr]; ok {
		return obj
	}

	if f.parent != nil {
		return f.parent.Lookup(addr)
	}

	return nil
}

/*
InsertShallow binds an object into this field.
*/
func (f *Field) InsertShallow(obj *Object) {
	f.objects[obj.addr] = obj
}

/*
InsertDeep binds an object into the oldest field of the chain.
*/
func (f *Field) InsertDeep(obj *Object) {
	if f.parent != nil {
		f.parent.InsertDeep(obj)
		return
	}

	f.objects[obj.addr] = obj
}

/*
Remove removes an address binding from whichever field holds it. Returns
whether a binding was removed.
*/
func (f *Field) Remove(addr uintptr) bool {
	if _, ok := f.objects[addr]; ok {
		delete(f.objects, addr)
		return true
	}

	if f.parent != nil {
		return f.parent.Remove(addr)
	}

	return false
}

/*
Move rebinds an address within whichever field holds it. Returns whether
a binding was moved.
*/
func (f *Field) Move(oldAddr uintptr, newAddr uintptr) bool {
	if obj, ok := f.objects[oldAddr]; ok {
		delete(f.objects, oldAddr)
		f.objects[newAddr] = obj
		return true
	}

	if f.parent != nil {
		return f.parent.Move(oldAddr, newAddr)
	}

	return false
}

/*
Count returns the number of bindings in this field.
*/
func (f *Field) Count() int {
	return len(f.objects)
}

/*
Collect runs a collection step on this field and recurses into the
parent while depth allows it. Depth 1 is a partial (nursery only)
collection, depth FieldCount a full collection.
*/
func (f *Field) Collect(depth int) {
	f.collect()

	if depth > 1 && f.parent != nil {
		f.parent.Collect(depth - 1)
	}
}

/*
collect runs a single collection step on this field.

The step traces strong reachability from the root within this field,
then partitions the field table into retained and condemned entries.
Retained entries are promoted into the parent table - or into a
replacement table if this is the oldest field. An entry which is not
reached from the root is still retained if a strong incoming reference
originates in a surviving older generation; this is what makes
inter-generation references work without a write barrier.

Trivial reclamations are disabled while the table is partitioned: the
partitioning plans its own destruction list and edge callbacks firing
during the later drain must not condemn objects the plan has already
classified. By drain time the retained set has moved to the destination
table, so the field removal inside Condemn is safe.
*/
func (f *Field) collect() {
	col := f.col

	// Trace strong reachability from the root within this field

	reached := make(map[*Object]struct{})
	reached[col.root] = struct{}{}

	worklist := []*Object{col.root}

	for len(worklist) > 0 {
		obj := worklist[0]
		worklist = worklist[1:]

		for ref := range obj.owned {

			if ref.weak {
				continue
			}

			target := ref.target

			if target == obj {
				continue
			}

			// Objects outside this generation are not traversed - they
			// are already considered retained

			if f.objects[target.addr] != target {
				continue
			}

			if _, ok := reached[target]; !ok {
				reached[target] = struct{}{}
				worklist = append(worklist, target)
			}
		}
	}

	// Partition the field table

	col.disableTrivial = true

	var dest map[uintptr]*Object

	if f.parent != nil {
		dest = f.parent.objects
	} else {
		dest = make(map[uintptr]*Object)
	}

	condemn := make(map[uintptr]*Object)

	for addr, obj := range f.objects {
		_, retained := reached[obj]

		if !retained && f.parent != nil {
			retained = f.retainedByAncestor(obj)
		}

		if !retained {
			errorutil.AssertTrue(obj != col.root, "Root object ended up unreferenced")
			condemn[addr] = obj
			continue
		}

		dest[addr] = obj

		if f.parent != nil {
			col.events.PostEvent(EventObjectPromoted, addr)
		}
	}

	col.disableTrivial = false

	// Drain the condemnation queue in ascending address order so trace
	// output and finalizer order are deterministic

	addrs := make([]uint64, 0, len(condemn))
	for addr := range condemn {
		addrs = append(addrs, uint64(addr))
	}

	sortutil.UInt64s(addrs)

	for _, addr := range addrs {
		obj := condemn[uintptr(addr)]

		col.debug(fmt.Sprintf("-OBJ %#x (not connected to root in object graph)", obj.addr))
		obj.Condemn(nil)
	}

	if f.parent != nil {
		f.objects = make(map[uintptr]*Object)
	} else {
		f.objects = dest
	}
}

/*
retainedByAncestor checks whether a strong incoming reference of an
object originates in a surviving older generation.
*/
func (f *Field) retainedByAncestor(obj *Object) bool {
	for ref := range obj.pointing {

		if ref.weak {
			continue
		}

		if f.parent.Lookup(ref.owner.addr) != nil {
			return true
		}
	}

	return false
}
