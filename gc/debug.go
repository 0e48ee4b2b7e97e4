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
	"bytes"
	"fmt"

	"devt.de/krotik/common/bitutil"
	"devt.de/krotik/common/pools"
	"devt.de/krotik/common/sortutil"
	"devt.de/krotik/common/stringutil"
)

/*
BufferPool is a pool of byte buffers used for building diagnostic output.
*/
var BufferPool = pools.NewByteBufferPool()

/*
Stats returns runtime statistics of the collector: per field object
counts, collections run, objects reclaimed and finalizers invoked.
*/
func (c *Collector) Stats() map[string]interface{} {
	c.assertInitialized()

	c.lock.ReadLock()
	defer c.lock.ReadUnlock()

	fields := make([]int, 0, FieldCount)
	for f := c.youngest; f != nil; f = f.parent {
		fields = append(fields, f.Count())
	}

	return map[string]interface{}{
		"fields":          fields,
		"collections":     c.collections,
		"reclaimed":       c.reclaimed,
		"finalizers_run":  c.finalizersRun,
		"last_collection": c.lastCollection,
	}
}

/*
TraceHistory returns the most recent trace messages. The history is only
kept if tracing is enabled in the configuration.
*/
func (c *Collector) TraceHistory() []string {
	return c.trace.StringSlice()
}

/*
Dump returns a human-readable listing of every tracked object, its
generation, its edge counts and a hex dump of collector-owned storage.
*/
func (c *Collector) Dump() string {
	c.assertInitialized()

	c.lock.ReadLock()
	defer c.lock.ReadUnlock()

	buf := BufferPool.Get().(*bytes.Buffer)

	defer func() {
		buf.Reset()
		BufferPool.Put(buf)
	}()

	generation := 0

	for f := c.youngest; f != nil; f = f.parent {

		buf.WriteString(fmt.Sprintf("Field %v - %v object%v\n", generation,
			f.Count(), stringutil.Plural(f.Count())))

		addrs := make([]uint64, 0, len(f.objects))
		for addr := range f.objects {
			addrs = append(addrs, uint64(addr))
		}

		sortutil.UInt64s(addrs)

		for _, addr := range addrs {
			obj := f.objects[uintptr(addr)]

			buf.WriteString(fmt.Sprintf("  %#x owned:%v pointing:%v",
				obj.addr, len(obj.owned), len(obj.pointing)))

			if obj == c.root {
				buf.WriteString(" (root)")
			}

			if obj.selfAllocated > 0 {
				buf.WriteString(fmt.Sprintf(" self-allocated:%v",
					bitutil.ByteSizeString(int64(obj.selfAllocated), false)))
			}

			buf.WriteString("\n")

			if obj.selfAllocated > 0 {
				if data, err := c.heap.Access(obj.addr); err == nil {
					buf.WriteString(bitutil.HexDump(data))
				}
			}
		}

		generation++
	}

	return buf.String()
}
