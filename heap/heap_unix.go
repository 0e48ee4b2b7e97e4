/*
 * TraceGC
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

//go:build !windows

package heap

import (
	"os"

	"golang.org/x/sys/unix"
)

/*
osAlloc maps anonymous zero-filled pages. The returned slice is rounded up
to whole pages so the capacity of a region is always known.
*/
func osAlloc(size int) ([]byte, error) {
	pageSize := os.Getpagesize()
	rounded := (size + pageSize - 1) / pageSize * pageSize

	return unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
}

/*
osFree releases mapped pages.
*/
func osFree(buf []byte) error {
	return unix.Munmap(buf)
}
