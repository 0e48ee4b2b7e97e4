/*
 * TraceGC
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

//go:build windows

package heap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

/*
osAlloc commits zero-filled pages. The returned slice is rounded up to
whole pages so the capacity of a region is always known.
*/
func osAlloc(size int) ([]byte, error) {
	pageSize := os.Getpagesize()
	rounded := (size + pageSize - 1) / pageSize * pageSize

	addr, err := windows.VirtualAlloc(0, uintptr(rounded),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), rounded), nil
}

/*
osFree releases committed pages.
*/
func osFree(buf []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&buf[0])), 0,
		windows.MEM_RELEASE)
}
