/*
 * TraceGC
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package heap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateAndFree(t *testing.T) {
	h := NewHeap()

	addr, err := h.Allocate(64)
	require.NoError(t, err)
	require.NotZero(t, addr)
	require.Equal(t, 1, h.Count())

	size, err := h.Size(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(64), size)

	// New regions are zero-filled

	buf, err := h.Access(addr)
	require.NoError(t, err)
	require.Len(t, buf, 64)

	for _, b := range buf {
		require.Zero(t, b)
	}

	require.NoError(t, h.Free(addr))
	require.Equal(t, 0, h.Count())

	err = h.Free(addr)
	require.Error(t, err)
	require.Equal(t, ErrUnknownAddress, err.(*Error).Type)
	require.Contains(t, err.Error(), "HeapError")
}

func TestAllocateInvalidSize(t *testing.T) {
	h := NewHeap()

	_, err := h.Allocate(0)
	require.Error(t, err)
	require.Equal(t, ErrInvalidSize, err.(*Error).Type)

	_, err = h.Resize(0, 0)
	require.Error(t, err)
	require.Equal(t, ErrInvalidSize, err.(*Error).Type)
}

func TestResizeInPlace(t *testing.T) {
	h := NewHeap()

	addr, err := h.Allocate(16)
	require.NoError(t, err)

	buf, _ := h.Access(addr)
	copy(buf, []byte("some test data"))

	// Growing within the mapped capacity keeps the region in place

	newAddr, err := h.Resize(addr, uint64(os.Getpagesize()))
	require.NoError(t, err)
	require.Equal(t, addr, newAddr)

	size, _ := h.Size(addr)
	require.Equal(t, uint64(os.Getpagesize()), size)

	buf, _ = h.Access(addr)
	require.Equal(t, []byte("some test data"), buf[:14])

	require.NoError(t, h.Free(addr))
}

func TestResizeMoving(t *testing.T) {
	h := NewHeap()

	addr, err := h.Allocate(16)
	require.NoError(t, err)

	buf, _ := h.Access(addr)
	copy(buf, []byte("some test data"))

	// Growing beyond the capacity maps a new region and copies the data

	newAddr, err := h.Resize(addr, uint64(os.Getpagesize()*4))
	require.NoError(t, err)
	require.NotEqual(t, addr, newAddr)
	require.Equal(t, 1, h.Count())

	_, err = h.Size(addr)
	require.Error(t, err)

	buf, err = h.Access(newAddr)
	require.NoError(t, err)
	require.Equal(t, []byte("some test data"), buf[:14])

	require.NoError(t, h.Free(newAddr))
}

func TestUnknownAddress(t *testing.T) {
	h := NewHeap()

	_, err := h.Size(42)
	require.Error(t, err)
	require.Equal(t, ErrUnknownAddress, err.(*Error).Type)

	_, err = h.Access(42)
	require.Error(t, err)

	_, err = h.Resize(42, 100)
	require.Error(t, err)
}
