// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package spill

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "out.data")

	w, err := Create(dataPath, 0x0A, 0)
	require.NoError(t, err)

	entries := []struct{ h, off uint64 }{
		{0x0A00000000000001, 128},
		{0x0Aff000000000002, 256},
		{0x0A00000000000003, 512},
	}
	for _, e := range entries {
		require.NoError(t, w.Put(e.h, e.off))
	}
	require.NoError(t, w.Close())

	hs, offsets, byteLen, err := ReadAll(dataPath, 0x0A)
	require.NoError(t, err)
	require.EqualValues(t, len(entries)*entrySize, byteLen)
	require.Len(t, hs, len(entries))
	for i, e := range entries {
		require.Equal(t, e.h, hs[i])
		require.Equal(t, e.off, offsets[i])
	}

	require.NoError(t, Remove(dataPath, 0x0A))
	_, _, byteLen, err = ReadAll(dataPath, 0x0A)
	require.NoError(t, err)
	require.Zero(t, byteLen)
}

func TestReadAllEmptyShard(t *testing.T) {
	dataPath := filepath.Join(t.TempDir(), "out.data")
	hs, offsets, byteLen, err := ReadAll(dataPath, 0x00)
	require.NoError(t, err) // no shard was ever created at this path: it reads as empty
	require.Nil(t, hs)
	require.Nil(t, offsets)
	require.Zero(t, byteLen)
}

func TestPathFor(t *testing.T) {
	require.Equal(t, "/tmp/x.list.0A", PathFor("/tmp/x", 0x0A))
	require.Equal(t, "/tmp/x.list.FF", PathFor("/tmp/x", 0xFF))
	require.Equal(t, "/tmp/x.list.00", PathFor("/tmp/x", 0x00))
}
