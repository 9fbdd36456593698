// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package spill implements the transient per-radix (hash, offset) shard
// files the appender writes during Add and the sealer reads back during
// Finish. Each shard is a flat run of 16-byte big-endian (h, offset)
// pairs for every record whose top 8 hash bits match that radix.
package spill

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cdb64/cdb64/internal/calc"
)

const (
	entrySize         = 16
	defaultBufferSize = 64 * 1024
)

// PathFor returns the spill file path for radix i of the dataFile at
// dataPath, e.g. "/tmp/out.list.0A".
func PathFor(dataPath string, radix uint8) string {
	return fmt.Sprintf("%s.list.%02X", dataPath, radix)
}

// Writer appends (h, offset) pairs to one radix's shard file.
type Writer struct {
	f   *os.File
	w   *bufio.Writer
	len int64
}

// Create opens (truncating if necessary) the shard file for radix i,
// buffered with bufSize bytes (0 selects defaultBufferSize).
func Create(dataPath string, radix uint8, bufSize int) (*Writer, error) {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	f, err := os.Create(PathFor(dataPath, radix))
	if err != nil {
		return nil, fmt.Errorf("os.Create: %w", err)
	}
	return &Writer{
		f: f,
		w: bufio.NewWriterSize(f, bufSize),
	}, nil
}

// Put appends one (h, offset) entry.
func (w *Writer) Put(h, offset uint64) error {
	var buf [entrySize]byte
	binary.BigEndian.PutUint64(buf[0:8], h)
	binary.BigEndian.PutUint64(buf[8:16], offset)
	n, err := w.w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("bufio.Write: %w", err)
	}
	w.len += int64(n)
	return nil
}

// Close flushes and closes the shard file. The file is left on disk for
// the sealer to read; call Remove to delete it afterward.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	return w.f.Close()
}

// Remove deletes this radix's shard file from disk.
func (w *Writer) Remove() error {
	return os.Remove(w.f.Name())
}

// Path returns the path of this radix's shard file.
func (w *Writer) Path() string {
	return w.f.Name()
}

// ReadAll reads radix i's shard file in its entirety into memory,
// returning one (h, offset) pair per entry in insertion order. The
// sealer processes one radix at a time, so this is bounded by the
// single largest shard, not the whole dataset. A shard file that does
// not exist reads as empty: nil slices, zero length, no error.
func ReadAll(dataPath string, radix uint8) (hs []uint64, offsets []uint64, byteLen int64, err error) {
	path := PathFor(dataPath, radix)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, 0, nil
		}
		return nil, nil, 0, fmt.Errorf("os.Open: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("f.Stat: %w", err)
	}
	byteLen = fi.Size()
	if byteLen == 0 {
		return nil, nil, 0, nil
	}
	if byteLen%entrySize != 0 {
		return nil, nil, 0, fmt.Errorf("spill file %s has unaligned length %d", path, byteLen)
	}
	if byteLen > math.MaxInt32 {
		return nil, nil, 0, fmt.Errorf("%w: radix %d shard is %d bytes", calc.ErrRadixTooLarge, radix, byteLen)
	}

	buf := make([]byte, byteLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, nil, 0, fmt.Errorf("io.ReadFull: %w", err)
	}

	n := int(byteLen / entrySize)
	hs = make([]uint64, n)
	offsets = make([]uint64, n)
	for i := 0; i < n; i++ {
		off := i * entrySize
		hs[i] = binary.BigEndian.Uint64(buf[off : off+8])
		offsets[i] = binary.BigEndian.Uint64(buf[off+8 : off+16])
	}

	return hs, offsets, byteLen, nil
}

// Remove deletes the shard file for radix i at dataPath, ignoring a
// missing file (a radix with zero entries is never created by Create
// in some callers' paths, but always is in this module's appender).
func Remove(dataPath string, radix uint8) error {
	err := os.Remove(PathFor(dataPath, radix))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
