// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cdb64

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cdb64/cdb64/internal/calc"
	"github.com/cdb64/cdb64/internal/datafile"
	"github.com/cdb64/cdb64/internal/hashfn"
	"github.com/cdb64/cdb64/internal/mmap"
	"github.com/cdb64/cdb64/internal/unsafestring"
)

// Reader is a minimal, read-only view of a sealed cdb64 file. It is
// not part of the builder's core contract -- spec section 1 treats the
// reader as an external collaborator -- but the builder's own
// correctness properties (round-trip lookups, duplicate-key behavior)
// aren't checkable without one, so this module carries a small
// reference implementation: mmap the file, re-derive the hash, walk
// one bucket's open-addressed region.
type Reader struct {
	m *mmap.ReaderAt

	count       uint64
	bucketPower uint8
	dataStart   int64
}

// Open memory-maps path and validates its header.
func Open(path string) (*Reader, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap.Open(%s): %w", path, err)
	}

	data := m.Data()
	const fixedHeaderLen = 8 + 8 + 4
	if len(data) < len(calc.Magic)+fixedHeaderLen {
		_ = m.Close()
		return nil, fmt.Errorf("cdb64: file %s too short to hold a header", path)
	}
	if !bytes.Equal(data[:len(calc.Magic)], []byte(calc.Magic)) {
		_ = m.Close()
		return nil, ErrNotSealed
	}

	off := len(calc.Magic)
	version := binary.BigEndian.Uint64(data[off : off+8])
	if version != calc.Version {
		_ = m.Close()
		return nil, fmt.Errorf("cdb64: file %s has version %d, this reader supports %d", path, version, calc.Version)
	}
	count := binary.BigEndian.Uint64(data[off+8 : off+16])
	bucketPower := uint8(binary.BigEndian.Uint32(data[off+16 : off+20]))

	dataStart := int64(len(calc.Magic)) + fixedHeaderLen + int64(calc.Buckets(bucketPower))*calc.SlotSize

	return &Reader{
		m:           m,
		count:       count,
		bucketPower: bucketPower,
		dataStart:   dataStart,
	}, nil
}

// Close unmaps the underlying file.
func (r *Reader) Close() error {
	return r.m.Close()
}

// Len returns the number of records sealed into the file, duplicates
// included.
func (r *Reader) Len() uint64 {
	return r.count
}

func (r *Reader) bucketDirectoryEntry(bucket uint64) (fileOffset, size uint64) {
	data := r.m.Data()
	off := int64(len(calc.Magic)) + 8 + 8 + 4 + int64(bucket)*calc.SlotSize
	fileOffset = binary.BigEndian.Uint64(data[off : off+8])
	size = binary.BigEndian.Uint64(data[off+8 : off+16])
	return fileOffset, size
}

// Get returns the first value found for key, walking the bucket's
// open-addressed region starting from the same deterministic probe the
// sealer used to place it (calc.Probe(h, bucketSize)). If key was
// inserted more than once, Get returns one of its values,
// unspecified which; use GetAll for every value.
func (r *Reader) Get(key []byte) ([]byte, bool) {
	h := hashfn.Hash(key)
	bucket := calc.Bucket(h, r.bucketPower)
	fileOffset, size := r.bucketDirectoryEntry(bucket)
	if size == 0 {
		return nil, false
	}

	data := r.m.Data()
	probe := calc.Probe(int64(h), int64(size))

	for step := int64(0); step < int64(size); step++ {
		slot := (probe + step) % int64(size)
		slotOff := int64(fileOffset) + slot*calc.SlotSize
		slotH := binary.BigEndian.Uint64(data[slotOff : slotOff+8])
		recordOffset := binary.BigEndian.Uint64(data[slotOff+8 : slotOff+16])

		if recordOffset == 0 {
			// empty slot: since sealing placed every entry with no free
			// slots left over, an empty slot this early means the key
			// was never inserted.
			return nil, false
		}
		if slotH != h {
			continue
		}
		gotKey, value, err := datafile.ReadRecord(data, int64(recordOffset))
		if err != nil {
			continue
		}
		if bytes.Equal(gotKey, key) {
			return value, true
		}
	}

	return nil, false
}

// GetString is Get for a string key, avoiding the allocation a
// []byte(key) conversion would cost by reinterpreting the string's
// bytes directly -- safe here because Get only ever reads its key
// argument.
func (r *Reader) GetString(key string) ([]byte, bool) {
	return r.Get(unsafestring.ToBytes(key))
}

// GetAll returns every value sealed under key, in the order the
// sealer's per-radix, insertion-ordered merge placed them (spec section
// 5's ordering guarantee) -- which, after open-addressed placement, is
// simply bucket-scan order, not necessarily original insertion order.
func (r *Reader) GetAll(key []byte) [][]byte {
	h := hashfn.Hash(key)
	bucket := calc.Bucket(h, r.bucketPower)
	fileOffset, size := r.bucketDirectoryEntry(bucket)
	if size == 0 {
		return nil
	}

	data := r.m.Data()
	var values [][]byte
	for slot := int64(0); slot < int64(size); slot++ {
		slotOff := int64(fileOffset) + slot*calc.SlotSize
		slotH := binary.BigEndian.Uint64(data[slotOff : slotOff+8])
		recordOffset := binary.BigEndian.Uint64(data[slotOff+8 : slotOff+16])
		if recordOffset == 0 || slotH != h {
			continue
		}
		gotKey, value, err := datafile.ReadRecord(data, int64(recordOffset))
		if err != nil || !bytes.Equal(gotKey, key) {
			continue
		}
		values = append(values, value)
	}
	return values
}
