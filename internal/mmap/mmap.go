// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap memory-maps a sealed cdb64 file read-only, the same way
// the teacher's internal/exp/mmap backs its datafile.Reader. Lookups
// against a sealed file are random by construction (that's the whole
// point of the hash table), so the mapping is advised MADV_RANDOM.
package mmap

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReaderAt is a read-only view of a file's entire contents, mapped into
// the process's address space.
type ReaderAt struct {
	data []byte
}

// Open maps the file at path read-only.
func Open(path string) (*ReaderAt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	size := fi.Size()
	if size == 0 {
		return &ReaderAt{data: nil}, nil
	}
	if size < 0 || int64(int(size)) != size {
		return nil, fmt.Errorf("cdb64: file %s too large to map (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap: %w", err)
	}

	if err := unix.Madvise(data, syscall.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("unix.Madvise: %w", err)
	}

	return &ReaderAt{data: data}, nil
}

// Data returns the mapped bytes. Callers must not write to the slice.
func (r *ReaderAt) Data() []byte {
	return r.data
}

// Len returns the length of the mapped region.
func (r *ReaderAt) Len() int {
	return len(r.data)
}

// Close unmaps the region.
func (r *ReaderAt) Close() error {
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	return unix.Munmap(data)
}
