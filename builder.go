// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package cdb64 builds and reads immutable, content-addressed hash
// files inspired by DJB's CDB format, generalized to 64-bit hash codes
// and 64-bit file offsets. A Builder streams an unbounded number of
// (key, value) pairs to disk -- sharding their hashes into 256 radix
// spill files as it goes -- then Finish merges the shards into a
// contiguous, collision-resolved open-addressed hash table at the tail
// of the file and patches the header last, so a half-written file is
// always detectable by its absent magic bytes.
package cdb64

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cdb64/cdb64/internal/calc"
	"github.com/cdb64/cdb64/internal/datafile"
	"github.com/cdb64/cdb64/internal/hashfn"
	"github.com/cdb64/cdb64/internal/seal"
	"github.com/cdb64/cdb64/internal/spill"
)

// Builder constructs a sealed cdb64 file from a stream of (key, value)
// pairs. The zero value is not usable; construct one with NewBuilder.
//
// Builder is not safe for concurrent use from multiple goroutines --
// spec section 5 scopes concurrent insertion from multiple writers out
// entirely -- but Add and Finish are internally serialized by a mutex
// so a single caller can't corrupt state by racing itself (e.g. a
// deferred Finish firing while another goroutine is mid-Add).
type Builder struct {
	mu sync.Mutex

	resultPath string
	tempPath   string
	dataFile   *os.File
	dw         *datafile.Writer

	bucketPower  uint8
	bucketCounts []uint64
	spillWriters [calc.RadixFileCount]*spill.Writer

	count  uint64
	sealed atomic.Bool

	logger *slog.Logger
}

// NewBuilder creates a Builder that will, once Finish is called,
// produce a sealed hash file at dataFilePath. expectedElements sizes
// the bucket directory (spec section 3); it need not be exact, only in
// the right ballpark, since buckets each hold an arbitrary number of
// entries via open addressing.
func NewBuilder(dataFilePath string, expectedElements uint64, opts ...BuilderOption) (*Builder, error) {
	options := defaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	bucketPower, err := calc.BucketPower(expectedElements, options.loadFactor)
	if err != nil {
		return nil, err
	}

	resultPath, err := filepath.Abs(dataFilePath)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}
	dir := filepath.Dir(resultPath)

	dataFile, err := os.CreateTemp(dir, "cdb64-builder.*.data")
	if err != nil {
		return nil, fmt.Errorf("os.CreateTemp failed (may need permissions for dir %q): %w", dir, err)
	}

	buckets := calc.Buckets(bucketPower)
	headerLen := calc.TotalHeaderLen(buckets)
	if _, err := dataFile.Write(make([]byte, headerLen)); err != nil {
		_ = dataFile.Close()
		_ = os.Remove(dataFile.Name())
		return nil, fmt.Errorf("reserving header region: %w", err)
	}

	b := &Builder{
		resultPath:   resultPath,
		tempPath:     dataFile.Name(),
		dataFile:     dataFile,
		dw:           datafile.NewWriter(dataFile, options.dataBufferSize, headerLen),
		bucketPower:  bucketPower,
		bucketCounts: make([]uint64, buckets),
		logger:       options.logger,
	}

	for radix := 0; radix < calc.RadixFileCount; radix++ {
		w, err := spill.Create(b.tempPath, uint8(radix), options.spillBufferSize)
		if err != nil {
			b.abortLocked()
			return nil, fmt.Errorf("spill.Create(radix %d): %w", radix, err)
		}
		b.spillWriters[radix] = w
	}

	return b, nil
}

// Add appends a (key, value) pair to the table. Keys need not be
// unique -- duplicates are preserved, and lookup semantics for
// duplicate keys are a Reader concern, not this builder's.
func (b *Builder) Add(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed.Load() {
		return ErrAlreadySealed
	}

	recordLen := int64(datafile.RecordHeaderSize + len(key) + len(value))
	if _, err := calc.Advance(b.dw.Offset(), recordLen); err != nil {
		return err
	}

	off, err := b.dw.Write(key, value)
	if err != nil {
		return fmt.Errorf("cdb64: writing record: %w", err)
	}

	h := hashfn.Hash(key)
	radix := calc.Radix(h)
	bucket := calc.Bucket(h, b.bucketPower)

	if err := b.spillWriters[radix].Put(h, uint64(off)); err != nil {
		return fmt.Errorf("cdb64: writing radix shard %d: %w", radix, err)
	}

	b.bucketCounts[bucket]++
	b.count++

	return nil
}

// Put is an alias for Add, matching the name used by CDB-family
// implementations and the teacher's own Builder.Put.
func (b *Builder) Put(key, value []byte) error {
	return b.Add(key, value)
}

// Finish seals the table: it flushes the data segment, merges the 256
// radix shards into the hash-table segment, writes the bucket
// directory, patches the header, and atomically renames the temp file
// into place. A second call to Finish fails with ErrAlreadySealed.
func (b *Builder) Finish() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed.Swap(true) {
		return ErrAlreadySealed
	}

	dataSegmentEnd := b.dw.Offset()
	if err := b.dw.Flush(); err != nil {
		return fmt.Errorf("cdb64: flushing data segment: %w", err)
	}

	for radix, w := range b.spillWriters {
		if err := w.Close(); err != nil {
			return fmt.Errorf("cdb64: closing radix shard %d: %w", radix, err)
		}
	}

	if err := seal.Seal(seal.Params{
		DataFile:       b.dataFile,
		DataPath:       b.tempPath,
		DataSegmentEnd: dataSegmentEnd,
		BucketCounts:   b.bucketCounts,
		BucketPower:    b.bucketPower,
		Count:          b.count,
		Logger:         b.logger,
	}); err != nil {
		return fmt.Errorf("cdb64: sealing: %w", err)
	}

	if err := b.dataFile.Sync(); err != nil {
		return fmt.Errorf("cdb64: syncing sealed file: %w", err)
	}
	if err := os.Chmod(b.tempPath, 0444); err != nil {
		return fmt.Errorf("cdb64: os.Chmod(0444): %w", err)
	}
	if err := b.dataFile.Close(); err != nil {
		return fmt.Errorf("cdb64: closing sealed file: %w", err)
	}
	if err := os.Rename(b.tempPath, b.resultPath); err != nil {
		return fmt.Errorf("cdb64: os.Rename: %w", err)
	}

	return nil
}

// abortLocked cleans up partially-created state when NewBuilder fails
// partway through opening its 256 shard files. Not part of the core
// contract (spec section 5 notes abort is an implementation nicety,
// not a specified operation), but leaving 256 open file descriptors
// and a temp file behind on a construction error would be rude.
func (b *Builder) abortLocked() {
	for _, w := range b.spillWriters {
		if w == nil {
			continue
		}
		_ = w.Close()
		_ = w.Remove()
	}
	if b.dataFile != nil {
		_ = b.dataFile.Close()
		_ = os.Remove(b.dataFile.Name())
	}
}
