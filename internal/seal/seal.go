// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package seal implements Finish's one-shot merge: it reads back the
// 256 radix shard files the appender wrote, places each (hash, offset)
// pair into its bucket's open-addressed slot region, appends the
// resulting hash-table segment to the data file, writes the bucket
// directory, and patches the header. It is a total function of the
// collected bucket counts, record count, and shard files -- it never
// re-hashes a key.
package seal

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"github.com/cdb64/cdb64/internal/calc"
	"github.com/cdb64/cdb64/internal/spill"
)

// Params bundles everything the sealer needs that the appender
// accumulated during Add.
type Params struct {
	DataFile       *os.File
	DataPath       string
	DataSegmentEnd int64
	BucketCounts   []uint64 // length 2^P
	BucketPower    uint8
	Count          uint64
	Logger         *slog.Logger
}

// Seal performs steps 2-6 of Finish. Step 1 (closing the data and shard
// write streams) is the caller's responsibility, since the caller owns
// those handles.
func Seal(p Params) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	buckets := calc.Buckets(p.BucketPower)
	if uint64(len(p.BucketCounts)) != buckets {
		return fmt.Errorf("cdb64: bucketCounts has %d entries, want %d", len(p.BucketCounts), buckets)
	}

	bucketOffsets := computeBucketOffsets(p.BucketCounts)

	if err := buildHashTableSegment(p, bucketOffsets, logger); err != nil {
		return err
	}

	directory := buildBucketDirectory(p.DataSegmentEnd, bucketOffsets, p.BucketCounts)
	return finishSeal(p, directory)
}

// computeBucketOffsets returns the prefix sum of bucketCounts: the
// slot index at which each bucket's region begins within the
// hash-table segment.
func computeBucketOffsets(bucketCounts []uint64) []uint64 {
	offsets := make([]uint64, len(bucketCounts))
	var cur uint64
	for i, c := range bucketCounts {
		offsets[i] = cur
		cur += c
	}
	return offsets
}

// buildHashTableSegment performs step 3: for each radix in ascending
// order, merge that radix's shard file into an open-addressed image
// and write it to the data file, the first image at DataSegmentEnd and
// each later one directly after the previous.
func buildHashTableSegment(p Params, bucketOffsets []uint64, logger *slog.Logger) error {
	pos := p.DataSegmentEnd
	for radix := 0; radix < calc.RadixFileCount; radix++ {
		hs, offsets, byteLen, err := spill.ReadAll(p.DataPath, uint8(radix))
		if err != nil {
			return fmt.Errorf("spill.ReadAll(radix %d): %w", radix, err)
		}
		if byteLen == 0 {
			continue
		}

		n := len(hs)
		output := make([]uint64, n*2) // interleaved (h, offset) pairs, zero-initialized

		for i := 0; i < n; i++ {
			h := hs[i]
			offset := offsets[i]

			b := calc.Bucket(h, p.BucketPower)
			base := calc.BaseBucket(h, p.BucketPower)

			regionStart := bucketOffsets[b] - bucketOffsets[base]
			bucketLen := p.BucketCounts[b]
			if bucketLen == 0 {
				return fmt.Errorf("%w: bucket %d has zero capacity but received an entry", calc.ErrInternalInvariantViolated, b)
			}

			probe := calc.Probe(int64(h), int64(bucketLen))
			slot := int64(regionStart) + probe

			placed := false
			for step := int64(0); step < int64(bucketLen); step++ {
				idx := slot * 2
				if output[idx+1] == 0 {
					output[idx] = h
					output[idx+1] = offset
					placed = true
					break
				}
				if bucketLen == 1 {
					return fmt.Errorf("%w: collision in bucket %d of size 1", calc.ErrInternalInvariantViolated, b)
				}
				slot++
				if slot >= int64(regionStart)+int64(bucketLen) {
					slot = int64(regionStart)
				}
			}
			if !placed {
				return fmt.Errorf("%w: exhausted probe sequence for bucket %d", calc.ErrInternalInvariantViolated, b)
			}
		}

		buf := make([]byte, n*calc.SlotSize)
		for i := 0; i < n*2; i++ {
			binary.BigEndian.PutUint64(buf[i*8:i*8+8], output[i])
		}
		if _, err := p.DataFile.WriteAt(buf, pos); err != nil {
			return fmt.Errorf("writing hash-table segment for radix %d: %w", radix, err)
		}
		pos += int64(len(buf))

		logger.Info("sealed radix", "radix", radix, "entries", n)
	}

	return nil
}

// buildBucketDirectory performs step 4: B pairs of
// (bucketFileOffset, bucketSize), big-endian.
func buildBucketDirectory(dataSegmentEnd int64, bucketOffsets, bucketCounts []uint64) []byte {
	buckets := len(bucketCounts)
	buf := make([]byte, buckets*calc.SlotSize)
	for b := 0; b < buckets; b++ {
		fileOffset := uint64(dataSegmentEnd) + bucketOffsets[b]*calc.SlotSize
		binary.BigEndian.PutUint64(buf[b*calc.SlotSize:b*calc.SlotSize+8], fileOffset)
		binary.BigEndian.PutUint64(buf[b*calc.SlotSize+8:b*calc.SlotSize+16], bucketCounts[b])
	}
	return buf
}

// finishSeal performs step 5 (patch the header) and step 6 (delete
// shard files).
func finishSeal(p Params, directory []byte) error {
	const fixedHeaderLen = 8 + 8 + 4 // version + count + bucket power, after the magic
	header := make([]byte, len(calc.Magic)+fixedHeaderLen)
	copy(header, calc.Magic)
	binary.BigEndian.PutUint64(header[len(calc.Magic):len(calc.Magic)+8], calc.Version)
	binary.BigEndian.PutUint64(header[len(calc.Magic)+8:len(calc.Magic)+16], p.Count)
	binary.BigEndian.PutUint32(header[len(calc.Magic)+16:len(calc.Magic)+20], uint32(p.BucketPower))

	if _, err := p.DataFile.WriteAt(header, 0); err != nil {
		return fmt.Errorf("patching header: %w", err)
	}
	if _, err := p.DataFile.WriteAt(directory, int64(len(header))); err != nil {
		return fmt.Errorf("writing bucket directory: %w", err)
	}

	for radix := 0; radix < calc.RadixFileCount; radix++ {
		if err := spill.Remove(p.DataPath, uint8(radix)); err != nil {
			return fmt.Errorf("removing shard %d: %w", radix, err)
		}
	}

	return nil
}
