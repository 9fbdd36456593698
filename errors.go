// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cdb64

import (
	"errors"

	"github.com/cdb64/cdb64/internal/calc"
)

// Sentinel errors a Builder or Reader can return. Several are simply
// re-exported from internal/calc so callers never need to import an
// internal package to errors.Is against them.
var (
	// ErrInvalidBucketPower is returned by NewBuilder when
	// expectedElements implies a bucket power outside [8, 28].
	ErrInvalidBucketPower = calc.ErrInvalidBucketPower

	// ErrOverflow is returned when a file position or byte-length
	// computation would wrap past the representable range.
	ErrOverflow = calc.ErrOverflow

	// ErrRadixTooLarge is returned by Finish when a single radix's
	// shard file reaches 2^31 bytes (about 128M entries in the worst
	// case, ~3.4*10^10 across all 256 radices).
	ErrRadixTooLarge = calc.ErrRadixTooLarge

	// ErrInternalInvariantViolated indicates open addressing failed to
	// place an entry -- a corrupted bucketCounts vector, not a user
	// error. It should never occur.
	ErrInternalInvariantViolated = calc.ErrInternalInvariantViolated

	// ErrAlreadySealed is returned by Add or Finish once a builder has
	// already been sealed.
	ErrAlreadySealed = errors.New("cdb64: builder already sealed")

	// ErrNotSealed is returned by Open when the magic bytes are
	// missing -- the file is either not a cdb64 file, or a builder
	// crashed between writing the data segment and patching the
	// header (spec section 9: "no transactional commit").
	ErrNotSealed = errors.New("cdb64: missing magic -- not a sealed cdb64 file, or sealing was interrupted")
)
