// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cdb64

import (
	"io"
	"log/slog"

	"github.com/cdb64/cdb64/internal/calc"
)

// BuilderOption configures a Builder. The zero value of builderOptions
// is always valid -- every option has a sane default, mirroring the
// teacher's WithBuilderLogger pattern.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	logger          *slog.Logger
	loadFactor      float64
	dataBufferSize  int
	spillBufferSize int
}

func defaultBuilderOptions() builderOptions {
	return builderOptions{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		loadFactor: calc.DefaultLoadFactor,
	}
}

// WithBuilderLogger sets an optional logger the builder uses for
// sealing progress. If not provided, no logging output is produced.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(opts *builderOptions) {
		opts.logger = logger
	}
}

// WithLoadFactor overrides the expected elements-per-bucket ratio used
// to size the bucket directory (spec section 3's external Calculations
// contract). Smaller values grow the directory, trading memory for a
// shorter expected probe sequence.
func WithLoadFactor(loadFactor float64) BuilderOption {
	return func(opts *builderOptions) {
		opts.loadFactor = loadFactor
	}
}

// WithDataBufferSize overrides the buffered-writer size used for the
// data segment.
func WithDataBufferSize(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.dataBufferSize = n
	}
}

// WithSpillBufferSize overrides the buffered-writer size used for each
// of the 256 radix shard files.
func WithSpillBufferSize(n int) BuilderOption {
	return func(opts *builderOptions) {
		opts.spillBufferSize = n
	}
}
