// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// cdb64seal reads newline-delimited "key\tvalue" records and seals them
// into a cdb64 file. With -gen it generates synthetic records instead
// of reading stdin, the same role the teacher's cmd/gen-testdata plays
// for bit -- except here the generated records are sealed directly
// rather than printed, since cdb64's interesting behavior lives in the
// builder, not in test-data shape.
package main

import (
	"bufio"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"

	"github.com/cdb64/cdb64"
)

const (
	genPrefix    = "pref_"
	genSuffixLen = 16
	genHMACKey   = "d259c7f656caf7f1"
)

func main() {
	var (
		outPath    = flag.String("out", "", "path to the sealed output file (required)")
		inPath     = flag.String("in", "", "path to a key\\tvalue input file (default: stdin)")
		gen        = flag.Uint64("gen", 0, "generate N synthetic records instead of reading input")
		expected   = flag.Uint64("expected", 0, "expected element count (defaults to -gen, or 1<<16 when reading input)")
		loadFactor = flag.Float64("load-factor", 0, "override the default bucket load factor")
	)
	flag.Parse()

	if *outPath == "" {
		fmt.Fprintln(os.Stderr, "cdb64seal: -out is required")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	n := *expected
	if n == 0 {
		if *gen > 0 {
			n = *gen
		} else {
			n = 1 << 16
		}
	}

	opts := []cdb64.BuilderOption{cdb64.WithBuilderLogger(logger)}
	if *loadFactor > 0 {
		opts = append(opts, cdb64.WithLoadFactor(*loadFactor))
	}

	b, err := cdb64.NewBuilder(*outPath, n, opts...)
	if err != nil {
		logger.Error("cdb64.NewBuilder", "err", err)
		os.Exit(1)
	}

	if *gen > 0 {
		err = sealGenerated(b, *gen)
	} else {
		err = sealFromInput(b, *inPath)
	}
	if err != nil {
		logger.Error("sealing records", "err", err)
		os.Exit(1)
	}

	if err := b.Finish(); err != nil {
		logger.Error("Builder.Finish", "err", err)
		os.Exit(1)
	}

	logger.Info("sealed", "path", *outPath, "records", n)
}

func sealFromInput(b *cdb64.Builder, inPath string) error {
	in := io.Reader(os.Stdin)
	if inPath != "" {
		f, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("os.Open: %w", err)
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "\t")
		if !ok {
			return fmt.Errorf("cdb64seal: line %q missing a tab separator", line)
		}
		if err := b.Add([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("Builder.Add: %w", err)
		}
	}
	return scanner.Err()
}

func sealGenerated(b *cdb64.Builder, n uint64) error {
	rng := newRand()
	h := hmac.New(sha256.New, []byte(genHMACKey))

	for i := uint64(0); i < n; i++ {
		var buf [genSuffixLen / 2]byte
		if _, err := rng.Read(buf[:]); err != nil {
			return err
		}
		value := fmt.Sprintf("%s%x", genPrefix, buf)
		h.Reset()
		h.Write([]byte(value))
		key := hex.EncodeToString(h.Sum(nil))

		if err := b.Add([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("Builder.Add: %w", err)
		}
	}
	return nil
}

func newRand() *rand.Rand {
	var seedBytes [8]byte
	_, _ = crand.Read(seedBytes[:])
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	return rand.New(rand.NewSource(seed))
}
