// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hashfn supplies the Murmur-family 64-bit hash the builder and
// reader use to place keys into buckets. The rest of this module treats
// the hash as an external collaborator -- a pure function of the key
// bytes -- and never re-derives it once computed.
package hashfn

import "github.com/spaolacci/murmur3"

// Hash returns the 64-bit murmur3 hash of key, seeded with 0. Two equal
// byte slices always hash equal; this is the only property the builder
// and sealer rely on.
func Hash(key []byte) uint64 {
	return murmur3.Sum64(key)
}
