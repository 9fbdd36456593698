// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cdb64

import (
	"crypto/sha256"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cdb64/cdb64/internal/calc"
	"github.com/cdb64/cdb64/internal/hashfn"
)

func sealPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.cdb64")
}

// TestEmptyFile covers spec section 8 scenario 1: expectedElements=0
// produces a valid, fully-header-populated, zero-record file.
func TestEmptyFile(t *testing.T) {
	path := sealPath(t)

	b, err := NewBuilder(path, 0)
	require.NoError(t, err)
	require.NoError(t, b.Finish())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, calc.TotalHeaderLen(calc.Buckets(calc.MinBucketPower)), fi.Size())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte(calc.Magic), data[:len(calc.Magic)])

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.EqualValues(t, 0, r.Len())

	_, ok := r.Get([]byte("anything"))
	require.False(t, ok)
}

// TestSingleEntry covers spec section 8 scenario 2.
func TestSingleEntry(t *testing.T) {
	path := sealPath(t)

	b, err := NewBuilder(path, 1)
	require.NoError(t, err)
	require.NoError(t, b.Add([]byte("a"), []byte("b")))
	require.NoError(t, b.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.EqualValues(t, 1, r.Len())
	value, ok := r.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("b"), value)

	_, ok = r.Get([]byte("nope"))
	require.False(t, ok)
}

// findBucketCollision searches a deterministic sequence of candidate
// keys for two whose hashes land in the same bucket (at bucket power
// p) but differ, so the sealer has to resolve a real collision -- spec
// section 8 scenario 3.
func findBucketCollision(p uint8) (k1, k2 string) {
	seen := make(map[uint64]string)
	for i := 0; ; i++ {
		k := fmt.Sprintf("collision-probe-%d", i)
		h := hashfn.Hash([]byte(k))
		b := calc.Bucket(h, p)
		if other, ok := seen[b]; ok {
			return other, k
		}
		seen[b] = k
		if i > 1_000_000 {
			panic("no collision found in a million probes")
		}
	}
}

func TestTwoEntriesCollideInSameBucket(t *testing.T) {
	const p = 8 // smallest legal bucket power -- only 256 buckets, collisions are easy to find
	k1, k2 := findBucketCollision(p)

	path := sealPath(t)
	b, err := NewBuilder(path, 1, WithLoadFactor(1<<p)) // forces BucketPower == p
	require.NoError(t, err)
	require.NoError(t, b.Add([]byte(k1), []byte("v1")))
	require.NoError(t, b.Add([]byte(k2), []byte("v2")))
	require.NoError(t, b.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.EqualValues(t, p, r.bucketPower)

	v1, ok := r.Get([]byte(k1))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v1)

	v2, ok := r.Get([]byte(k2))
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v2)
}

// TestDeterminism covers spec section 8 scenario 4: two builders fed
// identical sequences produce byte-identical sealed files.
func TestDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	type kv struct{ k, v []byte }
	pairs := make([]kv, 10_000)
	for i := range pairs {
		k := make([]byte, 8+rng.Intn(24))
		v := make([]byte, rng.Intn(64))
		rng.Read(k)
		rng.Read(v)
		pairs[i] = kv{k, v}
	}

	seal := func(path string) []byte {
		b, err := NewBuilder(path, uint64(len(pairs)))
		require.NoError(t, err)
		for _, p := range pairs {
			require.NoError(t, b.Add(p.k, p.v))
		}
		require.NoError(t, b.Finish())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data
	}

	dir := t.TempDir()
	data1 := seal(filepath.Join(dir, "a.cdb64"))
	data2 := seal(filepath.Join(dir, "b.cdb64"))

	require.Equal(t, sha256.Sum256(data1), sha256.Sum256(data2))
}

// TestDuplicateKeys covers spec section 8 scenario 5.
func TestDuplicateKeys(t *testing.T) {
	path := sealPath(t)

	b, err := NewBuilder(path, 2)
	require.NoError(t, err)
	require.NoError(t, b.Add([]byte("k"), []byte("v1")))
	require.NoError(t, b.Add([]byte("k"), []byte("v2")))
	require.NoError(t, b.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	values := r.GetAll([]byte("k"))
	require.Len(t, values, 2)
	require.ElementsMatch(t, [][]byte{[]byte("v1"), []byte("v2")}, values)
}

// TestSizing covers spec section 8 scenario 6: the sealed file's total
// size equals totalHeader + data bytes + count*16.
func TestSizing(t *testing.T) {
	const n = 5000
	path := sealPath(t)

	b, err := NewBuilder(path, n)
	require.NoError(t, err)

	var dataBytes int64
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%06d", i))
		v := []byte(fmt.Sprintf("value-%06d", i))
		require.NoError(t, b.Add(k, v))
		dataBytes += 8 + int64(len(k)) + int64(len(v)) // RecordHeaderSize == 8
	}
	require.NoError(t, b.Finish())

	wantP, err := calc.BucketPower(n, calc.DefaultLoadFactor)
	require.NoError(t, err)

	fi, err := os.Stat(path)
	require.NoError(t, err)

	wantSize := calc.TotalHeaderLen(calc.Buckets(wantP)) + dataBytes + n*calc.SlotSize
	require.EqualValues(t, wantSize, fi.Size())
}

// TestEmptyKeyOrValue covers spec section 8's "keyLen = 0 or valueLen =
// 0" boundary case.
func TestEmptyKeyOrValue(t *testing.T) {
	path := sealPath(t)
	b, err := NewBuilder(path, 2)
	require.NoError(t, err)
	require.NoError(t, b.Add(nil, []byte("value")))
	require.NoError(t, b.Add([]byte("key"), nil))
	require.NoError(t, b.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	v, ok := r.Get(nil)
	require.True(t, ok)
	require.Equal(t, []byte("value"), v)

	v, ok = r.Get([]byte("key"))
	require.True(t, ok)
	require.Empty(t, v)
}

func TestAddAfterFinishFails(t *testing.T) {
	path := sealPath(t)
	b, err := NewBuilder(path, 1)
	require.NoError(t, err)
	require.NoError(t, b.Finish())

	require.ErrorIs(t, b.Add([]byte("k"), []byte("v")), ErrAlreadySealed)
	require.ErrorIs(t, b.Finish(), ErrAlreadySealed)
}

func TestInvalidBucketPowerRejected(t *testing.T) {
	// 2^28 buckets * DefaultLoadFactor elements per bucket + 1 pushes P past 28.
	tooMany := uint64(1)<<calc.MaxBucketPower*uint64(calc.DefaultLoadFactor) + 1
	_, err := NewBuilder(filepath.Join(t.TempDir(), "x.cdb64"), tooMany)
	require.ErrorIs(t, err, ErrInvalidBucketPower)
}
