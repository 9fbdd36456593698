// Copyright 2024 The cdb64 Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidOffset is returned when a lookup follows a zero offset --
// zero is never a valid record offset because the header region always
// occupies the start of the file.
var ErrInvalidOffset = errors.New("cdb64: invalid record offset")

// ReadRecord reads the framed record at byte offset off within data
// (the full contents of a sealed file, however it's backed -- an mmap
// region or a plain in-memory buffer).
func ReadRecord(data []byte, off int64) (key, value []byte, err error) {
	if off == 0 {
		return nil, nil, ErrInvalidOffset
	}
	if off < 0 || off+RecordHeaderSize > int64(len(data)) {
		return nil, nil, fmt.Errorf("cdb64: record offset %d out of bounds (len %d)", off, len(data))
	}

	header := data[off : off+RecordHeaderSize]
	keyLen := int64(binary.BigEndian.Uint32(header[0:4]))
	valueLen := int64(binary.BigEndian.Uint32(header[4:8]))

	recordEnd := off + RecordHeaderSize + keyLen + valueLen
	if keyLen < 0 || valueLen < 0 || recordEnd > int64(len(data)) {
		return nil, nil, fmt.Errorf("cdb64: record at %d (keyLen %d, valueLen %d) out of bounds (len %d)", off, keyLen, valueLen, len(data))
	}

	key = data[off+RecordHeaderSize : off+RecordHeaderSize+keyLen]
	value = data[off+RecordHeaderSize+keyLen : recordEnd]

	return key, value, nil
}
