// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mbrstructs provides codecs for MBR on-disk structures.
package mbrstructs

import (
	"encoding/binary"
	"fmt"
)

const (
	// SectorSize is the size of the MBR region.
	SectorSize = 512

	// BlockOffset is the byte offset of the partition block.
	BlockOffset = 446

	// BlockSize is the size of the four-slot partition block.
	BlockSize = 64

	// EntrySize is the size of a single partition entry.
	EntrySize = 16

	// NumEntries is the fixed number of MBR partition slots.
	NumEntries = 4

	// SignatureOffset is the byte offset of the boot signature.
	SignatureOffset = 510
)

// Entry is a single MBR partition entry.
type Entry struct {
	Status   byte
	FirstCHS CHSTriple
	Type     byte
	LastCHS  CHSTriple

	FirstLBA uint32
	Sectors  uint32
}

// DecodeEntry decodes a partition entry from its 16-byte on-disk form.
func DecodeEntry(buf []byte) (Entry, error) {
	if len(buf) < EntrySize {
		return Entry{}, fmt.Errorf("MBR entry buffer too short: %d bytes", len(buf))
	}

	return Entry{
		Status:   buf[0],
		FirstCHS: CHSTriple{buf[1], buf[2], buf[3]},
		Type:     buf[4],
		LastCHS:  CHSTriple{buf[5], buf[6], buf[7]},

		FirstLBA: binary.LittleEndian.Uint32(buf[8:12]),
		Sectors:  binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// Encode encodes the entry into its 16-byte on-disk form.
func (e *Entry) Encode() []byte {
	buf := make([]byte, EntrySize)

	buf[0] = e.Status
	copy(buf[1:4], e.FirstCHS[:])
	buf[4] = e.Type
	copy(buf[5:8], e.LastCHS[:])
	binary.LittleEndian.PutUint32(buf[8:12], e.FirstLBA)
	binary.LittleEndian.PutUint32(buf[12:16], e.Sectors)

	return buf
}

// IsEmptyType reports whether the slot carries the "empty" type byte.
func (e *Entry) IsEmptyType() bool {
	return e.Type == 0x00
}

// Nick derives the 4-hex shorthand linking the MBR type byte to GPT
// type identifiers (type byte times 0x100).
func (e *Entry) Nick() string {
	return fmt.Sprintf("%04x", uint16(e.Type)<<8)
}

// DecodeBlock decodes the four-slot partition block (64 bytes at
// offset 446 of the MBR sector).
func DecodeBlock(buf []byte) ([NumEntries]Entry, error) {
	var entries [NumEntries]Entry

	if len(buf) < BlockSize {
		return entries, fmt.Errorf("MBR partition block too short: %d bytes", len(buf))
	}

	for i := range entries {
		entry, err := DecodeEntry(buf[i*EntrySize : (i+1)*EntrySize])
		if err != nil {
			return entries, err
		}

		entries[i] = entry
	}

	return entries, nil
}

// EncodeBlock encodes the four-slot partition block into 64 bytes.
func EncodeBlock(entries [NumEntries]Entry) []byte {
	buf := make([]byte, 0, BlockSize)

	for i := range entries {
		buf = append(buf, entries[i].Encode()...)
	}

	return buf
}

// HasBootSignature reports whether the sector carries the 0x55 0xAA
// boot signature.
func HasBootSignature(sector []byte) bool {
	return len(sector) >= SectorSize && sector[SignatureOffset] == 0x55 && sector[SignatureOffset+1] == 0xAA
}
