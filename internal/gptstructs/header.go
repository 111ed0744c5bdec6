// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package gptstructs provides codecs for GPT on-disk structures.
package gptstructs

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// HeaderSignature is the signature of the GPT header ("EFI PART").
const HeaderSignature = 0x5452415020494645

// HeaderRevision is the only revision this package understands.
const HeaderRevision = 0x00010000

// HeaderSize is the on-disk size of the GPT header.
const HeaderSize = 92

// Header is a GPT header, main or backup.
//
// Field order follows the on-disk layout.
type Header struct {
	Signature       uint64
	Revision        uint32
	HeaderSize      uint32
	HeaderCRC32     uint32
	Reserved        uint32
	CurrentLBA      uint64
	BackupLBA       uint64
	FirstUsableLBA  uint64
	LastUsableLBA   uint64
	DiskGUID        uuid.UUID
	EntriesLBA      uint64
	NumEntries      uint32
	EntrySize       uint32
	EntriesChecksum uint32
}

// DecodeHeader decodes a GPT header from its first 92 bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("header buffer too short: %d bytes", len(buf))
	}

	guid, err := GUIDFromBytes(buf[56:72])
	if err != nil {
		return Header{}, fmt.Errorf("failed to decode disk GUID: %w", err)
	}

	return Header{
		Signature:       binary.LittleEndian.Uint64(buf[0:8]),
		Revision:        binary.LittleEndian.Uint32(buf[8:12]),
		HeaderSize:      binary.LittleEndian.Uint32(buf[12:16]),
		HeaderCRC32:     binary.LittleEndian.Uint32(buf[16:20]),
		Reserved:        binary.LittleEndian.Uint32(buf[20:24]),
		CurrentLBA:      binary.LittleEndian.Uint64(buf[24:32]),
		BackupLBA:       binary.LittleEndian.Uint64(buf[32:40]),
		FirstUsableLBA:  binary.LittleEndian.Uint64(buf[40:48]),
		LastUsableLBA:   binary.LittleEndian.Uint64(buf[48:56]),
		DiskGUID:        guid,
		EntriesLBA:      binary.LittleEndian.Uint64(buf[72:80]),
		NumEntries:      binary.LittleEndian.Uint32(buf[80:84]),
		EntrySize:       binary.LittleEndian.Uint32(buf[84:88]),
		EntriesChecksum: binary.LittleEndian.Uint32(buf[88:92]),
	}, nil
}

// Encode encodes the header into its 92-byte on-disk form.
//
// The stored HeaderCRC32 field is encoded as-is; use Checksum to
// recompute it from the encoded form.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint64(buf[0:8], h.Signature)
	binary.LittleEndian.PutUint32(buf[8:12], h.Revision)
	binary.LittleEndian.PutUint32(buf[12:16], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.HeaderCRC32)
	binary.LittleEndian.PutUint32(buf[20:24], h.Reserved)
	binary.LittleEndian.PutUint64(buf[24:32], h.CurrentLBA)
	binary.LittleEndian.PutUint64(buf[32:40], h.BackupLBA)
	binary.LittleEndian.PutUint64(buf[40:48], h.FirstUsableLBA)
	binary.LittleEndian.PutUint64(buf[48:56], h.LastUsableLBA)
	copy(buf[56:72], GUIDToBytes(h.DiskGUID))
	binary.LittleEndian.PutUint64(buf[72:80], h.EntriesLBA)
	binary.LittleEndian.PutUint32(buf[80:84], h.NumEntries)
	binary.LittleEndian.PutUint32(buf[84:88], h.EntrySize)
	binary.LittleEndian.PutUint32(buf[88:92], h.EntriesChecksum)

	return buf
}

// Checksum computes the header CRC32 over the encoded form with the
// checksum's own field zeroed.
func (h *Header) Checksum() uint32 {
	return HeaderChecksum(h.Encode())
}

// HeaderChecksum computes the header CRC32 of an encoded header buffer
// with the stored checksum field zeroed.
func HeaderChecksum(buf []byte) uint32 {
	b := make([]byte, HeaderSize)
	copy(b, buf[:HeaderSize])

	b[16] = 0
	b[17] = 0
	b[18] = 0
	b[19] = 0

	return crc32.ChecksumIEEE(b)
}

// SignatureValid reports whether the signature and revision identify a
// GPT header this package understands.
func (h *Header) SignatureValid() bool {
	return h.Signature == HeaderSignature && h.Revision == HeaderRevision
}
