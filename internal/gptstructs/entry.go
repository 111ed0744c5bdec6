// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptstructs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

// EntrySize is the on-disk size of a GPT partition entry.
const EntrySize = 128

// NameSize is the on-disk size of the partition name field.
const NameSize = 72

// Entry is a single GPT partition entry.
//
// The zero value is the "empty" sentinel: it encodes to an all-zero
// 128-byte record.
type Entry struct {
	TypeGUID uuid.UUID
	PartGUID uuid.UUID

	FirstLBA uint64
	LastLBA  uint64

	Attributes Attributes

	Name string
}

// IsEmpty reports whether the entry is the all-zero sentinel.
func (e *Entry) IsEmpty() bool {
	return e.TypeGUID == uuid.Nil && e.PartGUID == uuid.Nil &&
		e.FirstLBA == 0 && e.LastLBA == 0 &&
		e.Attributes == 0 && e.Name == ""
}

// DecodeEntry decodes a partition entry from its 128-byte on-disk form.
func DecodeEntry(buf []byte) (Entry, error) {
	if len(buf) < EntrySize {
		return Entry{}, fmt.Errorf("entry buffer too short: %d bytes", len(buf))
	}

	typeGUID, err := GUIDFromBytes(buf[0:16])
	if err != nil {
		return Entry{}, fmt.Errorf("failed to decode type GUID: %w", err)
	}

	partGUID, err := GUIDFromBytes(buf[16:32])
	if err != nil {
		return Entry{}, fmt.Errorf("failed to decode partition GUID: %w", err)
	}

	name, err := DecodeName(buf[56:EntrySize])
	if err != nil {
		return Entry{}, fmt.Errorf("failed to decode partition name: %w", err)
	}

	return Entry{
		TypeGUID: typeGUID,
		PartGUID: partGUID,

		FirstLBA: binary.LittleEndian.Uint64(buf[32:40]),
		LastLBA:  binary.LittleEndian.Uint64(buf[40:48]),

		Attributes: Attributes(binary.LittleEndian.Uint64(buf[48:56])),

		Name: name,
	}, nil
}

// Encode encodes the entry into its 128-byte on-disk form.
func (e *Entry) Encode() ([]byte, error) {
	buf := make([]byte, EntrySize)

	copy(buf[0:16], GUIDToBytes(e.TypeGUID))
	copy(buf[16:32], GUIDToBytes(e.PartGUID))
	binary.LittleEndian.PutUint64(buf[32:40], e.FirstLBA)
	binary.LittleEndian.PutUint64(buf[40:48], e.LastLBA)
	binary.LittleEndian.PutUint64(buf[48:56], uint64(e.Attributes))

	nameBuf, err := EncodeName(e.Name)
	if err != nil {
		return nil, err
	}

	copy(buf[56:EntrySize], nameBuf)

	return buf, nil
}

// DecodeName decodes the padded UTF-16LE name field.
func DecodeName(buf []byte) (string, error) {
	utf16 := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

	name, err := utf16.NewDecoder().Bytes(buf)
	if err != nil {
		return "", err
	}

	return string(bytes.TrimRight(name, "\x00")), nil
}

// EncodeName encodes a name into the fixed-width zero-padded UTF-16LE
// field.
func EncodeName(name string) ([]byte, error) {
	utf16 := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

	nameBuf, err := utf16.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("failed to encode partition name: %w", err)
	}

	if len(nameBuf) > NameSize {
		return nil, fmt.Errorf("partition name %q too long: %d bytes", name, len(nameBuf))
	}

	buf := make([]byte, NameSize)
	copy(buf, nameBuf)

	return buf, nil
}
