// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package gptsync reads, reconciles and rewrites MBR and GPT partition
// metadata, keeping the two schemes and the GPT main/backup halves
// mutually consistent under their checksum chaining.
//
// A run is strictly sequential: Read populates the four structures
// with accessibility and validity flags, edit rules may mutate them,
// Reconcile decides which structures are stale, and a Gatekeeper
// applies or withholds the finalized buffers.
package gptsync

import (
	"io"
)

// Device is an interface around an actual block device or disk image.
type Device interface {
	io.ReaderAt
	io.WriterAt

	GetSize() (uint64, error)
	GetSectorSize() uint
	Sync() error
}

// Structure identifies one of the on-disk partition metadata
// structures.
type Structure int

// The four on-disk structures (the GPT halves split into header and
// table, as they are written independently).
const (
	StructureMBR Structure = iota
	StructureMainHeader
	StructureMainTable
	StructureBackupHeader
	StructureBackupTable
)

func (s Structure) String() string {
	switch s {
	case StructureMBR:
		return "mbr"
	case StructureMainHeader:
		return "gpt_main_header"
	case StructureMainTable:
		return "gpt_main_table"
	case StructureBackupHeader:
		return "gpt_backup_header"
	case StructureBackupTable:
		return "gpt_backup_table"
	default:
		return "invalid"
	}
}

// Status is the per-run state of a single structure; none of it is
// persisted.
type Status struct {
	// Accessible is false when the structure could not be read and a
	// placeholder was substituted.
	Accessible bool

	// ChecksumOK is false when the stored checksum does not match the
	// recomputed one. Always true for the MBR, which carries none.
	ChecksumOK bool

	// WriteNeeded marks the structure stale on disk.
	WriteNeeded bool
}
