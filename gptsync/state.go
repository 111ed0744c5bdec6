// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptsync

import (
	"go.uber.org/zap"

	"github.com/siderolabs/go-gptsync/geometry"
	"github.com/siderolabs/go-gptsync/internal/gptstructs"
	"github.com/siderolabs/go-gptsync/internal/mbrstructs"
	"github.com/siderolabs/go-gptsync/parttypes"
)

// MBRState is the decoded MBR partition block plus its per-run flags.
type MBRState struct {
	// Entries are the four fixed partition slots; edit rules may
	// mutate them.
	Entries [mbrstructs.NumEntries]mbrstructs.Entry

	// OpticalFS marks empty-typed slots reclassified by the signature
	// scanner as carrying an optical-media filesystem.
	OpticalFS [mbrstructs.NumEntries]bool

	// BootSignature reports the 0x55 0xAA signature.
	BootSignature bool

	// DiskSignature is the 4-byte MBR disk signature.
	DiskSignature [4]byte

	Status Status

	// original is the 64-byte partition block as read; write necessity
	// is decided by comparing against it.
	original []byte
}

// HeaderState is a decoded GPT header plus its per-run flags.
type HeaderState struct {
	// Header may be mutated by edit rules; a zeroed header with
	// Status.Accessible false is the placeholder for an unreadable or
	// invalid one.
	Header gptstructs.Header

	Status Status

	// original is the 92-byte header as read (zeros for a placeholder).
	original []byte
}

// TableState is a decoded GPT partition table plus its per-run flags.
type TableState struct {
	// Entries holds one entry per declared partition count; empty when
	// the table is an unread placeholder that was not synthesized.
	Entries []gptstructs.Entry

	Status Status

	// original is the table as read (zeros for a placeholder).
	original []byte
}

// State holds the four structures and the working flags for one
// read-modify-write cycle.
type State struct {
	MBR MBRState

	MainHeader HeaderState
	MainTable  TableState

	BackupHeader HeaderState
	BackupTable  TableState

	dev    Device
	logger *zap.Logger
	types  parttypes.Table

	geom               geometry.Geometry
	blockSizeCorrected bool

	diagnostics []string
}

// Geometry returns the effective device geometry, after any block-size
// correction.
func (s *State) Geometry() geometry.Geometry {
	return s.geom
}

// BlockSizeCorrected reports whether the assumed block size was wrong
// and a corrected one was adopted.
func (s *State) BlockSizeCorrected() bool {
	return s.blockSizeCorrected
}

// Diagnostics returns the labeled degraded/mismatch conditions
// recorded so far, in order.
func (s *State) Diagnostics() []string {
	return s.diagnostics
}

func (s *State) diag(msg string, fields ...zap.Field) {
	s.diagnostics = append(s.diagnostics, msg)
	s.logger.Warn(msg, fields...)
}

// Statuses returns the per-structure flags in structure order.
func (s *State) Statuses() map[Structure]Status {
	return map[Structure]Status{
		StructureMBR:          s.MBR.Status,
		StructureMainHeader:   s.MainHeader.Status,
		StructureMainTable:    s.MainTable.Status,
		StructureBackupHeader: s.BackupHeader.Status,
		StructureBackupTable:  s.BackupTable.Status,
	}
}
