// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptsync

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"

	"go.uber.org/zap"

	"github.com/siderolabs/go-gptsync/internal/gptstructs"
	"github.com/siderolabs/go-gptsync/internal/mbrstructs"
)

// PendingWrite is a finalized buffer for one stale structure.
type PendingWrite struct {
	Structure Structure

	// Offset is the destination byte offset on the device.
	Offset int64

	// Size is the structure's declared fixed size; a buffer of any
	// other length must never be written.
	Size int

	Data []byte
}

// Reconcile decides which structures are stale after any edits and
// produces their finalized buffers.
//
// Structures are always re-encoded from their current in-memory field
// values before checksum comparison, never from the originally read
// bytes.
func (s *State) Reconcile() ([]PendingWrite, error) {
	// only the rebuild needs a valid main copy; checksum propagation
	// runs for whichever halves were read, so an edit of an accessible
	// backup half is never dropped when the main one is destroyed
	if s.MainHeader.Status.Accessible {
		s.rebuildBackup()
	}

	// propagate to a fixpoint
	for {
		changed, err := s.propagate()
		if err != nil {
			return nil, err
		}

		if !changed {
			break
		}
	}

	s.crossValidate()

	s.mirrorBackupFromMain()

	// R4: the MBR carries no checksum; compare the re-encoded block
	// byte-for-byte against the original.
	if !bytes.Equal(mbrstructs.EncodeBlock(s.MBR.Entries), s.MBR.original) {
		s.MBR.Status.WriteNeeded = true
	}

	return s.buildPending()
}

// rebuildBackup synthesizes backup structures from the main copy when
// they are unreachable or the geometry was corrected (R3).
func (s *State) rebuildBackup() {
	lastLBA, ok := s.geom.LastLBA()
	if !ok {
		return
	}

	main := &s.MainHeader.Header

	backupTableLBA := lastLBA - s.tableLBAs(main)

	if !s.BackupHeader.Status.Accessible || s.blockSizeCorrected {
		mirror := *main
		mirror.CurrentLBA = lastLBA
		mirror.BackupLBA = main.CurrentLBA
		mirror.EntriesLBA = backupTableLBA

		s.BackupHeader.Header = mirror
		s.BackupHeader.Status.WriteNeeded = true
	}

	if !s.BackupTable.Status.Accessible || s.blockSizeCorrected {
		s.BackupTable.Entries = slices.Clone(s.MainTable.Entries)
		s.BackupTable.Status.WriteNeeded = true
	}
}

// propagate applies R1 and R2 once, reporting whether anything
// changed.
func (s *State) propagate() (bool, error) {
	changed := false

	// R1: partition table content drives the stored table checksum.
	for _, half := range []struct {
		table  *TableState
		header *HeaderState
	}{
		{&s.MainTable, &s.MainHeader},
		{&s.BackupTable, &s.BackupHeader},
	} {
		if len(half.table.Entries) == 0 {
			continue
		}

		buf, err := encodeEntries(half.table.Entries)
		if err != nil {
			return false, err
		}

		// only a content change triggers reconciliation; a stale
		// stored checksum over unchanged content was already reported
		// as a validation mismatch
		if bytes.Equal(buf, half.table.original) {
			continue
		}

		if !half.table.Status.WriteNeeded {
			half.table.Status.WriteNeeded = true
			changed = true
		}

		crc := crc32.ChecksumIEEE(buf)

		if crc != half.header.Header.EntriesChecksum {
			half.header.Header.EntriesChecksum = crc
			changed = true
		}
	}

	// R2: any non-checksum header change recomputes its own CRC32 and
	// forces the backup header, which must mirror the main one.
	for _, half := range []*HeaderState{&s.MainHeader, &s.BackupHeader} {
		enc := half.Header.Encode()

		if bytes.Equal(withZeroedCRC(enc), withZeroedCRC(half.original)) {
			continue
		}

		wantCRC := gptstructs.HeaderChecksum(enc)

		if half.Header.HeaderCRC32 != wantCRC {
			half.Header.HeaderCRC32 = wantCRC
			changed = true
		}

		if !half.Status.WriteNeeded {
			half.Status.WriteNeeded = true
			changed = true
		}

		if !s.BackupHeader.Status.WriteNeeded {
			s.BackupHeader.Status.WriteNeeded = true
			changed = true
		}
	}

	return changed, nil
}

// mirrorBackupFromMain finalizes the in-memory backup header as the
// main header with self/counterpart LBA swapped and the table LBA
// pointing at the backup table, so the write buffer restores the
// designed symmetry. The table checksum is not mirrored: it stays
// chained to this half's own table.
func (s *State) mirrorBackupFromMain() {
	if !s.BackupHeader.Status.WriteNeeded || !s.MainHeader.Status.Accessible {
		return
	}

	lastLBA, ok := s.geom.LastLBA()
	if !ok {
		return
	}

	main := &s.MainHeader.Header

	backupTableLBA := s.BackupHeader.Header.EntriesLBA
	if backupTableLBA == 0 || !s.BackupHeader.Status.Accessible {
		backupTableLBA = lastLBA - s.tableLBAs(main)
	}

	mirror := *main
	mirror.CurrentLBA = lastLBA
	mirror.BackupLBA = main.CurrentLBA
	mirror.EntriesLBA = backupTableLBA
	mirror.EntriesChecksum = s.BackupHeader.Header.EntriesChecksum
	mirror.HeaderCRC32 = mirror.Checksum()

	s.BackupHeader.Header = mirror
}

// crossValidate computes whether each header's bytes would validate in
// the counterpart role. Diagnostic only; it never sets write-needed,
// but is mandatory input for any backup-promotion policy.
func (s *State) crossValidate() {
	if !s.BackupHeader.Status.Accessible {
		return
	}

	s.logger.Info("GPT header cross-validation",
		zap.Bool("backup_validates_as_main", s.BackupValidatesAsMain()),
		zap.Bool("main_validates_as_backup", s.MainValidatesAsBackup()),
	)

	for i := 0; i < len(s.MainTable.Entries) && i < len(s.BackupTable.Entries); i++ {
		mainEmpty := s.MainTable.Entries[i].IsEmpty()
		backupEmpty := s.BackupTable.Entries[i].IsEmpty()

		if mainEmpty != backupEmpty {
			// asymmetric emptiness is reported, never silently resolved
			s.diag("partition entry empty in one table only",
				zap.Int("index", i),
				zap.Bool("main_empty", mainEmpty),
				zap.Bool("backup_empty", backupEmpty),
			)
		}
	}
}

// BackupValidatesAsMain reports whether the backup header, with its
// self/counterpart and table LBA fields swapped into the main role,
// re-encodes to the canonical main header.
func (s *State) BackupValidatesAsMain() bool {
	if !s.MainHeader.Status.Accessible || !s.BackupHeader.Status.Accessible {
		return false
	}

	mirror := s.BackupHeader.Header
	mirror.CurrentLBA, mirror.BackupLBA = mirror.BackupLBA, mirror.CurrentLBA
	mirror.EntriesLBA = s.MainHeader.Header.EntriesLBA
	mirror.HeaderCRC32 = mirror.Checksum()

	canonical := s.MainHeader.Header
	canonical.HeaderCRC32 = canonical.Checksum()

	return bytes.Equal(mirror.Encode(), canonical.Encode())
}

// MainValidatesAsBackup is the inverse of BackupValidatesAsMain.
func (s *State) MainValidatesAsBackup() bool {
	if !s.MainHeader.Status.Accessible || !s.BackupHeader.Status.Accessible {
		return false
	}

	mirror := s.MainHeader.Header
	mirror.CurrentLBA, mirror.BackupLBA = mirror.BackupLBA, mirror.CurrentLBA
	mirror.EntriesLBA = s.BackupHeader.Header.EntriesLBA
	mirror.HeaderCRC32 = mirror.Checksum()

	canonical := s.BackupHeader.Header
	canonical.HeaderCRC32 = canonical.Checksum()

	return bytes.Equal(mirror.Encode(), canonical.Encode())
}

// buildPending finalizes a buffer and destination offset for every
// write-needed structure.
func (s *State) buildPending() ([]PendingWrite, error) {
	var pending []PendingWrite

	if s.MBR.Status.WriteNeeded {
		pending = append(pending, PendingWrite{
			Structure: StructureMBR,
			Offset:    mbrstructs.BlockOffset,
			Size:      mbrstructs.BlockSize,
			Data:      mbrstructs.EncodeBlock(s.MBR.Entries),
		})
	}

	if s.MainTable.Status.WriteNeeded {
		if len(s.MainTable.Entries) == 0 {
			return nil, errors.New("main table is write-needed but has no content to finalize")
		}

		buf, err := encodeEntries(s.MainTable.Entries)
		if err != nil {
			return nil, err
		}

		pending = append(pending, PendingWrite{
			Structure: StructureMainTable,
			Offset:    s.geom.ByteOffset(s.MainHeader.Header.EntriesLBA),
			Size:      len(s.MainTable.Entries) * gptstructs.EntrySize,
			Data:      buf,
		})
	}

	if s.BackupTable.Status.WriteNeeded {
		if len(s.BackupTable.Entries) == 0 {
			return nil, errors.New("backup table is write-needed but has no content to finalize")
		}

		buf, err := encodeEntries(s.BackupTable.Entries)
		if err != nil {
			return nil, err
		}

		pending = append(pending, PendingWrite{
			Structure: StructureBackupTable,
			Offset:    s.geom.ByteOffset(s.BackupHeader.Header.EntriesLBA),
			Size:      len(s.BackupTable.Entries) * gptstructs.EntrySize,
			Data:      buf,
		})
	}

	if s.MainHeader.Status.WriteNeeded {
		pending = append(pending, PendingWrite{
			Structure: StructureMainHeader,
			Offset:    s.geom.ByteOffset(mainHeaderLBA),
			Size:      gptstructs.HeaderSize,
			Data:      s.MainHeader.Header.Encode(),
		})
	}

	if s.BackupHeader.Status.WriteNeeded {
		lastLBA, ok := s.geom.LastLBA()
		if !ok {
			return nil, errors.New("backup header is write-needed but the device has no last block")
		}

		pending = append(pending, PendingWrite{
			Structure: StructureBackupHeader,
			Offset:    s.geom.ByteOffset(lastLBA),
			Size:      gptstructs.HeaderSize,
			Data:      s.BackupHeader.Header.Encode(),
		})
	}

	return pending, nil
}

// tableLBAs returns the number of blocks the header's partition table
// occupies.
func (s *State) tableLBAs(hdr *gptstructs.Header) uint64 {
	size := uint64(hdr.NumEntries) * uint64(hdr.EntrySize)

	return (size + s.geom.BlockSize - 1) / s.geom.BlockSize
}

func encodeEntries(entries []gptstructs.Entry) ([]byte, error) {
	buf := make([]byte, 0, len(entries)*gptstructs.EntrySize)

	for i := range entries {
		enc, err := entries[i].Encode()
		if err != nil {
			return nil, fmt.Errorf("failed to encode partition entry %d: %w", i, err)
		}

		buf = append(buf, enc...)
	}

	return buf, nil
}

func withZeroedCRC(buf []byte) []byte {
	b := slices.Clone(buf)

	if len(b) >= 20 {
		b[16], b[17], b[18], b[19] = 0, 0, 0, 0
	}

	return b
}
