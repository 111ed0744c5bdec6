// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptsync

import (
	"fmt"
	"hash/crc32"

	"go.uber.org/zap"

	"github.com/siderolabs/go-gptsync/eltorito"
	"github.com/siderolabs/go-gptsync/geometry"
	"github.com/siderolabs/go-gptsync/internal/gptstructs"
	"github.com/siderolabs/go-gptsync/internal/ioutil"
	"github.com/siderolabs/go-gptsync/internal/mbrstructs"
)

// mainHeaderLBA is the fixed location of the GPT main header.
const mainHeaderLBA = 1

// maxTableBytes bounds the partition table allocation; the declared
// geometry is otherwise trusted.
const maxTableBytes = 4 * 1024 * 1024

// Read populates the four structures from the device.
//
// Every failed read degrades to an inaccessible flag plus placeholder;
// the only fatal condition is failure to read the minimum 512-byte MBR
// region (or to size the device at all).
func Read(dev Device, opts ...Option) (*State, error) {
	options := applyOptions(opts...)

	blockSize := options.BlockSize
	if blockSize == 0 {
		blockSize = uint64(dev.GetSectorSize())
	}

	geom, err := geometry.Probe(dev, blockSize, options.Logger)
	if err != nil {
		return nil, err
	}

	s := &State{
		dev:    dev,
		logger: options.Logger,
		types:  options.Types,
		geom:   geom,
	}

	// the MBR region is the one read with no fallback
	mbrSector := make([]byte, mbrstructs.SectorSize)
	if err := ioutil.ReadFullAt(dev, mbrSector, 0); err != nil {
		return nil, fmt.Errorf("failed to read MBR region: %w", err)
	}

	s.readGPTMainHeader()

	if err := s.readMBR(mbrSector); err != nil {
		return nil, err
	}

	s.readGPTBackupHeader()
	s.readGPTMainTable()
	s.readGPTBackupTable()

	return s, nil
}

// readGPTMainHeader reads the main header at LBA 1, retrying the fixed
// block-size sequence on signature mismatch and re-probing geometry at
// the corrected size.
func (s *State) readGPTMainHeader() {
	probe := geometry.NewSizeProbe(s.geom.BlockSize)

	var (
		hdr    gptstructs.Header
		hdrBuf []byte
	)

	for {
		bs, ok := probe.Current()
		if !ok {
			break
		}

		buf := make([]byte, gptstructs.HeaderSize)
		if err := ioutil.ReadFullAt(s.dev, buf, int64(bs)*mainHeaderLBA); err != nil {
			probe.Reject()

			continue
		}

		h, err := gptstructs.DecodeHeader(buf)
		if err != nil || !h.SignatureValid() {
			probe.Reject()

			continue
		}

		hdr, hdrBuf = h, buf

		probe.Confirm()
	}

	confirmed, ok := probe.Confirmed()
	if !ok {
		s.diag("GPT main header signature not found at any candidate block size")

		s.MainHeader = HeaderState{
			original: make([]byte, gptstructs.HeaderSize),
		}

		return
	}

	if probe.Corrected() {
		s.diag("wrong block size assumed, corrected from GPT signature probe",
			zap.Uint64("assumed", s.geom.BlockSize),
			zap.Uint64("corrected", confirmed),
		)

		geom, err := geometry.Probe(s.dev, confirmed, s.logger)
		if err != nil {
			s.diag("failed to re-probe geometry at the corrected block size", zap.Error(err))
		} else {
			s.geom = geom
		}

		s.blockSizeCorrected = true
	}

	checksumOK := hdr.HeaderCRC32 == gptstructs.HeaderChecksum(hdrBuf)
	if !checksumOK {
		s.diag("GPT main header checksum mismatch",
			zap.Uint32("stored", hdr.HeaderCRC32),
			zap.Uint32("computed", gptstructs.HeaderChecksum(hdrBuf)),
		)
	}

	s.MainHeader = HeaderState{
		Header: hdr,
		Status: Status{
			Accessible: true,
			ChecksumOK: checksumOK,
		},
		original: hdrBuf,
	}
}

// readMBR decodes the four fixed slots and runs the signature scanner
// over empty-typed ones.
func (s *State) readMBR(sector []byte) error {
	entries, err := mbrstructs.DecodeBlock(sector[mbrstructs.BlockOffset : mbrstructs.BlockOffset+mbrstructs.BlockSize])
	if err != nil {
		return err
	}

	s.MBR = MBRState{
		Entries:       entries,
		BootSignature: mbrstructs.HasBootSignature(sector),
		Status: Status{
			Accessible: true,
			ChecksumOK: true, // the MBR carries no checksum
		},
		original: append([]byte(nil), sector[mbrstructs.BlockOffset:mbrstructs.BlockOffset+mbrstructs.BlockSize]...),
	}

	copy(s.MBR.DiskSignature[:], sector[440:444])

	if !s.MBR.BootSignature {
		s.diag("MBR boot signature missing")
	}

	scanner := eltorito.NewScanner(s.dev, eltorito.WithLogger(s.logger))

	for i := range s.MBR.Entries {
		if !s.MBR.Entries[i].IsEmptyType() {
			continue
		}

		matches := scanner.Scan(uint64(s.MBR.Entries[i].FirstLBA), s.geom.BlockSize)
		if matches > eltorito.MatchThreshold {
			s.MBR.OpticalFS[i] = true

			s.diag("empty-typed MBR slot carries an optical-media filesystem",
				zap.Int("slot", i),
				zap.Int("matches", matches),
			)
		}
	}

	return nil
}

// readGPTMainTable reads the main partition table at the
// header-declared location.
func (s *State) readGPTMainTable() {
	if !s.MainHeader.Status.Accessible {
		s.MainTable = TableState{
			original: make([]byte, s.placeholderTableSize()),
		}

		return
	}

	hdr := &s.MainHeader.Header

	buf, entries, ok := s.readTable(hdr, "main")

	s.MainTable = TableState{
		Entries: entries,
		Status: Status{
			Accessible: ok,
			ChecksumOK: ok && crc32.ChecksumIEEE(buf) == hdr.EntriesChecksum,
		},
		original: buf,
	}

	if ok && !s.MainTable.Status.ChecksumOK {
		s.diag("GPT main table checksum mismatch",
			zap.Uint32("stored", hdr.EntriesChecksum),
			zap.Uint32("computed", crc32.ChecksumIEEE(buf)),
		)
	}
}

// readGPTBackupHeader reads the backup header at the device's last
// block, recording divergence from the declared counterpart location.
func (s *State) readGPTBackupHeader() {
	s.BackupHeader = HeaderState{
		original: make([]byte, gptstructs.HeaderSize),
	}

	lastLBA, ok := s.geom.LastLBA()
	if !ok {
		s.diag("device too small for a GPT backup header")

		s.markBackupUnreachable(&s.BackupHeader.Status)

		return
	}

	if s.MainHeader.Status.Accessible && s.MainHeader.Header.BackupLBA != lastLBA {
		s.diag("backup header location diverges from the declared counterpart LBA",
			zap.Uint64("declared", s.MainHeader.Header.BackupLBA),
			zap.Uint64("discovered", lastLBA),
		)
	}

	buf := make([]byte, gptstructs.HeaderSize)
	if err := ioutil.ReadFullAt(s.dev, buf, s.geom.ByteOffset(lastLBA)); err != nil {
		s.diag("GPT backup header unreachable", zap.Error(err))

		s.markBackupUnreachable(&s.BackupHeader.Status)

		return
	}

	hdr, err := gptstructs.DecodeHeader(buf)
	if err != nil || !hdr.SignatureValid() {
		s.diag("GPT backup header signature invalid")

		s.markBackupUnreachable(&s.BackupHeader.Status)

		return
	}

	checksumOK := hdr.HeaderCRC32 == gptstructs.HeaderChecksum(buf)
	if !checksumOK {
		s.diag("GPT backup header checksum mismatch",
			zap.Uint32("stored", hdr.HeaderCRC32),
			zap.Uint32("computed", gptstructs.HeaderChecksum(buf)),
		)
	}

	if s.MainHeader.Status.Accessible && hdr.BackupLBA != s.MainHeader.Header.CurrentLBA {
		s.diag("backup header does not reference the main header location",
			zap.Uint64("declared", hdr.BackupLBA),
			zap.Uint64("main", s.MainHeader.Header.CurrentLBA),
		)
	}

	s.BackupHeader = HeaderState{
		Header: hdr,
		Status: Status{
			Accessible: true,
			ChecksumOK: checksumOK,
		},
		original: buf,
	}
}

// readGPTBackupTable reads the backup table at the backup
// header-declared location, substituting a placeholder when
// unreachable.
func (s *State) readGPTBackupTable() {
	if !s.BackupHeader.Status.Accessible {
		s.BackupTable = TableState{
			original: make([]byte, s.placeholderTableSize()),
		}

		s.markBackupUnreachable(&s.BackupTable.Status)

		return
	}

	hdr := &s.BackupHeader.Header

	buf, entries, ok := s.readTable(hdr, "backup")

	s.BackupTable = TableState{
		Entries: entries,
		Status: Status{
			Accessible: ok,
			ChecksumOK: ok && crc32.ChecksumIEEE(buf) == hdr.EntriesChecksum,
		},
		original: buf,
	}

	if !ok {
		s.markBackupUnreachable(&s.BackupTable.Status)

		return
	}

	if !s.BackupTable.Status.ChecksumOK {
		s.diag("GPT backup table checksum mismatch",
			zap.Uint32("stored", hdr.EntriesChecksum),
			zap.Uint32("computed", crc32.ChecksumIEEE(buf)),
		)
	}
}

// readTable reads a partition table at its header-declared location
// and size. It returns a zero-filled placeholder and false on any
// degraded condition.
func (s *State) readTable(hdr *gptstructs.Header, which string) ([]byte, []gptstructs.Entry, bool) {
	size := uint64(hdr.NumEntries) * uint64(hdr.EntrySize)

	switch {
	case hdr.EntriesLBA == 0:
		s.diag("implausible declared partition table LBA", zap.String("table", which), zap.Uint64("lba", hdr.EntriesLBA))
	case hdr.EntrySize != gptstructs.EntrySize:
		s.diag("unsupported partition entry size", zap.String("table", which), zap.Uint32("entry_size", hdr.EntrySize))
	case hdr.NumEntries == 0 || size > maxTableBytes:
		s.diag("implausible declared partition count", zap.String("table", which), zap.Uint32("count", hdr.NumEntries))
	default:
		buf := make([]byte, size)
		if err := ioutil.ReadFullAt(s.dev, buf, s.geom.ByteOffset(hdr.EntriesLBA)); err != nil {
			s.diag("partition table unreachable", zap.String("table", which), zap.Error(err))

			break
		}

		entries := make([]gptstructs.Entry, hdr.NumEntries)

		for i := range entries {
			entry, err := gptstructs.DecodeEntry(buf[uint64(i)*uint64(hdr.EntrySize):])
			if err != nil {
				s.diag("failed to decode partition entry", zap.String("table", which), zap.Int("index", i), zap.Error(err))

				return make([]byte, size), nil, false
			}

			entries[i] = entry
		}

		return buf, entries, true
	}

	if size == 0 || size > maxTableBytes {
		size = gptstructs.EntrySize * 128
	}

	return make([]byte, size), nil, false
}

// markBackupUnreachable flags an unreachable backup structure
// write-needed when a valid main copy exists to rebuild it from.
func (s *State) markBackupUnreachable(st *Status) {
	if s.MainHeader.Status.Accessible {
		st.WriteNeeded = true
	}
}

func (s *State) placeholderTableSize() uint64 {
	if s.MainHeader.Status.Accessible {
		size := uint64(s.MainHeader.Header.NumEntries) * uint64(s.MainHeader.Header.EntrySize)
		if size > 0 && size <= maxTableBytes {
			return size
		}
	}

	return gptstructs.EntrySize * 128
}
