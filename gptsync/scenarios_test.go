// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptsync_test

import (
	"hash/crc32"
	"testing"

	"github.com/google/uuid"
	"github.com/siderolabs/gen/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/go-gptsync/gptsync"
	"github.com/siderolabs/go-gptsync/internal/gptstructs"
	"github.com/siderolabs/go-gptsync/internal/mbrstructs"
)

func pendingStructures(pending []gptsync.PendingWrite) []gptsync.Structure {
	return xslices.Map(pending, func(pw gptsync.PendingWrite) gptsync.Structure {
		return pw.Structure
	})
}

func TestMBROnlyDisk(t *testing.T) {
	t.Parallel()

	img := make([]byte, 10*MiB)

	setMBR(img, [mbrstructs.NumEntries]mbrstructs.Entry{
		{
			Status:   0x80,
			FirstCHS: mbrstructs.CHSTriple{0x00, 0x21, 0x00},
			Type:     0x0C,
			LastCHS:  mbrstructs.CHSTriple{0xFE, 0xFF, 0xFF},
			FirstLBA: 2048,
			Sectors:  16384,
		},
	})

	dev := &memDevice{data: img}

	s, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.True(t, s.MBR.Status.Accessible)
	assert.True(t, s.MBR.Status.ChecksumOK)

	assert.False(t, s.MainHeader.Status.Accessible)
	assert.False(t, s.MainTable.Status.Accessible)
	assert.False(t, s.BackupHeader.Status.Accessible)
	assert.False(t, s.BackupTable.Status.Accessible)

	assert.Contains(t, s.Diagnostics(), "GPT main header signature not found at any candidate block size")

	pending, err := s.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// with no valid main copy there is nothing to rebuild the backup
	// from, and the MBR itself did not change
	for structure, status := range s.Statuses() {
		assert.False(t, status.WriteNeeded, "%s write-needed", structure)
	}

	result, err := gptsync.NewGatekeeper(dev, gptsync.WithWritesAllowed(true)).Commit(pending)
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Zero(t, dev.writes)
}

func TestWrongBlockSizeAssumed(t *testing.T) {
	t.Parallel()

	dev := &memDevice{
		data:       buildImage(t, 8*MiB, 4096, []gptstructs.Entry{efiEntry()}),
		sectorSize: 4096,
	}

	s, err := gptsync.Read(dev,
		gptsync.WithLogger(zaptest.NewLogger(t)),
		gptsync.WithBlockSize(512),
	)
	require.NoError(t, err)

	assert.True(t, s.BlockSizeCorrected())
	assert.EqualValues(t, 4096, s.Geometry().BlockSize)
	assert.Contains(t, s.Diagnostics(), "wrong block size assumed, corrected from GPT signature probe")

	for structure, status := range s.Statuses() {
		assert.True(t, status.Accessible, "%s accessible", structure)
		assert.True(t, status.ChecksumOK, "%s checksum", structure)
	}

	pending, err := s.Reconcile()
	require.NoError(t, err)

	// the backup structures are rewritten at the locations implied by
	// the corrected geometry
	require.Len(t, pending, 2)
	assert.Equal(t,
		[]gptsync.Structure{gptsync.StructureBackupTable, gptsync.StructureBackupHeader},
		pendingStructures(pending),
	)

	assert.False(t, s.MBR.Status.WriteNeeded)
	assert.False(t, s.MainHeader.Status.WriteNeeded)
	assert.False(t, s.MainTable.Status.WriteNeeded)
	assert.True(t, s.BackupHeader.Status.WriteNeeded)
	assert.True(t, s.BackupTable.Status.WriteNeeded)

	lastLBA := uint64(8*MiB/4096 - 1)

	assert.Equal(t, int64((lastLBA-4)*4096), pending[0].Offset)
	assert.Equal(t, int64(lastLBA*4096), pending[1].Offset)

	// default policy withholds all writes
	result, err := gptsync.NewGatekeeper(dev, gptsync.WithGatekeeperLogger(zaptest.NewLogger(t))).Commit(pending)
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Len(t, result.Withheld, 2)
	assert.Zero(t, dev.writes)
}

func TestHybridTypeSync(t *testing.T) {
	t.Parallel()

	img := buildImage(t, 8*MiB, 512, []gptstructs.Entry{efiEntry()})

	lastLBA := uint64(8*MiB/512 - 1)

	// hybrid MBR: the protective entry covers the GPT structures, a
	// real entry shadows the first partition as NTFS/exFAT
	setMBR(img, [mbrstructs.NumEntries]mbrstructs.Entry{
		{
			Type:     0xEE,
			LastCHS:  mbrstructs.CHSTriple{0xFF, 0xFF, 0xFF},
			FirstLBA: 1,
			Sectors:  2047,
		},
		{
			Status:   0x80,
			FirstCHS: mbrstructs.CHSTriple{0xFF, 0xFF, 0xFF},
			Type:     0x07,
			LastCHS:  mbrstructs.CHSTriple{0xFF, 0xFF, 0xFF},
			FirstLBA: 2048,
			Sectors:  2048,
		},
	})

	dev := &memDevice{data: img}

	s, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	fired := s.Apply(gptsync.SyncRules(s.TypeTable()))
	assert.Equal(t, []string{"force-shared-classification"}, fired)

	basicData := uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
	assert.Equal(t, basicData, s.MainTable.Entries[0].TypeGUID)

	pending, err := s.Reconcile()
	require.NoError(t, err)

	// the backup table content did not change, so only the main table
	// and the two headers are rewritten
	assert.Equal(t,
		[]gptsync.Structure{gptsync.StructureMainTable, gptsync.StructureMainHeader, gptsync.StructureBackupHeader},
		pendingStructures(pending),
	)

	assert.False(t, s.MBR.Status.WriteNeeded)
	assert.False(t, s.BackupTable.Status.WriteNeeded)

	result, err := gptsync.NewGatekeeper(dev, gptsync.WithWritesAllowed(true)).Commit(pending)
	require.NoError(t, err)
	assert.Equal(t,
		[]gptsync.Structure{gptsync.StructureMainTable, gptsync.StructureMainHeader, gptsync.StructureBackupHeader},
		result.Applied,
	)
	assert.Equal(t, 3, dev.writes)
	assert.Equal(t, 1, dev.syncs)

	// a second read sees every structure self-consistent: the backup
	// table was not rewritten, and the rewritten backup header keeps
	// the table checksum chained to that table's content
	s2, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.True(t, s2.MainHeader.Status.ChecksumOK)
	assert.True(t, s2.MainTable.Status.ChecksumOK)
	assert.True(t, s2.BackupHeader.Status.ChecksumOK)
	assert.True(t, s2.BackupTable.Status.ChecksumOK)

	// the two tables diverge in content, which cross-validation
	// surfaces
	assert.Equal(t, basicData, s2.MainTable.Entries[0].TypeGUID)
	assert.Equal(t, efiEntry().TypeGUID, s2.BackupTable.Entries[0].TypeGUID)
	assert.False(t, s2.BackupValidatesAsMain())

	assert.EqualValues(t, lastLBA, s2.BackupHeader.Header.CurrentLBA)
}

func TestHybridTypeSyncAlreadyConsistent(t *testing.T) {
	t.Parallel()

	entry := efiEntry()
	entry.TypeGUID = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")

	img := buildImage(t, 8*MiB, 512, []gptstructs.Entry{entry})

	setMBR(img, [mbrstructs.NumEntries]mbrstructs.Entry{
		{Type: 0xEE, FirstLBA: 1, Sectors: 2047},
		{Status: 0x80, Type: 0x07, FirstLBA: 2048, Sectors: 2048},
	})

	dev := &memDevice{data: img}

	s, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Empty(t, s.Apply(gptsync.SyncRules(s.TypeTable())))

	pending, err := s.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRebuildLostBackup(t *testing.T) {
	t.Parallel()

	img := buildImage(t, 8*MiB, 512, []gptstructs.Entry{efiEntry(), rootEntry()})

	lastLBA := uint64(8*MiB/512 - 1)

	// wipe the backup header
	copy(img[lastLBA*512:], make([]byte, gptstructs.HeaderSize))

	dev := &memDevice{data: img}

	s, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.False(t, s.BackupHeader.Status.Accessible)
	assert.False(t, s.BackupTable.Status.Accessible)
	assert.True(t, s.BackupHeader.Status.WriteNeeded)
	assert.True(t, s.BackupTable.Status.WriteNeeded)
	assert.Contains(t, s.Diagnostics(), "GPT backup header signature invalid")

	pending, err := s.Reconcile()
	require.NoError(t, err)

	assert.Equal(t,
		[]gptsync.Structure{gptsync.StructureBackupTable, gptsync.StructureBackupHeader},
		pendingStructures(pending),
	)

	result, err := gptsync.NewGatekeeper(dev, gptsync.WithWritesAllowed(true)).Commit(pending)
	require.NoError(t, err)
	assert.Len(t, result.Applied, 2)

	// the rebuilt backup must byte-match the main copy's layout
	s2, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Empty(t, s2.Diagnostics())
	assert.True(t, s2.BackupHeader.Status.ChecksumOK)
	assert.True(t, s2.BackupTable.Status.ChecksumOK)
	assert.True(t, s2.BackupValidatesAsMain())
	assert.True(t, s2.MainValidatesAsBackup())

	assert.Equal(t, crc32.ChecksumIEEE(img[2*512:2*512+128*gptstructs.EntrySize]),
		s2.BackupHeader.Header.EntriesChecksum)
}

// requireChained decodes a finalized header buffer and checks it
// against its finalized table buffer.
func requireChained(t *testing.T, headerData, tableData []byte) gptstructs.Header {
	t.Helper()

	hdr, err := gptstructs.DecodeHeader(headerData)
	require.NoError(t, err)

	assert.Equal(t, crc32.ChecksumIEEE(tableData), hdr.EntriesChecksum)
	assert.Equal(t, gptstructs.HeaderChecksum(headerData), hdr.HeaderCRC32)

	return hdr
}

func TestBackupEditWithMainDestroyed(t *testing.T) {
	t.Parallel()

	img := buildImage(t, 8*MiB, 512, []gptstructs.Entry{efiEntry()})

	// wipe the main header; the backup half is read independently and
	// stays fully usable
	copy(img[512:], make([]byte, gptstructs.HeaderSize))

	dev := &memDevice{data: img}

	s, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.False(t, s.MainHeader.Status.Accessible)
	assert.True(t, s.BackupHeader.Status.Accessible)
	assert.True(t, s.BackupHeader.Status.ChecksumOK)
	assert.True(t, s.BackupTable.Status.Accessible)
	assert.True(t, s.BackupTable.Status.ChecksumOK)

	basicData := uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
	s.BackupTable.Entries[0].TypeGUID = basicData

	pending, err := s.Reconcile()
	require.NoError(t, err)

	// the edit propagates through the accessible backup half even
	// with no main copy at all
	require.Len(t, pending, 2)
	assert.Equal(t,
		[]gptsync.Structure{gptsync.StructureBackupTable, gptsync.StructureBackupHeader},
		pendingStructures(pending),
	)

	assert.True(t, s.BackupTable.Status.WriteNeeded)
	assert.True(t, s.BackupHeader.Status.WriteNeeded)
	assert.False(t, s.MainHeader.Status.WriteNeeded)
	assert.False(t, s.MainTable.Status.WriteNeeded)

	lastLBA := uint64(8*MiB/512 - 1)

	hdr := requireChained(t, pending[1].Data, pending[0].Data)
	assert.Equal(t, lastLBA, hdr.CurrentLBA)

	_, err = gptsync.NewGatekeeper(dev, gptsync.WithWritesAllowed(true)).Commit(pending)
	require.NoError(t, err)

	s2, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.True(t, s2.BackupHeader.Status.ChecksumOK)
	assert.True(t, s2.BackupTable.Status.ChecksumOK)
	assert.Equal(t, basicData, s2.BackupTable.Entries[0].TypeGUID)
}

func TestBackupTableEditStaysChained(t *testing.T) {
	t.Parallel()

	dev := &memDevice{
		data: buildImage(t, 8*MiB, 512, []gptstructs.Entry{efiEntry()}),
	}

	s, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	basicData := uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
	s.BackupTable.Entries[0].TypeGUID = basicData

	pending, err := s.Reconcile()
	require.NoError(t, err)

	require.Len(t, pending, 2)
	assert.Equal(t,
		[]gptsync.Structure{gptsync.StructureBackupTable, gptsync.StructureBackupHeader},
		pendingStructures(pending),
	)

	// the finalized backup header stores the checksum of the
	// finalized backup table, not the main table's
	requireChained(t, pending[1].Data, pending[0].Data)

	assert.False(t, s.MainHeader.Status.WriteNeeded)
	assert.False(t, s.MainTable.Status.WriteNeeded)

	_, err = gptsync.NewGatekeeper(dev, gptsync.WithWritesAllowed(true)).Commit(pending)
	require.NoError(t, err)

	s2, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	for structure, status := range s2.Statuses() {
		assert.True(t, status.ChecksumOK, "%s checksum", structure)
	}

	assert.Equal(t, efiEntry().TypeGUID, s2.MainTable.Entries[0].TypeGUID)
	assert.Equal(t, basicData, s2.BackupTable.Entries[0].TypeGUID)
	assert.False(t, s2.MainValidatesAsBackup())
}

func TestOpticalMediaReclassification(t *testing.T) {
	t.Parallel()

	img := make([]byte, MiB)

	// empty partition block, boot signature present
	setMBR(img, [mbrstructs.NumEntries]mbrstructs.Entry{})

	// volume descriptors at the three historical start offsets
	// (2048-byte blocks 0, 16 and 32)
	for _, pos := range []int{0, 16 * 2048, 32 * 2048} {
		img[pos] = 0x01
		copy(img[pos+1:pos+6], "CD001")
	}

	dev := &memDevice{data: img}

	s, err := gptsync.Read(dev, gptsync.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Equal(t, [mbrstructs.NumEntries]bool{true, false, false, false}, s.MBR.OpticalFS)
	assert.Contains(t, s.Diagnostics(), "empty-typed MBR slot carries an optical-media filesystem")

	summary := s.MBRSummary()
	require.Len(t, summary, 1)
	assert.True(t, summary[0].OpticalFS)
	assert.Equal(t, "0000", summary[0].Nick)
	assert.Nil(t, summary[0].TypeName)

	// reclassification is a reporting concern, nothing is stale
	pending, err := s.Reconcile()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
