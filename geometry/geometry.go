// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package geometry determines the addressable extent of a device or
// disk image for a given logical block size.
package geometry

import (
	"fmt"

	"go.uber.org/zap"
)

// Sizer is a device that can report its size in bytes.
type Sizer interface {
	GetSize() (uint64, error)
}

// Geometry describes the addressable extent of a device at a given
// logical block size.
//
// The LBA count is the rational EndOffset/BlockSize; it is floored
// only when compared or converted to whole blocks.
type Geometry struct {
	// EndOffset is the device end offset in bytes.
	EndOffset uint64

	// BlockSize is the logical block size in bytes.
	BlockSize uint64
}

// Blocks returns the whole number of addressable blocks (floored).
func (g Geometry) Blocks() uint64 {
	return g.EndOffset / g.BlockSize
}

// LastLBA returns the address of the last whole block.
func (g Geometry) LastLBA() (uint64, bool) {
	blocks := g.Blocks()
	if blocks == 0 {
		return 0, false
	}

	return blocks - 1, true
}

// Aligned reports whether the end offset is a whole multiple of the
// block size.
func (g Geometry) Aligned() bool {
	return g.EndOffset%g.BlockSize == 0
}

// ByteOffset converts a block address to a byte offset.
func (g Geometry) ByteOffset(lba uint64) int64 {
	return int64(lba) * int64(g.BlockSize)
}

// Historical LBA addressing ceilings, in blocks.
const (
	ceilingLBA28 = 1 << 28
	ceilingLBA32 = 1 << 32
	ceilingLBA48 = 1 << 48
)

// Probe determines the geometry of the device at the given block size.
//
// Failure to size the device is fatal: the device is unusable.
func Probe(dev Sizer, blockSize uint64, logger *zap.Logger) (Geometry, error) {
	if blockSize == 0 {
		return Geometry{}, fmt.Errorf("invalid block size %d", blockSize)
	}

	size, err := dev.GetSize()
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to determine device end offset: %w", err)
	}

	g := Geometry{
		EndOffset: size,
		BlockSize: blockSize,
	}

	for _, ceiling := range []struct {
		blocks uint64
		scheme string
	}{
		{ceilingLBA28, "LBA-28"},
		{ceilingLBA32, "LBA-32"},
		{ceilingLBA48, "LBA-48"},
	} {
		if g.Blocks() > ceiling.blocks {
			logger.Warn("device exceeds historical addressing ceiling",
				zap.String("scheme", ceiling.scheme),
				zap.Uint64("blocks", g.Blocks()),
				zap.Uint64("block_size", blockSize),
			)
		}
	}

	if !g.Aligned() {
		logger.Warn("device end offset is not a whole multiple of the block size",
			zap.Uint64("end_offset", g.EndOffset),
			zap.Uint64("block_size", g.BlockSize),
		)
	}

	return g, nil
}
