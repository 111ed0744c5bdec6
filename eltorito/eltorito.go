// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package eltorito detects optical-media volume-descriptor markers
// inside nominally empty partitions.
package eltorito

import (
	"io"

	"go.uber.org/zap"

	"github.com/siderolabs/go-gptsync/internal/ioutil"
)

const (
	// DescriptorSize is the size of an ISO9660 volume descriptor.
	DescriptorSize = 2048

	// descriptor type 255 terminates the descriptor sequence.
	typeTerminator = 0xFF
)

// standardIdentifier is the 5-byte marker at offset 1 of a volume
// descriptor.
var standardIdentifier = []byte("CD001")

// Historical volume-descriptor start offsets, in 2048-byte blocks from
// the anchor.
var descriptorOffsets = []uint64{0, 16, 32}

// MatchThreshold is the number of marker matches above which an empty
// partition is reclassified as carrying an optical-media filesystem.
const MatchThreshold = 2

// Scanner scans for volume-descriptor markers.
//
// The set of already-scanned descriptor addresses is shared across
// calls so overlapping partitions are not scanned twice.
type Scanner struct {
	r      io.ReaderAt
	logger *zap.Logger

	scanned map[uint64]struct{}
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner returns a scanner over the readable handle.
func NewScanner(r io.ReaderAt, opts ...Option) *Scanner {
	s := &Scanner{
		r:       r,
		logger:  zap.NewNop(),
		scanned: make(map[uint64]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Scan looks for markers anchored at absolute zero and at the
// partition's start, returning the number of matches at descriptor
// addresses not seen before.
//
// A read failure at a candidate position ends that descriptor walk
// only, as if a terminator had been read.
func (s *Scanner) Scan(partitionStartLBA, blockSize uint64) int {
	matches := 0

	for _, anchor := range []uint64{0, partitionStartLBA * blockSize} {
		for _, offset := range descriptorOffsets {
			matches += s.walk(anchor + offset*DescriptorSize)
		}
	}

	return matches
}

// walk reads consecutive descriptors from the position until a
// terminator type, a foreign identifier, or a failed read.
func (s *Scanner) walk(pos uint64) int {
	matches := 0

	for {
		lba := pos / DescriptorSize

		if _, ok := s.scanned[lba]; ok {
			break
		}

		buf := make([]byte, DescriptorSize)
		if err := ioutil.ReadFullAt(s.r, buf, int64(pos)); err != nil {
			// treated as an end-of-sequence type code
			break
		}

		s.scanned[lba] = struct{}{}

		if int(buf[0]) >= typeTerminator || string(buf[1:6]) != string(standardIdentifier) {
			break
		}

		s.logger.Debug("optical-media marker found", zap.Uint64("lba", lba))

		matches++
		pos += DescriptorSize
	}

	return matches
}
