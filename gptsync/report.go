// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptsync

import (
	"github.com/siderolabs/gen/xslices"
	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/go-gptsync/parttypes"
)

// PartitionSummary is a scheme-independent view of one partition for
// the reporting layer.
type PartitionSummary struct {
	Index int

	// Nick is the 4-hex shorthand classification.
	Nick string

	// TypeName is the human-readable type label, nil when the nick is
	// not in the type table.
	TypeName *string

	// Label is the GPT partition name; empty for MBR partitions.
	Label string

	FirstLBA uint64
	Sectors  uint64

	// OpticalFS marks a nominally empty slot reclassified by the
	// signature scanner.
	OpticalFS bool
}

// MBRSummary summarizes the non-empty MBR slots (and empty ones
// reclassified as optical-media filesystems).
func (s *State) MBRSummary() []PartitionSummary {
	var out []PartitionSummary

	for i := range s.MBR.Entries {
		entry := &s.MBR.Entries[i]

		if entry.IsEmptyType() && !s.MBR.OpticalFS[i] {
			continue
		}

		summary := PartitionSummary{
			Index:     i,
			Nick:      entry.Nick(),
			FirstLBA:  uint64(entry.FirstLBA),
			Sectors:   uint64(entry.Sectors),
			OpticalFS: s.MBR.OpticalFS[i],
		}

		if info, ok := s.types.Lookup(entry.Nick()); ok {
			summary.TypeName = pointer.To(info.MBRName)
		}

		out = append(out, summary)
	}

	return out
}

// GPTSummary summarizes the non-empty main-table entries.
func (s *State) GPTSummary() []PartitionSummary {
	indexes := xslices.FilterInPlace(makeIndexes(len(s.MainTable.Entries)), func(i int) bool {
		return !s.MainTable.Entries[i].IsEmpty()
	})

	return xslices.Map(indexes, func(i int) PartitionSummary {
		entry := &s.MainTable.Entries[i]

		summary := PartitionSummary{
			Index:    i,
			Label:    entry.Name,
			FirstLBA: entry.FirstLBA,
			Sectors:  entry.LastLBA - entry.FirstLBA + 1,
		}

		if nick, ok := s.types.NickForGUID(entry.TypeGUID); ok {
			summary.Nick = nick

			info, _ := s.types.Lookup(nick)
			summary.TypeName = pointer.To(info.Name)
		}

		return summary
	})
}

func makeIndexes(n int) []int {
	indexes := make([]int, n)

	for i := range indexes {
		indexes[i] = i
	}

	return indexes
}

// TypeTable returns the injected nick table.
func (s *State) TypeTable() parttypes.Table {
	return s.types
}
