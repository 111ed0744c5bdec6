// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptsync

import (
	"go.uber.org/zap"

	"github.com/siderolabs/go-gptsync/parttypes"
)

// Rule is a declarative edit rule: if the predicate holds over the
// current structures, the assignment is applied.
//
// Rules are policy, external to the consistency engine; the engine
// only propagates the consequences of their assignments.
type Rule struct {
	Name string
	When func(*State) bool
	Then func(*State)
}

// Apply evaluates the rules in order and returns the names of those
// that fired.
func (s *State) Apply(rules []Rule) []string {
	var fired []string

	for _, rule := range rules {
		if !rule.When(s) {
			continue
		}

		rule.Then(s)

		s.logger.Info("edit rule fired", zap.String("rule", rule.Name))

		fired = append(fired, rule.Name)
	}

	return fired
}

// pair is an MBR slot and a main-table entry associated by shared
// start LBA.
type pair struct {
	slot  int
	entry int
}

// sharedStartPairs associates MBR slots with main-table entries by
// shared start LBA, skipping empty slots and the protective type.
func sharedStartPairs(s *State) []pair {
	var pairs []pair

	for i := range s.MBR.Entries {
		mbrEntry := &s.MBR.Entries[i]

		if mbrEntry.IsEmptyType() || mbrEntry.Type == 0xEE {
			continue
		}

		for j := range s.MainTable.Entries {
			gptEntry := &s.MainTable.Entries[j]

			if gptEntry.IsEmpty() {
				continue
			}

			if uint64(mbrEntry.FirstLBA) == gptEntry.FirstLBA {
				pairs = append(pairs, pair{slot: i, entry: j})
			}
		}
	}

	return pairs
}

// misclassifiedPairs returns the shared-start pairs whose MBR nick
// maps to a known type GUID differing from the GPT entry's.
func misclassifiedPairs(s *State, types parttypes.Table) []pair {
	var out []pair

	for _, p := range sharedStartPairs(s) {
		info, ok := types.Lookup(s.MBR.Entries[p.slot].Nick())
		if !ok {
			continue
		}

		if s.MainTable.Entries[p.entry].TypeGUID != info.GUID {
			out = append(out, p)
		}
	}

	return out
}

// SyncRules returns the classic hybrid-sync ruleset: partitions
// present in both schemes at the same start LBA are forced to an
// identical classification, with the MBR type byte as the source of
// truth.
func SyncRules(types parttypes.Table) []Rule {
	return []Rule{
		{
			Name: "force-shared-classification",
			When: func(s *State) bool {
				return len(misclassifiedPairs(s, types)) > 0
			},
			Then: func(s *State) {
				for _, p := range misclassifiedPairs(s, types) {
					info, _ := types.Lookup(s.MBR.Entries[p.slot].Nick())

					s.MainTable.Entries[p.entry].TypeGUID = info.GUID
				}
			},
		},
	}
}
