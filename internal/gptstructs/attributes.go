// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptstructs

import (
	"fmt"
)

// Attributes is the 64-bit GPT partition attribute bitmask.
type Attributes uint64

// Bits returns the asserted bit positions in ascending order.
func (a Attributes) Bits() []int {
	var bits []int

	for i := 0; i < 64; i++ {
		if a&(1<<uint(i)) != 0 {
			bits = append(bits, i)
		}
	}

	return bits
}

// Describe annotates the asserted bits with names from the table, if
// any; unknown bits are rendered as "bit N".
func (a Attributes) Describe(names map[int]string) []string {
	var out []string

	for _, bit := range a.Bits() {
		if name, ok := names[bit]; ok {
			out = append(out, name)
		} else {
			out = append(out, fmt.Sprintf("bit %d", bit))
		}
	}

	return out
}

// DefaultAttributeNames maps well-known attribute bits to their names.
func DefaultAttributeNames() map[int]string {
	return map[int]string{
		0:  "system partition",
		1:  "hide from EFI",
		2:  "legacy BIOS bootable",
		60: "read-only",
		62: "hidden",
		63: "do not automount",
	}
}
