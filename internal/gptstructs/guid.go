// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptstructs

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GPT stores GUIDs in a mixed-endian layout: the first three fields
// (4, 2 and 2 bytes) are little-endian, the last two are big-endian.

func guidSwizzle(g []byte) []byte {
	return append(
		[]byte{
			g[3], g[2], g[1], g[0],
			g[5], g[4],
			g[7], g[6],
			g[8], g[9],
		},
		g[10:16]...,
	)
}

// GUIDFromBytes decodes an on-disk 16-byte GUID.
func GUIDFromBytes(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.Nil, fmt.Errorf("GUID must be 16 bytes, got %d", len(b))
	}

	return uuid.FromBytes(guidSwizzle(b))
}

// GUIDToBytes encodes a GUID into its on-disk 16-byte form.
func GUIDToBytes(u uuid.UUID) []byte {
	return guidSwizzle(u[:])
}

// GUIDString formats a GUID in the canonical hyphenated uppercase form.
func GUIDString(u uuid.UUID) string {
	return strings.ToUpper(u.String())
}
