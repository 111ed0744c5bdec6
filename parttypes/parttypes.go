// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package parttypes maps 4-hex nick identifiers to partition type
// GUIDs and human-readable labels.
//
// A nick is the MBR type byte times 0x100, the shorthand linking an
// MBR slot to its GPT classification.
package parttypes

import (
	"fmt"

	"github.com/google/uuid"
)

// Info describes a partition type.
type Info struct {
	GUID    uuid.UUID
	Name    string // GPT label
	MBRName string // MBR label
}

// Table is a read-only nick to type mapping; construct with Default or
// supply your own.
type Table map[string]Info

// Lookup returns the type info for a nick.
func (t Table) Lookup(nick string) (Info, bool) {
	info, ok := t[nick]

	return info, ok
}

// NickForGUID returns the nick whose type GUID matches, if any.
func (t Table) NickForGUID(guid uuid.UUID) (string, bool) {
	for nick, info := range t {
		if info.GUID == guid {
			return nick, true
		}
	}

	return "", false
}

// Nick derives the 4-hex nick for an MBR type byte.
func Nick(mbrType byte) string {
	return fmt.Sprintf("%04x", uint16(mbrType)<<8)
}

// Default returns the built-in type table.
func Default() Table {
	return Table{
		"0700": {
			GUID:    uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"),
			Name:    "Microsoft basic data",
			MBRName: "NTFS/exFAT",
		},
		"0c01": {
			GUID:    uuid.MustParse("E3C9E316-0B5C-4DB8-817D-F92DF00215AE"),
			Name:    "Microsoft reserved",
			MBRName: "Microsoft reserved",
		},
		"2700": {
			GUID:    uuid.MustParse("DE94BBA4-06D1-4D40-A16A-BFD50179D6AC"),
			Name:    "Windows RE",
			MBRName: "Windows RE",
		},
		"8200": {
			GUID:    uuid.MustParse("0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"),
			Name:    "Linux swap",
			MBRName: "Linux swap",
		},
		"8300": {
			GUID:    uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4"),
			Name:    "Linux filesystem",
			MBRName: "Linux",
		},
		"8e00": {
			GUID:    uuid.MustParse("E6D6D379-F507-44C2-A23C-238F2A3DF928"),
			Name:    "Linux LVM",
			MBRName: "Linux LVM",
		},
		"a502": {
			GUID:    uuid.MustParse("516E7CB5-6ECF-11D6-8FF8-00022D09712B"),
			Name:    "FreeBSD swap",
			MBRName: "FreeBSD swap",
		},
		"a503": {
			GUID:    uuid.MustParse("516E7CB6-6ECF-11D6-8FF8-00022D09712B"),
			Name:    "FreeBSD UFS",
			MBRName: "FreeBSD UFS",
		},
		"ab00": {
			GUID:    uuid.MustParse("426F6F74-0000-11AA-AA11-00306543ECAC"),
			Name:    "Apple boot",
			MBRName: "Apple boot",
		},
		"af00": {
			GUID:    uuid.MustParse("48465300-0000-11AA-AA11-00306543ECAC"),
			Name:    "Apple HFS/HFS+",
			MBRName: "HFS/HFS+",
		},
		"ef00": {
			GUID:    uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"),
			Name:    "EFI system partition",
			MBRName: "EFI System (FAT)",
		},
		"ef02": {
			GUID:    uuid.MustParse("21686148-6449-6E6F-744E-656564454649"),
			Name:    "BIOS boot partition",
			MBRName: "BIOS boot",
		},
		"ee00": {
			GUID:    uuid.Nil,
			Name:    "GPT protective",
			MBRName: "GPT protective",
		},
	}
}
