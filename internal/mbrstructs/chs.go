// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mbrstructs

// CHSTriple is the raw 3-byte legacy cylinder/head/sector field.
//
// The all-zero and all-0xFF triples are sentinels (LBA-32 and LBA-48
// addressing) and must not be decoded as literal geometry.
type CHSTriple [3]byte

// IsLBA32 reports the all-zero "LBA-32" sentinel.
func (t CHSTriple) IsLBA32() bool {
	return t == CHSTriple{0x00, 0x00, 0x00}
}

// IsLBA48 reports the all-0xFF "LBA-48" sentinel.
func (t CHSTriple) IsLBA48() bool {
	return t == CHSTriple{0xFF, 0xFF, 0xFF}
}

// IsSentinel reports whether the triple is one of the addressing
// sentinels.
func (t CHSTriple) IsSentinel() bool {
	return t.IsLBA32() || t.IsLBA48()
}

// CHS is a decoded cylinder/head/sector address.
type CHS struct {
	Cylinder uint16
	Head     uint8
	Sector   uint8
}

// Decode unpacks the triple: byte 0 is the head, the top two bits of
// byte 1 are the cylinder high bits, the low six bits are the sector.
//
// Callers must check IsSentinel first.
func (t CHSTriple) Decode() CHS {
	return CHS{
		Cylinder: uint16(t[1]&0xC0)<<2 | uint16(t[2]),
		Head:     t[0],
		Sector:   t[1] & 0x3F,
	}
}

// Encode packs the address back into the 3-byte on-disk form.
func (c CHS) Encode() CHSTriple {
	return CHSTriple{
		c.Head,
		byte(c.Cylinder>>2)&0xC0 | byte(c.Sector)&0x3F,
		byte(c.Cylinder),
	}
}
