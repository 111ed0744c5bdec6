// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptstructs_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-gptsync/internal/gptstructs"
)

func TestEntryEmptySentinel(t *testing.T) {
	t.Parallel()

	var empty gptstructs.Entry

	assert.True(t, empty.IsEmpty())

	buf, err := empty.Encode()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, gptstructs.EntrySize), buf)

	back, err := gptstructs.DecodeEntry(buf)
	require.NoError(t, err)
	assert.True(t, back.IsEmpty())
}

func TestEntryRoundTrip(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		name string

		entry gptstructs.Entry
	}{
		{
			name: "efi system",

			entry: gptstructs.Entry{
				TypeGUID:   uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"),
				PartGUID:   uuid.MustParse("DA66737E-22A6-4C8C-9A0F-B549AE28D6E9"),
				FirstLBA:   2048,
				LastLBA:    411647,
				Attributes: 1,
				Name:       "EFI",
			},
		},
		{
			name: "non-ascii name",

			entry: gptstructs.Entry{
				TypeGUID: uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4"),
				PartGUID: uuid.MustParse("1A0F695D-2C4A-47B2-8D5E-44C1E58D38B7"),
				FirstLBA: 411648,
				LastLBA:  204766,
				Name:     "данные",
			},
		},
	} {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			buf, err := test.entry.Encode()
			require.NoError(t, err)
			require.Len(t, buf, gptstructs.EntrySize)

			back, err := gptstructs.DecodeEntry(buf)
			require.NoError(t, err)

			assert.Equal(t, test.entry, back)
			assert.False(t, back.IsEmpty())
		})
	}
}

func TestEncodeNameTooLong(t *testing.T) {
	t.Parallel()

	// 37 UTF-16 code units do not fit the 72-byte field
	_, err := gptstructs.EncodeName(strings.Repeat("x", 37))
	assert.Error(t, err)

	buf, err := gptstructs.EncodeName(strings.Repeat("x", 36))
	require.NoError(t, err)
	assert.Len(t, buf, gptstructs.NameSize)
}

func TestAttributes(t *testing.T) {
	t.Parallel()

	var attrs gptstructs.Attributes

	assert.Empty(t, attrs.Bits())

	attrs = 1 | 1<<2 | 1<<63

	assert.Equal(t, []int{0, 2, 63}, attrs.Bits())

	assert.Equal(t,
		[]string{"system partition", "legacy BIOS bootable", "do not automount"},
		attrs.Describe(gptstructs.DefaultAttributeNames()),
	)

	attrs = 1 << 17

	assert.Equal(t, []string{"bit 17"}, attrs.Describe(gptstructs.DefaultAttributeNames()))
}
