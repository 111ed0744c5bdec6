// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package block

import (
	"errors"
	"os"
)

// NewFromPath returns a new Device from the specified path.
func NewFromPath(path string, readWrite bool) (*Device, error) {
	flags := os.O_RDONLY
	if readWrite {
		flags = os.O_RDWR
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}

	return &Device{
		f:         f,
		ownedFile: true,
	}, nil
}

func (d *Device) devSize() (uint64, error) {
	return 0, errors.New("block device sizing is not implemented on this platform")
}

func (d *Device) devSectorSize() uint {
	return DefaultBlockSize
}
