// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package block provides access to block devices and disk images.
package block

import (
	"io"
	"os"
)

// DefaultBlockSize is the default logical block size in bytes.
const DefaultBlockSize = 512

// Device wraps a block device or a regular disk image file.
type Device struct {
	f *os.File

	ownedFile bool
}

// NewFromFile returns a new Device from the specified file.
func NewFromFile(f *os.File) *Device {
	return &Device{f: f}
}

// Close the device if it is owned by this wrapper.
func (d *Device) Close() error {
	if d.ownedFile {
		return d.f.Close()
	}

	return nil
}

// ReadAt implements io.ReaderAt.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	return d.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	return d.f.WriteAt(p, off)
}

// Sync flushes pending writes to stable storage.
func (d *Device) Sync() error {
	return d.f.Sync()
}

// GetSize returns the device or image size in bytes.
func (d *Device) GetSize() (uint64, error) {
	st, err := d.f.Stat()
	if err != nil {
		return 0, err
	}

	if st.Mode().IsRegular() {
		return uint64(st.Size()), nil
	}

	if size, err := d.devSize(); err == nil {
		return size, nil
	}

	// last resort: seek to the end
	size, err := d.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	return uint64(size), nil
}

// GetSectorSize returns the device logical sector size in bytes, or
// DefaultBlockSize for regular files and on failure.
func (d *Device) GetSectorSize() uint {
	st, err := d.f.Stat()
	if err != nil || st.Mode().IsRegular() {
		return DefaultBlockSize
	}

	return d.devSectorSize()
}
