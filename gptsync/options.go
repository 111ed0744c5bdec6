// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptsync

import (
	"go.uber.org/zap"

	"github.com/siderolabs/go-gptsync/parttypes"
)

// Options is a set of options for reading the partition structures.
type Options struct {
	// Logger receives diagnostics; defaults to a no-op logger.
	Logger *zap.Logger

	// BlockSize is the assumed logical block size; zero means the
	// device's reported sector size.
	BlockSize uint64

	// Types is the nick to partition type mapping; defaults to
	// parttypes.Default().
	Types parttypes.Table
}

// Option is a function that sets some option.
type Option func(*Options)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithBlockSize sets the assumed logical block size.
func WithBlockSize(size uint64) Option {
	return func(o *Options) {
		o.BlockSize = size
	}
}

// WithTypeTable sets the nick to partition type mapping.
func WithTypeTable(types parttypes.Table) Option {
	return func(o *Options) {
		o.Types = types
	}
}

func applyOptions(opts ...Option) Options {
	options := Options{
		Logger: zap.NewNop(),
		Types:  parttypes.Default(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return options
}
