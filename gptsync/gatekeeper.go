// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gptsync

import (
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/siderolabs/go-gptsync/internal/ioutil"
)

// Gatekeeper applies or withholds finalized writes per the
// write-enable policy.
type Gatekeeper struct {
	dev    Device
	logger *zap.Logger

	allowWrites bool
}

// GatekeeperOption configures a Gatekeeper.
type GatekeeperOption func(*Gatekeeper)

// WithWritesAllowed enables device writes; the default policy
// withholds them.
func WithWritesAllowed(allow bool) GatekeeperOption {
	return func(g *Gatekeeper) {
		g.allowWrites = allow
	}
}

// WithGatekeeperLogger sets the logger used to surface withheld
// buffers.
func WithGatekeeperLogger(logger *zap.Logger) GatekeeperOption {
	return func(g *Gatekeeper) {
		g.logger = logger
	}
}

// NewGatekeeper returns a gatekeeper over the device.
func NewGatekeeper(dev Device, opts ...GatekeeperOption) *Gatekeeper {
	g := &Gatekeeper{
		dev:    dev,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// CommitResult reports what the gatekeeper did with each pending
// write.
type CommitResult struct {
	// Applied lists structures written to the device.
	Applied []Structure

	// Withheld lists writes denied by policy, with their finalized
	// buffers for out-of-band application. A withheld write is not an
	// error.
	Withheld []PendingWrite
}

// Commit applies every pending write allowed by policy.
//
// A buffer whose length does not match the structure's declared fixed
// size is a hard inconsistency and is never written. A failed device
// write is fatal: partition metadata writes are not safely retryable.
func (g *Gatekeeper) Commit(pending []PendingWrite) (CommitResult, error) {
	var result CommitResult

	for _, pw := range pending {
		if len(pw.Data) != pw.Size {
			return result, fmt.Errorf("%s: finalized buffer is %d bytes, declared size is %d", pw.Structure, len(pw.Data), pw.Size)
		}

		if !g.allowWrites {
			g.logger.Warn("write withheld by policy",
				zap.Stringer("structure", pw.Structure),
				zap.Int64("offset", pw.Offset),
				zap.String("data", "\n"+hex.Dump(pw.Data)),
			)

			result.Withheld = append(result.Withheld, pw)

			continue
		}

		if err := ioutil.WriteFullAt(g.dev, pw.Data, pw.Offset); err != nil {
			return result, fmt.Errorf("failed to write %s at offset %d: %w", pw.Structure, pw.Offset, err)
		}

		g.logger.Info("structure rewritten",
			zap.Stringer("structure", pw.Structure),
			zap.Int64("offset", pw.Offset),
			zap.Int("size", pw.Size),
		)

		result.Applied = append(result.Applied, pw.Structure)
	}

	if len(result.Applied) > 0 {
		if err := g.dev.Sync(); err != nil {
			return result, fmt.Errorf("failed to sync device: %w", err)
		}
	}

	return result, nil
}
