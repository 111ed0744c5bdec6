// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package geometry

// SizeProbeState is the state of a block-size probe.
type SizeProbeState int

// Block-size probe states.
const (
	SizeUnknown SizeProbeState = iota
	SizeTrying
	SizeConfirmed
	SizeExhausted
)

func (s SizeProbeState) String() string {
	switch s {
	case SizeUnknown:
		return "unknown"
	case SizeTrying:
		return "trying"
	case SizeConfirmed:
		return "confirmed"
	case SizeExhausted:
		return "exhausted"
	default:
		return "invalid"
	}
}

// SizeProbe walks a fixed sequence of candidate block sizes until one
// is confirmed or the sequence is exhausted.
//
// The caller-supplied size is tried first, then the common sizes 512,
// 2048 and 4096 in order (each at most once).
type SizeProbe struct {
	candidates []uint64
	idx        int
	state      SizeProbeState
	confirmed  uint64
}

// NewSizeProbe returns a probe starting at the given block size.
func NewSizeProbe(initial uint64) *SizeProbe {
	candidates := []uint64{initial}

	for _, c := range []uint64{512, 2048, 4096} {
		if c != initial {
			candidates = append(candidates, c)
		}
	}

	return &SizeProbe{
		candidates: candidates,
	}
}

// Current returns the candidate to try, if any.
func (p *SizeProbe) Current() (uint64, bool) {
	switch p.state {
	case SizeUnknown, SizeTrying:
		p.state = SizeTrying

		return p.candidates[p.idx], true
	default:
		return 0, false
	}
}

// Reject moves on to the next candidate.
func (p *SizeProbe) Reject() {
	if p.state != SizeTrying {
		return
	}

	p.idx++

	if p.idx >= len(p.candidates) {
		p.state = SizeExhausted
	}
}

// Confirm accepts the current candidate.
func (p *SizeProbe) Confirm() {
	if p.state != SizeTrying {
		return
	}

	p.confirmed = p.candidates[p.idx]
	p.state = SizeConfirmed
}

// State returns the probe state.
func (p *SizeProbe) State() SizeProbeState {
	return p.state
}

// Confirmed returns the confirmed block size, if any.
func (p *SizeProbe) Confirmed() (uint64, bool) {
	if p.state != SizeConfirmed {
		return 0, false
	}

	return p.confirmed, true
}

// Corrected reports whether the confirmed size differs from the
// initially assumed one.
func (p *SizeProbe) Corrected() bool {
	return p.state == SizeConfirmed && p.confirmed != p.candidates[0]
}
