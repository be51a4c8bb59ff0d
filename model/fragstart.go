package model

import (
	"sync/atomic"

	"github.com/grailbio/base/log"
)

// DefaultFragStartBins is the default relative-position resolution of a
// FragStartDist.
const DefaultFragStartBins = 20

// FragStartDist accumulates where fragments start along their target, as a
// histogram over relative position (start / target length). The library keeps
// one per target length class so long and short targets keep separate
// positional profiles. Thread safe.
type FragStartDist struct {
	bins int
	// mass[b] holds the accumulated weight for relative-position bin b, as
	// float64 bits.
	mass        []uint64
	totObserved uint64
}

// NewFragStartDist creates a distribution with the given number of
// relative-position bins.
func NewFragStartDist(bins int) *FragStartDist {
	if bins <= 0 {
		log.Panicf("fragstart: non-positive bin count %d", bins)
	}
	return &FragStartDist{
		bins: bins,
		mass: make([]uint64, bins),
	}
}

// Bins returns the number of relative-position bins.
func (d *FragStartDist) Bins() int { return d.bins }

// Observe adds weight at the bin covering startPos on a target of the given
// length. Positions outside [0, refLen) are clamped; non-positive lengths are
// ignored. Safe for concurrent use.
func (d *FragStartDist) Observe(startPos, refLen int, weight float64) {
	if refLen <= 0 {
		return
	}
	if startPos < 0 {
		startPos = 0
	}
	if startPos >= refLen {
		startPos = refLen - 1
	}
	bin := startPos * d.bins / refLen
	if bin >= d.bins {
		bin = d.bins - 1
	}
	atomicAddFloat64(&d.mass[bin], weight)
	atomic.AddUint64(&d.totObserved, 1)
}

// TotalObserved returns the number of Observe calls applied.
func (d *FragStartDist) TotalObserved() uint64 { return atomic.LoadUint64(&d.totObserved) }

// Snapshot returns the normalized relative-position distribution as a copy
// that later Observe calls do not affect. An empty distribution is uniform.
func (d *FragStartDist) Snapshot() []float64 {
	out := make([]float64, d.bins)
	sum := 0.0
	for b := range out {
		out[b] = loadFloat64(&d.mass[b])
		sum += out[b]
	}
	if sum == 0 {
		for b := range out {
			out[b] = 1.0 / float64(d.bins)
		}
		return out
	}
	for b := range out {
		out[b] /= sum
	}
	return out
}
