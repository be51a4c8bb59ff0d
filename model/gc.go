package model

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"
)

// NumGCBins is one bin per GC percentage point, 0..100 inclusive.
const NumGCBins = 101

// GCModel accumulates observed fragment GC-content counts against an
// expected (bias-free) GC distribution, plus the fraction of fragments
// oriented forward used to weight them. Observation is per-bin atomic;
// the expected table is replaced wholesale under a mutex. Thread safe.
type GCModel struct {
	observed [NumGCBins]uint64 // float64 bits

	mu       sync.Mutex
	expected [NumGCBins]float64

	fwdFragments   uint64
	totalFragments uint64

	// forcedFwd, when forcedSet != 0, overrides the derived forward
	// fraction. float64 bits.
	forcedFwd uint64
	forcedSet uint32
}

// NewGCModel creates a model with a flat expected distribution and a small
// positive floor on observed counts so ratios stay finite.
func NewGCModel() *GCModel {
	m := &GCModel{}
	for i := range m.observed {
		m.observed[i] = math.Float64bits(1e-5)
		m.expected[i] = 1.0
	}
	return m
}

// ObserveGC adds weight to the observed histogram at the given GC
// percentage. Safe for concurrent use.
func (m *GCModel) ObserveGC(pct int, weight float64) {
	if pct < 0 || pct >= NumGCBins {
		log.Panicf("gcmodel: GC percentage %d outside [0, 100]", pct)
	}
	atomicAddFloat64(&m.observed[pct], weight)
}

// ObserveStrand records one fragment's orientation.
func (m *GCModel) ObserveStrand(forward bool) {
	if forward {
		atomic.AddUint64(&m.fwdFragments, 1)
	}
	atomic.AddUint64(&m.totalFragments, 1)
}

// SetFracFwd fixes the forward-oriented fraction, overriding the value
// derived from ObserveStrand. The outer loop uses it to hand back a fraction
// estimated over the whole library.
func (m *GCModel) SetFracFwd(frac float64) {
	if frac < 0 || frac > 1 {
		log.Panicf("gcmodel: forward fraction %v outside [0, 1]", frac)
	}
	atomic.StoreUint64(&m.forcedFwd, math.Float64bits(frac))
	atomic.StoreUint32(&m.forcedSet, 1)
}

// FracFwd returns the fraction of forward-oriented fragments: the value set
// by SetFracFwd if any, otherwise the fraction observed via ObserveStrand,
// 0.5 if nothing has been observed.
func (m *GCModel) FracFwd() float64 {
	if atomic.LoadUint32(&m.forcedSet) != 0 {
		return math.Float64frombits(atomic.LoadUint64(&m.forcedFwd))
	}
	total := atomic.LoadUint64(&m.totalFragments)
	if total == 0 {
		return 0.5
	}
	return float64(atomic.LoadUint64(&m.fwdFragments)) / float64(total)
}

// FracRC returns the complement of FracFwd.
func (m *GCModel) FracRC() float64 { return 1.0 - m.FracFwd() }

// Observed returns a copy of the observed GC histogram.
func (m *GCModel) Observed() []float64 {
	out := make([]float64, NumGCBins)
	for i := range m.observed {
		out[i] = loadFloat64(&m.observed[i])
	}
	return out
}

// SetExpected replaces the expected GC distribution.
func (m *GCModel) SetExpected(expected []float64) {
	if len(expected) != NumGCBins {
		log.Panicf("gcmodel: expected table of size %d, want %d", len(expected), NumGCBins)
	}
	m.mu.Lock()
	copy(m.expected[:], expected)
	m.mu.Unlock()
}

// Expected returns a copy of the expected GC distribution.
func (m *GCModel) Expected() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.expected[:]...)
}
