package model

import (
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// Alignment states tracked by AlnModel, derived from CIGAR operations.
const (
	stateMatch = iota
	stateMismatch
	stateInsertion
	stateDeletion
	stateClip
	numStates
)

// NumQualBuckets buckets per-base qualities in steps of 10, the last bucket
// holding Q30 and above.
const NumQualBuckets = 4

// AlnModel is a positional error model: a Markov chain over alignment states
// plus a base-quality histogram, one of each per position bin along the
// read. Bins are updated atomically so workers never serialize. Thread safe.
type AlnModel struct {
	bins int
	// counts[bin*numStates*numStates + from*numStates + to]
	counts []uint64
	// qualCounts[bin*NumQualBuckets + bucket]
	qualCounts []uint64
}

// NewAlnModel creates a model with the given number of position bins.
func NewAlnModel(bins int) *AlnModel {
	if bins <= 0 {
		log.Panicf("alnmodel: non-positive bin count %d", bins)
	}
	return &AlnModel{
		bins:       bins,
		counts:     make([]uint64, bins*numStates*numStates),
		qualCounts: make([]uint64, bins*NumQualBuckets),
	}
}

func qualBucket(q byte) int {
	b := int(q) / 10
	if b >= NumQualBuckets {
		b = NumQualBuckets - 1
	}
	return b
}

// Bins returns the number of position bins.
func (m *AlnModel) Bins() int { return m.bins }

func cigarState(op sam.CigarOpType) (int, bool) {
	switch op {
	case sam.CigarMatch, sam.CigarEqual:
		return stateMatch, true
	case sam.CigarMismatch:
		return stateMismatch, true
	case sam.CigarInsertion:
		return stateInsertion, true
	case sam.CigarDeletion:
		return stateDeletion, true
	case sam.CigarSoftClipped, sam.CigarHardClipped:
		return stateClip, true
	default:
		return 0, false
	}
}

// Observe applies one candidate alignment's evidence: it walks the record's
// CIGAR and counts per-base state transitions in the position bin where each
// base falls. Unmapped records are ignored.
func (m *AlnModel) Observe(rec *sam.Record) {
	if rec.Flags&sam.Unmapped != 0 || len(rec.Cigar) == 0 {
		return
	}
	readLen := 0
	for _, co := range rec.Cigar {
		if co.Type().Consumes().Query != 0 {
			readLen += co.Len()
		}
	}
	if readLen == 0 {
		return
	}

	prev := stateMatch
	readPos := 0
	for _, co := range rec.Cigar {
		cur, ok := cigarState(co.Type())
		if !ok {
			continue
		}
		consumesQuery := co.Type().Consumes().Query != 0
		for i := 0; i < co.Len(); i++ {
			pos := readPos
			if consumesQuery {
				readPos++
			}
			bin := pos * m.bins / readLen
			if bin >= m.bins {
				bin = m.bins - 1
			}
			idx := (bin*numStates+prev)*numStates + cur
			atomic.AddUint64(&m.counts[idx], 1)
			if consumesQuery && pos < len(rec.Qual) {
				atomic.AddUint64(&m.qualCounts[bin*NumQualBuckets+qualBucket(rec.Qual[pos])], 1)
			}
			prev = cur
		}
	}
}

// Snapshot returns per-bin transition probability matrices, normalized by
// source state. Rows with no observations are uniform. The copy is
// independent of later Observe calls.
func (m *AlnModel) Snapshot() [][][]float64 {
	out := make([][][]float64, m.bins)
	for b := 0; b < m.bins; b++ {
		mat := make([][]float64, numStates)
		for from := 0; from < numStates; from++ {
			row := make([]float64, numStates)
			total := uint64(0)
			for to := 0; to < numStates; to++ {
				c := atomic.LoadUint64(&m.counts[(b*numStates+from)*numStates+to])
				row[to] = float64(c)
				total += c
			}
			if total == 0 {
				for to := range row {
					row[to] = 1.0 / float64(numStates)
				}
			} else {
				for to := range row {
					row[to] /= float64(total)
				}
			}
			mat[from] = row
		}
		out[b] = mat
	}
	return out
}

// QualSnapshot returns the per-bin base-quality distribution, normalized
// within each bin. Bins with no observations are uniform.
func (m *AlnModel) QualSnapshot() [][]float64 {
	out := make([][]float64, m.bins)
	for b := 0; b < m.bins; b++ {
		row := make([]float64, NumQualBuckets)
		total := uint64(0)
		for i := 0; i < NumQualBuckets; i++ {
			c := atomic.LoadUint64(&m.qualCounts[b*NumQualBuckets+i])
			row[i] = float64(c)
			total += c
		}
		if total == 0 {
			for i := range row {
				row[i] = 1.0 / float64(NumQualBuckets)
			}
		} else {
			for i := range row {
				row[i] /= float64(total)
			}
		}
		out[b] = row
	}
	return out
}
