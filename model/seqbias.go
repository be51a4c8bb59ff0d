package model

import (
	"sync/atomic"

	"github.com/grailbio/base/log"
)

const invalidBaseBits = uint8(255)

var asciiToBaseBits [256]uint8

func init() {
	for i := range asciiToBaseBits {
		asciiToBaseBits[i] = invalidBaseBits
	}
	asciiToBaseBits['A'] = 0
	asciiToBaseBits['a'] = 0
	asciiToBaseBits['C'] = 1
	asciiToBaseBits['c'] = 1
	asciiToBaseBits['G'] = 2
	asciiToBaseBits['g'] = 2
	asciiToBaseBits['T'] = 3
	asciiToBaseBits['t'] = 3
}

// SeqBias counts the k-mer context at the 5' start of each observed read,
// for sequence-specific bias correction. Counts are per-kmer atomic. Thread
// safe.
type SeqBias struct {
	k      int
	counts []uint32 // 4^k entries

	expected atomic.Pointer[[]float64] // set by the outer loop
	observed uint64
}

// NewSeqBias creates a bias distribution over k-mers of length k.
func NewSeqBias(k int) *SeqBias {
	if k <= 0 || k > 15 {
		log.Panicf("seqbias: unsupported k %d", k)
	}
	s := &SeqBias{
		k:      k,
		counts: make([]uint32, 1<<(2*uint(k))),
	}
	expected := make([]float64, len(s.counts))
	for i := range expected {
		expected[i] = 1.0
	}
	s.expected.Store(&expected)
	return s
}

// K returns the k-mer length.
func (s *SeqBias) K() int { return s.k }

// kmerIndex packs seq[0:k] into a 2-bit-per-base index. ok is false if the
// window contains a non-ACGT base.
func (s *SeqBias) kmerIndex(seq []byte) (idx uint32, ok bool) {
	if len(seq) < s.k {
		return 0, false
	}
	for i := 0; i < s.k; i++ {
		bits := asciiToBaseBits[seq[i]]
		if bits == invalidBaseBits {
			return 0, false
		}
		idx = idx<<2 | uint32(bits)
	}
	return idx, true
}

// Observe counts the k-mer at the start of seq. Reads shorter than k or with
// an ambiguous base in the window are skipped. Safe for concurrent use.
func (s *SeqBias) Observe(seq []byte) {
	idx, ok := s.kmerIndex(seq)
	if !ok {
		return
	}
	atomic.AddUint32(&s.counts[idx], 1)
	atomic.AddUint64(&s.observed, 1)
}

// TotalObserved returns the number of reads counted.
func (s *SeqBias) TotalObserved() uint64 { return atomic.LoadUint64(&s.observed) }

// Counts returns a copy of the raw k-mer counts.
func (s *SeqBias) Counts() []uint32 {
	out := make([]uint32, len(s.counts))
	for i := range s.counts {
		out[i] = atomic.LoadUint32(&s.counts[i])
	}
	return out
}

// Snapshot returns the observed k-mer distribution normalized to sum to 1.
func (s *SeqBias) Snapshot() []float64 {
	counts := s.Counts()
	total := 0.0
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = float64(c)
		total += float64(c)
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out
}

// SetExpected installs the expected (bias-free) k-mer distribution computed
// by the outer loop.
func (s *SeqBias) SetExpected(expected []float64) {
	if len(expected) != len(s.counts) {
		log.Panicf("seqbias: expected table of size %d, want %d", len(expected), len(s.counts))
	}
	cp := append([]float64(nil), expected...)
	s.expected.Store(&cp)
}

// Expected returns the current expected k-mer distribution.
func (s *SeqBias) Expected() []float64 { return *s.expected.Load() }
