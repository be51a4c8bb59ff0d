// Package model holds the shared statistical accumulators updated
// concurrently by worker threads: the empirical fragment-length
// distribution, the alignment (error) transition model, the read-start
// k-mer sequence-bias distribution, and the GC-content histograms.
//
// Every observe path uses per-bin atomic accumulation so that workers never
// serialize on a global lock.
package model

import (
	"math"
	"sync/atomic"

	"github.com/grailbio/base/log"
)

// atomicAddFloat64 adds v to the float64 stored as bits at addr.
func atomicAddFloat64(addr *uint64, v float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(addr, old, next) {
			return
		}
	}
}

func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}

// FragLenOpts configures a FragLenDist.
type FragLenOpts struct {
	// MaxLen bounds the length domain; observations beyond it are clamped.
	MaxLen int
	// PriorMean and PriorSD parameterize a gaussian prior over lengths.
	// PriorSD <= 0 disables the prior.
	PriorMean float64
	PriorSD   float64
	// KernelN and KernelP parameterize the binomial smoothing kernel
	// applied to each observation. KernelN == 0 disables smoothing.
	KernelN int
	KernelP float64
}

// DefaultFragLenOpts matches a typical short-read library.
var DefaultFragLenOpts = FragLenOpts{
	MaxLen:    1000,
	PriorMean: 250,
	PriorSD:   25,
	KernelN:   4,
	KernelP:   0.5,
}

// FragLenDist is the empirical fragment-length distribution over [0, MaxLen].
// Observations accumulate linearly per bin; the normalized log-PMF is derived
// on demand. Thread safe.
type FragLenDist struct {
	opts   FragLenOpts
	kernel []float64
	// mass[l] holds the accumulated (possibly kernel-smeared) weight for
	// length l, as float64 bits.
	mass []uint64

	totObserved uint64
	minSeen     int64
	maxSeen     int64
}

// NewFragLenDist creates a distribution with the given options.
func NewFragLenDist(opts FragLenOpts) *FragLenDist {
	if opts.MaxLen <= 0 {
		log.Panicf("fraglen: non-positive MaxLen %d", opts.MaxLen)
	}
	d := &FragLenDist{
		opts:    opts,
		mass:    make([]uint64, opts.MaxLen+1),
		minSeen: int64(opts.MaxLen + 1),
		maxSeen: -1,
	}
	if opts.KernelN > 0 {
		d.kernel = binomialKernel(opts.KernelN, opts.KernelP)
	}
	if opts.PriorSD > 0 {
		// Seed each bin with gaussian prior mass totaling one pseudo
		// observation, so early snapshots are well defined.
		total := 0.0
		prior := make([]float64, len(d.mass))
		for l := range prior {
			z := (float64(l) - opts.PriorMean) / opts.PriorSD
			prior[l] = math.Exp(-0.5 * z * z)
			total += prior[l]
		}
		for l := range prior {
			d.mass[l] = math.Float64bits(prior[l] / total)
		}
	}
	return d
}

// binomialKernel returns Binomial(n, p) weights for offsets 0..n, normalized
// to sum to 1.
func binomialKernel(n int, p float64) []float64 {
	k := make([]float64, n+1)
	sum := 0.0
	for i := 0; i <= n; i++ {
		k[i] = choose(n, i) * math.Pow(p, float64(i)) * math.Pow(1-p, float64(n-i))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func choose(n, k int) float64 {
	c := 1.0
	for i := 0; i < k; i++ {
		c *= float64(n-i) / float64(i+1)
	}
	return c
}

// Observe records one fragment of the given length. Lengths outside
// [0, MaxLen] are clamped. Safe for concurrent use.
func (d *FragLenDist) Observe(length int) {
	if length < 0 {
		length = 0
	}
	if length > d.opts.MaxLen {
		length = d.opts.MaxLen
	}
	if d.kernel == nil {
		atomicAddFloat64(&d.mass[length], 1.0)
	} else {
		// Smear the observation across neighboring bins, centered on
		// the observed length. Mass that would fall outside the domain
		// lands on the boundary bin.
		half := len(d.kernel) / 2
		for i, w := range d.kernel {
			l := length + i - half
			if l < 0 {
				l = 0
			}
			if l > d.opts.MaxLen {
				l = d.opts.MaxLen
			}
			atomicAddFloat64(&d.mass[l], w)
		}
	}
	atomic.AddUint64(&d.totObserved, 1)

	for {
		min := atomic.LoadInt64(&d.minSeen)
		if int64(length) >= min || atomic.CompareAndSwapInt64(&d.minSeen, min, int64(length)) {
			break
		}
	}
	for {
		max := atomic.LoadInt64(&d.maxSeen)
		if int64(length) <= max || atomic.CompareAndSwapInt64(&d.maxSeen, max, int64(length)) {
			break
		}
	}
}

// TotalObserved returns the number of Observe calls applied.
func (d *FragLenDist) TotalObserved() uint64 { return atomic.LoadUint64(&d.totObserved) }

// Support returns the [min, max] range of raw observed lengths. If nothing
// has been observed it falls back to the full domain.
func (d *FragLenDist) Support() (min, max int) {
	lo := atomic.LoadInt64(&d.minSeen)
	hi := atomic.LoadInt64(&d.maxSeen)
	if hi < 0 {
		return 0, d.opts.MaxLen
	}
	return int(lo), int(hi)
}

// Snapshot returns the normalized log-space PMF over the current support
// [min, max], as a copy that later Observe calls do not affect.
func (d *FragLenDist) Snapshot() (logPMF []float64, min, max int) {
	min, max = d.Support()
	linear := make([]float64, max-min+1)
	sum := 0.0
	for l := min; l <= max; l++ {
		m := loadFloat64(&d.mass[l])
		linear[l-min] = m
		sum += m
	}
	logPMF = make([]float64, len(linear))
	for i, m := range linear {
		if sum > 0 && m > 0 {
			logPMF[i] = math.Log(m / sum)
		} else {
			logPMF[i] = math.Inf(-1)
		}
	}
	return logPMF, min, max
}

// Mean returns the expected fragment length under the internally normalized
// accumulator.
func (d *FragLenDist) Mean() float64 {
	min, max := d.Support()
	sum, weighted := 0.0, 0.0
	for l := min; l <= max; l++ {
		m := loadFloat64(&d.mass[l])
		sum += m
		weighted += m * float64(l)
	}
	if sum == 0 {
		return 0
	}
	return weighted / sum
}
