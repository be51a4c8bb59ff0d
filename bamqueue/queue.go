// Package bamqueue is the alignment source: it parses BAM inputs on
// background producer goroutines and emits per-fragment AlignmentGroups
// through a bounded queue, with lifecycle support for multi-pass
// re-streaming.
//
// Inputs must be collated by read name (the usual layout for
// transcriptome-aligned libraries): a fragment's candidate alignments appear
// adjacently, so producers can seal a group whenever the name changes.
package bamqueue

import (
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	pkgerrors "github.com/pkg/errors"
)

// Filter inspects one candidate alignment; candidates for which it returns
// false are dropped before grouping. A nil Filter keeps everything.
type Filter func(*sam.Record) bool

// Queue states. A pass moves Idle -> Streaming (Start) -> Drained (queue
// exhausted); Reset is legal only from Drained and returns to Idle.
const (
	StateIdle int32 = iota
	StateStreaming
	StateDrained
)

// Queue reads grouped candidate alignments from one or more BAM inputs.
// Start/Reset are controller-side (single-threaded between passes); Next is
// safe from any number of consumer goroutines.
type Queue struct {
	paths        []string
	providers    []bamprovider.Provider
	header       *sam.Header
	parseThreads int
	depth        int

	state     int32
	groups    chan *AlignmentGroup
	producers sync.WaitGroup
	err       errors.Once

	numObserved uint64
	numMapped   uint64
	numUnique   uint64
}

// New opens every path with a bamprovider and validates that all inputs
// share one reference table. parseThreads bounds concurrent file parsing;
// depth is the bounded queue's capacity.
func New(paths []string, parseThreads, depth int) (*Queue, error) {
	providers := make([]bamprovider.Provider, len(paths))
	for i, path := range paths {
		providers[i] = bamprovider.NewProvider(path)
	}
	return NewFromProviders(paths, providers, parseThreads, depth)
}

// NewFromProviders is New for pre-constructed providers. Tests use it with
// bamprovider.NewFakeProvider.
func NewFromProviders(paths []string, providers []bamprovider.Provider, parseThreads, depth int) (*Queue, error) {
	if len(providers) == 0 {
		return nil, pkgerrors.New("bamqueue: no alignment inputs")
	}
	if parseThreads <= 0 {
		parseThreads = 1
	}
	if depth <= 0 {
		depth = 1 << 12
	}
	var header *sam.Header
	for i, p := range providers {
		h, err := p.GetHeader()
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "bamqueue: reading header of input %d", i)
		}
		if header == nil {
			header = h
		} else if !headersConsistent(header, h) {
			return nil, pkgerrors.Errorf(
				"bamqueue: input %d has a reference table inconsistent with input 0; "+
					"all inputs must carry identical reference names and lengths", i)
		}
	}
	return &Queue{
		paths:        paths,
		providers:    providers,
		header:       header,
		parseThreads: parseThreads,
		depth:        depth,
		state:        StateIdle,
	}, nil
}

// headersConsistent reports whether a and b name the same references with
// the same lengths, in the same order.
func headersConsistent(a, b *sam.Header) bool {
	ar, br := a.Refs(), b.Refs()
	if len(ar) != len(br) {
		return false
	}
	for i := range ar {
		if ar[i].Name() != br[i].Name() || ar[i].Len() != br[i].Len() {
			return false
		}
	}
	return true
}

// Header returns the (consistency-checked) header shared by all inputs.
func (q *Queue) Header() *sam.Header { return q.header }

// Paths returns the input paths, empty for provider-injected queues.
func (q *Queue) Paths() []string { return q.paths }

// State returns the queue's current lifecycle state.
func (q *Queue) State() int32 { return atomic.LoadInt32(&q.state) }

// Start launches the background producers. Each input is parsed by one
// goroutine; at most parseThreads inputs are parsed concurrently. Groups
// failing filter/ambiguousOnly are counted but not enqueued.
//
// REQUIRES: the queue is Idle.
func (q *Queue) Start(filter Filter, ambiguousOnly bool) {
	if !atomic.CompareAndSwapInt32(&q.state, StateIdle, StateStreaming) {
		log.Panicf("bamqueue: Start from state %d", q.State())
	}
	q.groups = make(chan *AlignmentGroup, q.depth)
	sem := make(chan struct{}, q.parseThreads)
	for _, p := range q.providers {
		q.producers.Add(1)
		go func(p bamprovider.Provider) {
			defer q.producers.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			q.produce(p, filter, ambiguousOnly)
		}(p)
	}
	go func() {
		q.producers.Wait()
		close(q.groups)
	}()
}

// produce reads one input start to finish, collating name-adjacent records
// into groups. The bounded channel send is the backpressure point.
func (q *Queue) produce(p bamprovider.Provider, filter Filter, ambiguousOnly bool) {
	iter := p.NewIterator(gbam.UniversalShard(q.header))
	var cur *AlignmentGroup
	for iter.Scan() {
		rec := iter.Record()
		if filter != nil && !filter(rec) {
			continue
		}
		if cur != nil && cur.Name != rec.Name {
			q.flush(cur, ambiguousOnly)
			cur = nil
		}
		if cur == nil {
			cur = &AlignmentGroup{Name: rec.Name}
		}
		cur.Alignments = append(cur.Alignments, rec)
	}
	if cur != nil {
		q.flush(cur, ambiguousOnly)
	}
	q.err.Set(iter.Close())
}

// flush seals a group, applies it to the running counters, and enqueues it
// if it is mapped and wanted.
func (q *Queue) flush(g *AlignmentGroup, ambiguousOnly bool) {
	g.seal()
	atomic.AddUint64(&q.numObserved, 1)
	if !g.IsMapped() {
		return
	}
	atomic.AddUint64(&q.numMapped, 1)
	if !g.IsAmbiguous() {
		atomic.AddUint64(&q.numUnique, 1)
	}
	if ambiguousOnly && !g.IsAmbiguous() {
		return
	}
	q.groups <- g
}

// Next returns the next alignment group, blocking while producers are still
// running. It returns ok=false once every group of the pass has been
// delivered; the first such return moves the queue to Drained.
func (q *Queue) Next() (*AlignmentGroup, bool) {
	g, ok := <-q.groups
	if !ok {
		atomic.CompareAndSwapInt32(&q.state, StateStreaming, StateDrained)
		return nil, false
	}
	return g, true
}

// Reset rewinds the queue for another pass and zeroes the counters, so each
// pass reports its own fragment counts.
//
// REQUIRES: the queue is Drained.
func (q *Queue) Reset() error {
	if !atomic.CompareAndSwapInt32(&q.state, StateDrained, StateIdle) {
		log.Panicf("bamqueue: Reset from state %d", q.State())
	}
	atomic.StoreUint64(&q.numObserved, 0)
	atomic.StoreUint64(&q.numMapped, 0)
	atomic.StoreUint64(&q.numUnique, 0)
	return q.err.Err()
}

// NumObservedFragments returns the number of fragments seen in the current
// pass, mapped or not.
func (q *Queue) NumObservedFragments() uint64 { return atomic.LoadUint64(&q.numObserved) }

// NumMappedFragments returns the number of fragments in the current pass with
// at least one mapped candidate.
func (q *Queue) NumMappedFragments() uint64 { return atomic.LoadUint64(&q.numMapped) }

// NumUniquelyMappedFragments returns the number of fragments in the current
// pass compatible with exactly one target.
func (q *Queue) NumUniquelyMappedFragments() uint64 { return atomic.LoadUint64(&q.numUnique) }

// Close releases the underlying providers and returns the first error any
// producer or provider encountered.
func (q *Queue) Close() error {
	for _, p := range q.providers {
		q.err.Set(p.Close())
	}
	return q.err.Err()
}
