// Package alignlib ties an alignment library to the set of targets it
// quantifies: it owns the target registry, the alignment source, the
// ambiguity cluster forest, the equivalence-class table and the shared
// statistical models, and orchestrates multi-pass refinement over them.
//
// Worker goroutines pull groups from the source and call ApplyGroup; the
// outer optimization loop reads the derived structures between passes.
package alignlib

import (
	"os"
	"sync/atomic"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio/encoding/fasta"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"

	"github.com/grailbio/quant/bamqueue"
	"github.com/grailbio/quant/clusterforest"
	"github.com/grailbio/quant/eqclass"
	"github.com/grailbio/quant/model"
	"github.com/grailbio/quant/target"
)

// Library groups a set of alignment inputs with the targets they quantify
// and the structures derived from streaming them.
type Library struct {
	opts   Opts
	format LibraryFormat

	targets *target.Registry
	queue   *bamqueue.Queue

	// forest and eqc are rebuilt per pass by Reset; see the per-pass
	// policy note in DESIGN.md.
	forest atomic.Pointer[clusterforest.Forest]
	eqc    atomic.Pointer[eqclass.Table]

	fragLens *model.FragLenDist
	alnModel *model.AlnModel
	seqBias  *model.SeqBias
	gc       *model.GCModel
	// fragStarts holds one start-position distribution per target length
	// class, indexed by Target.LengthClass.
	fragStarts []*model.FragStartDist

	passes uint64

	// refreshBusy is the single-writer gate for effective-length updates.
	refreshBusy int32
}

// New builds a library from alignment files and a reference FASTA, starts
// the source, and leaves the library streaming its first pass.
//
// Construction fails if any input is missing or if multiple inputs carry
// inconsistent reference tables.
func New(alnPaths []string, refPath string, format LibraryFormat, opts Opts) (*Library, error) {
	for _, path := range alnPaths {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "alignment file %s does not exist", path)
		}
	}

	ctx := vcontext.Background()
	in, err := file.Open(ctx, refPath)
	if err != nil {
		return nil, errors.Wrapf(err, "transcript file %s does not exist", refPath)
	}
	defer in.Close(ctx) // nolint: errcheck
	refSeqs, err := fasta.New(in.Reader(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing transcript file %s", refPath)
	}

	queue, err := bamqueue.New(alnPaths, opts.ParseThreads, opts.QueueDepth)
	if err != nil {
		return nil, err
	}
	return NewFromQueue(queue, refSeqs, format, opts)
}

// NewFromQueue is New for a pre-constructed queue and an already-parsed
// reference set. refSeqs may be nil, leaving target sequences (and the bias
// models' inputs) unpopulated.
func NewFromQueue(queue *bamqueue.Queue, refSeqs fasta.Fasta, format LibraryFormat, opts Opts) (*Library, error) {
	if opts.ErrorModelBins <= 0 {
		opts.ErrorModelBins = DefaultOpts.ErrorModelBins
	}
	if opts.SeqBiasK <= 0 {
		opts.SeqBiasK = DefaultOpts.SeqBiasK
	}
	if opts.FragLen.MaxLen <= 0 {
		opts.FragLen = DefaultOpts.FragLen
	}
	if opts.FragStartBins <= 0 {
		opts.FragStartBins = DefaultOpts.FragStartBins
	}

	lib := &Library{
		opts:     opts,
		format:   format,
		queue:    queue,
		targets:  target.NewFromHeader(queue.Header()),
		fragLens: model.NewFragLenDist(opts.FragLen),
		alnModel: model.NewAlnModel(opts.ErrorModelBins),
		seqBias:  model.NewSeqBias(opts.SeqBiasK),
		gc:       model.NewGCModel(),
	}
	lib.fragStarts = make([]*model.FragStartDist, target.NumLengthClasses)
	for i := range lib.fragStarts {
		lib.fragStarts[i] = model.NewFragStartDist(opts.FragStartBins)
	}
	lib.forest.Store(clusterforest.New(lib.targets.Len()))
	lib.eqc.Store(eqclass.New())

	if refSeqs != nil {
		missing := 0
		for _, t := range lib.targets.All() {
			seq, err := refSeqs.Get(t.Name, 0, uint64(t.Length))
			if err != nil {
				missing++
				continue
			}
			lib.targets.SetSequence(t.ID, []byte(seq))
		}
		if missing > 0 {
			log.Error.Printf("%d of %d targets missing from the reference FASTA; "+
				"sequence bias will not be modeled for them", missing, lib.targets.Len())
		}
	}

	log.Printf("loaded %d targets; starting alignment parsing", lib.targets.Len())
	queue.Start(nil, false)
	return lib, nil
}

// Targets returns the target registry.
func (l *Library) Targets() *target.Registry { return l.targets }

// ClusterForest returns the current pass's cluster forest.
func (l *Library) ClusterForest() *clusterforest.Forest { return l.forest.Load() }

// EqClasses returns the current pass's equivalence-class table.
func (l *Library) EqClasses() *eqclass.Table { return l.eqc.Load() }

// FragLenDist returns the shared fragment-length distribution.
func (l *Library) FragLenDist() *model.FragLenDist { return l.fragLens }

// AlnModel returns the shared positional error model.
func (l *Library) AlnModel() *model.AlnModel { return l.alnModel }

// SeqBias returns the shared read-start k-mer bias distribution.
func (l *Library) SeqBias() *model.SeqBias { return l.seqBias }

// GC returns the shared GC-content model.
func (l *Library) GC() *model.GCModel { return l.gc }

// FragStartDists returns the per-length-class fragment-start distributions,
// indexed by Target.LengthClass. Callers must not modify the slice.
func (l *Library) FragStartDists() []*model.FragStartDist { return l.fragStarts }

// Format returns the library-layout descriptor.
func (l *Library) Format() LibraryFormat { return l.format }

// Header returns the alignment header shared by all inputs.
func (l *Library) Header() *sam.Header { return l.queue.Header() }

// Next pulls the next alignment group from the source; ok is false once the
// pass has drained.
func (l *Library) Next() (*bamqueue.AlignmentGroup, bool) { return l.queue.Next() }

// NumObservedFragments returns the number of fragments seen by the source in
// the current pass.
func (l *Library) NumObservedFragments() uint64 { return l.queue.NumObservedFragments() }

// NumMappedFragments returns the number of mapped fragments in the current
// pass.
func (l *Library) NumMappedFragments() uint64 { return l.queue.NumMappedFragments() }

// NumUniquelyMappedFragments returns the number of fragments in the current
// pass compatible with exactly one target.
func (l *Library) NumUniquelyMappedFragments() uint64 { return l.queue.NumUniquelyMappedFragments() }

// UpperBoundHits returns an upper bound on usable fragments, used by the
// outer loop's convergence heuristics.
func (l *Library) UpperBoundHits() uint64 { return l.queue.NumMappedFragments() }

// EffectiveMappingRate returns mapped over observed fragments.
func (l *Library) EffectiveMappingRate() float64 {
	observed := l.NumObservedFragments()
	if observed == 0 {
		return 0
	}
	return float64(l.NumMappedFragments()) / float64(observed)
}

// Passes returns the number of completed refinement passes counted by Reset.
func (l *Library) Passes() uint64 { return atomic.LoadUint64(&l.passes) }

// Close releases the alignment source.
func (l *Library) Close() error { return l.queue.Close() }
