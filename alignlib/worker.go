package alignlib

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"

	"github.com/grailbio/quant/bamqueue"
)

// ApplyGroup applies one fragment's evidence to the derived structures:
// the equivalence-class table, the cluster forest, and every statistical
// model. Safe to call from any number of worker goroutines; each group must
// be applied exactly once.
func (l *Library) ApplyGroup(g *bamqueue.AlignmentGroup) {
	ids := g.TargetIDs()
	if len(ids) == 0 {
		return
	}

	// Uniform conditional weights for the class's aux vector; the outer
	// loop refines these with model likelihoods.
	aux := make([]float64, len(ids))
	for i := range aux {
		aux[i] = 1.0 / float64(len(ids))
	}
	l.eqc.Load().GetOrCreate(ids).Increment(aux)

	forest := l.forest.Load()
	if len(ids) > 1 {
		members := make([]int, len(ids))
		for i, id := range ids {
			members[i] = int(id)
		}
		forest.MergeGroup(members, 1.0)
	} else {
		forest.Observe(int(ids[0]), 1.0)
	}

	if length, ok := g.FragmentLength(); ok {
		l.fragLens.Observe(length)
	}
	for _, rec := range g.Alignments {
		l.alnModel.Observe(rec)
	}
	if primary := g.Primary(); primary != nil {
		t := l.targets.Get(primary.Ref.ID())
		l.fragStarts[t.LengthClass].Observe(primary.Pos, t.Length, 1.0)
		if primary.Seq.Length > 0 {
			seq := primary.Seq.Expand()
			l.seqBias.Observe(seq)
			l.gc.ObserveGC(gcPercent(seq), 1.0)
			l.gc.ObserveStrand(primary.Flags&sam.Reverse == 0)
		}
	}
}

func gcPercent(seq []byte) int {
	gc := 0
	for _, b := range seq {
		switch b {
		case 'G', 'C', 'g', 'c':
			gc++
		}
	}
	return (gc*100 + len(seq)/2) / len(seq)
}

// RunPass drains the current pass with a pool of worker goroutines and
// finalizes the equivalence-class table at the boundary. It returns after
// every fragment of the pass has been applied exactly once.
func (l *Library) RunPass(parallelism int) error {
	if parallelism <= 0 {
		parallelism = 1
	}
	err := traverse.Each(parallelism, func(_ int) error {
		for {
			g, ok := l.queue.Next()
			if !ok {
				return nil
			}
			l.ApplyGroup(g)
		}
	})
	if err != nil {
		return err
	}
	l.eqc.Load().Finalize()
	log.Debug.Printf("pass drained: %d observed, %d mapped, %d unique, %d classes",
		l.NumObservedFragments(), l.NumMappedFragments(),
		l.NumUniquelyMappedFragments(), l.eqc.Load().Len())
	return nil
}
