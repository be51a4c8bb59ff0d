package bamqueue

import (
	"sort"

	"github.com/grailbio/hts/sam"
)

// AlignmentGroup is one fragment (a read or read pair) together with all of
// its candidate alignments. Produced by the queue, consumed exactly once by a
// worker, then discarded.
type AlignmentGroup struct {
	// Name is the fragment's read name.
	Name string
	// Alignments holds every candidate record for this fragment, in file
	// order. All records share Name.
	Alignments []*sam.Record

	// targetIDs caches the compatible-target label, built when the group
	// is sealed by the producer.
	targetIDs []uint32
}

// seal computes the group's compatible-target label: the sorted,
// deduplicated reference ids of its mapped candidates.
func (g *AlignmentGroup) seal() {
	ids := make([]uint32, 0, len(g.Alignments))
	for _, rec := range g.Alignments {
		if rec.Flags&sam.Unmapped != 0 || rec.Ref == nil {
			continue
		}
		ids = append(ids, uint32(rec.Ref.ID()))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	g.targetIDs = out
}

// TargetIDs returns the sorted, deduplicated ids of the targets this
// fragment is compatible with. Callers must not modify the slice.
func (g *AlignmentGroup) TargetIDs() []uint32 { return g.targetIDs }

// IsMapped reports whether the fragment has at least one mapped candidate.
func (g *AlignmentGroup) IsMapped() bool { return len(g.targetIDs) > 0 }

// IsAmbiguous reports whether the fragment is compatible with more than one
// target.
func (g *AlignmentGroup) IsAmbiguous() bool { return len(g.targetIDs) > 1 }

// FragmentLength returns the fragment length implied by the first properly
// paired candidate, or false for unpaired or discordant fragments.
func (g *AlignmentGroup) FragmentLength() (int, bool) {
	for _, rec := range g.Alignments {
		if rec.Flags&sam.ProperPair == 0 {
			continue
		}
		if rec.TempLen > 0 {
			return rec.TempLen, true
		}
		if rec.TempLen < 0 {
			return -rec.TempLen, true
		}
	}
	return 0, false
}

// Primary returns the fragment's primary mapped candidate, or nil if every
// candidate is unmapped, secondary, or supplementary.
func (g *AlignmentGroup) Primary() *sam.Record {
	for _, rec := range g.Alignments {
		if rec.Flags&(sam.Unmapped|sam.Secondary|sam.Supplementary) == 0 {
			return rec
		}
	}
	return nil
}
