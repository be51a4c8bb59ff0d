package bamqueue_test

import (
	"testing"

	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/quant/bamqueue"
)

// sam.NewHeader takes ownership of its references, so each test needs a
// fresh set; testHeader reassigns these before building the header.
var txpA, txpB, txpC *sam.Reference

func testHeader(t *testing.T) *sam.Header {
	txpA, _ = sam.NewReference("txpA", "", "", 500, nil, nil)
	txpB, _ = sam.NewReference("txpB", "", "", 1500, nil, nil)
	txpC, _ = sam.NewReference("txpC", "", "", 5000, nil, nil)
	h, err := sam.NewHeader(nil, []*sam.Reference{txpA, txpB, txpC})
	require.NoError(t, err)
	return h
}

func newRecord(name string, ref *sam.Reference, pos int, flags sam.Flags) *sam.Record {
	return &sam.Record{
		Name:  name,
		Ref:   ref,
		Pos:   pos,
		MapQ:  30,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 50)},
		Flags: flags,
	}
}

// testRecords is a name-collated stream: f1 maps ambiguously to {txpA, txpB},
// f2 uniquely to {txpC}, f3 is unmapped.
func testRecords() []*sam.Record {
	f3 := &sam.Record{Name: "f3", Flags: sam.Unmapped}
	return []*sam.Record{
		newRecord("f1", txpA, 10, 0),
		newRecord("f1", txpB, 200, sam.Secondary),
		newRecord("f2", txpC, 1000, 0),
		f3,
	}
}

func newTestQueue(t *testing.T, paths []string) *bamqueue.Queue {
	header := testHeader(t)
	provider := bamprovider.NewFakeProvider(header, testRecords())
	q, err := bamqueue.NewFromProviders(paths, []bamprovider.Provider{provider}, 1, 16)
	require.NoError(t, err)
	return q
}

func drain(q *bamqueue.Queue) []*bamqueue.AlignmentGroup {
	var groups []*bamqueue.AlignmentGroup
	for {
		g, ok := q.Next()
		if !ok {
			return groups
		}
		groups = append(groups, g)
	}
}

func TestGroupingAndCounters(t *testing.T) {
	q := newTestQueue(t, nil)
	assert.Equal(t, bamqueue.StateIdle, q.State())
	q.Start(nil, false)
	assert.Equal(t, bamqueue.StateStreaming, q.State())

	groups := drain(q)
	assert.Equal(t, bamqueue.StateDrained, q.State())
	require.Len(t, groups, 2)

	byName := map[string]*bamqueue.AlignmentGroup{}
	for _, g := range groups {
		byName[g.Name] = g
	}
	f1 := byName["f1"]
	require.NotNil(t, f1)
	assert.Equal(t, []uint32{0, 1}, f1.TargetIDs())
	assert.True(t, f1.IsAmbiguous())
	f2 := byName["f2"]
	require.NotNil(t, f2)
	assert.Equal(t, []uint32{2}, f2.TargetIDs())
	assert.False(t, f2.IsAmbiguous())

	assert.Equal(t, uint64(3), q.NumObservedFragments())
	assert.Equal(t, uint64(2), q.NumMappedFragments())
	assert.Equal(t, uint64(1), q.NumUniquelyMappedFragments())
	assert.NoError(t, q.Close())
}

func TestAmbiguousOnly(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Start(nil, true)
	groups := drain(q)
	require.Len(t, groups, 1)
	assert.Equal(t, "f1", groups[0].Name)
	// Counters still reflect everything parsed.
	assert.Equal(t, uint64(2), q.NumMappedFragments())
	assert.Equal(t, uint64(1), q.NumUniquelyMappedFragments())
}

func TestFilter(t *testing.T) {
	q := newTestQueue(t, nil)
	// Drop secondary candidates; f1 loses its txpB alignment and becomes
	// unique.
	q.Start(func(r *sam.Record) bool { return r.Flags&sam.Secondary == 0 }, false)
	groups := drain(q)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.False(t, g.IsAmbiguous())
	}
	assert.Equal(t, uint64(2), q.NumUniquelyMappedFragments())
}

func TestResetRestreams(t *testing.T) {
	q := newTestQueue(t, nil)
	q.Start(nil, false)
	first := drain(q)

	require.NoError(t, q.Reset())
	assert.Equal(t, bamqueue.StateIdle, q.State())
	assert.Equal(t, uint64(0), q.NumObservedFragments())
	q.Start(nil, false)
	second := drain(q)
	assert.Len(t, second, len(first))
	// Each pass reports its own counts.
	assert.Equal(t, uint64(3), q.NumObservedFragments())
	assert.Equal(t, uint64(2), q.NumMappedFragments())
	assert.Equal(t, uint64(1), q.NumUniquelyMappedFragments())
}

func TestLifecycleViolationsPanic(t *testing.T) {
	q := newTestQueue(t, nil)
	assert.Panics(t, func() { q.Reset() }, "Reset before Drained")
	q.Start(nil, false)
	assert.Panics(t, func() { q.Start(nil, false) }, "Start while Streaming")
}

func TestInconsistentHeaders(t *testing.T) {
	h1 := testHeader(t)
	other, err := sam.NewReference("txpA", "", "", 999, nil, nil)
	require.NoError(t, err)
	h2, err := sam.NewHeader(nil, []*sam.Reference{other})
	require.NoError(t, err)

	_, err = bamqueue.NewFromProviders(nil, []bamprovider.Provider{
		bamprovider.NewFakeProvider(h1, nil),
		bamprovider.NewFakeProvider(h2, nil),
	}, 1, 16)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inconsistent")
}

func TestFragmentLength(t *testing.T) {
	header := testHeader(t)
	r1 := newRecord("p1", txpC, 100, sam.Paired|sam.ProperPair)
	r1.TempLen = 250
	r2 := newRecord("p1", txpC, 300, sam.Paired|sam.ProperPair|sam.Reverse)
	r2.TempLen = -250
	provider := bamprovider.NewFakeProvider(header, []*sam.Record{r1, r2})
	q, err := bamqueue.NewFromProviders(nil, []bamprovider.Provider{provider}, 1, 4)
	require.NoError(t, err)
	q.Start(nil, false)
	groups := drain(q)
	require.Len(t, groups, 1)
	l, ok := groups[0].FragmentLength()
	require.True(t, ok)
	assert.Equal(t, 250, l)
}
