package alignlib

import (
	"os"
	"sync/atomic"

	"github.com/grailbio/base/log"

	"github.com/grailbio/quant/bamqueue"
	"github.com/grailbio/quant/clusterforest"
	"github.com/grailbio/quant/eqclass"
)

// Reset rewinds the alignment source for another refinement pass and
// restarts its producers with the given filter and ambiguous-only switch.
// It returns false, leaving the pass counter untouched, if any input is not
// a re-readable regular file (e.g. a streaming pipe).
//
// The cluster forest and equivalence-class table are rebuilt for the new
// pass; callers wanting the previous pass's view must capture it before
// calling Reset. Must not be called concurrently with an in-flight pass.
func (l *Library) Reset(incPass bool, filter bamqueue.Filter, ambiguousOnly bool) bool {
	for _, path := range l.queue.Paths() {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			log.Error.Printf("cannot re-stream alignment input %s: not a regular file", path)
			return false
		}
	}
	if err := l.queue.Reset(); err != nil {
		log.Error.Printf("alignment source failed during the previous pass: %v", err)
		return false
	}

	l.forest.Store(clusterforest.New(l.targets.Len()))
	l.eqc.Store(eqclass.New())
	l.queue.Start(filter, ambiguousOnly)

	if incPass {
		n := atomic.AddUint64(&l.passes, 1)
		log.Printf("starting quantification pass %d", n+1)
	}
	return true
}
