package alignlib

import (
	"sync/atomic"

	"github.com/grailbio/base/traverse"
)

// UpdateEffectiveLengths recomputes every target's effective length from the
// current fragment-length distribution, at most once per done flag.
//
// Any worker may call it at any time. It never blocks: if another thread
// holds the gate, or done is already set, the call returns immediately
// having done nothing — a normal outcome of contention, not an error.
// Callers needing a completion guarantee poll the done flag.
func (l *Library) UpdateEffectiveLengths(done *atomic.Bool) {
	if !atomic.CompareAndSwapInt32(&l.refreshBusy, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&l.refreshBusy, 0)
	// Re-check under the gate: the flag may have been set between the
	// caller's read and the acquire.
	if done.Load() {
		return
	}

	logPMF, minLen, maxLen := l.fragLens.Snapshot()
	mean := l.fragLens.Mean()
	targets := l.targets.All()
	_ = traverse.Each(len(targets), func(i int) error {
		targets[i].UpdateEffectiveLength(logPMF, mean, minLen, maxLen)
		return nil
	})
	done.Store(true)
}
