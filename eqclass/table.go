// Package eqclass maintains the equivalence-class table: a concurrent map
// from "set of compatible targets" to an observation count and per-target
// auxiliary weights. Fragments with identical ambiguity patterns coalesce
// into one entry regardless of which worker observes them.
package eqclass

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/unsafe"
)

const numTableShards = 1024

// Entry is one equivalence class: a label (sorted, deduplicated target ids),
// an observation count and component-wise auxiliary weights.
type Entry struct {
	label []uint32

	mu      sync.Mutex
	weights []float64
	// count is incremented after the weights are folded in, so a reader
	// never observes a count larger than the number of applied increments.
	count uint64
}

// Label returns the entry's target ids. Callers must not modify it.
func (e *Entry) Label() []uint32 { return e.label }

// Count returns the number of increments applied so far.
func (e *Entry) Count() uint64 { return atomic.LoadUint64(&e.count) }

// Increment adds one observation with the given per-target auxiliary weights.
// weights must have one component per label member, or be nil.
func (e *Entry) Increment(weights []float64) {
	if weights != nil && len(weights) != len(e.label) {
		log.Panicf("eqclass: %d weights for label of %d targets", len(weights), len(e.label))
	}
	e.mu.Lock()
	for i, w := range weights {
		e.weights[i] += w
	}
	e.mu.Unlock()
	atomic.AddUint64(&e.count, 1)
}

// Weights returns a copy of the auxiliary weights.
func (e *Entry) Weights() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := make([]float64, len(e.weights))
	copy(w, e.weights)
	return w
}

type tableShard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Table is a sharded, thread-safe map from label to Entry. Exactly one entry
// exists per distinct label regardless of insertion races.
type Table struct {
	shards    [numTableShards]tableShard
	len       int64
	finalized bool
}

// New creates an empty table.
func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*Entry)
	}
	return t
}

// labelKey packs a label into a map key.
func labelKey(label []uint32) string {
	b := make([]byte, 4*len(label))
	for i, id := range label {
		binary.LittleEndian.PutUint32(b[4*i:], id)
	}
	return string(b)
}

// GetOrCreate returns the unique entry for label, creating it if needed.
//
// REQUIRES: label is sorted in ascending order with no duplicates.
func (t *Table) GetOrCreate(label []uint32) *Entry {
	for i := 1; i < len(label); i++ {
		if label[i] <= label[i-1] {
			log.Panicf("eqclass: label %v is not sorted and deduplicated", label)
		}
	}
	key := labelKey(label)
	shard := &t.shards[seahash.Sum64(unsafe.StringToBytes(key))%numTableShards]

	shard.mu.Lock()
	e, ok := shard.entries[key]
	if !ok {
		e = &Entry{
			label:   append([]uint32(nil), label...),
			weights: make([]float64, len(label)),
		}
		shard.entries[key] = e
		atomic.AddInt64(&t.len, 1)
	}
	shard.mu.Unlock()
	return e
}

// Len returns the number of distinct labels.
func (t *Table) Len() int { return int(atomic.LoadInt64(&t.len)) }

// ForEach calls visitor for every fully-inserted entry until it returns
// false. No iteration order is guaranteed. Iterating concurrently with
// inserts is safe but may miss labels inserted after iteration began;
// the view is consistent at a pass boundary.
func (t *Table) ForEach(visitor func(label []uint32, count uint64, weights []float64) bool) {
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.Lock()
		entries := make([]*Entry, 0, len(shard.entries))
		for _, e := range shard.entries {
			entries = append(entries, e)
		}
		shard.mu.Unlock()
		for _, e := range entries {
			if !visitor(e.label, e.Count(), e.Weights()) {
				return
			}
		}
	}
}

// Finalize normalizes every entry's auxiliary weights by its count. Called
// once by the controller at a pass boundary, after the queue has drained;
// repeated calls are no-ops.
func (t *Table) Finalize() {
	if t.finalized {
		return
	}
	t.finalized = true
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.Lock()
		for _, e := range shard.entries {
			count := e.Count()
			if count == 0 {
				continue
			}
			e.mu.Lock()
			for j := range e.weights {
				e.weights[j] /= float64(count)
			}
			e.mu.Unlock()
		}
		shard.mu.Unlock()
	}
}
