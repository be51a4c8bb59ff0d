// Package clusterforest maintains the dynamic relationship between targets
// and ambiguous fragments: if two targets share an ambiguously mapped
// fragment, they are placed in the same cluster. Clusters only merge, never
// split, within a pass.
package clusterforest

import (
	"sync"

	"github.com/grailbio/base/log"
)

// Forest is a disjoint-set forest over target ids [0, n), implemented as flat
// parent/size arrays with path compression and union by size. Each cluster
// carries an aggregate fragment weight and a fragment count. Thread safe.
type Forest struct {
	mu     sync.Mutex
	parent []int32
	size   []int32
	// weight and count are valid only at cluster representatives; merging
	// folds the absorbed root's values into the surviving root.
	weight []float64
	count  []uint64

	numClusters int
}

// New creates a forest of n singleton clusters.
func New(n int) *Forest {
	f := &Forest{
		parent:      make([]int32, n),
		size:        make([]int32, n),
		weight:      make([]float64, n),
		count:       make([]uint64, n),
		numClusters: n,
	}
	for i := range f.parent {
		f.parent[i] = int32(i)
		f.size[i] = 1
	}
	return f
}

func (f *Forest) checkID(id int) {
	if id < 0 || id >= len(f.parent) {
		log.Panicf("cluster forest: target id %d outside [0, %d)", id, len(f.parent))
	}
}

// find locates id's representative with path halving.
//
// REQUIRES: f.mu held.
func (f *Forest) find(id int32) int32 {
	for f.parent[id] != id {
		f.parent[id] = f.parent[f.parent[id]]
		id = f.parent[id]
	}
	return id
}

// union merges the clusters of a and b and returns the surviving root.
//
// REQUIRES: f.mu held.
func (f *Forest) union(a, b int32) int32 {
	ra, rb := f.find(a), f.find(b)
	if ra == rb {
		return ra
	}
	if f.size[ra] < f.size[rb] {
		ra, rb = rb, ra
	}
	f.parent[rb] = ra
	f.size[ra] += f.size[rb]
	f.weight[ra] += f.weight[rb]
	f.count[ra] += f.count[rb]
	f.numClusters--
	return ra
}

// Find returns the representative id of the cluster containing id.
func (f *Forest) Find(id int) int {
	f.checkID(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.find(int32(id)))
}

// Merge unions the clusters containing a and b and returns the surviving
// representative.
func (f *Forest) Merge(a, b int) int {
	f.checkID(a)
	f.checkID(b)
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.union(int32(a), int32(b)))
}

// MergeGroup unions the clusters of every id in ids (one ambiguous fragment
// naming all of them) and adds the fragment's weight to the merged cluster.
func (f *Forest) MergeGroup(ids []int, weight float64) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		f.checkID(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	root := f.find(int32(ids[0]))
	for _, id := range ids[1:] {
		root = f.union(root, int32(id))
	}
	f.weight[root] += weight
	f.count[root]++
}

// Observe adds a uniquely mapped fragment's weight to id's cluster without
// merging anything.
func (f *Forest) Observe(id int, weight float64) {
	f.checkID(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	root := f.find(int32(id))
	f.weight[root] += weight
	f.count[root]++
}

// ClusterWeight returns the aggregate fragment weight of id's cluster.
func (f *Forest) ClusterWeight(id int) float64 {
	f.checkID(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.weight[f.find(int32(id))]
}

// ClusterCount returns the number of fragments attributed to id's cluster.
func (f *Forest) ClusterCount(id int) uint64 {
	f.checkID(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count[f.find(int32(id))]
}

// ClusterSize returns the number of targets in id's cluster.
func (f *Forest) ClusterSize(id int) int {
	f.checkID(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.size[f.find(int32(id))])
}

// NumClusters returns the current number of clusters.
func (f *Forest) NumClusters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numClusters
}

// Clusters returns the current partition as a map from representative id to
// member ids, members in ascending order. Intended for pass boundaries; it
// holds the forest lock for the duration.
func (f *Forest) Clusters() map[int][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[int][]int, f.numClusters)
	for i := range f.parent {
		root := int(f.find(int32(i)))
		m[root] = append(m[root], i)
	}
	return m
}
