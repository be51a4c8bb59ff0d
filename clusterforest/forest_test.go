package clusterforest_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grailbio/quant/clusterforest"
)

func TestSingletons(t *testing.T) {
	f := clusterforest.New(4)
	assert.Equal(t, 4, f.NumClusters())
	for i := 0; i < 4; i++ {
		assert.Equal(t, i, f.Find(i))
		assert.Equal(t, 1, f.ClusterSize(i))
	}
}

func TestMerge(t *testing.T) {
	f := clusterforest.New(5)
	f.Merge(0, 1)
	assert.Equal(t, f.Find(0), f.Find(1))
	assert.Equal(t, 4, f.NumClusters())

	// Merging in any order, repeatedly, is idempotent.
	f.Merge(1, 0)
	f.Merge(0, 1)
	assert.Equal(t, 4, f.NumClusters())

	f.Merge(1, 2)
	assert.Equal(t, f.Find(0), f.Find(2))
	assert.Equal(t, 3, f.NumClusters())
	assert.Equal(t, 3, f.ClusterSize(0))

	// 3 and 4 remain singletons.
	assert.NotEqual(t, f.Find(3), f.Find(0))
	assert.NotEqual(t, f.Find(3), f.Find(4))
}

func TestMergeGroupWeights(t *testing.T) {
	f := clusterforest.New(6)
	f.MergeGroup([]int{0, 1, 2}, 1.0)
	f.MergeGroup([]int{2, 3}, 0.5)
	f.Observe(5, 1.0)

	rep := f.Find(0)
	assert.Equal(t, rep, f.Find(3))
	assert.InDelta(t, 1.5, f.ClusterWeight(0), 1e-12)
	assert.Equal(t, uint64(2), f.ClusterCount(3))
	assert.InDelta(t, 1.0, f.ClusterWeight(5), 1e-12)
	assert.Equal(t, 3, f.NumClusters()) // {0,1,2,3}, {4}, {5}

	clusters := f.Clusters()
	assert.Len(t, clusters, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, clusters[f.Find(0)])
}

func TestOutOfRangePanics(t *testing.T) {
	f := clusterforest.New(3)
	assert.Panics(t, func() { f.Find(3) })
	assert.Panics(t, func() { f.Merge(-1, 0) })
}

func TestConcurrentMerges(t *testing.T) {
	const n = 512
	const workers = 8
	f := clusterforest.New(n)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			// Chain-merge the lower half in a shuffled order.
			for _, i := range r.Perm(n/2 - 1) {
				f.MergeGroup([]int{i, i + 1}, 1.0)
			}
		}(int64(w))
	}
	wg.Wait()

	// All ids in [0, n/2) were transitively merged; the rest stayed put.
	rep := f.Find(0)
	for i := 1; i < n/2; i++ {
		assert.Equal(t, rep, f.Find(i))
	}
	assert.Equal(t, n/2+1, f.NumClusters())
	merges := uint64(workers * (n/2 - 1))
	assert.Equal(t, merges, f.ClusterCount(0))
	assert.InDelta(t, float64(merges), f.ClusterWeight(0), 1e-6)
}
