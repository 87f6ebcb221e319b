package hpa_test

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pageslab/hpa"
	"github.com/vkngwrapper/pageslab/memutils"
)

func readyPool(t *testing.T, shardCount int, options hpa.CreateOptions) (*hpa.Pool, *hpa.VirtualBackend) {
	backend, err := hpa.NewVirtualBackend(virtualBase)
	require.NoError(t, err)

	pool, err := hpa.NewPool(testLogger(), backend, shardCount, options)
	require.NoError(t, err)

	return pool, backend
}

func TestPool_InvalidShardCount(t *testing.T) {
	backend, err := hpa.NewVirtualBackend(virtualBase)
	require.NoError(t, err)

	_, err = hpa.NewPool(testLogger(), backend, 0, hpa.CreateOptions{})
	require.Error(t, err)
}

func TestPool_ShardSelection(t *testing.T) {
	pool, _ := readyPool(t, 4, hpa.CreateOptions{})
	require.Equal(t, 4, pool.ShardCount())

	require.Same(t, pool.ShardFor([]byte("worker-1")), pool.ShardFor([]byte("worker-1")))

	seen := map[*hpa.Shard]bool{}
	for i := 0; i < 64; i++ {
		seen[pool.ShardFor([]byte(fmt.Sprintf("worker-%d", i)))] = true
	}
	require.Greater(t, len(seen), 1)

	require.Panics(t, func() { pool.Shard(4) })
	require.Panics(t, func() { pool.Shard(-1) })
}

func TestPool_StatsAccumulate(t *testing.T) {
	pool, backend := readyPool(t, 2, hpa.CreateOptions{})

	_, err := pool.Shard(0).Alloc(pages(10))
	require.NoError(t, err)
	_, err = pool.Shard(1).Alloc(pages(20))
	require.NoError(t, err)
	_, err = pool.Shard(1).Alloc(memutils.HugePageSize)
	require.NoError(t, err)

	stats := pool.Stats()
	require.Equal(t, 3, stats.MappedSlabs)
	require.Equal(t, 3, backend.MappedCount())
	require.Equal(t, memutils.BinStats{PageSlabs: 3, Active: 30 + memutils.HugePagePages}, stats.PageSlabs.Merged)
	require.Equal(t, 1, stats.PageSlabs.FullSlabs[0].PageSlabs)
	require.NoError(t, stats.PageSlabs.Validate())
	require.NoError(t, pool.Validate())
}

func TestPool_PurgeAndHugify(t *testing.T) {
	pool, backend := readyPool(t, 3, hpa.CreateOptions{DirtyMultiplier: -1})

	var addrs []uintptr
	for i := 0; i < pool.ShardCount(); i++ {
		addr, err := pool.Shard(i).Alloc(pages(500))
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}

	nhugified, err := pool.Hugify(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, nhugified)
	require.Equal(t, 3, backend.HugifyCount())

	for i, addr := range addrs {
		require.NoError(t, pool.Shard(i).Free(addr, pages(500)))
	}

	npurged, err := pool.Purge(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3*memutils.HugePagePages, npurged)
	require.Equal(t, 0, backend.MappedCount())

	stats := pool.Stats()
	require.Equal(t, uint64(3), stats.NHugifies)
	require.Equal(t, uint64(3), stats.NDehugifies)
	require.Equal(t, uint64(3*memutils.HugePagePages), stats.NPurgedPages)
}

func TestPool_PurgeCancelled(t *testing.T) {
	pool, _ := readyPool(t, 2, hpa.CreateOptions{DirtyMultiplier: -1})

	addr, err := pool.Shard(0).Alloc(pages(10))
	require.NoError(t, err)
	require.NoError(t, pool.Shard(0).Free(addr, pages(10)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	npurged, err := pool.Purge(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, npurged)
	require.Equal(t, 10, pool.Stats().PageSlabs.Merged.Dirty)
}

func TestPool_ConcurrentUse(t *testing.T) {
	pool, _ := readyPool(t, 4, hpa.CreateOptions{HugifyThreshold: 256})

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(worker)))
			shard := pool.ShardFor([]byte(fmt.Sprintf("worker-%d", worker)))

			type allocation struct {
				addr uintptr
				size int
			}
			var live []allocation
			for step := 0; step < 500; step++ {
				if len(live) > 0 && rng.Intn(2) == 0 {
					index := rng.Intn(len(live))
					if err := shard.Free(live[index].addr, live[index].size); err != nil {
						t.Error(err)
						return
					}
					live = append(live[:index], live[index+1:]...)
					continue
				}

				size := pages(1 + rng.Intn(32))
				addr, err := shard.Alloc(size)
				if err != nil {
					t.Error(err)
					return
				}
				live = append(live, allocation{addr: addr, size: size})
			}

			for _, alloc := range live {
				if err := shard.Free(alloc.addr, alloc.size); err != nil {
					t.Error(err)
					return
				}
			}
		}(worker)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

passes:
	for {
		select {
		case <-done:
			break passes
		default:
		}

		_, err := pool.Purge(context.Background())
		require.NoError(t, err)
		_, err = pool.Hugify(context.Background())
		require.NoError(t, err)
	}

	require.NoError(t, pool.Validate())
	require.Equal(t, 0, pool.Stats().PageSlabs.Merged.Active)
	require.NoError(t, pool.Destroy())
}

func TestPool_Destroy(t *testing.T) {
	pool, backend := readyPool(t, 2, hpa.CreateOptions{})

	addr, err := pool.Shard(1).Alloc(pages(3))
	require.NoError(t, err)
	_, err = pool.Shard(0).Alloc(pages(3))
	require.NoError(t, err)

	// Shard 0 still has an allocation, shard 1 is destroyed anyway
	require.NoError(t, pool.Shard(1).Free(addr, pages(3)))
	require.Error(t, pool.Destroy())
	require.Equal(t, 1, backend.MappedCount())
}

func TestPool_BuildStatsString(t *testing.T) {
	pool, _ := readyPool(t, 2, hpa.CreateOptions{})

	_, err := pool.Shard(0).Alloc(pages(3))
	require.NoError(t, err)

	json := pool.BuildStatsString()
	require.Contains(t, json, `"Total":{"MappedSlabs":1,`)
	require.Contains(t, json, `"Shards":[{"MappedSlabs":1,`)
	require.Contains(t, json, `},{"MappedSlabs":0,`)
	require.Contains(t, json, `"AllocSizes":{"[8192, 16384)":1}`)
	require.Contains(t, json, `"PageSlabs":{`)
	require.Equal(t, 2, strings.Count(json, `"Dehugifies":`))
}

func TestPool_Collector(t *testing.T) {
	pool, _ := readyPool(t, 2, hpa.CreateOptions{})

	_, err := pool.Shard(0).Alloc(pages(3))
	require.NoError(t, err)
	_, err = pool.Shard(1).Alloc(pages(5))
	require.NoError(t, err)

	registry := prometheus.NewPedanticRegistry()
	registry.MustRegister(pool.Collector("pageslab"))

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName()
			for _, label := range metric.GetLabel() {
				name += "{" + label.GetName() + "=" + label.GetValue() + "}"
			}

			if metric.GetGauge() != nil {
				values[name] = metric.GetGauge().GetValue()
			} else {
				values[name] = metric.GetCounter().GetValue()
			}
		}
	}

	require.Len(t, values, 16)
	require.Equal(t, float64(2), values["pageslab_page_slabs{huge=false}"])
	require.Equal(t, float64(0), values["pageslab_page_slabs{huge=true}"])
	require.Equal(t, float64(8), values["pageslab_active_pages{huge=false}"])
	require.Equal(t, float64(2), values["pageslab_mapped_slabs"])
	require.Equal(t, float64(8), values["pageslab_peak_demand_pages"])
	require.Equal(t, float64(0), values["pageslab_purged_pages_total"])
}
