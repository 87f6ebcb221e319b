package hpa

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

// Pool spreads allocations across several independently locked shards that share one Backend
type Pool struct {
	logger *slog.Logger
	shards []*Shard
}

// NewPool creates a Pool of shardCount shards, each created with options
func NewPool(logger *slog.Logger, backend Backend, shardCount int, options CreateOptions) (*Pool, error) {
	if shardCount <= 0 {
		return nil, errors.Newf("a pool must have at least one shard, but %d were requested", shardCount)
	}

	pool := &Pool{
		logger: logger,
		shards: make([]*Shard, 0, shardCount),
	}
	for i := 0; i < shardCount; i++ {
		shard, err := NewShard(logger.With(slog.Int("Shard", i)), backend, options)
		if err != nil {
			return nil, err
		}
		pool.shards = append(pool.shards, shard)
	}

	return pool, nil
}

func (p *Pool) ShardCount() int { return len(p.shards) }

// Shard returns the shard at index
func (p *Pool) Shard(index int) *Shard {
	if index < 0 || index >= len(p.shards) {
		panic(fmt.Sprintf("shard index %d out of range for a pool of %d shards", index, len(p.shards)))
	}
	return p.shards[index]
}

// ShardFor returns the shard that key hashes to. The same key always selects the same shard.
func (p *Pool) ShardFor(key []byte) *Shard {
	return p.shards[xxhash.Sum64(key)%uint64(len(p.shards))]
}

// Stats accumulates a snapshot of every shard
func (p *Pool) Stats() Statistics {
	var stats Statistics
	for _, shard := range p.shards {
		shardStats := shard.Stats()
		stats.Accumulate(&shardStats)
	}
	return stats
}

func (p *Pool) forEachShard(ctx context.Context, pass func(shard *Shard) (int, error)) (int, error) {
	group, ctx := errgroup.WithContext(ctx)

	var total atomic.Int64
	for _, shard := range p.shards {
		shard := shard
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			count, err := pass(shard)
			total.Add(int64(count))
			return err
		})
	}

	err := group.Wait()
	return int(total.Load()), err
}

// Purge runs a purge pass on every shard in parallel and returns the number of pages purged.
// Shards that have not started when ctx is cancelled or another shard fails are skipped.
func (p *Pool) Purge(ctx context.Context) (int, error) {
	p.logger.Debug("Pool::Purge")
	return p.forEachShard(ctx, (*Shard).PurgePass)
}

// Hugify runs a hugify pass on every shard in parallel and returns the number of slabs
// hugified. Shards that have not started when ctx is cancelled or another shard fails are
// skipped.
func (p *Pool) Hugify(ctx context.Context) (int, error) {
	p.logger.Debug("Pool::Hugify")
	return p.forEachShard(ctx, (*Shard).HugifyPass)
}

// Validate validates every shard
func (p *Pool) Validate() error {
	for i, shard := range p.shards {
		err := shard.Validate()
		if err != nil {
			return errors.Wrapf(err, "shard %d", i)
		}
	}
	return nil
}

// BuildStatsString returns a JSON document describing the pool's totals and every shard
func (p *Pool) BuildStatsString() string {
	stats := p.Stats()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	total := obj.Name("Total").Object()
	total.Name("MappedSlabs").Int(stats.MappedSlabs)
	total.Name("PeakDemand").Int(stats.PeakDemand)
	total.Name("PurgedPages").Int(int(stats.NPurgedPages))
	total.Name("Hugifies").Int(int(stats.NHugifies))
	stats.PageSlabs.BuildStatsString(&total)
	total.End()

	shards := obj.Name("Shards").Array()
	for _, shard := range p.shards {
		shardObj := shards.Object()
		shard.buildStatsObject(&shardObj)
		shardObj.End()
	}
	shards.End()

	obj.End()
	return string(writer.Bytes())
}

// Destroy destroys every shard, continuing past failures, and returns the combined error
func (p *Pool) Destroy() error {
	p.logger.Debug("Pool::Destroy")

	var err error
	for i, shard := range p.shards {
		err = errors.CombineErrors(err, errors.Wrapf(shard.Destroy(), "shard %d", i))
	}
	return err
}
