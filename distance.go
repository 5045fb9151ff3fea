package serenpair

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zoobzio/capitan"
	"golang.org/x/sync/singleflight"
)

// distanceBuildBatchSize is the default target slice size for the full
// distance table build (§4.7 "Build").
const distanceBuildBatchSize = 50

// DistanceEngine owns the pair-distance table build/incremental-update and
// the cached similarity distribution (C7).
type DistanceEngine struct {
	store Store
	cfg   Config

	// inMemoryCachedAt and inMemoryCount back the 5-minute process-local
	// half of the two-tier TTL described in §4.7's distribution cache.
	inMemoryCachedAt time.Time
	inMemoryCount    int
	inMemoryCache    *DistributionCache

	group singleflight.Group
}

// NewDistanceEngine builds a DistanceEngine.
func NewDistanceEngine(store Store, cfg Config) *DistanceEngine {
	return &DistanceEngine{store: store, cfg: cfg}
}

// Build iterates thought slices [0,B), [B,2B), ... calling
// build_distance_table_batch for each. A failing batch logs and continues;
// ON CONFLICT DO NOTHING on the store side makes repeated builds resumable.
func (d *DistanceEngine) Build(ctx context.Context) (int, error) {
	total, err := d.store.CountThoughtUnits(ctx)
	if err != nil {
		return 0, err
	}

	batchSize := d.cfg.DistanceBuildBatchSize
	if batchSize <= 0 {
		batchSize = distanceBuildBatchSize
	}

	capitan.Emit(ctx, DistanceBuildStarted, FieldBatchSize.Field(batchSize))

	inserted := 0
	for offset := 0; offset < total; offset += batchSize {
		n, err := d.store.BuildDistanceTableBatch(ctx, offset, batchSize)
		if err != nil {
			capitan.Error(ctx, DistanceBuildBatchFailed, FieldError.Field(err))
			continue
		}
		inserted += n
	}

	capitan.Emit(ctx, DistanceBuildCompleted, FieldProcessed.Field(inserted))
	return inserted, nil
}

// IncrementalUpdate inserts S x (all existing) U pairs within S for the
// given new thought ids, maintaining a<b.
func (d *DistanceEngine) IncrementalUpdate(ctx context.Context, newIDs []int64) (int, error) {
	inserted, err := d.store.UpdateDistanceTableIncremental(ctx, newIDs)
	if err != nil {
		return 0, err
	}
	capitan.Emit(ctx, DistanceIncrementalUpdated, FieldProcessed.Field(inserted))
	return inserted, nil
}

// Statistics reports count/min/max/mean over a sample of up to 10,000 rows.
func (d *DistanceEngine) Statistics(ctx context.Context) (DistanceStats, error) {
	return d.store.DistanceStatistics(ctx)
}

// GetDistribution returns a cached percentile snapshot unless the in-memory
// TTL (5 min), the stored TTL (7 days by default, configurable), or a >10%
// thought-count deviation forces a recompute. Concurrent callers that miss
// the cache at the same time are collapsed into a single recompute via
// singleflight, rather than each issuing the same expensive RPC.
func (d *DistanceEngine) GetDistribution(ctx context.Context, force bool) (*DistributionCache, error) {
	if !force {
		if cached, ok := d.freshFromMemory(); ok {
			return cached, nil
		}
	}

	result, err, _ := d.group.Do("distribution", func() (any, error) {
		return d.refreshDistribution(ctx, force)
	})
	if err != nil {
		return nil, err
	}
	return result.(*DistributionCache), nil
}

func (d *DistanceEngine) freshFromMemory() (*DistributionCache, bool) {
	if d.inMemoryCache == nil {
		return nil, false
	}
	if time.Since(d.inMemoryCachedAt) > 5*time.Minute {
		return nil, false
	}
	count, err := d.store.CountThoughtUnits(context.Background())
	if err == nil && d.inMemoryCount > 0 && deviation(count, d.inMemoryCount) > 0.10 {
		return nil, false
	}
	return d.inMemoryCache, true
}

func (d *DistanceEngine) refreshDistribution(ctx context.Context, force bool) (*DistributionCache, error) {
	if !force {
		stored, err := d.store.GetDistributionCache(ctx)
		if err == nil && stored != nil && time.Since(stored.CalculatedAt) < d.cfg.DistributionTTL {
			count, cerr := d.store.CountThoughtUnits(ctx)
			if cerr == nil && deviation(count, stored.ThoughtCount) <= 0.10 {
				d.cacheInMemory(stored, count)
				return stored, nil
			}
		}
	}

	start := time.Now()
	fresh, err := d.store.CalculateDistributionFromDistanceTable(ctx)
	if err != nil {
		return nil, err
	}
	if fresh.TotalPairs == 0 {
		// No distance table coverage yet (table empty or build never run):
		// fall back to computing directly from embeddings, per §4.2's
		// "slow fallback" framing for CalculateSimilarityDistribution.
		fresh, err = d.store.CalculateSimilarityDistribution(ctx)
		if err != nil {
			return nil, err
		}
	}
	fresh.DurationMs = time.Since(start).Milliseconds()
	fresh.CalculatedAt = time.Now()
	if err := d.store.SetDistributionCache(ctx, fresh); err != nil {
		return nil, err
	}

	count, _ := d.store.CountThoughtUnits(ctx)
	d.cacheInMemory(fresh, count)

	capitan.Emit(ctx, DistributionRefreshed, FieldSampleSize.Field(int(fresh.TotalPairs)))
	return fresh, nil
}

func (d *DistanceEngine) cacheInMemory(c *DistributionCache, thoughtCount int) {
	d.inMemoryCache = c
	d.inMemoryCachedAt = time.Now()
	d.inMemoryCount = thoughtCount
}

func deviation(current, cached int) float64 {
	if cached == 0 {
		return math.Inf(1)
	}
	return math.Abs(float64(current-cached)) / float64(cached)
}

// Relative-threshold strategy labels, §4.7.
const (
	StrategyP10P40 = "p10_p40"
	StrategyP30P60 = "p30_p60"
	StrategyP0P30  = "p0_p30"
)

// Threshold returns (min_sim, max_sim) for a named strategy, reading from
// the current (possibly cached) percentile snapshot.
func (d *DistanceEngine) Threshold(ctx context.Context, strategy string) (float64, float64, error) {
	dist, err := d.GetDistribution(ctx, false)
	if err != nil {
		return 0, 0, err
	}

	switch strategy {
	case StrategyP10P40, "":
		return dist.Percentiles[10], dist.Percentiles[40], nil
	case StrategyP30P60:
		return dist.Percentiles[30], dist.Percentiles[60], nil
	case StrategyP0P30:
		return dist.Percentiles[0], dist.Percentiles[30], nil
	default:
		return 0, 0, fmt.Errorf("serenpair: unknown threshold strategy %q", strategy)
	}
}

// CustomThreshold returns the percentiles at the given lo/hi percentile
// marks, for the custom(lo, hi) strategy.
func (d *DistanceEngine) CustomThreshold(ctx context.Context, lo, hi int) (float64, float64, error) {
	dist, err := d.GetDistribution(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	return dist.Percentiles[lo], dist.Percentiles[hi], nil
}
