// Package delta materializes incremental changes between consecutive
// snapshots. Deltas are insert-once history; a recompute pass never updates
// or retracts rows it (or an earlier pass) already wrote.
package delta

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrRecomputeInProgress is returned when a recompute pass is already running
// in this process. Two concurrent passes would race to upsert the same keys;
// the unique constraint makes that redundant rather than wrong, so callers
// may simply drop the call.
var ErrRecomputeInProgress = errors.New("delta recompute already in progress")

// PairLister is the snapshot read surface the calculator needs: the two most
// recent snapshots for every item that has at least two.
type PairLister interface {
	LatestPairs(ctx context.Context) ([]models.SnapshotPair, error)
}

// DeltaStore persists computed deltas with insert-once semantics
type DeltaStore interface {
	Insert(ctx context.Context, d *models.Delta) (bool, error)
	Count(ctx context.Context) (int, error)
}

// EventSink receives a notification per newly materialized delta. May be nil.
type EventSink interface {
	DeltaComputed(ctx context.Context, d *models.Delta) error
}

// Calculator scans the full store and materializes deltas between each
// item's two most recent snapshots.
type Calculator struct {
	snapshots PairLister
	deltas    DeltaStore
	events    EventSink
	logger    ectologger.Logger

	mu      sync.Mutex
	running bool
}

func NewCalculator(snapshots PairLister, deltas DeltaStore, events EventSink, logger ectologger.Logger) *Calculator {
	return &Calculator{
		snapshots: snapshots,
		deltas:    deltas,
		events:    events,
		logger:    logger,
	}
}

// Recompute materializes a delta for every item whose two most recent
// snapshots differ in earnings or qualified views. It returns the rows
// created by this pass; pairs already materialized are skipped, so re-running
// is idempotent. A backfilled snapshot shifts which two snapshots are "most
// recent" and yields a new pair on the next pass, but the old pair's row
// stays.
func (c *Calculator) Recompute(ctx context.Context) ([]models.Delta, error) {
	ctx, span := tracing.StartSpan(ctx, "delta.Calculator.Recompute")
	defer span.End()

	if !c.tryStart() {
		return nil, ErrRecomputeInProgress
	}
	defer c.finish()

	timer := prometheus.NewTimer(metrics.RecomputeDuration)
	defer timer.ObserveDuration()

	log := c.logger.WithContext(ctx)

	pairs, err := c.snapshots.LatestPairs(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to load snapshot pairs for recompute")
		return nil, err
	}

	var created []models.Delta
	var skippedZero, skippedExisting int
	for _, pair := range pairs {
		d := computeDelta(pair)
		if d.IsZero() {
			skippedZero++
			continue
		}

		inserted, err := c.deltas.Insert(ctx, &d)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"item_id": pair.ItemID}).Error("Failed to insert delta")
			return nil, err
		}
		if !inserted {
			skippedExisting++
			continue
		}

		metrics.DeltasMaterializedTotal.Inc()
		created = append(created, d)
		c.emit(ctx, &d)
	}

	if total, err := c.deltas.Count(ctx); err != nil {
		log.WithError(err).Warn("Failed to count stored deltas")
	} else {
		metrics.DeltasStored.Set(float64(total))
	}

	log.WithFields(map[string]any{
		"pairs":            len(pairs),
		"created":          len(created),
		"skipped_zero":     skippedZero,
		"skipped_existing": skippedExisting,
	}).Info("Delta recompute complete")

	return created, nil
}

func (c *Calculator) tryStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *Calculator) finish() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Calculator) emit(ctx context.Context, d *models.Delta) {
	if c.events == nil {
		return
	}
	if err := c.events.DeltaComputed(ctx, d); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": d.ItemID}).Warn("Failed to emit delta event")
	}
}

// computeDelta builds the signed delta between a pair's two snapshots.
// Earnings are rounded to cents so float subtraction noise never produces a
// spurious nonzero delta.
func computeDelta(pair models.SnapshotPair) models.Delta {
	return models.Delta{
		ItemID:              pair.ItemID,
		FromDate:            models.Day(pair.Previous.SnapshotDate),
		ToDate:              models.Day(pair.Current.SnapshotDate),
		EarningsDelta:       roundCents(pair.Current.LifetimeEarnings - pair.Previous.LifetimeEarnings),
		QualifiedViewsDelta: pair.Current.LifetimeQualifiedViews - pair.Previous.LifetimeQualifiedViews,
		SecondsViewedDelta:  pair.Current.LifetimeSecondsViewed - pair.Previous.LifetimeSecondsViewed,
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
