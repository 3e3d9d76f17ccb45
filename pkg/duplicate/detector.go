// Package duplicate flags uploads whose metric values match data already on
// file under a different calendar date, the usual signature of a user
// re-uploading yesterday's export with today's date. The check is advisory
// and read only; callers decide whether to block or warn.
package duplicate

import (
	"context"
	"math"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// matchThreshold is exclusive: a date qualifies only when strictly more than
// 90% of its comparable items match the batch.
const matchThreshold = 0.90

// earningsTolerance treats sub-cent differences as equal, mirroring the
// two-decimal precision of the fingerprint tuple.
const earningsTolerance = 0.01

// SnapshotLister is the historical read surface the detector needs
type SnapshotLister interface {
	ListForItems(ctx context.Context, itemIDs []string) ([]models.Snapshot, error)
}

// Detector compares an incoming batch against stored snapshots
type Detector struct {
	snapshots SnapshotLister
	logger    ectologger.Logger
}

func NewDetector(snapshots SnapshotLister, logger ectologger.Logger) *Detector {
	return &Detector{snapshots: snapshots, logger: logger}
}

// batchValues is the comparable slice of one record: its latest point's
// earnings and qualified views.
type batchValues struct {
	earnings       float64
	qualifiedViews int64
}

// CheckDuplicate fingerprints the batch and scans stored snapshots for a
// calendar date whose values match the batch better than the threshold. A
// qualifying date that differs from proposedDate (day granularity) marks the
// batch as a duplicate. The fingerprint is always populated, duplicate or
// not.
func (d *Detector) CheckDuplicate(ctx context.Context, batch map[string]models.NormalizedRecord, proposedDate time.Time) (*models.DuplicateCheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicate.Detector.CheckDuplicate")
	defer span.End()

	result := &models.DuplicateCheckResult{
		ProposedDate: models.Day(proposedDate),
		Fingerprint:  fingerprint.Generate(batch),
	}

	values := make(map[string]batchValues, len(batch))
	itemIDs := make([]string, 0, len(batch))
	for itemID, record := range batch {
		point := record.LatestSnapshot()
		if point == nil {
			continue
		}
		values[itemID] = batchValues{earnings: point.Earnings, qualifiedViews: point.QualifiedViews}
		itemIDs = append(itemIDs, itemID)
	}
	if len(itemIDs) == 0 {
		metrics.DuplicateChecksTotal.WithLabelValues("clean").Inc()
		return result, nil
	}

	history, err := d.snapshots.ListForItems(ctx, itemIDs)
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to load historical snapshots for duplicate check")
		return nil, err
	}

	// bucket stored snapshots by calendar day
	byDate := make(map[time.Time][]models.Snapshot)
	for _, snap := range history {
		day := models.Day(snap.SnapshotDate)
		byDate[day] = append(byDate[day], snap)
	}

	var bestDate time.Time
	var bestRatio float64
	for day, snaps := range byDate {
		ratio, comparable := matchRatio(values, snaps)
		if comparable == 0 || ratio <= matchThreshold {
			continue
		}
		if ratio > bestRatio {
			bestRatio = ratio
			bestDate = day
		}
	}

	if !bestDate.IsZero() && !bestDate.Equal(result.ProposedDate) {
		existing := bestDate
		result.IsDuplicate = true
		result.ExistingDate = &existing
		result.MatchScorePercent = int(math.Round(bestRatio * 100))

		metrics.DuplicateChecksTotal.WithLabelValues("duplicate").Inc()
		d.logger.WithContext(ctx).WithFields(map[string]any{
			"existing_date": existing.Format(time.DateOnly),
			"proposed_date": result.ProposedDate.Format(time.DateOnly),
			"match_score":   result.MatchScorePercent,
		}).Warn("Upload matches data already stored under a different date")
		return result, nil
	}

	metrics.DuplicateChecksTotal.WithLabelValues("clean").Inc()
	return result, nil
}

// matchRatio compares one stored day's snapshots against the batch. Only
// items present on both sides are comparable; a match requires earnings
// within a cent and qualified views exactly equal.
func matchRatio(values map[string]batchValues, snaps []models.Snapshot) (float64, int) {
	var comparable, matched int
	for _, snap := range snaps {
		v, ok := values[snap.ItemID]
		if !ok {
			continue
		}
		comparable++
		if math.Abs(snap.LifetimeEarnings-v.earnings) < earningsTolerance &&
			snap.LifetimeQualifiedViews == v.qualifiedViews {
			matched++
		}
	}
	if comparable == 0 {
		return 0, 0
	}
	return float64(matched) / float64(comparable), comparable
}
