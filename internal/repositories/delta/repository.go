// Package delta persists the computed changes between consecutive snapshots.
// Delta rows are immutable history: unique on (item_id, from_date, to_date)
// and never updated once created.
package delta

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var columns = []string{
	"id", "item_id", "from_date", "to_date",
	"earnings_delta", "qualified_views_delta", "seconds_viewed_delta", "created_at",
}

// Repository handles delta persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Insert materializes a delta if its key is not already on file. Returns
// false when the (item_id, from_date, to_date) pair existed; the stored row
// is left untouched so re-running a recompute never rewrites history.
func (r *Repository) Insert(ctx context.Context, d *models.Delta) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "delta.Repository.Insert")
	defer span.End()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.FromDate = models.Day(d.FromDate)
	d.ToDate = models.Day(d.ToDate)
	d.CreatedAt = time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto("deltas")
	ib.Cols(columns...)
	ib.Values(
		d.ID, d.ItemID, d.FromDate, d.ToDate,
		d.EarningsDelta, d.QualifiedViewsDelta, d.SecondsViewedDelta, d.CreatedAt,
	)
	ib.OnConflictDoNothing("item_id", "from_date", "to_date")

	query, args := ib.Build()
	result, err := database.QueryerFromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"item_id":   d.ItemID,
			"from_date": d.FromDate.Format(time.DateOnly),
			"to_date":   d.ToDate.Format(time.DateOnly),
		}).Error("Failed to insert delta")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert delta")
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"item_id":   d.ItemID,
			"from_date": d.FromDate.Format(time.DateOnly),
			"to_date":   d.ToDate.Format(time.DateOnly),
		}).Debug("Materialized delta")
		return true, nil
	}
	return false, nil
}

// ListForItem returns an item's deltas in chronological order
func (r *Repository) ListForItem(ctx context.Context, itemID string) ([]models.Delta, error) {
	ctx, span := tracing.StartSpan(ctx, "delta.Repository.ListForItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("deltas")
	sb.Where(sb.Equal("item_id", itemID))
	sb.OrderBy("to_date ASC")

	query, args := sb.Build()
	var deltas []models.Delta
	if err := database.QueryerFromContext(ctx, r.db).SelectContext(ctx, &deltas, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": itemID}).Error("Failed to list deltas for item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list deltas")
	}
	return deltas, nil
}

// Count returns the total number of materialized deltas
func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "delta.Repository.Count")
	defer span.End()

	var count int
	if err := database.QueryerFromContext(ctx, r.db).GetContext(ctx, &count, "SELECT COUNT(*) FROM deltas"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count deltas")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count deltas")
	}
	return count, nil
}
