// Package iteration persists the lineage audit trail, one record per content
// item created at first ingestion and updated in place on takedown.
package iteration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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
	"id", "original_item_id", "current_item_id", "iteration_number",
	"upload_date", "removal_date", "reason", "created_at", "updated_at",
}

// Repository handles iteration record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create writes the audit record for a newly ingested item. The unique key on
// current_item_id makes retried batches idempotent.
func (r *Repository) Create(ctx context.Context, rec *models.IterationRecord) error {
	ctx, span := tracing.StartSpan(ctx, "iteration.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	ib := database.NewInsertBuilder()
	ib.InsertInto("iteration_records")
	ib.Cols(columns...)
	ib.Values(
		rec.ID, rec.OriginalItemID, rec.CurrentItemID, rec.IterationNumber,
		rec.UploadDate, rec.RemovalDate, rec.Reason, rec.CreatedAt, rec.UpdatedAt,
	)
	ib.OnConflictDoNothing("current_item_id")

	query, args := ib.Build()
	if _, err := database.QueryerFromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"current_item_id": rec.CurrentItemID}).Error("Failed to create iteration record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create iteration record")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"current_item_id":  rec.CurrentItemID,
		"iteration_number": rec.IterationNumber,
	}).Info("Created iteration record")
	return nil
}

// MarkRemoved records the takedown of a specific item on its audit row
func (r *Repository) MarkRemoved(ctx context.Context, currentItemID string, removalDate time.Time, reason *string) error {
	ctx, span := tracing.StartSpan(ctx, "iteration.Repository.MarkRemoved")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("iteration_records")
	sb.Set(
		sb.Assign("removal_date", removalDate.UTC()),
		sb.Assign("reason", reason),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("current_item_id", currentItemID))

	query, args := sb.Build()
	result, err := database.QueryerFromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"current_item_id": currentItemID}).Error("Failed to mark iteration record removed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update iteration record")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("iteration record for item %s not found", currentItemID))
	}
	return nil
}

// GetByCurrentItem returns the audit record for one item, or nil
func (r *Repository) GetByCurrentItem(ctx context.Context, currentItemID string) (*models.IterationRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "iteration.Repository.GetByCurrentItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("iteration_records")
	sb.Where(sb.Equal("current_item_id", currentItemID))

	query, args := sb.Build()
	var rec models.IterationRecord
	if err := database.QueryerFromContext(ctx, r.db).GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"current_item_id": currentItemID}).Error("Failed to get iteration record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get iteration record")
	}
	return &rec, nil
}

// ListByOriginal returns every iteration record in a lineage, oldest first
func (r *Repository) ListByOriginal(ctx context.Context, originalItemID string) ([]models.IterationRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "iteration.Repository.ListByOriginal")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("iteration_records")
	sb.Where(sb.Equal("original_item_id", originalItemID))
	sb.OrderBy("iteration_number ASC")

	query, args := sb.Build()
	var recs []models.IterationRecord
	if err := database.QueryerFromContext(ctx, r.db).SelectContext(ctx, &recs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"original_item_id": originalItemID}).Error("Failed to list iteration records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list iteration records")
	}
	return recs, nil
}
