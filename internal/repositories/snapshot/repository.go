// Package snapshot persists the dated cumulative metric readings, unique on
// (item_id, snapshot_date) at day granularity.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
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

// Repository handles snapshot persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// UpsertResult describes what a snapshot upsert did. When an existing row was
// hit by a non-authoritative source, both flags are false and the stored row
// was left untouched.
type UpsertResult struct {
	Snapshot *models.Snapshot
	IsNew    bool
	Updated  bool
}

// Upsert writes a snapshot keyed on (item_id, day-truncated snapshot_date).
// A single atomic INSERT ... ON CONFLICT decides between create, authoritative
// overwrite, and leave-untouched; the conditional DO UPDATE keeps manual
// uploads from clobbering rows already on file.
func (r *Repository) Upsert(ctx context.Context, snap *models.Snapshot) (*UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"item_id":       snap.ItemID,
		"snapshot_date": snap.SnapshotDate.Format(time.DateOnly),
		"source":        snap.Source,
	})

	now := time.Now().UTC()
	snap.SnapshotDate = models.Day(snap.SnapshotDate)
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("snapshots")
	ib.Cols(columns...)
	ib.Values(
		snap.ID, snap.ItemID, snap.SnapshotDate,
		snap.LifetimeEarnings, snap.LifetimeQualifiedViews, snap.LifetimeSecondsViewed,
		snap.Reactions, snap.Comments, snap.Shares, snap.Source, snap.RawPayload, now, now,
	)

	// only authoritative syncs may overwrite a stored (item, day) row
	ub := ib.OnConflict("item_id", "snapshot_date")
	ub.Set(
		ub.Assign("lifetime_earnings", database.Excluded("lifetime_earnings")),
		ub.Assign("lifetime_qualified_views", database.Excluded("lifetime_qualified_views")),
		ub.Assign("lifetime_seconds_viewed", database.Excluded("lifetime_seconds_viewed")),
		ub.Assign("reactions", database.Excluded("reactions")),
		ub.Assign("comments", database.Excluded("comments")),
		ub.Assign("shares", database.Excluded("shares")),
		ub.Assign("source", database.Excluded("source")),
		ub.Assign("raw_payload", database.Excluded("raw_payload")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	ub.Where(ub.Equal("EXCLUDED.source", models.SnapshotSourceSync))
	ib.Returning(append(append([]string{}, columns...), "(xmax = 0) AS inserted")...)

	var result struct {
		models.Snapshot
		Inserted bool `db:"inserted"`
	}

	query, args := ib.Build()
	err := database.QueryerFromContext(ctx, r.db).GetContext(ctx, &result, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict hit but the conditional update declined: a manual
			// upload for a (item, day) pair already on file. Row untouched.
			log.Debug("Snapshot already on file; manual upload left untouched")
			return &UpsertResult{}, nil
		}
		log.WithError(err).Error("Failed to upsert snapshot")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert snapshot")
	}

	if result.Inserted {
		log.Info("Created snapshot")
		return &UpsertResult{Snapshot: &result.Snapshot, IsNew: true}, nil
	}

	log.Info("Updated snapshot from authoritative source")
	return &UpsertResult{Snapshot: &result.Snapshot, Updated: true}, nil
}

// ListForItems returns all snapshots of the given items, used by the
// duplicate check to compare an incoming batch against history.
func (r *Repository) ListForItems(ctx context.Context, itemIDs []string) ([]models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.ListForItems")
	defer span.End()

	if len(itemIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("snapshots")
	sb.Where(sb.In("item_id", sqlbuilder.Flatten(itemIDs)...))
	sb.OrderBy("item_id", "snapshot_date ASC")

	query, args := sb.Build()
	var snaps []models.Snapshot
	if err := database.QueryerFromContext(ctx, r.db).SelectContext(ctx, &snaps, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_count": len(itemIDs)}).Error("Failed to list snapshots for items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list snapshots")
	}
	return snaps, nil
}

// ListForItem returns one item's snapshots in chronological order
func (r *Repository) ListForItem(ctx context.Context, itemID string) ([]models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.ListForItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("snapshots")
	sb.Where(sb.Equal("item_id", itemID))
	sb.OrderBy("snapshot_date ASC")

	query, args := sb.Build()
	var snaps []models.Snapshot
	if err := database.QueryerFromContext(ctx, r.db).SelectContext(ctx, &snaps, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": itemID}).Error("Failed to list snapshots for item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list snapshots")
	}
	return snaps, nil
}

// LatestPairs returns, for every item with at least two snapshots, the two
// most recent ones. This feeds the full delta recompute pass.
func (r *Repository) LatestPairs(ctx context.Context) ([]models.SnapshotPair, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.LatestPairs")
	defer span.End()

	query := `
		SELECT ` + columnList() + `, rank FROM (
			SELECT ` + columnList() + `,
				ROW_NUMBER() OVER (PARTITION BY item_id ORDER BY snapshot_date DESC) AS rank,
				COUNT(*) OVER (PARTITION BY item_id) AS total
			FROM snapshots
		) ranked
		WHERE rank <= 2 AND total >= 2
		ORDER BY item_id, rank
	`

	var rows []struct {
		models.Snapshot
		Rank int `db:"rank"`
	}
	if err := database.QueryerFromContext(ctx, r.db).SelectContext(ctx, &rows, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load latest snapshot pairs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load snapshot pairs")
	}

	// Rows arrive ordered (rank 1, rank 2) per item
	pairs := make([]models.SnapshotPair, 0, len(rows)/2)
	for i := 0; i+1 < len(rows); i++ {
		if rows[i].Rank != 1 || rows[i+1].Rank != 2 || rows[i].ItemID != rows[i+1].ItemID {
			continue
		}
		pairs = append(pairs, models.SnapshotPair{
			ItemID:   rows[i].ItemID,
			Current:  rows[i].Snapshot,
			Previous: rows[i+1].Snapshot,
		})
	}
	return pairs, nil
}

var columns = []string{
	"id", "item_id", "snapshot_date",
	"lifetime_earnings", "lifetime_qualified_views", "lifetime_seconds_viewed",
	"reactions", "comments", "shares", "source", "raw_payload", "created_at", "updated_at",
}

func columnList() string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
