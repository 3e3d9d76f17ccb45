// Package contentitem persists the canonical content item records and their
// lineage pointers.
package contentitem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var columns = []string{
	"id", "title", "content_type", "publish_time", "status", "removed_date",
	"iteration_number", "original_item_id", "previous_iteration_id", "owner_id",
	"tags", "lifetime_views", "views_source", "created_at", "updated_at",
}

// Repository handles content item persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Get retrieves a content item by its platform-assigned id. Returns nil when
// the item is unknown.
func (r *Repository) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "contentitem.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("content_items")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var item models.ContentItem
	if err := database.QueryerFromContext(ctx, r.db).GetContext(ctx, &item, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get content item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get content item")
	}
	return &item, nil
}

// Insert creates a content item if its id is not already on file. Returns
// false when the id already existed; the caller reads the existing row within
// the same transaction and applies the per-entity update rules itself.
func (r *Repository) Insert(ctx context.Context, item *models.ContentItem) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "contentitem.Repository.Insert")
	defer span.End()

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = models.ContentStatusLive
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("content_items")
	ib.Cols(columns...)
	ib.Values(
		item.ID, item.Title, item.ContentType, item.PublishTime, item.Status, item.RemovedDate,
		item.IterationNumber, item.OriginalItemID, item.PreviousIterationID, item.OwnerID,
		item.Tags, item.LifetimeViews, item.ViewsSource, item.CreatedAt, item.UpdatedAt,
	)
	ib.OnConflictDoNothing("id")

	query, args := ib.Build()
	result, err := database.QueryerFromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": item.ID, "title": item.Title}).Error("Failed to insert content item")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert content item")
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"id": item.ID, "iteration_number": item.IterationNumber}).Info("Created content item")
		return true, nil
	}
	return false, nil
}

// MergeRollups applies the conditional update rules for an already-known
// item in a single race-safe statement: lifetime views are max-merged,
// tags/owner are filled only when missing, views_source is filled when unset.
func (r *Repository) MergeRollups(ctx context.Context, id string, views int64, viewsSource, tags, ownerID *string) error {
	ctx, span := tracing.StartSpan(ctx, "contentitem.Repository.MergeRollups")
	defer span.End()

	query := `
		UPDATE content_items
		SET lifetime_views = GREATEST(lifetime_views, $2),
		    views_source   = COALESCE(views_source, $3),
		    tags           = COALESCE(tags, $4),
		    owner_id       = COALESCE(owner_id, $5),
		    updated_at     = $6
		WHERE id = $1
	`

	result, err := database.QueryerFromContext(ctx, r.db).ExecContext(ctx, query, id, views, viewsSource, tags, ownerID, time.Now().UTC())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to merge content item rollups")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update content item")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("content item %s not found", id))
	}
	return nil
}

// FindRemovedByTitleAndType returns removed items with an exact title and
// content type match published before the given time, most advanced iteration
// first. The lineage linker takes the head of the list.
func (r *Repository) FindRemovedByTitleAndType(ctx context.Context, title string, contentType models.ContentType, before time.Time) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "contentitem.Repository.FindRemovedByTitleAndType")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("content_items")
	sb.Where(
		sb.Equal("status", models.ContentStatusRemoved),
		sb.Equal("content_type", contentType),
		sb.Equal("title", title),
		sb.LessThan("publish_time", before),
	)
	sb.OrderBy("iteration_number DESC", "publish_time DESC")
	sb.Limit(5)

	query, args := sb.Build()
	var items []models.ContentItem
	if err := database.QueryerFromContext(ctx, r.db).SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"title": title, "content_type": contentType}).Error("Failed to find removed items by title and type")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find removed items")
	}
	return items, nil
}

// MarkRemoved flips an item to removed status. Items are never hard-deleted;
// the removed row is what later re-uploads link their lineage against.
func (r *Repository) MarkRemoved(ctx context.Context, id string, removedDate time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "contentitem.Repository.MarkRemoved")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("content_items")
	sb.Set(
		sb.Assign("status", models.ContentStatusRemoved),
		sb.Assign("removed_date", removedDate.UTC()),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("status", models.ContentStatusLive),
	)

	query, args := sb.Build()
	result, err := database.QueryerFromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to mark content item removed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark content item removed")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("live content item %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Marked content item removed")
	return nil
}

// GetLineage walks the previous_iteration_id chain backwards from the given
// item and returns the full chain, newest iteration first.
func (r *Repository) GetLineage(ctx context.Context, id string) ([]models.ContentItem, error) {
	ctx, span := tracing.StartSpan(ctx, "contentitem.Repository.GetLineage")
	defer span.End()

	query := `
		WITH RECURSIVE chain AS (
			SELECT ` + columnList() + ` FROM content_items WHERE id = $1
			UNION ALL
			SELECT ` + prefixedColumnList("ci") + `
			FROM content_items ci
			JOIN chain ON chain.previous_iteration_id = ci.id
		)
		SELECT * FROM chain
	`

	var items []models.ContentItem
	if err := database.QueryerFromContext(ctx, r.db).SelectContext(ctx, &items, query, id); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get content item lineage")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lineage")
	}
	if len(items) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("content item %s not found", id))
	}
	return items, nil
}

func columnList() string {
	return joinColumns("")
}

func prefixedColumnList(prefix string) string {
	return joinColumns(prefix + ".")
}

func joinColumns(prefix string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += prefix + c
	}
	return out
}
