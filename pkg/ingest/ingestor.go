// Package ingest orchestrates per-item transactional ingestion of content and
// metric records. Each item in a batch commits or rolls back on its own; one
// item's failure never aborts the rest of the batch.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	snapshotrepo "github.com/Ramsey-B/clover/internal/repositories/snapshot"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/lineage"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ItemStore is the content item surface the ingestor writes through
type ItemStore interface {
	Get(ctx context.Context, id string) (*models.ContentItem, error)
	Insert(ctx context.Context, item *models.ContentItem) (bool, error)
	MergeRollups(ctx context.Context, id string, views int64, viewsSource, tags, ownerID *string) error
}

// SnapshotStore upserts snapshots keyed by (item_id, day)
type SnapshotStore interface {
	Upsert(ctx context.Context, snap *models.Snapshot) (*snapshotrepo.UpsertResult, error)
}

// IterationStore writes the lineage audit trail
type IterationStore interface {
	Create(ctx context.Context, rec *models.IterationRecord) error
}

// Linker computes lineage assignments for first-seen items
type Linker interface {
	Link(ctx context.Context, candidate lineage.Candidate) (models.LineageAssignment, error)
}

// EventSink receives lifecycle notifications after each item commits.
// Emission failures are logged, never surfaced to the batch result.
type EventSink interface {
	ItemCreated(ctx context.Context, item *models.ContentItem) error
	ItemRelinked(ctx context.Context, item *models.ContentItem) error
	SnapshotIngested(ctx context.Context, snap *models.Snapshot, isNew bool) error
}

// Ingestor processes upload batches item by item
type Ingestor struct {
	db         database.DB
	items      ItemStore
	snapshots  SnapshotStore
	iterations IterationStore
	linker     Linker
	locker     ItemLocker
	events     EventSink
	validate   *validator.Validate
	logger     ectologger.Logger
}

// NewIngestor creates a batch ingestor. events may be nil; locker defaults to
// the in-process KeyMutex when nil.
func NewIngestor(
	db database.DB,
	items ItemStore,
	snapshots SnapshotStore,
	iterations IterationStore,
	linker Linker,
	locker ItemLocker,
	events EventSink,
	logger ectologger.Logger,
) *Ingestor {
	if locker == nil {
		locker = NewKeyMutex()
	}
	return &Ingestor{
		db:         db,
		items:      items,
		snapshots:  snapshots,
		iterations: iterations,
		linker:     linker,
		locker:     locker,
		events:     events,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Ingest persists a batch of normalized records, one transaction per item.
// Per-item failures are captured in the result; only infrastructure failures
// (store unreachable before any item begins) propagate as an error.
//
// Callers must run a delta recompute after Ingest returns: deltas reflect
// the full stored state, not just this batch.
func (ing *Ingestor) Ingest(ctx context.Context, batch map[string]models.NormalizedRecord, uploadDate time.Time) (*models.IngestResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Ingestor.Ingest")
	defer span.End()

	if err := ing.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store unavailable: %w", err)
	}

	log := ing.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size":  len(batch),
		"upload_date": uploadDate.Format(time.DateOnly),
	})
	log.Info("Starting batch ingestion")
	timer := prometheus.NewTimer(metrics.IngestBatchDuration)
	defer timer.ObserveDuration()

	result := &models.IngestResult{}
	for itemID, record := range batch {
		if err := ing.ingestItem(ctx, itemID, record, uploadDate, result); err != nil {
			result.AddError(itemID, err)
			metrics.IngestItemsTotal.WithLabelValues("error").Inc()
			ing.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": itemID}).Warn("Failed to ingest item; continuing batch")
		}
	}

	log.WithFields(map[string]any{
		"created_items":     result.CreatedItems,
		"updated_items":     result.UpdatedItems,
		"created_snapshots": result.CreatedSnapshots,
		"updated_snapshots": result.UpdatedSnapshots,
		"errors":            len(result.Errors),
	}).Info("Batch ingestion complete")

	return result, nil
}

// ingestItem runs one item's transaction end to end. Any returned error has
// already rolled the transaction back.
func (ing *Ingestor) ingestItem(ctx context.Context, itemID string, record models.NormalizedRecord, uploadDate time.Time, result *models.IngestResult) error {
	ctx, span := tracing.StartSpan(ctx, "ingest.Ingestor.ingestItem")
	defer span.End()

	if itemID == "" {
		return fmt.Errorf("record has no item id")
	}

	unlock, err := ing.locker.LockItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to lock item: %w", err)
	}
	defer unlock()

	txCtx, tx, err := ing.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}

	created, item, err := ing.upsertItem(txCtx, itemID, record)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	snapResult, err := ing.upsertLatestSnapshot(txCtx, itemID, record, uploadDate)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if created {
		result.CreatedItems++
		result.NewItemCount++
		metrics.IngestItemsTotal.WithLabelValues("created").Inc()
	} else {
		result.UpdatedItems++
		metrics.IngestItemsTotal.WithLabelValues("updated").Inc()
	}
	if snapResult != nil {
		if snapResult.IsNew {
			result.CreatedSnapshots++
		} else if snapResult.Updated {
			result.UpdatedSnapshots++
		}
	}

	ing.emit(ctx, created, item, snapResult)
	return nil
}

// upsertItem creates the content item on first sight (with lineage linking)
// or applies the conditional update rules for a known item.
func (ing *Ingestor) upsertItem(ctx context.Context, itemID string, record models.NormalizedRecord) (bool, *models.ContentItem, error) {
	existing, err := ing.items.Get(ctx, itemID)
	if err != nil {
		return false, nil, err
	}

	if existing != nil {
		views := int64(0)
		if record.Views != nil {
			views = *record.Views
		}
		if err := ing.items.MergeRollups(ctx, itemID, views, record.ViewsSource, record.Tags, record.OwnerID); err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}

	assignment, err := ing.assignLineage(ctx, itemID, record)
	if err != nil {
		return false, nil, err
	}

	item := &models.ContentItem{
		ID:                  itemID,
		Title:               record.Title,
		ContentType:         record.ContentType,
		PublishTime:         record.PublishTime,
		Status:              models.ContentStatusLive,
		IterationNumber:     assignment.IterationNumber,
		OriginalItemID:      assignment.OriginalItemID,
		PreviousIterationID: assignment.PreviousIterationID,
		OwnerID:             assignment.OwnerID,
		Tags:                record.Tags,
		ViewsSource:         record.ViewsSource,
	}
	if record.Views != nil {
		item.LifetimeViews = *record.Views
	}

	inserted, err := ing.items.Insert(ctx, item)
	if err != nil {
		return false, nil, err
	}
	if !inserted {
		// Lost a create race outside our lock (another replica without the
		// shared locker); fall through to the known-item path.
		existing, err := ing.items.Get(ctx, itemID)
		if err != nil {
			return false, nil, err
		}
		if existing == nil {
			return false, nil, fmt.Errorf("item %s vanished between insert and read", itemID)
		}
		return false, existing, nil
	}

	if err := ing.iterations.Create(ctx, &models.IterationRecord{
		OriginalItemID:  item.RootItemID(),
		CurrentItemID:   item.ID,
		IterationNumber: item.IterationNumber,
		UploadDate:      record.PublishTime,
	}); err != nil {
		return false, nil, err
	}

	return true, item, nil
}

// assignLineage runs the linker for a first-seen item. Records missing the
// identity fields (title, content type, publish time) cannot be matched and
// are treated as fresh iteration-1 items rather than rejected.
func (ing *Ingestor) assignLineage(ctx context.Context, itemID string, record models.NormalizedRecord) (models.LineageAssignment, error) {
	if err := ing.validate.StructPartial(record, "Title", "ContentType", "PublishTime"); err != nil {
		ing.logger.WithContext(ctx).WithFields(map[string]any{
			"item_id": itemID,
		}).Warn("Record missing identity fields; skipping lineage linking")
		return models.LineageAssignment{IterationNumber: 1, OwnerID: record.OwnerID}, nil
	}

	return ing.linker.Link(ctx, lineage.Candidate{
		Title:       record.Title,
		ContentType: record.ContentType,
		PublishTime: record.PublishTime,
		OwnerID:     record.OwnerID,
	})
}

// upsertLatestSnapshot stores the chronologically latest point of the record.
// Records with no points skip snapshot creation but still count as processed.
func (ing *Ingestor) upsertLatestSnapshot(ctx context.Context, itemID string, record models.NormalizedRecord, uploadDate time.Time) (*snapshotrepo.UpsertResult, error) {
	point := record.LatestSnapshot()
	if point == nil {
		return nil, nil
	}

	effectiveDate := point.Date
	if effectiveDate.IsZero() {
		effectiveDate = uploadDate
	}

	source := record.Source
	if source == "" {
		source = models.SnapshotSourceUpload
	}

	return ing.snapshots.Upsert(ctx, &models.Snapshot{
		ItemID:                 itemID,
		SnapshotDate:           effectiveDate,
		LifetimeEarnings:       point.Earnings,
		LifetimeQualifiedViews: point.QualifiedViews,
		LifetimeSecondsViewed:  point.SecondsViewed,
		Reactions:              point.Engagement.Reactions,
		Comments:               point.Engagement.Comments,
		Shares:                 point.Engagement.Shares,
		Source:                 source,
		RawPayload:             point.Raw,
	})
}

// emit publishes lifecycle events after an item's transaction commits
func (ing *Ingestor) emit(ctx context.Context, created bool, item *models.ContentItem, snapResult *snapshotrepo.UpsertResult) {
	if ing.events == nil || item == nil {
		return
	}

	if created {
		var err error
		if item.IterationNumber > 1 {
			err = ing.events.ItemRelinked(ctx, item)
		} else {
			err = ing.events.ItemCreated(ctx, item)
		}
		if err != nil {
			ing.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": item.ID}).Warn("Failed to emit item event")
		}
	}

	if snapResult != nil && snapResult.Snapshot != nil {
		if err := ing.events.SnapshotIngested(ctx, snapResult.Snapshot, snapResult.IsNew); err != nil {
			ing.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": item.ID}).Warn("Failed to emit snapshot event")
		}
	}
}
