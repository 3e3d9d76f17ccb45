// Package processor drives the platform-sync ingestion path: it consumes
// normalized sync batches from Kafka and runs them through the same two-phase
// ingest-then-recompute flow the upload API uses.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/delta"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Ingestor is the batch ingestion surface the processor drives
type Ingestor interface {
	Ingest(ctx context.Context, batch map[string]models.NormalizedRecord, uploadDate time.Time) (*models.IngestResult, error)
}

// Recomputer materializes deltas after a batch lands
type Recomputer interface {
	Recompute(ctx context.Context) ([]models.Delta, error)
}

// DuplicateChecker runs the advisory pre-flight check
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, batch map[string]models.NormalizedRecord, proposedDate time.Time) (*models.DuplicateCheckResult, error)
}

// DuplicateSink receives flagged duplicate results. May be nil.
type DuplicateSink interface {
	DuplicateFlagged(ctx context.Context, result *models.DuplicateCheckResult) error
}

// Processor handles sync batch messages
type Processor struct {
	ingestor   Ingestor
	calculator Recomputer
	duplicates DuplicateChecker
	events     DuplicateSink
	logger     ectologger.Logger
}

func NewProcessor(
	ingestor Ingestor,
	calculator Recomputer,
	duplicates DuplicateChecker,
	events DuplicateSink,
	logger ectologger.Logger,
) *Processor {
	return &Processor{
		ingestor:   ingestor,
		calculator: calculator,
		duplicates: duplicates,
		events:     events,
		logger:     logger,
	}
}

// ProcessMessage handles one Kafka message. A returned error means the
// message must not be committed and will be redelivered; ingestion is
// idempotent, so redelivery is safe.
func (p *Processor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.ProcessMessage")
	defer span.End()

	if msg.SyncMessage == nil || !msg.IsSyncBatch() {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"topic":  msg.Topic,
			"offset": msg.Offset,
		}).Warn("Skipping non-sync message")
		return nil
	}

	batch := msg.SyncMessage.Records
	if len(batch) == 0 {
		p.logger.WithContext(ctx).Debug("Sync batch is empty")
		return nil
	}

	syncDate := msg.EffectiveDate()
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"platform":   msg.SyncMessage.Platform,
		"sync_date":  syncDate.Format(time.DateOnly),
		"batch_size": len(batch),
		"request_id": msg.SyncMessage.RequestID,
	})

	// Sync records overwrite same-day rows, so a flagged duplicate here is
	// informational: log it, emit the event, keep going.
	p.advisoryCheck(ctx, log, batch, syncDate)

	markSynced(batch)

	result, err := p.ingestor.Ingest(ctx, batch, syncDate)
	if err != nil {
		log.WithError(err).Error("Failed to ingest sync batch")
		return err
	}

	if len(result.Errors) > 0 {
		log.WithFields(map[string]any{"item_errors": len(result.Errors)}).Warn("Sync batch ingested with item failures")
	}

	if _, err := p.calculator.Recompute(ctx); err != nil {
		if errors.Is(err, delta.ErrRecomputeInProgress) {
			// the running pass will pick this batch's snapshots up
			log.Debug("Recompute already running; skipping")
		} else {
			log.WithError(err).Error("Failed to recompute deltas after sync batch")
			return fmt.Errorf("recompute after sync batch: %w", err)
		}
	}

	log.WithFields(map[string]any{
		"created_items":     result.CreatedItems,
		"updated_items":     result.UpdatedItems,
		"created_snapshots": result.CreatedSnapshots,
		"updated_snapshots": result.UpdatedSnapshots,
	}).Info("Sync batch processed")

	return nil
}

func (p *Processor) advisoryCheck(ctx context.Context, log ectologger.Logger, batch map[string]models.NormalizedRecord, syncDate time.Time) {
	check, err := p.duplicates.CheckDuplicate(ctx, batch, syncDate)
	if err != nil {
		log.WithError(err).Warn("Duplicate pre-flight check failed; continuing with ingest")
		return
	}
	if !check.IsDuplicate {
		return
	}

	log.WithFields(map[string]any{
		"match_score": check.MatchScorePercent,
		"fingerprint": check.Fingerprint,
	}).Warn("Sync batch matches data stored under a different date")

	if p.events != nil {
		if err := p.events.DuplicateFlagged(ctx, check); err != nil {
			log.WithError(err).Warn("Failed to emit duplicate event")
		}
	}
}

// markSynced stamps every record as platform-sync sourced so the snapshot
// upsert takes the authoritative overwrite path.
func markSynced(batch map[string]models.NormalizedRecord) {
	for id, record := range batch {
		record.Source = models.SnapshotSourceSync
		batch[id] = record
	}
}
