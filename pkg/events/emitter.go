// Package events publishes content and metric lifecycle events to Kafka.
// The emitter satisfies the ingest and delta sink interfaces; wiring it is
// optional, both engines run without one.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Publisher is the transport surface the emitter writes through
type Publisher interface {
	Publish(ctx context.Context, eventType, itemID string, payload any) error
}

// Emitter builds schema events from domain models and publishes them
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{publisher: publisher, logger: logger}
}

// ItemCreated emits item.created for a fresh iteration-1 item
func (e *Emitter) ItemCreated(ctx context.Context, item *models.ContentItem) error {
	return e.publishItem(ctx, EventTypeItemCreated, item)
}

// ItemRelinked emits item.relinked for an item linked to a removed predecessor
func (e *Emitter) ItemRelinked(ctx context.Context, item *models.ContentItem) error {
	return e.publishItem(ctx, EventTypeItemRelinked, item)
}

// ItemRemoved emits item.removed after a takedown write
func (e *Emitter) ItemRemoved(ctx context.Context, item *models.ContentItem) error {
	return e.publishItem(ctx, EventTypeItemRemoved, item)
}

func (e *Emitter) publishItem(ctx context.Context, eventType EventType, item *models.ContentItem) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.publishItem")
	defer span.End()

	event := &ItemEvent{
		BaseEvent:           NewBaseEvent(eventType),
		ItemID:              item.ID,
		Title:               item.Title,
		ContentType:         string(item.ContentType),
		IterationNumber:     item.IterationNumber,
		OriginalItemID:      item.OriginalItemID,
		PreviousIterationID: item.PreviousIterationID,
		OwnerID:             item.OwnerID,
	}

	if err := e.publisher.Publish(ctx, string(eventType), item.ID, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", eventType)
		return err
	}
	return nil
}

// SnapshotIngested emits snapshot.ingested after a snapshot upsert commits
func (e *Emitter) SnapshotIngested(ctx context.Context, snap *models.Snapshot, isNew bool) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.SnapshotIngested")
	defer span.End()

	event := &SnapshotEvent{
		BaseEvent:      NewBaseEvent(EventTypeSnapshotIngested),
		ItemID:         snap.ItemID,
		SnapshotDate:   models.Day(snap.SnapshotDate),
		Source:         string(snap.Source),
		Earnings:       snap.LifetimeEarnings,
		QualifiedViews: snap.LifetimeQualifiedViews,
		IsNew:          isNew,
	}

	if err := e.publisher.Publish(ctx, string(EventTypeSnapshotIngested), snap.ItemID, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit snapshot.ingested event")
		return err
	}
	return nil
}

// DuplicateFlagged emits snapshot.duplicate for a flagged pre-flight check.
// The fingerprint keys the message; duplicate checks have no single item.
func (e *Emitter) DuplicateFlagged(ctx context.Context, result *models.DuplicateCheckResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.DuplicateFlagged")
	defer span.End()

	event := &DuplicateEvent{
		BaseEvent:         NewBaseEvent(EventTypeSnapshotDuplicate),
		Fingerprint:       result.Fingerprint,
		ProposedDate:      result.ProposedDate,
		MatchScorePercent: result.MatchScorePercent,
	}
	if result.ExistingDate != nil {
		event.ExistingDate = *result.ExistingDate
	}

	if err := e.publisher.Publish(ctx, string(EventTypeSnapshotDuplicate), result.Fingerprint, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit snapshot.duplicate event")
		return err
	}
	return nil
}

// DeltaComputed emits delta.computed for a newly materialized delta
func (e *Emitter) DeltaComputed(ctx context.Context, d *models.Delta) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.DeltaComputed")
	defer span.End()

	event := &DeltaEvent{
		BaseEvent:           NewBaseEvent(EventTypeDeltaComputed),
		ItemID:              d.ItemID,
		FromDate:            d.FromDate,
		ToDate:              d.ToDate,
		EarningsDelta:       d.EarningsDelta,
		QualifiedViewsDelta: d.QualifiedViewsDelta,
		SecondsViewedDelta:  d.SecondsViewedDelta,
	}

	if err := e.publisher.Publish(ctx, string(EventTypeDeltaComputed), d.ItemID, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit delta.computed event")
		return err
	}
	return nil
}
