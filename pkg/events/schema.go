package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event
type EventType string

const (
	// Item lifecycle
	EventTypeItemCreated  EventType = "item.created"
	EventTypeItemRelinked EventType = "item.relinked"
	EventTypeItemRemoved  EventType = "item.removed"

	// Metric lifecycle
	EventTypeSnapshotIngested  EventType = "snapshot.ingested"
	EventTypeSnapshotDuplicate EventType = "snapshot.duplicate"
	EventTypeDeltaComputed     EventType = "delta.computed"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// ItemEvent is emitted when a content item is created, relinked to a prior
// iteration, or marked removed.
type ItemEvent struct {
	BaseEvent
	ItemID              string  `json:"item_id"`
	Title               string  `json:"title"`
	ContentType         string  `json:"content_type"`
	IterationNumber     int     `json:"iteration_number"`
	OriginalItemID      *string `json:"original_item_id,omitempty"`
	PreviousIterationID *string `json:"previous_iteration_id,omitempty"`
	OwnerID             *string `json:"owner_id,omitempty"`
}

// SnapshotEvent is emitted after a snapshot row is created or updated
type SnapshotEvent struct {
	BaseEvent
	ItemID         string    `json:"item_id"`
	SnapshotDate   time.Time `json:"snapshot_date"`
	Source         string    `json:"source"`
	Earnings       float64   `json:"earnings"`
	QualifiedViews int64     `json:"qualified_views"`
	IsNew          bool      `json:"is_new"`
}

// DuplicateEvent is emitted when a pre-flight check flags a batch as a
// re-upload of already-stored data.
type DuplicateEvent struct {
	BaseEvent
	Fingerprint       string    `json:"fingerprint"`
	ProposedDate      time.Time `json:"proposed_date"`
	ExistingDate      time.Time `json:"existing_date"`
	MatchScorePercent int       `json:"match_score_percent"`
}

// DeltaEvent is emitted per newly materialized delta
type DeltaEvent struct {
	BaseEvent
	ItemID              string    `json:"item_id"`
	FromDate            time.Time `json:"from_date"`
	ToDate              time.Time `json:"to_date"`
	EarningsDelta       float64   `json:"earnings_delta"`
	QualifiedViewsDelta int64     `json:"qualified_views_delta"`
	SecondsViewedDelta  int64     `json:"seconds_viewed_delta"`
}

// NewBaseEvent creates a base event with common fields
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}
}
