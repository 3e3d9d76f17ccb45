package models

import (
	"encoding/json"
	"time"
)

// Engagement holds per-period engagement counts for one snapshot point
type Engagement struct {
	Reactions int `json:"reactions"`
	Comments  int `json:"comments"`
	Shares    int `json:"shares"`
}

// SnapshotPoint is one normalized metric reading inside an upload batch.
// A multi-row export can carry several points for the same item.
type SnapshotPoint struct {
	Date           time.Time       `json:"date"`
	Earnings       float64         `json:"earnings"`
	QualifiedViews int64           `json:"qualified_views"`
	SecondsViewed  int64           `json:"seconds_viewed"`
	Engagement     Engagement      `json:"engagement"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// NormalizedRecord is the per-item record shape produced by the upstream
// column-mapping utility (file uploads) or a platform sync client.
type NormalizedRecord struct {
	ItemID      string      `json:"item_id" validate:"required"`
	Title       string      `json:"title" validate:"required"`
	ContentType ContentType `json:"content_type" validate:"required"`
	PublishTime time.Time   `json:"publish_time" validate:"required"`

	OwnerID *string `json:"owner_id,omitempty"`
	Tags    *string `json:"tags,omitempty"`

	Snapshots []SnapshotPoint `json:"snapshots"`

	Views       *int64  `json:"views,omitempty"`
	ViewsSource *string `json:"views_source,omitempty"`

	// Source decides whether an existing snapshot row may be overwritten
	Source SnapshotSource `json:"source"`
}

// LatestSnapshot returns the chronologically latest point, or nil when the
// record carries none. Ties are broken by position (last wins).
func (r *NormalizedRecord) LatestSnapshot() *SnapshotPoint {
	if len(r.Snapshots) == 0 {
		return nil
	}
	latest := 0
	for i := 1; i < len(r.Snapshots); i++ {
		if !r.Snapshots[i].Date.Before(r.Snapshots[latest].Date) {
			latest = i
		}
	}
	return &r.Snapshots[latest]
}

// IngestError records a single item's failure inside a batch
type IngestError struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// IngestResult is the batch summary returned by the ingestor. It is the
// single source of truth a caller surfaces to an operator; per-item failures
// land in Errors and never abort the batch.
type IngestResult struct {
	CreatedItems     int           `json:"created_items"`
	UpdatedItems     int           `json:"updated_items"`
	CreatedSnapshots int           `json:"created_snapshots"`
	UpdatedSnapshots int           `json:"updated_snapshots"`
	Errors           []IngestError `json:"errors"`
	NewItemCount     int           `json:"new_item_count"`
}

// AddError appends a per-item failure to the result
func (r *IngestResult) AddError(itemID string, err error) {
	r.Errors = append(r.Errors, IngestError{ItemID: itemID, Error: err.Error()})
}

// DuplicateCheckResult is the advisory outcome of a pre-flight duplicate
// check. IsDuplicate means the batch's values match already-stored data for a
// different calendar date than the one claimed; callers decide whether to
// block or warn.
type DuplicateCheckResult struct {
	IsDuplicate       bool       `json:"is_duplicate"`
	ExistingDate      *time.Time `json:"existing_date,omitempty"`
	ProposedDate      time.Time  `json:"proposed_date"`
	MatchScorePercent int        `json:"match_score_percent,omitempty"`
	Fingerprint       string     `json:"fingerprint"`
}
