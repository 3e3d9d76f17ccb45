package models

import (
	"encoding/json"
	"time"
)

// SnapshotSource identifies where a snapshot's values came from
type SnapshotSource string

const (
	// SnapshotSourceUpload is a manually uploaded file (CSV export etc.)
	SnapshotSourceUpload SnapshotSource = "upload"
	// SnapshotSourceSync is an automated platform sync (authoritative)
	SnapshotSourceSync SnapshotSource = "sync"
)

// Authoritative returns true when the source may overwrite an existing
// snapshot for the same (item, day) pair. Manual uploads never do.
func (s SnapshotSource) Authoritative() bool {
	return s == SnapshotSourceSync
}

// Snapshot is a dated, cumulative-to-date metric reading for one content item.
// Unique on (item_id, snapshot_date) with snapshot_date truncated to day.
// Counters are expected, not enforced, to be non-decreasing over time.
type Snapshot struct {
	ID           string    `json:"id" db:"id"`
	ItemID       string    `json:"item_id" db:"item_id"`
	SnapshotDate time.Time `json:"snapshot_date" db:"snapshot_date"`

	LifetimeEarnings       float64 `json:"lifetime_earnings" db:"lifetime_earnings"`
	LifetimeQualifiedViews int64   `json:"lifetime_qualified_views" db:"lifetime_qualified_views"`
	LifetimeSecondsViewed  int64   `json:"lifetime_seconds_viewed" db:"lifetime_seconds_viewed"`

	// Per-period engagement counts
	Reactions int `json:"reactions" db:"reactions"`
	Comments  int `json:"comments" db:"comments"`
	Shares    int `json:"shares" db:"shares"`

	Source SnapshotSource `json:"source" db:"source"`

	// RawPayload retains the source row for audit
	RawPayload json.RawMessage `json:"raw_payload,omitempty" db:"raw_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Day returns the snapshot date truncated to day granularity in UTC
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SnapshotPair is the two most recent snapshots for one item,
// Current being the later of the two.
type SnapshotPair struct {
	ItemID   string
	Current  Snapshot
	Previous Snapshot
}
