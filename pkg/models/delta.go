package models

import (
	"time"
)

// Delta is the computed change between two temporally ordered snapshots of the
// same item. Unique on (item_id, from_date, to_date) and immutable once
// created; a backfilled snapshot between two already-computed dates produces a
// new pair on the next recompute but never retracts the old row.
type Delta struct {
	ID       string    `json:"id" db:"id"`
	ItemID   string    `json:"item_id" db:"item_id"`
	FromDate time.Time `json:"from_date" db:"from_date"`
	ToDate   time.Time `json:"to_date" db:"to_date"`

	// Signed; negative when a prior snapshot is corrected downward
	EarningsDelta       float64 `json:"earnings_delta" db:"earnings_delta"`
	QualifiedViewsDelta int64   `json:"qualified_views_delta" db:"qualified_views_delta"`
	SecondsViewedDelta  int64   `json:"seconds_viewed_delta" db:"seconds_viewed_delta"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsZero reports whether the delta carries no earnings or qualified-view
// movement. Zero deltas are never materialized.
func (d *Delta) IsZero() bool {
	return d.EarningsDelta == 0 && d.QualifiedViewsDelta == 0
}
