package models

import (
	"time"
)

// IterationRecord is the explicit lineage audit trail, one row per content
// item created at first ingestion. It is redundant with the item's lineage
// pointers but decoupled from them so the audit survives pointer rewrites.
type IterationRecord struct {
	ID              string     `json:"id" db:"id"`
	OriginalItemID  string     `json:"original_item_id" db:"original_item_id"`
	CurrentItemID   string     `json:"current_item_id" db:"current_item_id"`
	IterationNumber int        `json:"iteration_number" db:"iteration_number"`
	UploadDate      time.Time  `json:"upload_date" db:"upload_date"`
	RemovalDate     *time.Time `json:"removal_date,omitempty" db:"removal_date"`
	Reason          *string    `json:"reason,omitempty" db:"reason"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}
