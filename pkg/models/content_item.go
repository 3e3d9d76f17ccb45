package models

import (
	"time"
)

// ContentType identifies the kind of published work
type ContentType string

const (
	ContentTypeVideo  ContentType = "video"
	ContentTypePhoto  ContentType = "photo"
	ContentTypeReel   ContentType = "reel"
	ContentTypeStatus ContentType = "status"
)

// ContentStatus is the lifecycle state of a content item
type ContentStatus string

const (
	ContentStatusLive    ContentStatus = "live"
	ContentStatusRemoved ContentStatus = "removed"
)

// ContentItem is the canonical record for one published work, identified by
// the platform-assigned id. Items are never hard-deleted; a takedown flips
// status to removed so later re-uploads can be linked back to it.
type ContentItem struct {
	ID          string        `json:"id" db:"id"`
	Title       string        `json:"title" db:"title"`
	ContentType ContentType   `json:"content_type" db:"content_type"`
	PublishTime time.Time     `json:"publish_time" db:"publish_time"`
	Status      ContentStatus `json:"status" db:"status"`
	RemovedDate *time.Time    `json:"removed_date,omitempty" db:"removed_date"`

	// Lineage pointers. OriginalItemID is nil when this item is iteration 1.
	IterationNumber     int     `json:"iteration_number" db:"iteration_number"`
	OriginalItemID      *string `json:"original_item_id,omitempty" db:"original_item_id"`
	PreviousIterationID *string `json:"previous_iteration_id,omitempty" db:"previous_iteration_id"`
	OwnerID             *string `json:"owner_id,omitempty" db:"owner_id"`

	Tags *string `json:"tags,omitempty" db:"tags"`

	// Cached rollups. LifetimeViews is the monotonic max seen across snapshots.
	LifetimeViews int64   `json:"lifetime_views" db:"lifetime_views"`
	ViewsSource   *string `json:"views_source,omitempty" db:"views_source"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsRemoved returns true once the item has been taken down
func (i *ContentItem) IsRemoved() bool {
	return i.Status == ContentStatusRemoved
}

// RootItemID returns the id of iteration 1 in this item's lineage chain
func (i *ContentItem) RootItemID() string {
	if i.OriginalItemID != nil {
		return *i.OriginalItemID
	}
	return i.ID
}

// LineageAssignment is the result of lineage linking for a new item.
// Pointers are nil for a fresh iteration-1 item.
type LineageAssignment struct {
	IterationNumber     int     `json:"iteration_number"`
	OriginalItemID      *string `json:"original_item_id,omitempty"`
	PreviousIterationID *string `json:"previous_iteration_id,omitempty"`
	OwnerID             *string `json:"owner_id,omitempty"`
}

// IsReupload returns true when the assignment links the item to a prior iteration
func (a *LineageAssignment) IsReupload() bool {
	return a.IterationNumber > 1
}
