// Package lineage links re-uploaded content back to its removed predecessors.
// Matching is exact title + content type equality; retitled re-uploads are
// not detected.
package lineage

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// RemovedItemFinder is the read surface the linker needs from the content
// item repository.
type RemovedItemFinder interface {
	FindRemovedByTitleAndType(ctx context.Context, title string, contentType models.ContentType, before time.Time) ([]models.ContentItem, error)
}

// Candidate is the identity of a new content item about to be created
type Candidate struct {
	Title       string
	ContentType models.ContentType
	PublishTime time.Time
	OwnerID     *string
}

// Linker computes lineage assignments for new content items
type Linker struct {
	items  RemovedItemFinder
	logger ectologger.Logger
}

func NewLinker(items RemovedItemFinder, logger ectologger.Logger) *Linker {
	return &Linker{items: items, logger: logger}
}

// Link finds the most advanced prior iteration of the candidate among removed
// items and returns the lineage fields for the new row. It runs only at first
// creation of an item and has no side effects; persistence is the caller's
// responsibility.
func (l *Linker) Link(ctx context.Context, candidate Candidate) (models.LineageAssignment, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Linker.Link")
	defer span.End()

	fresh := models.LineageAssignment{
		IterationNumber: 1,
		OwnerID:         candidate.OwnerID,
	}

	prior, err := l.items.FindRemovedByTitleAndType(ctx, candidate.Title, candidate.ContentType, candidate.PublishTime)
	if err != nil {
		return models.LineageAssignment{}, err
	}
	if len(prior) == 0 {
		return fresh, nil
	}

	// Most advanced iteration first; take at most one
	prev := prior[0]

	originalID := prev.RootItemID()
	prevID := prev.ID

	ownerID := candidate.OwnerID
	if ownerID == nil {
		ownerID = prev.OwnerID
	}

	assignment := models.LineageAssignment{
		IterationNumber:     prev.IterationNumber + 1,
		OriginalItemID:      &originalID,
		PreviousIterationID: &prevID,
		OwnerID:             ownerID,
	}
	metrics.LineageLinksTotal.Inc()

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"title":             candidate.Title,
		"content_type":      candidate.ContentType,
		"previous_item_id":  prev.ID,
		"iteration_number":  assignment.IterationNumber,
		"original_item_id":  originalID,
	}).Info("Linked re-uploaded content to prior iteration")

	return assignment, nil
}
