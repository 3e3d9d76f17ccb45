// Package item exposes content item reads and the takedown write
package item

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	contentitemrepo "github.com/Ramsey-B/clover/internal/repositories/contentitem"
	deltarepo "github.com/Ramsey-B/clover/internal/repositories/delta"
	iterationrepo "github.com/Ramsey-B/clover/internal/repositories/iteration"
	snapshotrepo "github.com/Ramsey-B/clover/internal/repositories/snapshot"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Register registers item routes
func Register(g *echo.Group) {
	g.GET("/:id", GetItem)
	g.GET("/:id/lineage", GetLineage)
	g.GET("/:id/snapshots", ListSnapshots)
	g.GET("/:id/deltas", ListDeltas)
	g.POST("/:id/takedown", Takedown)
}

// GetItem gets a content item by ID
func GetItem(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*contentitemrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	item, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "content item not found")
	}

	return c.JSON(http.StatusOK, item)
}

// LineageResponse pairs the iteration chain with its audit records
type LineageResponse struct {
	Chain      []models.ContentItem     `json:"chain"`
	Iterations []models.IterationRecord `json:"iterations,omitempty"`
}

// GetLineage returns the item's full iteration chain, newest first, along
// with the audit records written at each iteration's first ingestion
func GetLineage(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*contentitemrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, iterRepo, err := ectoinject.GetContext[*iterationrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	chain, err := repo.GetLineage(ctx, id)
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "content item not found")
	}

	// the chain is newest first; its tail is the lineage root
	records, err := iterRepo.ListByOriginal(ctx, chain[len(chain)-1].ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, LineageResponse{Chain: chain, Iterations: records})
}

// ListSnapshots returns the item's snapshots ordered by date descending
func ListSnapshots(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*snapshotrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	snapshots, err := repo.ListForItem(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, snapshots)
}

// ListDeltas returns the item's materialized deltas
func ListDeltas(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*deltarepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	deltas, err := repo.ListForItem(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, deltas)
}

// TakedownRequest carries the optional removal metadata
type TakedownRequest struct {
	RemovedDate time.Time `json:"removed_date"`
	Reason      *string   `json:"reason,omitempty"`
}

// TakedownResponse returns the removed item with its stamped audit record
type TakedownResponse struct {
	Item      *models.ContentItem     `json:"item"`
	Iteration *models.IterationRecord `json:"iteration,omitempty"`
}

// Takedown marks a live item removed and stamps its iteration record, both
// inside one transaction. Removed items become lineage candidates for future
// re-uploads of the same title.
func Takedown(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req TakedownRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RemovedDate.IsZero() {
		req.RemovedDate = time.Now().UTC()
	}

	ctx, db, err := ectoinject.GetContext[database.DB](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, itemRepo, err := ectoinject.GetContext[*contentitemrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, iterRepo, err := ectoinject.GetContext[*iterationrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	txCtx, tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := itemRepo.MarkRemoved(txCtx, id, req.RemovedDate); err != nil {
		_ = tx.Rollback(txCtx)
		return err
	}
	if err := iterRepo.MarkRemoved(txCtx, id, req.RemovedDate, req.Reason); err != nil {
		_ = tx.Rollback(txCtx)
		return err
	}

	if err := tx.Commit(txCtx); err != nil {
		return err
	}

	item, err := itemRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	record, err := iterRepo.GetByCurrentItem(ctx, id)
	if err != nil {
		return err
	}

	// removal event is best effort; the takedown is already committed
	if ctx, emitter, err := ectoinject.GetContext[*events.Emitter](ctx); err == nil && emitter != nil && item != nil {
		_ = emitter.ItemRemoved(ctx, item)
	}

	return c.JSON(http.StatusOK, TakedownResponse{Item: item, Iteration: record})
}
