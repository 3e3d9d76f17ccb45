// Package upload exposes the manual upload API: batch ingestion with the
// mandatory delta recompute, and the advisory duplicate pre-flight check.
package upload

import (
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/delta"
	"github.com/Ramsey-B/clover/pkg/duplicate"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Register registers upload routes
func Register(g *echo.Group) {
	g.POST("", Upload)
	g.POST("/duplicate-check", DuplicateCheck)
}

// UploadRequest is the manual upload payload: normalized records keyed by
// item id plus the date the metrics were exported.
type UploadRequest struct {
	UploadDate time.Time                          `json:"upload_date"`
	Records    map[string]models.NormalizedRecord `json:"records"`
}

// UploadResponse pairs the ingest summary with the deltas the follow-up
// recompute materialized.
type UploadResponse struct {
	Result        *models.IngestResult `json:"result"`
	DeltasCreated int                  `json:"deltas_created"`
}

// Upload ingests a manual upload batch and recomputes deltas
func Upload(c echo.Context) error {
	ctx := c.Request().Context()

	var req UploadRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Records) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "records are required")
	}
	if req.UploadDate.IsZero() {
		req.UploadDate = time.Now().UTC()
	}

	ctx, ingestor, err := ectoinject.GetContext[*ingest.Ingestor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := ingestor.Ingest(ctx, req.Records, req.UploadDate)
	if err != nil {
		return err
	}

	ctx, calculator, err := ectoinject.GetContext[*delta.Calculator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	created, err := calculator.Recompute(ctx)
	if err != nil && !errors.Is(err, delta.ErrRecomputeInProgress) {
		return err
	}

	return c.JSON(http.StatusOK, &UploadResponse{
		Result:        result,
		DeltasCreated: len(created),
	})
}

// DuplicateCheckRequest is the pre-flight payload: the parsed batch and the
// date the caller intends to store it under.
type DuplicateCheckRequest struct {
	ProposedDate time.Time                          `json:"proposed_date"`
	Records      map[string]models.NormalizedRecord `json:"records"`
}

// DuplicateCheck runs the advisory duplicate check without persisting
// anything. Callers decide whether a flagged batch still goes through.
func DuplicateCheck(c echo.Context) error {
	ctx := c.Request().Context()

	var req DuplicateCheckRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Records) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "records are required")
	}
	if req.ProposedDate.IsZero() {
		return httperror.NewHTTPError(http.StatusBadRequest, "proposed_date is required")
	}

	ctx, detector, err := ectoinject.GetContext[*duplicate.Detector](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := detector.CheckDuplicate(ctx, req.Records, req.ProposedDate)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}
