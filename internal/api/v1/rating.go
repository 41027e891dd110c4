package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/service"
)

type RatingHandler struct {
	rating service.RatingService
	export service.ExportService
	log    *logger.Logger
}

func NewRatingHandler(rating service.RatingService, export service.ExportService, log *logger.Logger) *RatingHandler {
	return &RatingHandler{rating: rating, export: export, log: log}
}

// @Summary Preview usage charges
// @Description Rate a customer period without persisting the result
// @Tags Rating
// @Accept json
// @Produce json
// @Param preview body dto.UsagePreviewRequest true "Preview window"
// @Success 200 {object} dto.UsagePreviewResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /usage/preview [post]
func (h *RatingHandler) PreviewUsage(c *gin.Context) {
	var req dto.UsagePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.rating.PreviewPeriod(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Summary Record a usage adjustment
// @Description Apply a manual usage correction with an audit trail
// @Tags Rating
// @Accept json
// @Produce json
// @Param adjustment body dto.AdjustmentRequest true "Adjustment"
// @Success 200 {object} map[string]int64
// @Failure 400 {object} middleware.ErrorResponse
// @Router /adjustments [post]
func (h *RatingHandler) RecordAdjustment(c *gin.Context) {
	var req dto.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	entryID, err := h.rating.RecordAdjustment(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit_entry_id": entryID})
}

// @Summary Get a billing export
// @Description Build the export payload for a rated customer period
// @Tags Rating
// @Produce json
// @Param id path string true "Customer ID"
// @Param start query string true "Period start (RFC 3339)"
// @Param end query string true "Period end (RFC 3339)"
// @Success 200 {object} dto.BillingExport
// @Failure 404 {object} middleware.ErrorResponse
// @Router /customers/{id}/export [get]
func (h *RatingHandler) GetExport(c *gin.Context) {
	period, err := parsePeriod(c)
	if err != nil {
		c.Error(err)
		return
	}

	export, err := h.export.BuildExport(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, export)
}

// @Summary Mark a period exported
// @Description Record that the rated period was pushed to the billing provider
// @Tags Rating
// @Produce json
// @Param id path string true "Customer ID"
// @Param start query string true "Period start (RFC 3339)"
// @Param end query string true "Period end (RFC 3339)"
// @Success 200 {object} map[string]string
// @Failure 404 {object} middleware.ErrorResponse
// @Router /customers/{id}/export/mark [post]
func (h *RatingHandler) MarkExported(c *gin.Context) {
	period, err := parsePeriod(c)
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.export.MarkExported(c.Request.Context(), c.Param("id"), period); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "exported"})
}
