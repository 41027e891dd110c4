package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/service"
)

type IngestHandler struct {
	service service.IngestionService
	log     *logger.Logger
}

func NewIngestHandler(service service.IngestionService, log *logger.Logger) *IngestHandler {
	return &IngestHandler{service: service, log: log}
}

// @Summary Ingest a trace export
// @Description Ingest an OTLP-shaped trace export batch
// @Tags Ingest
// @Accept json
// @Produce json
// @Param traces body dto.TraceExportRequest true "Trace export"
// @Success 200 {object} dto.IngestResult
// @Failure 400 {object} middleware.ErrorResponse
// @Router /traces [post]
func (h *IngestHandler) IngestTraces(c *gin.Context) {
	var req dto.TraceExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.ProcessTraceExport(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Summary Ingest an outcome event
// @Description Record a business outcome directly, bypassing tracing
// @Tags Ingest
// @Accept json
// @Produce json
// @Param outcome body dto.OutcomeEventRequest true "Outcome event"
// @Success 200 {object} dto.IngestResult
// @Failure 400 {object} middleware.ErrorResponse
// @Router /outcomes [post]
func (h *IngestHandler) IngestOutcome(c *gin.Context) {
	var req dto.OutcomeEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.ProcessOutcomeEvent(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
