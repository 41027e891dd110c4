package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kachi-io/kachi/internal/domain/auditlog"
	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/metrics"
	"github.com/kachi-io/kachi/internal/service"
)

// OperationsHandler exposes the operator surface: reprocessing, out-of-cycle
// rating runs, connector control, and the audit trail behind them.
type OperationsHandler struct {
	deriver   service.DeriverService
	rating    service.RatingService
	collector *metrics.Collector
	audit     auditlog.Repository
	log       *logger.Logger
}

func NewOperationsHandler(
	deriver service.DeriverService,
	rating service.RatingService,
	collector *metrics.Collector,
	audit auditlog.Repository,
	log *logger.Logger,
) *OperationsHandler {
	return &OperationsHandler{
		deriver:   deriver,
		rating:    rating,
		collector: collector,
		audit:     audit,
		log:       log,
	}
}

// @Summary Reprocess a customer period
// @Description Re-derive meter readings for a customer period from raw events
// @Tags Operations
// @Accept json
// @Produce json
// @Param reprocess body dto.ReprocessRequest true "Reprocess request"
// @Success 200 {object} service.DeriveResult
// @Failure 400 {object} middleware.ErrorResponse
// @Router /operations/reprocess [post]
func (h *OperationsHandler) Reprocess(c *gin.Context) {
	var req dto.ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	result, err := h.deriver.ReprocessCustomerPeriod(c.Request.Context(), req.CustomerID, req.Period())
	if err != nil {
		c.Error(err)
		return
	}

	h.appendAudit(c, &auditlog.Entry{
		Actor:   req.Actor,
		Action:  auditlog.ActionReprocess,
		Subject: req.CustomerID,
		Details: map[string]any{
			"period_start":      req.Start,
			"period_end":        req.End,
			"reason":            req.Reason,
			"events_processed":  result.EventsProcessed,
			"readings_upserted": result.ReadingsUpserted,
		},
	})

	c.JSON(http.StatusOK, result)
}

// @Summary Run rating for a customer period
// @Description Rate and persist one customer period outside the duty cycles
// @Tags Operations
// @Accept json
// @Produce json
// @Param run body dto.RatingRunRequest true "Rating run request"
// @Success 200 {object} rating.Result
// @Failure 400 {object} middleware.ErrorResponse
// @Router /operations/rating-run [post]
func (h *OperationsHandler) RunRating(c *gin.Context) {
	var req dto.RatingRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	result, err := h.rating.RateCustomerPeriod(c.Request.Context(), req.CustomerID, req.Period())
	if err != nil {
		c.Error(err)
		return
	}

	h.appendAudit(c, &auditlog.Entry{
		Actor:   req.Actor,
		Action:  auditlog.ActionRatingRun,
		Subject: req.CustomerID,
		Details: map[string]any{
			"period_start": req.Start,
			"period_end":   req.End,
			"total":        result.Total,
		},
	})

	c.JSON(http.StatusOK, result)
}

// @Summary Run a connector
// @Description Trigger one external metric collection run by connector name
// @Tags Operations
// @Produce json
// @Param name path string true "Connector name"
// @Success 200 {object} metrics.RunResult
// @Failure 404 {object} middleware.ErrorResponse
// @Router /connectors/{name}/run [post]
func (h *OperationsHandler) RunConnector(c *gin.Context) {
	name := c.Param("name")

	result, err := h.collector.RunConnector(c.Request.Context(), name)
	if err != nil {
		c.Error(err)
		return
	}

	h.appendAudit(c, &auditlog.Entry{
		Actor:   "operator",
		Action:  auditlog.ActionConnectorOp,
		Subject: name,
		Details: map[string]any{
			"readings_created":   result.ReadingsCreated,
			"duplicates_skipped": result.DuplicatesSkipped,
		},
	})

	c.JSON(http.StatusOK, result)
}

// @Summary Connector health
// @Description Probe every registered connector
// @Tags Operations
// @Produce json
// @Success 200 {object} map[string]string
// @Router /connectors [get]
func (h *OperationsHandler) ConnectorHealth(c *gin.Context) {
	statuses := make(map[string]string)
	for name, err := range h.collector.HealthCheck(c.Request.Context()) {
		if err != nil {
			statuses[name] = err.Error()
		} else {
			statuses[name] = "ok"
		}
	}
	c.JSON(http.StatusOK, statuses)
}

// @Summary Audit trail for a subject
// @Description List audit entries for a customer or connector, newest first
// @Tags Operations
// @Produce json
// @Param subject path string true "Subject"
// @Success 200 {array} auditlog.Entry
// @Router /audit/{subject} [get]
func (h *OperationsHandler) AuditTrail(c *gin.Context) {
	entries, err := h.audit.ListBySubject(c.Request.Context(), c.Param("subject"), 100)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// appendAudit records the operator action. A failed append never fails the
// operation it describes.
func (h *OperationsHandler) appendAudit(c *gin.Context, entry *auditlog.Entry) {
	entry.TS = time.Now().UTC()
	if err := h.audit.Append(c.Request.Context(), entry); err != nil {
		h.log.Errorw("failed to append audit entry",
			"action", entry.Action,
			"subject", entry.Subject,
			"error", err,
		)
	}
}
