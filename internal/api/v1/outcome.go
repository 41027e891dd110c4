package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kachi-io/kachi/internal/dto"
	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/service"
)

type OutcomeHandler struct {
	service service.OutcomeService
	log     *logger.Logger
}

func NewOutcomeHandler(service service.OutcomeService, log *logger.Logger) *OutcomeHandler {
	return &OutcomeHandler{service: service, log: log}
}

// @Summary External verification webhook
// @Description Resolve a pending outcome from an external system callback
// @Tags Outcomes
// @Accept json
// @Produce json
// @Param verification body dto.VerificationWebhookRequest true "Verification"
// @Success 200 {object} map[string]string
// @Failure 400 {object} middleware.ErrorResponse
// @Router /outcomes/verification [post]
func (h *OutcomeHandler) Verification(c *gin.Context) {
	var req dto.VerificationWebhookRequest
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

	err := h.service.ProcessExternalVerification(
		c.Request.Context(),
		req.ExternalSystem,
		req.ExternalRef,
		req.Verified,
		req.Reason,
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// @Summary Reverse an outcome
// @Description Reverse a pending outcome before its holdback settles
// @Tags Outcomes
// @Accept json
// @Produce json
// @Param id path string true "Verification ID"
// @Param reversal body dto.ReverseOutcomeRequest true "Reversal"
// @Success 200 {object} map[string]string
// @Failure 409 {object} middleware.ErrorResponse
// @Router /outcomes/{id}/reverse [post]
func (h *OutcomeHandler) Reverse(c *gin.Context) {
	var req dto.ReverseOutcomeRequest
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

	if err := h.service.ReverseOutcome(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reversed"})
}
