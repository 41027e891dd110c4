package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/service"
)

type AnomalyHandler struct {
	service service.AnomalyService
	log     *logger.Logger
}

func NewAnomalyHandler(service service.AnomalyService, log *logger.Logger) *AnomalyHandler {
	return &AnomalyHandler{service: service, log: log}
}

// @Summary Scan a customer for usage anomalies
// @Description Detect usage spikes and silent meters for one customer
// @Tags Anomalies
// @Produce json
// @Param id path string true "Customer ID"
// @Param silence_hours query int false "Silence threshold in hours"
// @Success 200 {array} service.Anomaly
// @Failure 400 {object} middleware.ErrorResponse
// @Router /customers/{id}/anomalies [get]
func (h *AnomalyHandler) ScanCustomer(c *gin.Context) {
	silenceHours := service.DefaultSilenceHours
	if raw := c.Query("silence_hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.Error(ierr.NewError("invalid silence_hours").
				WithHint("silence_hours must be a positive integer").
				Mark(ierr.ErrValidation))
			return
		}
		silenceHours = parsed
	}

	anomalies, err := h.service.ScanCustomer(c.Request.Context(), c.Param("id"), silenceHours)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, anomalies)
}
