package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kachi-io/kachi/internal/logger"
	"github.com/kachi-io/kachi/internal/service"
)

type CostHandler struct {
	cogs service.COGSService
	log  *logger.Logger
}

func NewCostHandler(cogs service.COGSService, log *logger.Logger) *CostHandler {
	return &CostHandler{cogs: cogs, log: log}
}

// @Summary Get period COGS
// @Description Cost of goods sold for a customer period, grouped by cost type
// @Tags Costs
// @Produce json
// @Param id path string true "Customer ID"
// @Param start query string true "Period start (RFC 3339)"
// @Param end query string true "Period end (RFC 3339)"
// @Success 200 {object} service.COGSBreakdown
// @Failure 400 {object} middleware.ErrorResponse
// @Router /customers/{id}/cogs [get]
func (h *CostHandler) GetCOGS(c *gin.Context) {
	period, err := parsePeriod(c)
	if err != nil {
		c.Error(err)
		return
	}

	breakdown, err := h.cogs.PeriodCOGS(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, breakdown)
}

// @Summary Get margin analysis
// @Description Revenue against COGS for a rated customer period
// @Tags Costs
// @Produce json
// @Param id path string true "Customer ID"
// @Param start query string true "Period start (RFC 3339)"
// @Param end query string true "Period end (RFC 3339)"
// @Success 200 {object} service.MarginAnalysis
// @Failure 400 {object} middleware.ErrorResponse
// @Router /customers/{id}/margin [get]
func (h *CostHandler) GetMargin(c *gin.Context) {
	period, err := parsePeriod(c)
	if err != nil {
		c.Error(err)
		return
	}

	analysis, err := h.cogs.AnalyzeMargin(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, analysis)
}
