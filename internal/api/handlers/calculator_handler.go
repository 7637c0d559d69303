package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/offerdesk/internal/finance"
)

// CalculatorHandler serves the investment calculators.
type CalculatorHandler struct{}

func NewCalculatorHandler() *CalculatorHandler {
	return &CalculatorHandler{}
}

type irrRequest struct {
	CashFlows []float64 `json:"cashFlows" binding:"required"`
}

type capRateRequest struct {
	PropertyValue      *float64 `json:"propertyValue" binding:"required"`
	NetOperatingIncome *float64 `json:"netOperatingIncome" binding:"required"`
}

// IRR handles POST /api/property/calculate-irr
func (h *CalculatorHandler) IRR(c *gin.Context) {
	var req irrRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "cashFlows must be an array of numbers")
		return
	}
	irr, err := finance.CalculateIRR(req.CashFlows)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, finance.ErrIRRNotConverged) {
			status = http.StatusUnprocessableEntity
		}
		respondError(c, status, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{"irr": irr}, "IRR calculated")
}

// CapRate handles POST /api/property/calculate-cap-rate
func (h *CalculatorHandler) CapRate(c *gin.Context) {
	var req capRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "propertyValue and netOperatingIncome are required")
		return
	}
	rate, err := finance.CalculateCapRate(*req.PropertyValue, *req.NetOperatingIncome)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{"capRate": rate}, "Cap rate calculated")
}
