package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/offerdesk/internal/services"
)

type AnalyticsHandler struct {
	analyticsService services.IAnalyticsService
}

func NewAnalyticsHandler(analyticsService services.IAnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analyticsService: analyticsService}
}

// Market handles GET /api/analytics/market
func (h *AnalyticsHandler) Market(c *gin.Context) {
	summary, err := h.analyticsService.MarketSummary(c.Request.Context())
	if err != nil {
		log.Printf("MarketSummary failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to build market summary")
		return
	}
	if summary == nil {
		summary = []services.PriceSummary{}
	}
	respond(c, http.StatusOK, summary, "")
}

// Neighborhood handles GET /api/analytics/neighborhood?city=
func (h *AnalyticsHandler) Neighborhood(c *gin.Context) {
	summary, err := h.analyticsService.NeighborhoodSummary(c.Request.Context(), c.Query("city"))
	if err != nil {
		if errors.Is(err, services.ErrCityRequired) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("NeighborhoodSummary failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to build neighborhood summary")
		return
	}
	if summary == nil {
		summary = []services.PriceSummary{}
	}
	respond(c, http.StatusOK, summary, "")
}

// Property handles GET /api/analytics/property/:id
func (h *AnalyticsHandler) Property(c *gin.Context) {
	propertyID, ok := paramID(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "Invalid property ID")
		return
	}
	summary, err := h.analyticsService.PropertySummary(c.Request.Context(), propertyID)
	if err != nil {
		log.Printf("PropertySummary %s failed: %v", propertyID, err)
		respondError(c, http.StatusInternalServerError, "Failed to build property summary")
		return
	}
	respond(c, http.StatusOK, summary, "")
}
