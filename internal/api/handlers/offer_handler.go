package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"greendrake/offerdesk/internal/api/middleware"
	"greendrake/offerdesk/internal/email"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/services"
	"greendrake/offerdesk/internal/tasks"
)

// OfferHandler exposes generated offers, their email threads and manual runs.
type OfferHandler struct {
	offerService       services.IOfferService
	sentMessageService services.ISentMessageService
	queue              tasks.Enqueuer
}

func NewOfferHandler(offerService services.IOfferService, sentMessageService services.ISentMessageService, queue tasks.Enqueuer) *OfferHandler {
	return &OfferHandler{
		offerService:       offerService,
		sentMessageService: sentMessageService,
		queue:              queue,
	}
}

// EmailThread is an offer with every message sent for it and the replies.
type EmailThread struct {
	Offer    *models.Offer        `json:"offer"`
	Messages []models.SentMessage `json:"messages"`
}

// ListByProperty handles GET /api/property/:id/offers
func (h *OfferHandler) ListByProperty(c *gin.Context) {
	propertyID, ok := paramID(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "Invalid property ID")
		return
	}
	offers, err := h.offerService.ListOffersByProperty(c.Request.Context(), propertyID)
	if err != nil {
		log.Printf("ListOffersByProperty %s failed: %v", propertyID, err)
		respondError(c, http.StatusInternalServerError, "Failed to list offers")
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	respond(c, http.StatusOK, offers, "")
}

// EmailThread handles GET /api/property/offer/:id/email-thread
func (h *OfferHandler) EmailThread(c *gin.Context) {
	offerID, ok := paramID(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "Invalid offer ID")
		return
	}
	offer, err := h.offerService.FindOfferByID(c.Request.Context(), offerID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondError(c, http.StatusNotFound, "Offer not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to load offer")
		return
	}

	messages, err := h.sentMessageService.ListByOffer(c.Request.Context(), offerID)
	if err != nil {
		log.Printf("ListByOffer %s failed: %v", offerID, err)
		respondError(c, http.StatusInternalServerError, "Failed to load email thread")
		return
	}
	if messages == nil {
		messages = []models.SentMessage{}
	}
	respond(c, http.StatusOK, EmailThread{Offer: offer, Messages: messages}, "")
}

// Message handles GET /api/email/:messageId. Angle brackets around the id are optional.
func (h *OfferHandler) Message(c *gin.Context) {
	messageID := email.NormalizeMessageID(c.Param("messageId"))
	if messageID == "" {
		respondError(c, http.StatusBadRequest, "Invalid message ID")
		return
	}
	msg, err := h.sentMessageService.FindByMessageID(c.Request.Context(), messageID)
	if err != nil {
		if errors.Is(err, services.ErrSentMessageNotFound) {
			respondError(c, http.StatusNotFound, "Message not found")
			return
		}
		log.Printf("FindByMessageID %s failed: %v", messageID, err)
		respondError(c, http.StatusInternalServerError, "Failed to load message")
		return
	}
	respond(c, http.StatusOK, msg, "")
}

// Generate handles POST /api/offer/generate
func (h *OfferHandler) Generate(c *gin.Context) {
	requester := "unknown"
	if claims := middleware.ClaimsFrom(c); claims != nil {
		requester = claims.Email
	}
	log.Printf("Manual offer generation requested by %s", requester)

	info, err := tasks.EnqueueOfferGeneration(c.Request.Context(), h.queue, "manual")
	if err != nil {
		if errors.Is(err, tasks.ErrAlreadyQueued) {
			respondError(c, http.StatusConflict, err.Error())
			return
		}
		log.Printf("Enqueue offer generation failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to queue offer generation")
		return
	}
	respond(c, http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue}, "Offer generation queued")
}
