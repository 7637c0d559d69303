package email

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"greendrake/offerdesk/internal/config"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
)

// OfferMail is one offer notification.
type OfferMail struct {
	To        string
	BuyerName string
	Subject   string
	Body      string
	PDFURL    string
	OfferID   ident.ID
}

// IGateway sends offer mail and records it for reply threading.
type IGateway interface {
	Send(ctx context.Context, m OfferMail) (*models.SentMessage, error)
}

// SentMessageStore persists SentMessage records.
type SentMessageStore interface {
	Create(ctx context.Context, msg *models.SentMessage) error
}

// Gateway composes, transmits and records offer mail.
type Gateway struct {
	transport Sender
	store     SentMessageStore
	from      *mail.Address
	domain    string
	now       func() time.Time
	newID     func() string
}

// NewGateway creates a Gateway sending through transport.
func NewGateway(cfg *config.Config, transport Sender, store SentMessageStore) *Gateway {
	return &Gateway{
		transport: transport,
		store:     store,
		from:      &mail.Address{Name: cfg.SmtpFromName, Address: cfg.SmtpFromAddress},
		domain:    cfg.MessageIDDomain,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Send transmits m and, only after the transport accepted it, persists a
// SentMessage carrying the generated Message-ID.
func (g *Gateway) Send(ctx context.Context, m OfferMail) (*models.SentMessage, error) {
	if strings.TrimSpace(m.To) == "" {
		return nil, errors.New("recipient is required")
	}

	messageID := fmt.Sprintf("%s@%s", g.newID(), g.domain)
	sentAt := g.now()
	composed, err := ComposeOffer(g.from, &mail.Address{Name: m.BuyerName, Address: m.To}, m.Subject, m.Body, m.PDFURL, messageID, sentAt)
	if err != nil {
		return nil, fmt.Errorf("failed to compose offer email: %w", err)
	}

	if err := g.transport.Send(ctx, []string{m.To}, m.Subject, composed.Raw); err != nil {
		return nil, fmt.Errorf("failed to send offer email to %s: %w", m.To, err)
	}

	record := &models.SentMessage{
		MessageID: composed.MessageID,
		OfferID:   m.OfferID,
		Recipient: m.To,
		Subject:   m.Subject,
		Body:      m.Body,
		SentAt:    sentAt,
		Replies:   []models.Reply{},
	}
	record.GenID()
	if err := g.store.Create(ctx, record); err != nil {
		// The mail is out; without the record replies to it cannot be threaded.
		log.Printf("Offer email %s to %s sent but not recorded: %v", composed.MessageID, m.To, err)
		return nil, fmt.Errorf("failed to record sent message %s: %w", composed.MessageID, err)
	}

	log.Printf("Offer email %s sent to %s for offer %s", composed.MessageID, m.To, m.OfferID)
	return record, nil
}
