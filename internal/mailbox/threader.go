package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/microcosm-cc/bluemonday"

	"greendrake/offerdesk/internal/email"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/services"
)

// Outcome is what Handle did with one inbound message.
type Outcome string

const (
	OutcomeThreaded  Outcome = "threaded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDiscarded Outcome = "discarded"
)

// ReplyStore appends replies to sent messages.
type ReplyStore interface {
	AppendReply(ctx context.Context, messageID string, reply models.Reply) (bool, error)
}

// SentLookup resolves a sent message by its Message-ID.
type SentLookup interface {
	FindByMessageID(ctx context.Context, messageID string) (*models.SentMessage, error)
}

// ChainAppender records a message id on an offer's email chain.
type ChainAppender interface {
	AppendEmailChain(ctx context.Context, offerID ident.ID, messageID string) error
}

// MessageHandler consumes raw RFC 5322 messages.
type MessageHandler interface {
	Handle(ctx context.Context, raw []byte) (Outcome, error)
}

// Inbound is the parsed part of a message used for threading.
type Inbound struct {
	MessageID string
	InReplyTo string
	Subject   string
	From      string
	Body      string
}

var textPolicy = bluemonday.StrictPolicy()

// Parse extracts threading headers and a plain-text body.
func Parse(raw []byte) (*Inbound, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	in := &Inbound{
		MessageID: email.NormalizeMessageID(env.GetHeader("Message-ID")),
		InReplyTo: email.NormalizeMessageID(env.GetHeader("In-Reply-To")),
		Subject:   strings.TrimSpace(env.GetHeader("Subject")),
	}
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		in.From = from[0].Address
	} else {
		in.From = strings.TrimSpace(env.GetHeader("From"))
	}

	body := env.Text
	if strings.TrimSpace(body) == "" {
		body = env.HTML
	}
	in.Body = strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(body)))
	return in, nil
}

// Threader attaches replies to the sent message named by In-Reply-To.
type Threader struct {
	store  ReplyStore
	sent   SentLookup
	offers ChainAppender
	now    func() time.Time
}

func NewThreader(store ReplyStore) *Threader {
	return &Threader{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithEmailChain makes threaded replies also extend the offer's email chain.
func (t *Threader) WithEmailChain(sent SentLookup, offers ChainAppender) *Threader {
	t.sent = sent
	t.offers = offers
	return t
}

// recordChain is best effort: the reply is already stored.
func (t *Threader) recordChain(ctx context.Context, inReplyTo, messageID string) {
	if t.sent == nil || t.offers == nil {
		return
	}
	msg, err := t.sent.FindByMessageID(ctx, inReplyTo)
	if err != nil {
		log.Printf("Email chain for reply %s: %v", messageID, err)
		return
	}
	if err := t.offers.AppendEmailChain(ctx, msg.OfferID, messageID); err != nil {
		log.Printf("Email chain for offer %s: %v", msg.OfferID, err)
	}
}

// Handle threads raw. Messages without In-Reply-To are ignored and replies to
// unknown messages are discarded; neither is an error.
func (t *Threader) Handle(ctx context.Context, raw []byte) (Outcome, error) {
	in, err := Parse(raw)
	if err != nil {
		return OutcomeDiscarded, err
	}
	if in.InReplyTo == "" {
		return OutcomeIgnored, nil
	}

	reply := models.Reply{
		MessageID:  in.MessageID,
		From:       in.From,
		Subject:    in.Subject,
		Body:       in.Body,
		ReceivedAt: t.now(),
	}
	added, err := t.store.AppendReply(ctx, in.InReplyTo, reply)
	if err != nil {
		if errors.Is(err, services.ErrSentMessageNotFound) {
			log.Printf("Discarding reply %s from %s: no sent message %s", in.MessageID, in.From, in.InReplyTo)
			return OutcomeDiscarded, nil
		}
		return "", err
	}
	if !added {
		return OutcomeDuplicate, nil
	}
	log.Printf("Threaded reply %s from %s onto %s", in.MessageID, in.From, in.InReplyTo)
	t.recordChain(ctx, in.InReplyTo, in.MessageID)
	return OutcomeThreaded, nil
}
