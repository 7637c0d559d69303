package models

import (
	"time"

	"greendrake/offerdesk/internal/ident"
)

// SentMessage records one outbound email and anchors its reply thread.
// MessageID is stored without angle brackets.
type SentMessage struct {
	Base      `bson:",inline"`
	MessageID string    `bson:"message_id" json:"message_id"`
	OfferID   ident.ID  `bson:"offer_id" json:"offer_id"`
	Recipient string    `bson:"recipient" json:"recipient"`
	Subject   string    `bson:"subject" json:"subject"`
	Body      string    `bson:"body" json:"body"`
	SentAt    time.Time `bson:"sent_at" json:"sent_at"`
	Replies   []Reply   `bson:"replies" json:"replies"`
}

// Reply is an inbound message threaded onto a SentMessage.
type Reply struct {
	MessageID  string    `bson:"message_id" json:"message_id"`
	From       string    `bson:"from" json:"from"`
	Subject    string    `bson:"subject" json:"subject"`
	Body       string    `bson:"body" json:"body"`
	ReceivedAt time.Time `bson:"received_at" json:"received_at"`
}
