package models

import (
	"time"

	"greendrake/offerdesk/internal/ident"
)

// Offer is a generated proposal for one buyer against one property.
// (buyer_email, property_id) is unique.
type Offer struct {
	Base        `bson:",inline"`
	PropertyID  ident.ID  `bson:"property_id" json:"property_id"`
	BuyerName   string    `bson:"buyer_name" json:"buyer_name"`
	BuyerEmail  string    `bson:"buyer_email" json:"buyer_email"`
	OfferAmount float64   `bson:"offer_amount" json:"offer_amount"`
	PDFKey      string    `bson:"pdf_key" json:"-"`
	PDFURL      string    `bson:"pdf_url" json:"pdf_url"`
	EmailChain  []string  `bson:"email_chain" json:"email_chain"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}
