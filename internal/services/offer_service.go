package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
)

// ErrDuplicateOffer is returned when the buyer already has an offer for the property.
var ErrDuplicateOffer = errors.New("offer already exists for this buyer and property")

// OfferInput carries the fields of a new offer. A zero ID is generated.
type OfferInput struct {
	ID          ident.ID
	PropertyID  ident.ID
	BuyerName   string
	BuyerEmail  string
	OfferAmount float64
	PDFKey      string
	PDFURL      string
}

// IOfferService defines the interface for offer operations.
type IOfferService interface {
	CreateOffer(ctx context.Context, in OfferInput) (*models.Offer, error)
	FindOfferByID(ctx context.Context, offerID ident.ID) (*models.Offer, error)
	ListOffersByProperty(ctx context.Context, propertyID ident.ID) ([]models.Offer, error)
	AppendEmailChain(ctx context.Context, offerID ident.ID, messageID string) error
}

type offerService struct {
	db *mongo.Database
}

// NewOfferService creates a new OfferService.
func NewOfferService(database *mongo.Database) IOfferService {
	return &offerService{db: database}
}

func (s *offerService) collection() *mongo.Collection {
	return s.db.Collection(db.OffersCollection)
}

// CreateOffer inserts the offer. The unique (buyer_email, property_id) index
// turns a second insert for the same pair into ErrDuplicateOffer.
func (s *offerService) CreateOffer(ctx context.Context, in OfferInput) (*models.Offer, error) {
	if in.PropertyID.IsZero() {
		return nil, errors.New("property id is required")
	}
	email := normalizeEmail(in.BuyerEmail)
	if email == "" {
		return nil, errors.New("buyer email is required")
	}

	offer := &models.Offer{
		PropertyID:  in.PropertyID,
		BuyerName:   strings.TrimSpace(in.BuyerName),
		BuyerEmail:  email,
		OfferAmount: in.OfferAmount,
		PDFKey:      in.PDFKey,
		PDFURL:      in.PDFURL,
		EmailChain:  []string{},
		CreatedAt:   time.Now().UTC(),
	}

	insert := func() error {
		_, insertErr := s.collection().InsertOne(ctx, offer)
		return insertErr
	}
	var err error
	if in.ID.IsZero() {
		err = db.Try(func() error {
			offer.GenID()
			return insert()
		})
	} else {
		offer.SetID(in.ID)
		err = insert()
	}
	if err != nil {
		if db.IsDuplicateKeyOnIndex(err, db.OfferBuyerPropIndex) {
			return nil, ErrDuplicateOffer
		}
		return nil, fmt.Errorf("error inserting offer for %s on property %s: %w", email, in.PropertyID, err)
	}
	return offer, nil
}

// FindOfferByID returns mongo.ErrNoDocuments when missing.
func (s *offerService) FindOfferByID(ctx context.Context, offerID ident.ID) (*models.Offer, error) {
	var offer models.Offer
	err := s.collection().FindOne(ctx, bson.M{"_id": offerID}).Decode(&offer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding offer %s: %w", offerID, err)
	}
	return &offer, nil
}

func (s *offerService) ListOffersByProperty(ctx context.Context, propertyID ident.ID) ([]models.Offer, error) {
	cursor, err := s.collection().Find(ctx, bson.M{"property_id": propertyID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing offers for property %s: %w", propertyID, err)
	}
	defer cursor.Close(ctx)

	offers := []models.Offer{}
	if err := cursor.All(ctx, &offers); err != nil {
		return nil, fmt.Errorf("error decoding offers: %w", err)
	}
	return offers, nil
}

// AppendEmailChain records an outbound Message-ID on the offer. Appending an
// id already present is a no-op.
func (s *offerService) AppendEmailChain(ctx context.Context, offerID ident.ID, messageID string) error {
	res, err := s.collection().UpdateOne(ctx, bson.M{"_id": offerID}, bson.M{
		"$addToSet": bson.M{"email_chain": messageID},
	})
	if err != nil {
		return fmt.Errorf("error appending message %s to offer %s: %w", messageID, offerID, err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
