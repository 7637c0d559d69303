package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
)

var (
	// ErrNoEligibleProperty means no property matches the user's locality
	// without an existing offer to that user.
	ErrNoEligibleProperty = errors.New("no eligible property")
	// ErrInvalidPriceRange is returned for negative market-level bounds.
	ErrInvalidPriceRange = errors.New("price range bounds must not be negative")
	// ErrInvalidUpdate is returned when an update contains no usable fields.
	ErrInvalidUpdate = errors.New("invalid property update")
)

// PropertyInput carries the fields accepted when creating a property.
type PropertyInput struct {
	Title        string
	Description  string
	Price        float64
	Location     string
	PropertyType string
	models.Locality
}

// PropertyFilter narrows ListProperties. Zero values are ignored.
type PropertyFilter struct {
	MaxPrice     *float64
	Location     string
	PropertyType string
	models.Locality

	// MarketLevel restricts price to [PriceLow, PriceHigh]; bounds are swapped if reversed.
	MarketLevel bool
	PriceLow    *float64
	PriceHigh   *float64

	// NeighborhoodLevel matches city OR state OR area instead of requiring all.
	NeighborhoodLevel bool
}

// IPropertyService defines the interface for property operations.
type IPropertyService interface {
	CreateProperty(ctx context.Context, in PropertyInput) (*models.Property, error)
	FindPropertyByID(ctx context.Context, propertyID ident.ID) (*models.Property, error)
	ListProperties(ctx context.Context, filter PropertyFilter) ([]models.Property, error)
	UpdateProperty(ctx context.Context, propertyID ident.ID, updates map[string]interface{}) (*models.Property, error)
	DeleteProperty(ctx context.Context, propertyID ident.ID) error
	SetTemplate(ctx context.Context, propertyID ident.ID, key, url string) (*models.Property, error)
	FindEligibleProperty(ctx context.Context, user *models.User) (*models.Property, error)
}

type propertyService struct {
	db *mongo.Database
}

// NewPropertyService creates a new PropertyService.
func NewPropertyService(database *mongo.Database) IPropertyService {
	return &propertyService{db: database}
}

func (s *propertyService) collection() *mongo.Collection {
	return s.db.Collection(db.PropertiesCollection)
}

func (s *propertyService) CreateProperty(ctx context.Context, in PropertyInput) (*models.Property, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.New("title is required")
	}
	if in.Price < 0 {
		return nil, errors.New("price must not be negative")
	}

	now := time.Now().UTC()
	property := &models.Property{
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Price:        in.Price,
		Location:     strings.TrimSpace(in.Location),
		PropertyType: strings.TrimSpace(in.PropertyType),
		Locality: models.Locality{
			City:  strings.TrimSpace(in.City),
			State: strings.TrimSpace(in.State),
			Area:  strings.TrimSpace(in.Area),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := db.Try(func() error {
		property.GenID()
		_, insertErr := s.collection().InsertOne(ctx, property)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert property %q: %w", property.Title, err)
	}
	return property, nil
}

// FindPropertyByID returns mongo.ErrNoDocuments when missing.
func (s *propertyService) FindPropertyByID(ctx context.Context, propertyID ident.ID) (*models.Property, error) {
	var property models.Property
	err := s.collection().FindOne(ctx, bson.M{"_id": propertyID}).Decode(&property)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding property %s: %w", propertyID, err)
	}
	return &property, nil
}

func (s *propertyService) ListProperties(ctx context.Context, filter PropertyFilter) ([]models.Property, error) {
	query, err := BuildPropertyQuery(filter)
	if err != nil {
		return nil, err
	}

	cursor, err := s.collection().Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing properties: %w", err)
	}
	defer cursor.Close(ctx)

	properties := []models.Property{}
	if err := cursor.All(ctx, &properties); err != nil {
		return nil, fmt.Errorf("error decoding properties: %w", err)
	}
	return properties, nil
}

// equalFold matches a string field exactly, ignoring case.
func equalFold(value string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(strings.TrimSpace(value)) + "$", Options: "i"}
}

// localityClauses returns one case-insensitive clause per non-empty locality field.
func localityClauses(l models.Locality) []bson.M {
	var clauses []bson.M
	if strings.TrimSpace(l.City) != "" {
		clauses = append(clauses, bson.M{"city": equalFold(l.City)})
	}
	if strings.TrimSpace(l.State) != "" {
		clauses = append(clauses, bson.M{"state": equalFold(l.State)})
	}
	if strings.TrimSpace(l.Area) != "" {
		clauses = append(clauses, bson.M{"area": equalFold(l.Area)})
	}
	return clauses
}

// BuildPropertyQuery translates a PropertyFilter into a Mongo filter.
func BuildPropertyQuery(f PropertyFilter) (bson.M, error) {
	query := bson.M{}
	price := bson.M{}

	if f.MaxPrice != nil {
		price["$lte"] = *f.MaxPrice
	}
	if f.MarketLevel && (f.PriceLow != nil || f.PriceHigh != nil) {
		low, high := 0.0, -1.0
		if f.PriceLow != nil {
			low = *f.PriceLow
		}
		if f.PriceHigh != nil {
			high = *f.PriceHigh
		}
		if low < 0 || (f.PriceHigh != nil && high < 0) {
			return nil, ErrInvalidPriceRange
		}
		if f.PriceHigh != nil && low > high {
			low, high = high, low
		}
		price["$gte"] = low
		if f.PriceHigh != nil {
			if cur, ok := price["$lte"].(float64); !ok || high < cur {
				price["$lte"] = high
			}
		}
	}
	if len(price) > 0 {
		query["price"] = price
	}

	if f.Location != "" {
		query["location"] = equalFold(f.Location)
	}
	if f.PropertyType != "" {
		query["property_type"] = equalFold(f.PropertyType)
	}

	clauses := localityClauses(f.Locality)
	switch {
	case f.NeighborhoodLevel && len(clauses) > 0:
		query["$or"] = clauses
	default:
		for _, c := range clauses {
			for k, v := range c {
				query[k] = v
			}
		}
	}
	return query, nil
}

// EligibilityQuery selects properties with a template whose city, state or
// area matches l and whose id is not in excluded.
func EligibilityQuery(l models.Locality, excluded []interface{}) bson.M {
	query := bson.M{
		"template_key": bson.M{"$exists": true, "$ne": ""},
		"$or":          localityClauses(l),
	}
	if len(excluded) > 0 {
		query["_id"] = bson.M{"$nin": excluded}
	}
	return query
}

// FindEligibleProperty returns the lowest-id property eligible for user.
func (s *propertyService) FindEligibleProperty(ctx context.Context, user *models.User) (*models.Property, error) {
	if len(localityClauses(user.Locality)) == 0 {
		return nil, ErrNoEligibleProperty
	}

	offered, err := s.db.Collection(db.OffersCollection).Distinct(ctx, "property_id", bson.M{"buyer_email": normalizeEmail(user.Email)})
	if err != nil {
		return nil, fmt.Errorf("error loading offered properties for %s: %w", user.Email, err)
	}

	var property models.Property
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	err = s.collection().FindOne(ctx, EligibilityQuery(user.Locality, offered), opts).Decode(&property)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoEligibleProperty
		}
		return nil, fmt.Errorf("error finding eligible property for %s: %w", user.Email, err)
	}
	return &property, nil
}

var updatableStringFields = map[string]bool{
	"title": true, "description": true, "location": true, "property_type": true,
	"city": true, "state": true, "area": true,
}

// UpdateProperty applies whitelisted fields; unknown keys are ignored.
func (s *propertyService) UpdateProperty(ctx context.Context, propertyID ident.ID, updates map[string]interface{}) (*models.Property, error) {
	set := bson.M{}
	for key, val := range updates {
		switch {
		case updatableStringFields[key]:
			str, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidUpdate, key)
			}
			set[key] = strings.TrimSpace(str)
		case key == "price":
			price, ok := val.(float64)
			if !ok || price < 0 {
				return nil, fmt.Errorf("%w: price must be a non-negative number", ErrInvalidUpdate)
			}
			set[key] = price
		}
	}
	if len(set) == 0 {
		return nil, ErrInvalidUpdate
	}
	set["updated_at"] = time.Now().UTC()

	var updated models.Property
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": propertyID}, bson.M{"$set": set}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error updating property %s: %w", propertyID, err)
	}
	return &updated, nil
}

func (s *propertyService) DeleteProperty(ctx context.Context, propertyID ident.ID) error {
	res, err := s.collection().DeleteOne(ctx, bson.M{"_id": propertyID})
	if err != nil {
		return fmt.Errorf("error deleting property %s: %w", propertyID, err)
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SetTemplate records the storage key and display URL of the offer template.
func (s *propertyService) SetTemplate(ctx context.Context, propertyID ident.ID, key, url string) (*models.Property, error) {
	var updated models.Property
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{"$set": bson.M{"template_key": key, "template_url": url, "updated_at": time.Now().UTC()}}
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": propertyID}, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error setting template for property %s: %w", propertyID, err)
	}
	return &updated, nil
}
