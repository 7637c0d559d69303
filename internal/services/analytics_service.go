package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/ident"
)

// ErrCityRequired is returned by NeighborhoodSummary without a city.
var ErrCityRequired = errors.New("city is required")

// PriceSummary aggregates property prices for one group.
type PriceSummary struct {
	Group    string  `bson:"_id" json:"group"`
	Count    int     `bson:"count" json:"count"`
	AvgPrice float64 `bson:"avg_price" json:"avg_price"`
	MinPrice float64 `bson:"min_price" json:"min_price"`
	MaxPrice float64 `bson:"max_price" json:"max_price"`
}

// PropertySummary reports offer activity for a single property.
type PropertySummary struct {
	PropertyID ident.ID `json:"property_id"`
	Offers     int64    `json:"offers"`
	Replies    int64    `json:"replies"`
}

// IAnalyticsService defines read-only reporting over properties and offers.
type IAnalyticsService interface {
	MarketSummary(ctx context.Context) ([]PriceSummary, error)
	NeighborhoodSummary(ctx context.Context, city string) ([]PriceSummary, error)
	PropertySummary(ctx context.Context, propertyID ident.ID) (*PropertySummary, error)
}

type analyticsService struct {
	db *mongo.Database
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(database *mongo.Database) IAnalyticsService {
	return &analyticsService{db: database}
}

// priceGroupPipeline groups matching properties by field.
func priceGroupPipeline(match bson.M, field string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.M{"$sum": 1}},
			{Key: "avg_price", Value: bson.M{"$avg": "$price"}},
			{Key: "min_price", Value: bson.M{"$min": "$price"}},
			{Key: "max_price", Value: bson.M{"$max": "$price"}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

func (s *analyticsService) aggregatePrices(ctx context.Context, pipeline mongo.Pipeline) ([]PriceSummary, error) {
	cursor, err := s.db.Collection(db.PropertiesCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("error aggregating properties: %w", err)
	}
	defer cursor.Close(ctx)

	out := []PriceSummary{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding property summary: %w", err)
	}
	return out, nil
}

// MarketSummary groups all properties by city.
func (s *analyticsService) MarketSummary(ctx context.Context) ([]PriceSummary, error) {
	return s.aggregatePrices(ctx, priceGroupPipeline(bson.M{}, "city"))
}

// NeighborhoodSummary groups the properties of one city by area.
func (s *analyticsService) NeighborhoodSummary(ctx context.Context, city string) ([]PriceSummary, error) {
	if strings.TrimSpace(city) == "" {
		return nil, ErrCityRequired
	}
	return s.aggregatePrices(ctx, priceGroupPipeline(bson.M{"city": equalFold(city)}, "area"))
}

func (s *analyticsService) PropertySummary(ctx context.Context, propertyID ident.ID) (*PropertySummary, error) {
	offerIDs, err := s.db.Collection(db.OffersCollection).Distinct(ctx, "_id", bson.M{"property_id": propertyID})
	if err != nil {
		return nil, fmt.Errorf("error loading offers for property %s: %w", propertyID, err)
	}
	summary := &PropertySummary{PropertyID: propertyID, Offers: int64(len(offerIDs))}
	if len(offerIDs) == 0 {
		return summary, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"offer_id": bson.M{"$in": offerIDs}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "replies", Value: bson.M{"$sum": bson.M{"$size": bson.M{"$ifNull": bson.A{"$replies", bson.A{}}}}}},
		}}},
	}
	cursor, err := s.db.Collection(db.SentMessagesCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("error counting replies for property %s: %w", propertyID, err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Replies int64 `bson:"replies"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("error decoding reply count: %w", err)
	}
	if len(rows) > 0 {
		summary.Replies = rows[0].Replies
	}
	return summary, nil
}
