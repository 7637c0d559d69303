package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	UsersCollection          = "users"
	PropertiesCollection     = "properties"
	OffersCollection         = "offers"
	SentMessagesCollection   = "sent_messages"
	EmailTemplatesCollection = "email_templates"
)

// Index names referenced by duplicate-key handling.
const (
	UserEmailIndex      = "email_unique"
	OfferBuyerPropIndex = "buyer_email_property_unique"
	SentMessageIDIndex  = "message_id_unique"
	TemplateLocaleIndex = "template_locale_unique"
	PropertyLocalityIdx = "locality"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	fmt.Println("Successfully connected to MongoDB!")
	return client, client.Database(dbName), nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	fmt.Println("MongoDB connection closed.")
	return nil
}

// EnsureIndexes creates the indexes the application relies on for uniqueness.
// CreateMany is a no-op for indexes that already exist with the same keys and options.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName(UserEmailIndex).SetUnique(true)},
		},
		PropertiesCollection: {
			{Keys: bson.D{{Key: "city", Value: 1}, {Key: "state", Value: 1}, {Key: "area", Value: 1}}, Options: options.Index().SetName(PropertyLocalityIdx)},
		},
		OffersCollection: {
			{Keys: bson.D{{Key: "buyer_email", Value: 1}, {Key: "property_id", Value: 1}}, Options: options.Index().SetName(OfferBuyerPropIndex).SetUnique(true)},
		},
		SentMessagesCollection: {
			{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetName(SentMessageIDIndex).SetUnique(true)},
			{Keys: bson.D{{Key: "offer_id", Value: 1}}},
		},
		EmailTemplatesCollection: {
			{Keys: bson.D{{Key: "template_id", Value: 1}, {Key: "locale", Value: 1}}, Options: options.Index().SetName(TemplateLocaleIndex).SetUnique(true)},
		},
	}
	for coll, models := range specs {
		if _, err := database.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}
