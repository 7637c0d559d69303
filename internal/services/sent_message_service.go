package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
)

// ErrSentMessageNotFound means no outbound message carries the given Message-ID.
var ErrSentMessageNotFound = errors.New("sent message not found")

// ISentMessageService stores outbound emails and their threaded replies.
type ISentMessageService interface {
	Create(ctx context.Context, msg *models.SentMessage) error
	FindByMessageID(ctx context.Context, messageID string) (*models.SentMessage, error)
	ListByOffer(ctx context.Context, offerID ident.ID) ([]models.SentMessage, error)
	AppendReply(ctx context.Context, messageID string, reply models.Reply) (bool, error)
}

type sentMessageService struct {
	db *mongo.Database
}

// NewSentMessageService creates a new SentMessageService.
func NewSentMessageService(database *mongo.Database) ISentMessageService {
	return &sentMessageService{db: database}
}

func (s *sentMessageService) collection() *mongo.Collection {
	return s.db.Collection(db.SentMessagesCollection)
}

func (s *sentMessageService) Create(ctx context.Context, msg *models.SentMessage) error {
	if msg.MessageID == "" {
		return errors.New("message id is required")
	}
	if msg.Replies == nil {
		msg.Replies = []models.Reply{}
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	err := db.Try(func() error {
		msg.GenID()
		_, insertErr := s.collection().InsertOne(ctx, msg)
		return insertErr
	})
	if err != nil {
		return fmt.Errorf("error inserting sent message %s: %w", msg.MessageID, err)
	}
	return nil
}

// FindByMessageID returns ErrSentMessageNotFound when missing.
func (s *sentMessageService) FindByMessageID(ctx context.Context, messageID string) (*models.SentMessage, error) {
	var msg models.SentMessage
	err := s.collection().FindOne(ctx, bson.M{"message_id": messageID}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSentMessageNotFound
		}
		return nil, fmt.Errorf("error finding sent message %s: %w", messageID, err)
	}
	return &msg, nil
}

func (s *sentMessageService) ListByOffer(ctx context.Context, offerID ident.ID) ([]models.SentMessage, error) {
	cursor, err := s.collection().Find(ctx, bson.M{"offer_id": offerID}, options.Find().SetSort(bson.D{{Key: "sent_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing sent messages for offer %s: %w", offerID, err)
	}
	defer cursor.Close(ctx)

	msgs := []models.SentMessage{}
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("error decoding sent messages: %w", err)
	}
	return msgs, nil
}

// AppendReply pushes reply onto the thread of messageID unless a reply with
// the same Message-ID is already there. It reports whether the reply was added.
func (s *sentMessageService) AppendReply(ctx context.Context, messageID string, reply models.Reply) (bool, error) {
	if reply.ReceivedAt.IsZero() {
		reply.ReceivedAt = time.Now().UTC()
	}

	filter := bson.M{"message_id": messageID}
	if reply.MessageID != "" {
		filter["replies.message_id"] = bson.M{"$ne": reply.MessageID}
	}
	res, err := s.collection().UpdateOne(ctx, filter, bson.M{"$push": bson.M{"replies": reply}})
	if err != nil {
		return false, fmt.Errorf("error appending reply to %s: %w", messageID, err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}

	n, err := s.collection().CountDocuments(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return false, fmt.Errorf("error checking sent message %s: %w", messageID, err)
	}
	if n == 0 {
		return false, ErrSentMessageNotFound
	}
	return false, nil
}
