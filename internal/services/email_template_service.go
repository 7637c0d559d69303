package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/models"
)

const (
	// OfferNotificationTemplate is the email sent with every generated offer.
	OfferNotificationTemplate = "offer_notification"
	DefaultLocale             = "en-US"
)

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	OfferNotificationTemplate: {
		TemplateID: OfferNotificationTemplate,
		Locale:     DefaultLocale,
		Subject:    "Your Property Offer",
		Body:       "Dear {{.buyer_name}}, please find your offer for {{.property_title}} attached.",
	},
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	SaveTemplate(ctx context.Context, template *models.EmailTemplate) error
	DeleteTemplate(ctx context.Context, templateID, locale string) error
}

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	db *mongo.Database
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(database *mongo.Database) *EmailTemplateService {
	return &EmailTemplateService{db: database}
}

// GetTemplate retrieves an email template by ID and locale, falling back to
// the built-in default.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}

	var template models.EmailTemplate
	err := s.db.Collection(db.EmailTemplatesCollection).FindOne(ctx, filter).Decode(&template)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if def, ok := defaultEmailTemplates[templateID]; ok {
				return &def, nil
			}
			return nil, fmt.Errorf("template not found: %s (locale: %s)", templateID, locale)
		}
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}
	return &template, nil
}

// SaveTemplate upserts a template keyed by (template_id, locale).
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, template *models.EmailTemplate) error {
	filter := bson.M{
		"template_id": template.TemplateID,
		"locale":      template.Locale,
	}
	template.GenIDIfEmpty()
	update := bson.M{
		"$set":         bson.M{"subject": template.Subject, "body": template.Body},
		"$setOnInsert": bson.M{"_id": template.ID},
	}

	_, err := s.db.Collection(db.EmailTemplatesCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

// DeleteTemplate deletes an email template from the database
func (s *EmailTemplateService) DeleteTemplate(ctx context.Context, templateID, locale string) error {
	filter := bson.M{
		"template_id": templateID,
		"locale":      locale,
	}
	if _, err := s.db.Collection(db.EmailTemplatesCollection).DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("error deleting template: %w", err)
	}
	return nil
}

// RenderTemplate substitutes {{.key}} placeholders in subject and body.
// Unknown placeholders are left as they are.
func RenderTemplate(t *models.EmailTemplate, data map[string]string) (subject, body string) {
	subject, body = t.Subject, t.Body
	for key, value := range data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		subject = strings.ReplaceAll(subject, placeholder, value)
		body = strings.ReplaceAll(body, placeholder, value)
	}
	return subject, body
}
