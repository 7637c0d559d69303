package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"greendrake/offerdesk/internal/document"
	"greendrake/offerdesk/internal/email"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/services"
	"greendrake/offerdesk/internal/storage"
)

// UserLister supplies the users offers are generated for.
type UserLister interface {
	ListAll(ctx context.Context) ([]models.User, error)
}

// PropertyMatcher picks the next property for a user.
type PropertyMatcher interface {
	FindEligibleProperty(ctx context.Context, user *models.User) (*models.Property, error)
}

// OfferRecorder persists offers and their outbound message ids.
type OfferRecorder interface {
	CreateOffer(ctx context.Context, in services.OfferInput) (*models.Offer, error)
	AppendEmailChain(ctx context.Context, offerID ident.ID, messageID string) error
}

// TemplateProvider resolves notification templates.
type TemplateProvider interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
}

// PipelineReport summarises one run.
type PipelineReport struct {
	Users      int `json:"users"`
	Generated  int `json:"generated"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

func (r PipelineReport) String() string {
	return fmt.Sprintf("users=%d generated=%d skipped=%d duplicates=%d failed=%d",
		r.Users, r.Generated, r.Skipped, r.Duplicates, r.Failed)
}

// OfferPipeline generates at most one offer per user per run.
type OfferPipeline struct {
	users      UserLister
	properties PropertyMatcher
	offers     OfferRecorder
	templates  TemplateProvider
	builder    document.IBuilder
	storage    storage.IObjectStorage
	gateway    email.IGateway
	now        func() time.Time
}

// NewOfferPipeline wires a pipeline from its collaborators.
func NewOfferPipeline(
	users UserLister,
	properties PropertyMatcher,
	offers OfferRecorder,
	templates TemplateProvider,
	builder document.IBuilder,
	objectStorage storage.IObjectStorage,
	gateway email.IGateway,
) *OfferPipeline {
	return &OfferPipeline{
		users:      users,
		properties: properties,
		offers:     offers,
		templates:  templates,
		builder:    builder,
		storage:    objectStorage,
		gateway:    gateway,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OfferPDFKey is the storage key of the PDF for one offer. A rejected duplicate
// insert never touches another offer's object.
func OfferPDFKey(propertyID, offerID ident.ID) string {
	return fmt.Sprintf("offers/%s/%s.pdf", propertyID, offerID)
}

// skipError marks a user with nothing to do this run.
type skipError struct{ reason string }

func (e *skipError) Error() string { return "skip: " + e.reason }

func skip(reason string) error {
	offerSkipsTotal.WithLabelValues(reason).Inc()
	return &skipError{reason: reason}
}

func isSkip(err error) bool {
	var s *skipError
	return errors.As(err, &s)
}

// Run processes every user sequentially. Per-user failures are logged and
// counted; only failures to load users or query eligibility abort the run.
func (p *OfferPipeline) Run(ctx context.Context) (*PipelineReport, error) {
	started := time.Now()
	report := &PipelineReport{}

	users, err := p.users.ListAll(ctx)
	if err != nil {
		offerRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	report.Users = len(users)
	log.Printf("Offer generation started for %d users", len(users))

	for i := range users {
		if err := ctx.Err(); err != nil {
			offerRunsTotal.WithLabelValues("cancelled").Inc()
			return report, err
		}

		user := &users[i]
		err := p.processUser(ctx, user)
		switch {
		case err == nil:
			report.Generated++
			offersGeneratedTotal.Inc()
		case isSkip(err):
			report.Skipped++
		case errors.Is(err, services.ErrDuplicateOffer):
			report.Duplicates++
			offerSkipsTotal.WithLabelValues("duplicate").Inc()
		case isJobLevel(err):
			offerRunsTotal.WithLabelValues("error").Inc()
			return report, err
		default:
			report.Failed++
			log.Printf("Offer generation failed for user %s (%s): %v", user.ID, user.Email, err)
		}
	}

	offerRunDuration.Observe(time.Since(started).Seconds())
	offerRunsTotal.WithLabelValues("ok").Inc()
	log.Printf("Offer generation finished: %s", report)
	return report, nil
}

// jobLevelError wraps failures that should fail the whole run.
type jobLevelError struct{ err error }

func (e *jobLevelError) Error() string { return e.err.Error() }
func (e *jobLevelError) Unwrap() error { return e.err }

func isJobLevel(err error) bool {
	var j *jobLevelError
	return errors.As(err, &j)
}

func stageError(stage string, err error) error {
	offerFailuresTotal.WithLabelValues(stage).Inc()
	return fmt.Errorf("%s: %w", stage, err)
}

func (p *OfferPipeline) processUser(ctx context.Context, user *models.User) error {
	if strings.TrimSpace(user.Email) == "" || user.Locality.IsEmpty() {
		return skip("incomplete_profile")
	}

	property, err := p.properties.FindEligibleProperty(ctx, user)
	if err != nil {
		if errors.Is(err, services.ErrNoEligibleProperty) {
			return skip("no_property")
		}
		return &jobLevelError{fmt.Errorf("eligibility lookup for %s: %w", user.Email, err)}
	}
	if !property.HasTemplate() {
		return skip("no_template")
	}

	pdf, err := p.builder.Build(ctx, document.OfferDetails{
		BuyerName:     user.Name,
		PropertyID:    property.ID,
		PropertyTitle: property.Title,
		Amount:        property.Price,
		GeneratedAt:   p.now(),
	}, property.TemplateKey)
	if err != nil {
		return stageError("build", err)
	}

	offerID := ident.New()
	stored, err := p.storage.Upload(ctx, OfferPDFKey(property.ID, offerID), pdf, "application/pdf")
	if err != nil {
		return stageError("upload", err)
	}

	offer, err := p.offers.CreateOffer(ctx, services.OfferInput{
		ID:          offerID,
		PropertyID:  property.ID,
		BuyerName:   user.Name,
		BuyerEmail:  user.Email,
		OfferAmount: property.Price,
		PDFKey:      stored.Key,
		PDFURL:      stored.URL,
	})
	if err != nil {
		if errors.Is(err, services.ErrDuplicateOffer) {
			log.Printf("Offer for %s on property %s already exists, skipping", user.Email, property.ID)
			return err
		}
		return stageError("persist", err)
	}

	tmpl, err := p.templates.GetTemplate(ctx, services.OfferNotificationTemplate, services.DefaultLocale)
	if err != nil {
		return stageError("template", err)
	}
	subject, body := services.RenderTemplate(tmpl, map[string]string{
		"buyer_name":     user.Name,
		"property_title": property.Title,
		"offer_amount":   fmt.Sprintf("%.2f", offer.OfferAmount),
	})

	sent, err := p.gateway.Send(ctx, email.OfferMail{
		To:        user.Email,
		BuyerName: user.Name,
		Subject:   subject,
		Body:      body,
		PDFURL:    stored.URL,
		OfferID:   offer.ID,
	})
	if err != nil {
		return stageError("send", err)
	}

	if err := p.offers.AppendEmailChain(ctx, offer.ID, sent.MessageID); err != nil {
		return stageError("chain", err)
	}

	log.Printf("Offer %s generated for %s on property %s", offer.ID, user.Email, property.ID)
	return nil
}
