package tasks_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"greendrake/offerdesk/internal/document"
	"greendrake/offerdesk/internal/email"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/services"
	"greendrake/offerdesk/internal/storage"
	"greendrake/offerdesk/internal/tasks"
)

// --- Fakes ---

type fakeUsers struct {
	users []models.User
	err   error
}

func (f *fakeUsers) ListAll(ctx context.Context) ([]models.User, error) {
	return f.users, f.err
}

// fakeOffers enforces (buyer_email, property_id) uniqueness like the real index.
type fakeOffers struct {
	mu     sync.Mutex
	offers []*models.Offer
}

func (f *fakeOffers) CreateOffer(ctx context.Context, in services.OfferInput) (*models.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.offers {
		if o.BuyerEmail == in.BuyerEmail && o.PropertyID == in.PropertyID {
			return nil, services.ErrDuplicateOffer
		}
	}
	o := &models.Offer{PropertyID: in.PropertyID, BuyerName: in.BuyerName, BuyerEmail: in.BuyerEmail,
		OfferAmount: in.OfferAmount, PDFKey: in.PDFKey, PDFURL: in.PDFURL, EmailChain: []string{}}
	o.GenID()
	f.offers = append(f.offers, o)
	return o, nil
}

func (f *fakeOffers) AppendEmailChain(ctx context.Context, offerID ident.ID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.offers {
		if o.ID == offerID {
			o.EmailChain = append(o.EmailChain, messageID)
			return nil
		}
	}
	return errors.New("offer not found")
}

func (f *fakeOffers) offered(email string, propertyID ident.ID) bool {
	for _, o := range f.offers {
		if o.BuyerEmail == email && o.PropertyID == propertyID {
			return true
		}
	}
	return false
}

// fakeProperties applies the eligibility rules in memory. Properties are kept in id order.
// With ignoreOffers set it keeps returning already-offered properties, like a
// concurrent run that read before the other committed.
type fakeProperties struct {
	properties   []models.Property
	offers       *fakeOffers
	ignoreOffers bool
	err          error
}

func matchesLocality(p *models.Property, l models.Locality) bool {
	eq := func(a, b string) bool {
		return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return eq(l.City, p.City) || eq(l.State, p.State) || eq(l.Area, p.Area)
}

func (f *fakeProperties) FindEligibleProperty(ctx context.Context, user *models.User) (*models.Property, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.properties {
		p := &f.properties[i]
		if !p.HasTemplate() || !matchesLocality(p, user.Locality) {
			continue
		}
		if f.ignoreOffers || !f.offers.offered(user.Email, p.ID) {
			return p, nil
		}
	}
	return nil, services.ErrNoEligibleProperty
}

type fakeTemplates struct{}

func (fakeTemplates) GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error) {
	return &models.EmailTemplate{
		TemplateID: templateID,
		Subject:    "Your Property Offer",
		Body:       "Dear {{.buyer_name}}, please find your offer for {{.property_title}} attached.",
	}, nil
}

type fakeBuilder struct {
	built   []document.OfferDetails
	failFor map[string]bool
}

func (f *fakeBuilder) Build(ctx context.Context, details document.OfferDetails, templateKey string) ([]byte, error) {
	if f.failFor[details.BuyerName] {
		return nil, errors.New("pdfcpu: corrupt template")
	}
	f.built = append(f.built, details)
	return []byte(fmt.Sprintf("%%PDF-1.4 %s #%d", templateKey, len(f.built))), nil
}

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) Upload(ctx context.Context, key string, data []byte, contentType string) (*storage.StoredObject, error) {
	f.objects[key] = data
	return &storage.StoredObject{Key: key, URL: f.URLFor(key)}, nil
}

func (f *fakeStorage) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeStorage) URLFor(key string) string { return "http://minio:9000/offers/" + key }

type fakeGateway struct {
	sent   []email.OfferMail
	failTo map[string]bool
}

func (f *fakeGateway) Send(ctx context.Context, m email.OfferMail) (*models.SentMessage, error) {
	if f.failTo[m.To] {
		return nil, fmt.Errorf("smtp: 451 try again later")
	}
	f.sent = append(f.sent, m)
	return &models.SentMessage{MessageID: fmt.Sprintf("msg-%d@offerdesk.test", len(f.sent)), OfferID: m.OfferID, Recipient: m.To}, nil
}

type fixture struct {
	users    *fakeUsers
	props    *fakeProperties
	offers   *fakeOffers
	builder  *fakeBuilder
	storage  *fakeStorage
	gateway  *fakeGateway
	pipeline *tasks.OfferPipeline
}

func newFixture(users []models.User, props []models.Property) *fixture {
	f := &fixture{
		users:   &fakeUsers{users: users},
		offers:  &fakeOffers{},
		builder: &fakeBuilder{failFor: map[string]bool{}},
		storage: &fakeStorage{objects: map[string][]byte{}},
		gateway: &fakeGateway{failTo: map[string]bool{}},
	}
	f.props = &fakeProperties{properties: props, offers: f.offers}
	f.pipeline = tasks.NewOfferPipeline(f.users, f.props, f.offers, fakeTemplates{}, f.builder, f.storage, f.gateway)
	return f
}

func user(id ident.ID, name, mail string, l models.Locality) models.User {
	u := models.User{Name: name, Email: mail, Locality: l}
	u.SetID(id)
	return u
}

func property(id ident.ID, title string, price float64, l models.Locality, templateKey string) models.Property {
	p := models.Property{Title: title, Price: price, Locality: l, TemplateKey: templateKey}
	p.SetID(id)
	return p
}

var (
	userAnn  = ident.ID{0, 0, 0, 0, 0, 1}
	userBob  = ident.ID{0, 0, 0, 0, 0, 2}
	propLoft = ident.ID{0, 0, 0, 0, 1, 1}
	propLake = ident.ID{0, 0, 0, 0, 1, 2}
)

// --- Pipeline ---

func TestOfferPipeline_GeneratesOfferForMatchingUser(t *testing.T) {
	f := newFixture(
		[]models.User{
			user(userAnn, "Ann", "ann@example.com", models.Locality{City: "austin"}),
			user(userBob, "Bob", "bob@example.com", models.Locality{City: "Denver"}),
		},
		[]models.Property{property(propLoft, "Loft", 250000, models.Locality{City: "Austin"}, "templates/loft.pdf")},
	)

	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tasks.PipelineReport{Users: 2, Generated: 1, Skipped: 1}, *report)

	require.Len(t, f.offers.offers, 1)
	offer := f.offers.offers[0]
	key := tasks.OfferPDFKey(propLoft, offer.ID)
	assert.Contains(t, f.storage.objects, key)

	require.Len(t, f.builder.built, 1)
	assert.Equal(t, "Ann", f.builder.built[0].BuyerName)
	assert.Equal(t, 250000.0, f.builder.built[0].Amount)

	require.Len(t, f.gateway.sent, 1)
	mail := f.gateway.sent[0]
	assert.Equal(t, "ann@example.com", mail.To)
	assert.Equal(t, "Your Property Offer", mail.Subject)
	assert.Equal(t, "Dear Ann, please find your offer for Loft attached.", mail.Body)
	assert.Equal(t, f.storage.URLFor(key), mail.PDFURL)

	assert.Equal(t, 250000.0, offer.OfferAmount)
	assert.Equal(t, key, offer.PDFKey)
	assert.Equal(t, []string{"msg-1@offerdesk.test"}, offer.EmailChain)
	assert.Equal(t, offer.ID, mail.OfferID)
}

func TestOfferPipeline_SecondRunCreatesNoDuplicates(t *testing.T) {
	f := newFixture(
		[]models.User{user(userAnn, "Ann", "ann@example.com", models.Locality{State: "TX"})},
		[]models.Property{
			property(propLoft, "Loft", 250000, models.Locality{State: "TX"}, "templates/loft.pdf"),
			property(propLake, "Lake House", 410000, models.Locality{State: "TX"}, "templates/lake.pdf"),
		},
	)

	_, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	_, err = f.pipeline.Run(context.Background())
	require.NoError(t, err)
	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	require.Len(t, f.offers.offers, 2)
	assert.Equal(t, propLoft, f.offers.offers[0].PropertyID)
	assert.Equal(t, propLake, f.offers.offers[1].PropertyID)
	assert.Len(t, f.gateway.sent, 2)
}

func TestOfferPipeline_SendFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(
		[]models.User{
			user(userAnn, "Ann", "ann@example.com", models.Locality{City: "Austin"}),
			user(userBob, "Bob", "bob@example.com", models.Locality{City: "Austin"}),
		},
		[]models.Property{property(propLoft, "Loft", 250000, models.Locality{City: "Austin"}, "templates/loft.pdf")},
	)
	f.gateway.failTo["ann@example.com"] = true

	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Generated)

	// The offer created before the failed send is kept.
	require.Len(t, f.offers.offers, 2)
	assert.Empty(t, f.offers.offers[0].EmailChain)
	assert.Len(t, f.offers.offers[1].EmailChain, 1)
}

func TestOfferPipeline_BuildFailureSkipsOnlyThatUser(t *testing.T) {
	f := newFixture(
		[]models.User{
			user(userAnn, "Ann", "ann@example.com", models.Locality{City: "Austin"}),
			user(userBob, "Bob", "bob@example.com", models.Locality{City: "Austin"}),
		},
		[]models.Property{property(propLoft, "Loft", 250000, models.Locality{City: "Austin"}, "templates/loft.pdf")},
	)
	f.builder.failFor["Ann"] = true

	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tasks.PipelineReport{Users: 2, Generated: 1, Failed: 1}, *report)

	require.Len(t, f.offers.offers, 1)
	assert.Equal(t, "bob@example.com", f.offers.offers[0].BuyerEmail)
	assert.Len(t, f.storage.objects, 1)
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, "bob@example.com", f.gateway.sent[0].To)
}

func TestOfferPipeline_DuplicateInsertIsCountedAndNotSent(t *testing.T) {
	f := newFixture(
		[]models.User{user(userAnn, "Ann", "ann@example.com", models.Locality{City: "Austin"})},
		[]models.Property{property(propLoft, "Loft", 250000, models.Locality{City: "Austin"}, "templates/loft.pdf")},
	)
	f.props.ignoreOffers = true

	_, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, f.offers.offers, 1)
	first := f.offers.offers[0]
	mailed := f.storage.objects[first.PDFKey]

	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tasks.PipelineReport{Users: 1, Duplicates: 1}, *report)

	assert.Len(t, f.offers.offers, 1)
	assert.Len(t, f.gateway.sent, 1)
	// The second attempt's PDF went to its own key, so the mailed one is intact.
	assert.Equal(t, mailed, f.storage.objects[first.PDFKey])
	assert.Len(t, f.storage.objects, 2)
}

func TestOfferPipeline_SkipsPropertiesWithoutTemplate(t *testing.T) {
	f := newFixture(
		[]models.User{user(userAnn, "Ann", "ann@example.com", models.Locality{City: "Austin"})},
		[]models.Property{property(propLoft, "Loft", 250000, models.Locality{City: "Austin"}, "")},
	)

	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.gateway.sent)
}

func TestOfferPipeline_ListUsersErrorFailsRun(t *testing.T) {
	f := newFixture(nil, nil)
	f.users.err = errors.New("mongo down")

	_, err := f.pipeline.Run(context.Background())
	assert.ErrorContains(t, err, "mongo down")
}

func TestOfferPipeline_EligibilityErrorFailsRun(t *testing.T) {
	f := newFixture([]models.User{user(userAnn, "Ann", "ann@example.com", models.Locality{City: "Austin"})}, nil)
	f.props.err = errors.New("server selection timeout")

	_, err := f.pipeline.Run(context.Background())
	assert.ErrorContains(t, err, "server selection timeout")
}

func TestOfferPipeline_StopsOnCancel(t *testing.T) {
	f := newFixture(
		[]models.User{user(userAnn, "Ann", "ann@example.com", models.Locality{City: "Austin"})},
		[]models.Property{property(propLoft, "Loft", 250000, models.Locality{City: "Austin"}, "templates/loft.pdf")},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.offers.offers)
}

func TestOfferPDFKey(t *testing.T) {
	offerID := ident.ID{0, 0, 0, 0, 2, 1}
	key := tasks.OfferPDFKey(propLoft, offerID)
	assert.Equal(t, "offers/"+propLoft.String()+"/"+offerID.String()+".pdf", key)
	assert.NotEqual(t, key, tasks.OfferPDFKey(propLoft, ident.ID{0, 0, 0, 0, 2, 2}))
}

// --- Task handler ---

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context) (*tasks.PipelineReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tasks.PipelineReport), args.Error(1)
}

func TestHandleOfferGenerateTask_Success(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything).Return(&tasks.PipelineReport{Users: 1, Generated: 1}, nil).Once()
	p := tasks.NewTaskProcessor(runner)

	payload, err := tasks.NewOfferGeneratePayload("manual")
	require.NoError(t, err)
	err = p.HandleOfferGenerateTask(context.Background(), asynq.NewTask(tasks.TypeOfferGenerate, payload))

	assert.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestHandleOfferGenerateTask_BadPayload(t *testing.T) {
	runner := new(MockRunner)
	p := tasks.NewTaskProcessor(runner)

	err := p.HandleOfferGenerateTask(context.Background(), asynq.NewTask(tasks.TypeOfferGenerate, []byte("{")))

	assert.ErrorIs(t, err, asynq.SkipRetry)
	runner.AssertNotCalled(t, "Run", mock.Anything)
}

func TestHandleOfferGenerateTask_RunErrorIsRetried(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything).Return(nil, errors.New("mongo down")).Once()
	p := tasks.NewTaskProcessor(runner)

	err := p.HandleOfferGenerateTask(context.Background(), asynq.NewTask(tasks.TypeOfferGenerate, nil))

	assert.ErrorContains(t, err, "mongo down")
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

// --- Scheduler ---

type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error) {
	args := m.Called(cronspec, task.Type())
	return args.String(0), args.Error(1)
}

func (m *MockRegistrar) Unregister(entryID string) error {
	return m.Called(entryID).Error(0)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func TestScheduleDaily_ReplacesPreviousEntry(t *testing.T) {
	reg := new(MockRegistrar)
	reg.On("Register", "0 0 * * *", tasks.TypeOfferGenerate).Return("entry-1", nil).Once()
	reg.On("Register", "30 6 * * *", tasks.TypeOfferGenerate).Return("entry-2", nil).Once()
	reg.On("Unregister", "entry-1").Return(nil).Once()
	s := tasks.NewOfferScheduler(reg, fakePinger{})

	id, err := s.ScheduleDaily(context.Background(), tasks.DailyOfferJob, "0 0 * * *", nil)
	require.NoError(t, err)
	assert.Equal(t, "entry-1", id)

	id, err = s.ScheduleDaily(context.Background(), tasks.DailyOfferJob, "30 6 * * *", nil)
	require.NoError(t, err)
	assert.Equal(t, "entry-2", id)

	reg.AssertExpectations(t)
}

func TestScheduleDaily_InvalidCron(t *testing.T) {
	reg := new(MockRegistrar)
	s := tasks.NewOfferScheduler(reg, fakePinger{})

	_, err := s.ScheduleDaily(context.Background(), tasks.DailyOfferJob, "every day", nil)

	assert.ErrorIs(t, err, tasks.ErrInvalidCronSpec)
	reg.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestScheduleDaily_BrokerUnavailable(t *testing.T) {
	reg := new(MockRegistrar)
	s := tasks.NewOfferScheduler(reg, fakePinger{err: errors.New("dial tcp: connection refused")})

	_, err := s.ScheduleDaily(context.Background(), tasks.DailyOfferJob, "0 0 * * *", nil)

	assert.ErrorContains(t, err, "connection refused")
	reg.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(task.Type())
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

func TestEnqueueOfferGeneration(t *testing.T) {
	enq := new(MockEnqueuer)
	enq.On("EnqueueContext", tasks.TypeOfferGenerate).Return(&asynq.TaskInfo{ID: "t1", Queue: tasks.QueueCritical}, nil).Once()
	enq.On("EnqueueContext", tasks.TypeOfferGenerate).Return(nil, asynq.ErrDuplicateTask).Once()

	info, err := tasks.EnqueueOfferGeneration(context.Background(), enq, "manual")
	require.NoError(t, err)
	assert.Equal(t, "t1", info.ID)

	_, err = tasks.EnqueueOfferGeneration(context.Background(), enq, "manual")
	assert.ErrorIs(t, err, tasks.ErrAlreadyQueued)
}
