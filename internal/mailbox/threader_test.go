package mailbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/services"
)

type MockReplyStore struct {
	mock.Mock
}

func (m *MockReplyStore) AppendReply(ctx context.Context, messageID string, reply models.Reply) (bool, error) {
	args := m.Called(ctx, messageID, reply)
	return args.Bool(0), args.Error(1)
}

func rawMessage(headers map[string]string, contentType, body string) []byte {
	var b strings.Builder
	for _, k := range []string{"From", "To", "Subject", "Message-ID", "In-Reply-To"} {
		if v, ok := headers[k]; ok {
			b.WriteString(k + ": " + v + "\r\n")
		}
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n\r\n")
	b.WriteString(body + "\r\n")
	return []byte(b.String())
}

var replyHeaders = map[string]string{
	"From":        "Ann Buyer <ann@example.com>",
	"To":          "offers@offerdesk.test",
	"Subject":     "Re: Your Property Offer",
	"Message-ID":  "<reply-1@mail.example.com>",
	"In-Reply-To": "<out-1@offerdesk.test>",
}

func TestParse_PlainReply(t *testing.T) {
	in, err := Parse(rawMessage(replyHeaders, "text/plain; charset=utf-8", "I'm interested & ready."))
	require.NoError(t, err)

	assert.Equal(t, "reply-1@mail.example.com", in.MessageID)
	assert.Equal(t, "out-1@offerdesk.test", in.InReplyTo)
	assert.Equal(t, "Re: Your Property Offer", in.Subject)
	assert.Equal(t, "ann@example.com", in.From)
	assert.Equal(t, "I'm interested & ready.", in.Body)
}

func TestParse_HTMLOnlyReplyIsStripped(t *testing.T) {
	in, err := Parse(rawMessage(replyHeaders, "text/html; charset=utf-8", "<p>Yes <b>please</b></p>"))
	require.NoError(t, err)

	assert.Contains(t, in.Body, "please")
	assert.NotContains(t, in.Body, "<")
}

func TestThreader_AppendsReply(t *testing.T) {
	store := new(MockReplyStore)
	store.On("AppendReply", mock.Anything, "out-1@offerdesk.test", mock.MatchedBy(func(r models.Reply) bool {
		return r.MessageID == "reply-1@mail.example.com" && r.From == "ann@example.com" && !r.ReceivedAt.IsZero()
	})).Return(true, nil).Once()

	outcome, err := NewThreader(store).Handle(context.Background(), rawMessage(replyHeaders, "text/plain", "Yes"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeThreaded, outcome)
	store.AssertExpectations(t)
}

func TestThreader_RedeliveryIsDuplicate(t *testing.T) {
	store := new(MockReplyStore)
	store.On("AppendReply", mock.Anything, "out-1@offerdesk.test", mock.Anything).Return(false, nil).Once()

	outcome, err := NewThreader(store).Handle(context.Background(), rawMessage(replyHeaders, "text/plain", "Yes"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestThreader_IgnoresNonReply(t *testing.T) {
	store := new(MockReplyStore)
	headers := map[string]string{"From": "x@example.com", "Subject": "Hello", "Message-ID": "<m@x>"}

	outcome, err := NewThreader(store).Handle(context.Background(), rawMessage(headers, "text/plain", "hi"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	store.AssertNotCalled(t, "AppendReply", mock.Anything, mock.Anything, mock.Anything)
}

func TestThreader_DiscardsUnknownThread(t *testing.T) {
	store := new(MockReplyStore)
	store.On("AppendReply", mock.Anything, "out-1@offerdesk.test", mock.Anything).Return(false, services.ErrSentMessageNotFound).Once()

	outcome, err := NewThreader(store).Handle(context.Background(), rawMessage(replyHeaders, "text/plain", "Yes"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)
}

func TestThreader_StoreErrorPropagates(t *testing.T) {
	store := new(MockReplyStore)
	store.On("AppendReply", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("mongo down")).Once()

	_, err := NewThreader(store).Handle(context.Background(), rawMessage(replyHeaders, "text/plain", "Yes"))

	assert.ErrorContains(t, err, "mongo down")
}

type MockSentLookup struct {
	mock.Mock
}

func (m *MockSentLookup) FindByMessageID(ctx context.Context, messageID string) (*models.SentMessage, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SentMessage), args.Error(1)
}

type MockChainAppender struct {
	mock.Mock
}

func (m *MockChainAppender) AppendEmailChain(ctx context.Context, offerID ident.ID, messageID string) error {
	return m.Called(ctx, offerID, messageID).Error(0)
}

func TestThreader_ExtendsEmailChain(t *testing.T) {
	store, sent, offers := new(MockReplyStore), new(MockSentLookup), new(MockChainAppender)
	offerID := ident.New()
	store.On("AppendReply", mock.Anything, "out-1@offerdesk.test", mock.Anything).Return(true, nil).Once()
	sent.On("FindByMessageID", mock.Anything, "out-1@offerdesk.test").Return(&models.SentMessage{OfferID: offerID}, nil).Once()
	offers.On("AppendEmailChain", mock.Anything, offerID, "reply-1@mail.example.com").Return(nil).Once()

	th := NewThreader(store).WithEmailChain(sent, offers)
	outcome, err := th.Handle(context.Background(), rawMessage(replyHeaders, "text/plain", "Yes"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeThreaded, outcome)
	offers.AssertExpectations(t)

	// A redelivery is not threaded again, so the chain is left alone.
	store.On("AppendReply", mock.Anything, "out-1@offerdesk.test", mock.Anything).Return(false, nil).Once()
	outcome, err = th.Handle(context.Background(), rawMessage(replyHeaders, "text/plain", "Yes"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	offers.AssertNumberOfCalls(t, "AppendEmailChain", 1)
}
