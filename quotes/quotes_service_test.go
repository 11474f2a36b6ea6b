package quotes

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesimplekid/cashu-lsp/constants"
	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/events"
	"github.com/thesimplekid/cashu-lsp/nut18"
	"github.com/thesimplekid/cashu-lsp/payments"
	"github.com/thesimplekid/cashu-lsp/policy"
	"github.com/thesimplekid/cashu-lsp/tests"
)

const testPeerPubkey = "02eec7245d6b7d2ccb30380bfbe2a3648cd7a942653f5aa340edcea1f283686619"

// eventCapture records published events so tests can assert on them.
type eventCapture struct {
	mu     sync.Mutex
	events []*events.Event
}

func (c *eventCapture) ConsumeEvent(ctx context.Context, event *events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *eventCapture) find(name string) *events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range c.events {
		if event.Event == name {
			return event
		}
	}
	return nil
}

func newTestQuotesService(svc *tests.TestService, maxAttempts uint) *quotesService {
	return NewQuotesService(
		svc.DB,
		svc.Evaluator,
		svc.PaymentProcessor,
		svc.LNClient,
		svc.EventPublisher,
		time.Hour,
		maxAttempts,
		2,
	)
}

func defaultCreateRequest() *CreateQuoteRequest {
	return &CreateQuoteRequest{
		ChannelSizeMsat: 1_000_000,
		NodePubkey:      testPeerPubkey,
		Address:         "203.0.113.7",
		Port:            9735,
	}
}

func TestCreateQuote(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	response, err := quotesService.CreateQuote(ctx, defaultCreateRequest())
	require.NoError(t, err)

	// price = 1000 + ceil(1_000_000 * 1000 / 1000)
	assert.Equal(t, uint64(1_001_000), response.PriceMsat)
	assert.Equal(t, uint64(2_001_000), response.TotalMsat)
	assert.True(t, strings.HasPrefix(response.PaymentRequest, "creqA"))

	request, err := nut18.Decode(response.PaymentRequest)
	require.NoError(t, err)
	assert.NotEmpty(t, request.PaymentId)

	var quote db.Quote
	require.NoError(t, svc.DB.First(&quote, &db.Quote{ID: response.QuoteId}).Error)
	assert.Equal(t, constants.QUOTE_STATE_AWAITING_PAYMENT, quote.State)
	assert.Equal(t, uint64(1_000_000), quote.RequestedAmountMsat)
	assert.Equal(t, uint64(1_001_000), quote.PriceMsat)
	assert.Equal(t, testPeerPubkey, quote.CounterpartyNodeId)
	assert.Equal(t, request.PaymentId, quote.PaymentReference)
	assert.Nil(t, quote.ChannelId)
}

func TestCreateQuote_PaymentReferencesAreUnique(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	seen := map[string]bool{}
	for range 10 {
		response, err := quotesService.CreateQuote(ctx, defaultCreateRequest())
		require.NoError(t, err)

		quote, err := quotesService.GetQuote(ctx, response.QuoteId)
		require.NoError(t, err)
		assert.False(t, seen[quote.PaymentReference])
		seen[quote.PaymentReference] = true
	}
}

func TestCreateQuote_BelowMinimum(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	request := defaultCreateRequest()
	request.ChannelSizeMsat = 100

	_, err = quotesService.CreateQuote(ctx, request)
	assert.ErrorIs(t, err, policy.ErrBelowMinimum)

	// nothing persisted for rejected requests
	var count int64
	require.NoError(t, svc.DB.Model(&db.Quote{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateQuote_AboveMaximum(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	request := defaultCreateRequest()
	request.ChannelSizeMsat = 100_000_000_000

	_, err = quotesService.CreateQuote(ctx, request)
	assert.ErrorIs(t, err, policy.ErrAboveMaximum)
}

func TestCreateQuote_PushAtOrAboveChannelSize(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	request := defaultCreateRequest()
	push := request.ChannelSizeMsat
	request.PushMsat = &push

	_, err = quotesService.CreateQuote(ctx, request)
	assert.ErrorIs(t, err, ErrPushTooLarge)
	assert.ErrorIs(t, err, policy.ErrPolicyViolation)

	// a push large enough to wrap the total is rejected the same way
	push = ^uint64(0) - 1000
	_, err = quotesService.CreateQuote(ctx, request)
	assert.ErrorIs(t, err, ErrPushTooLarge)

	var count int64
	require.NoError(t, svc.DB.Model(&db.Quote{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestHandleSettlement(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	response, err := quotesService.CreateQuote(ctx, defaultCreateRequest())
	require.NoError(t, err)

	quote, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)

	err = quotesService.HandleSettlement(ctx, &payments.Settlement{
		Reference:  quote.PaymentReference,
		AmountMsat: response.TotalMsat,
	})
	require.NoError(t, err)

	quote, err = quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
	assert.NotNil(t, quote.SettledAt)
}

func TestHandleSettlement_PublishesPaidEvent(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	capture := &eventCapture{}
	svc.EventPublisher.RegisterSubscriber(capture)

	response, err := quotesService.CreateQuote(ctx, defaultCreateRequest())
	require.NoError(t, err)

	quote, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)

	require.NoError(t, quotesService.HandleSettlement(ctx, &payments.Settlement{
		Reference:  quote.PaymentReference,
		AmountMsat: quote.TotalMsat,
	}))

	require.Eventually(t, func() bool {
		return capture.find(constants.QUOTE_EVENT_PAID) != nil
	}, time.Second, 10*time.Millisecond)

	// the event carries the state after the transition, not the one read
	// before it
	properties := capture.find(constants.QUOTE_EVENT_PAID).Properties.(*QuoteEventProperties)
	assert.Equal(t, constants.QUOTE_STATE_PAID, properties.State)
	assert.Equal(t, quote.ID, properties.QuoteId)
}

func TestHandleSettlement_DuplicateIsNoOp(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	response, err := quotesService.CreateQuote(ctx, defaultCreateRequest())
	require.NoError(t, err)

	quote, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)

	settlement := &payments.Settlement{
		Reference:  quote.PaymentReference,
		AmountMsat: response.TotalMsat,
	}
	require.NoError(t, quotesService.HandleSettlement(ctx, settlement))

	firstSettled, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)

	// redelivery must not error and must not change anything
	require.NoError(t, quotesService.HandleSettlement(ctx, settlement))

	second, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, second.State)
	assert.Equal(t, firstSettled.SettledAt.Unix(), second.SettledAt.Unix())
}

func TestHandleSettlement_UnknownReference(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	err = quotesService.HandleSettlement(ctx, &payments.Settlement{
		Reference:  "never-issued",
		AmountMsat: 1000,
	})
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestHandleSettlement_Underpayment(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	response, err := quotesService.CreateQuote(ctx, defaultCreateRequest())
	require.NoError(t, err)

	quote, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)

	err = quotesService.HandleSettlement(ctx, &payments.Settlement{
		Reference:  quote.PaymentReference,
		AmountMsat: response.TotalMsat - 1,
	})
	assert.ErrorIs(t, err, ErrInsufficientPayment)

	// the quote stays payable
	quote, err = quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_AWAITING_PAYMENT, quote.State)
}

func TestGetQuote_NotFound(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	_, err = quotesService.GetQuote(ctx, "b7a90176-80f2-4a41-a72b-38e3d9ee0b07")
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}
