package quotes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thesimplekid/cashu-lsp/constants"
	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/lnclient"
	"github.com/thesimplekid/cashu-lsp/payments"
	"github.com/thesimplekid/cashu-lsp/tests"
)

// createPaidQuote creates a quote and settles it in full so provisioning
// can claim it immediately.
func createPaidQuote(t *testing.T, svc *tests.TestService, quotesService *quotesService) *db.Quote {
	ctx := context.TODO()

	response, err := quotesService.CreateQuote(ctx, defaultCreateRequest())
	require.NoError(t, err)

	quote, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)

	err = quotesService.HandleSettlement(ctx, &payments.Settlement{
		Reference:  quote.PaymentReference,
		AmountMsat: quote.TotalMsat,
	})
	require.NoError(t, err)

	quote, err = quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)
	require.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
	return quote
}

func TestProvision(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	svc.LNClient.EXPECT().ListChannels(mock.Anything).Return([]lnclient.Channel{}, nil)
	svc.LNClient.EXPECT().OpenChannel(mock.Anything, mock.Anything).Return(&lnclient.OpenChannelResponse{
		ChannelId:   "abcd1234:0",
		FundingTxId: "abcd1234",
	}, nil)

	quotesService.provision(ctx, quote.ID)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_COMPLETED, quote.State)
	require.NotNil(t, quote.ChannelId)
	assert.Equal(t, "abcd1234:0", *quote.ChannelId)
	require.NotNil(t, quote.FundingTxId)
	assert.Equal(t, "abcd1234", *quote.FundingTxId)
	assert.Nil(t, quote.LeaseExpiresAt)
}

func TestProvision_OpensAtMostOnce(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	svc.LNClient.EXPECT().ListChannels(mock.Anything).Return([]lnclient.Channel{}, nil)
	svc.LNClient.EXPECT().OpenChannel(mock.Anything, mock.Anything).Return(&lnclient.OpenChannelResponse{
		ChannelId: "abcd1234:0",
	}, nil)

	// a redundant wakeup after completion must not reach the node
	quotesService.provision(ctx, quote.ID)
	quotesService.provision(ctx, quote.ID)

	svc.LNClient.AssertNumberOfCalls(t, "OpenChannel", 1)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_COMPLETED, quote.State)
}

func TestProvision_AdoptsExistingChannel(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	// a previous run already funded this channel; no OpenChannel expectation
	// is registered, so a second open would fail the test
	svc.LNClient.EXPECT().ListChannels(mock.Anything).Return([]lnclient.Channel{
		{
			Id:            "deadbeef:1",
			RemotePubkey:  quote.CounterpartyNodeId,
			FundingTxId:   "deadbeef",
			CapacityMsat:  quote.RequestedAmountMsat,
			Confirmations: 0,
		},
	}, nil)

	quotesService.provision(ctx, quote.ID)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_COMPLETED, quote.State)
	require.NotNil(t, quote.ChannelId)
	assert.Equal(t, "deadbeef:1", *quote.ChannelId)
}

func TestProvision_AdoptsChannelWithRoundedCapacity(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	request := defaultCreateRequest()
	request.ChannelSizeMsat = 1_000_001
	response, err := quotesService.CreateQuote(ctx, request)
	require.NoError(t, err)

	quote, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)
	require.NoError(t, quotesService.HandleSettlement(ctx, &payments.Settlement{
		Reference:  quote.PaymentReference,
		AmountMsat: quote.TotalMsat,
	}))

	// the node funds whole sats, so it reports the capacity floored to
	// 1_000_000 msat. The channel must still be adopted.
	svc.LNClient.EXPECT().ListChannels(mock.Anything).Return([]lnclient.Channel{
		{
			Id:           "deadbeef:1",
			RemotePubkey: testPeerPubkey,
			FundingTxId:  "deadbeef",
			CapacityMsat: 1_000_000,
		},
	}, nil)

	quotesService.provision(ctx, quote.ID)

	svc.LNClient.AssertNumberOfCalls(t, "OpenChannel", 0)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_COMPLETED, quote.State)
	require.NotNil(t, quote.ChannelId)
	assert.Equal(t, "deadbeef:1", *quote.ChannelId)
}

func TestProvision_ReconciliationFailure(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	// if the channel list cannot be fetched, opening blind could fund the
	// quote twice; the attempt must fail and retry instead
	svc.LNClient.EXPECT().ListChannels(mock.Anything).Return(nil, errors.New("transport is closing"))

	quotesService.provision(ctx, quote.ID)

	svc.LNClient.AssertNumberOfCalls(t, "OpenChannel", 0)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
	assert.Equal(t, uint(1), quote.AttemptCount)
	require.NotNil(t, quote.NextAttemptAt)
	assert.True(t, quote.NextAttemptAt.After(time.Now()))
}

func TestProvision_RetryableFailure(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	svc.LNClient.EXPECT().ListChannels(mock.Anything).Return([]lnclient.Channel{}, nil)
	svc.LNClient.EXPECT().OpenChannel(mock.Anything, mock.Anything).Return(nil, lnclient.ErrFundingFailed)

	quotesService.provision(ctx, quote.ID)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
	assert.Equal(t, uint(1), quote.AttemptCount)
	require.NotNil(t, quote.NextAttemptAt)
	assert.True(t, quote.NextAttemptAt.After(time.Now()))
	assert.Nil(t, quote.ChannelId)
}

func TestProvision_NonRetryableFailure(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	svc.LNClient.EXPECT().ListChannels(mock.Anything).Return([]lnclient.Channel{}, nil)
	svc.LNClient.EXPECT().OpenChannel(mock.Anything, mock.Anything).Return(nil, lnclient.ErrInsufficientFunds)

	quotesService.provision(ctx, quote.ID)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PROVISIONING_FAILED, quote.State)
	assert.Equal(t, lnclient.ErrInsufficientFunds.Error(), quote.FailureReason)
	assert.Nil(t, quote.ChannelId)
}

func TestProvision_RetriesExhausted(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 1)
	quote := createPaidQuote(t, svc, quotesService)

	svc.LNClient.EXPECT().ListChannels(mock.Anything).Return([]lnclient.Channel{}, nil)
	svc.LNClient.EXPECT().OpenChannel(mock.Anything, mock.Anything).Return(nil, lnclient.ErrPeerUnavailable)

	quotesService.provision(ctx, quote.ID)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PROVISIONING_FAILED, quote.State)
	assert.Equal(t, uint(1), quote.AttemptCount)
}

func TestProvision_BackoffNotDue(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	nextAttempt := time.Now().Add(time.Hour)
	require.NoError(t, svc.DB.Model(&db.Quote{}).
		Where("id = ?", quote.ID).
		Update("next_attempt_at", &nextAttempt).Error)

	// no LN expectations: the lease must not be claimed before the backoff
	// deadline passes
	quotesService.provision(ctx, quote.ID)

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
}

func TestCompleteProvisioning_LostRacePublishesNothing(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	capture := &eventCapture{}
	svc.EventPublisher.RegisterSubscriber(capture)

	// the quote was reclaimed back to PAID while the attempt was still
	// running; the stale completion must neither land nor be announced
	quotesService.completeProvisioning(quote, "deadbeef:1", "deadbeef")

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
	assert.Nil(t, quote.ChannelId)
	assert.Never(t, func() bool {
		return capture.find(constants.QUOTE_EVENT_COMPLETED) != nil
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRecover(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	// simulate a crash mid-attempt
	leaseExpiry := time.Now().Add(constants.PROVISIONING_LEASE_DURATION)
	require.NoError(t, svc.DB.Model(&db.Quote{}).
		Where("id = ?", quote.ID).
		Updates(map[string]interface{}{
			"state":            constants.QUOTE_STATE_PROVISIONING,
			"lease_expires_at": &leaseExpiry,
		}).Error)

	require.NoError(t, quotesService.recover(ctx))

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
	assert.Nil(t, quote.LeaseExpiresAt)
}

func TestReclaimExpiredLeases(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	staleLease := time.Now().Add(-time.Minute)
	require.NoError(t, svc.DB.Model(&db.Quote{}).
		Where("id = ?", quote.ID).
		Updates(map[string]interface{}{
			"state":            constants.QUOTE_STATE_PROVISIONING,
			"lease_expires_at": &staleLease,
		}).Error)

	quotesService.reclaimExpiredLeases()

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
	assert.Nil(t, quote.LeaseExpiresAt)
}

func TestReclaimExpiredLeases_LeavesLiveLeasesAlone(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	liveLease := time.Now().Add(constants.PROVISIONING_LEASE_DURATION)
	require.NoError(t, svc.DB.Model(&db.Quote{}).
		Where("id = ?", quote.ID).
		Updates(map[string]interface{}{
			"state":            constants.QUOTE_STATE_PROVISIONING,
			"lease_expires_at": &liveLease,
		}).Error)

	quotesService.reclaimExpiredLeases()

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PROVISIONING, quote.State)
}

func TestSweepExpiredQuotes(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)

	response, err := quotesService.CreateQuote(ctx, defaultCreateRequest())
	require.NoError(t, err)

	require.NoError(t, svc.DB.Model(&db.Quote{}).
		Where("id = ?", response.QuoteId).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	quotesService.sweepExpiredQuotes()

	quote, err := quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_EXPIRED, quote.State)
	assert.True(t, svc.PaymentProcessor.WasInvalidated(quote.PaymentReference))

	// a settlement arriving after expiry must not resurrect the quote
	err = quotesService.HandleSettlement(ctx, &payments.Settlement{
		Reference:  quote.PaymentReference,
		AmountMsat: quote.TotalMsat,
	})
	require.NoError(t, err)

	quote, err = quotesService.GetQuote(ctx, response.QuoteId)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_EXPIRED, quote.State)
}

func TestSweepExpiredQuotes_LeavesPaidQuotesAlone(t *testing.T) {
	ctx := context.TODO()

	svc, err := tests.CreateTestService(t)
	require.NoError(t, err)
	defer svc.Remove()

	quotesService := newTestQuotesService(svc, 3)
	quote := createPaidQuote(t, svc, quotesService)

	require.NoError(t, svc.DB.Model(&db.Quote{}).
		Where("id = ?", quote.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	quotesService.sweepExpiredQuotes()

	quote, err = quotesService.GetQuote(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QUOTE_STATE_PAID, quote.State)
	assert.False(t, svc.PaymentProcessor.WasInvalidated(quote.PaymentReference))
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 10*time.Second, backoffDelay(1))
	assert.Equal(t, 20*time.Second, backoffDelay(2))
	assert.Equal(t, 40*time.Second, backoffDelay(3))
	assert.Equal(t, constants.PROVISIONING_RETRY_MAX_DELAY, backoffDelay(20))
}
