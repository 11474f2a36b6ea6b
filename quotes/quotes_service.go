package quotes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/thesimplekid/cashu-lsp/constants"
	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/events"
	"github.com/thesimplekid/cashu-lsp/lnclient"
	"github.com/thesimplekid/cashu-lsp/logger"
	"github.com/thesimplekid/cashu-lsp/payments"
	"github.com/thesimplekid/cashu-lsp/policy"
)

type quotesService struct {
	db             *gorm.DB
	evaluator      *policy.Evaluator
	processor      payments.Processor
	lnClient       lnclient.LNClient
	eventPublisher events.EventPublisher

	quoteExpiry time.Duration
	maxAttempts uint
	concurrency uint

	provisionQueue chan string
	wg             sync.WaitGroup
	cancel         context.CancelFunc
}

type QuotesService interface {
	CreateQuote(ctx context.Context, request *CreateQuoteRequest) (*CreateQuoteResponse, error)
	HandleSettlement(ctx context.Context, settlement *payments.Settlement) error
	GetQuote(ctx context.Context, quoteId string) (*db.Quote, error)
	ListQuotes(ctx context.Context, limit uint64, offset uint64) ([]db.Quote, error)
	Start(ctx context.Context) error
	Shutdown()
}

func NewQuotesService(gormDB *gorm.DB, evaluator *policy.Evaluator, processor payments.Processor, lnClient lnclient.LNClient, eventPublisher events.EventPublisher, quoteExpiry time.Duration, maxAttempts uint, concurrency uint) *quotesService {
	if concurrency == 0 {
		concurrency = 1
	}
	return &quotesService{
		db:             gormDB,
		evaluator:      evaluator,
		processor:      processor,
		lnClient:       lnClient,
		eventPublisher: eventPublisher,
		quoteExpiry:    quoteExpiry,
		maxAttempts:    maxAttempts,
		concurrency:    concurrency,
		provisionQueue: make(chan string, 100),
	}
}

func (svc *quotesService) CreateQuote(ctx context.Context, request *CreateQuoteRequest) (*CreateQuoteResponse, error) {
	priceMsat, err := svc.evaluator.Price(request.ChannelSizeMsat)
	if err != nil {
		logger.Logger.Warn().Err(err).
			Uint64("channel_size_msat", request.ChannelSizeMsat).
			Msg("Rejected quote request")
		return nil, err
	}

	var pushMsat uint64
	if request.PushMsat != nil {
		pushMsat = *request.PushMsat
	}
	if pushMsat >= request.ChannelSizeMsat {
		logger.Logger.Warn().
			Uint64("push_msat", pushMsat).
			Uint64("channel_size_msat", request.ChannelSizeMsat).
			Msg("Rejected quote request")
		return nil, fmt.Errorf("%w: %d >= %d", ErrPushTooLarge, pushMsat, request.ChannelSizeMsat)
	}

	// the payer covers the channel balance, the fee and any pushed amount.
	// channel size is bounded by policy and push is below channel size, so
	// the sum cannot wrap
	totalMsat := request.ChannelSizeMsat + priceMsat + pushMsat

	quoteId := uuid.NewString()
	paymentReference := uuid.NewString()

	paymentRequest, err := svc.processor.CreatePaymentRequest(paymentReference, totalMsat)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create payment request")
		return nil, err
	}

	now := time.Now()
	quote := db.Quote{
		ID:                  quoteId,
		RequestedAmountMsat: request.ChannelSizeMsat,
		CounterpartyNodeId:  request.NodePubkey,
		CounterpartyAddress: request.Address,
		CounterpartyPort:    request.Port,
		PushMsat:            request.PushMsat,
		PriceMsat:           priceMsat,
		TotalMsat:           totalMsat,
		PaymentReference:    paymentReference,
		State:               constants.QUOTE_STATE_AWAITING_PAYMENT,
		ExpiresAt:           now.Add(svc.quoteExpiry),
	}
	if len(request.Metadata) > 0 {
		quote.Metadata = datatypes.JSON(request.Metadata)
	}

	// the quote must be durable before the payment request leaves the
	// process, otherwise a settlement could arrive for a reference we no
	// longer know
	if err := svc.db.Create(&quote).Error; err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to persist quote")
		return nil, err
	}

	logger.Logger.Info().
		Str("quote_id", quoteId).
		Uint64("channel_size_msat", request.ChannelSizeMsat).
		Uint64("price_msat", priceMsat).
		Str("peer_id", request.NodePubkey).
		Msg("Created new channel quote")

	svc.eventPublisher.Publish(&events.Event{
		Event:      constants.QUOTE_EVENT_CREATED,
		Properties: newQuoteEventProperties(&quote),
	})

	return &CreateQuoteResponse{
		QuoteId:        quoteId,
		PaymentRequest: paymentRequest,
		PriceMsat:      priceMsat,
		TotalMsat:      totalMsat,
		ExpiresAt:      quote.ExpiresAt,
	}, nil
}

// HandleSettlement consumes a settlement event from the payment watcher.
// Delivery is at-least-once, so everything here has to be idempotent: a
// duplicate event for a quote that already left AWAITING_PAYMENT is a no-op.
func (svc *quotesService) HandleSettlement(ctx context.Context, settlement *payments.Settlement) error {
	var quote db.Quote
	result := svc.db.Limit(1).Find(&quote, &db.Quote{PaymentReference: settlement.Reference})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		logger.Logger.Warn().
			Str("reference", settlement.Reference).
			Msg("Received settlement for unknown payment reference")
		return fmt.Errorf("%w: %s", ErrUnknownReference, settlement.Reference)
	}

	if quote.State != constants.QUOTE_STATE_AWAITING_PAYMENT {
		logger.Logger.Info().
			Str("quote_id", quote.ID).
			Str("state", quote.State).
			Msg("Ignoring duplicate settlement event")
		return nil
	}

	if settlement.AmountMsat < quote.TotalMsat {
		logger.Logger.Warn().
			Str("quote_id", quote.ID).
			Uint64("expected_msat", quote.TotalMsat).
			Uint64("received_msat", settlement.AmountMsat).
			Msg("Rejected underpaying settlement")
		return fmt.Errorf("%w: expected %d received %d", ErrInsufficientPayment, quote.TotalMsat, settlement.AmountMsat)
	}

	now := time.Now()
	transitioned := false
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		// compare-and-swap on state: a concurrent duplicate delivery or
		// an expiry sweep racing us affects zero rows and we back off
		result := tx.Model(&db.Quote{}).
			Where("id = ? AND state = ?", quote.ID, constants.QUOTE_STATE_AWAITING_PAYMENT).
			Updates(map[string]interface{}{
				"state":           constants.QUOTE_STATE_PAID,
				"settled_at":      &now,
				"next_attempt_at": &now,
			})
		if result.Error != nil {
			return result.Error
		}
		transitioned = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("quote_id", quote.ID).
			Msg("Failed to mark quote paid")
		return err
	}
	if !transitioned {
		logger.Logger.Info().
			Str("quote_id", quote.ID).
			Msg("Quote state changed concurrently, discarding settlement transition")
		return nil
	}

	quote.State = constants.QUOTE_STATE_PAID
	quote.SettledAt = &now

	logger.Logger.Info().
		Str("quote_id", quote.ID).
		Uint64("amount_msat", settlement.AmountMsat).
		Msg("Quote paid")

	svc.eventPublisher.Publish(&events.Event{
		Event:      constants.QUOTE_EVENT_PAID,
		Properties: newQuoteEventProperties(&quote),
	})

	svc.enqueueProvisioning(quote.ID)
	return nil
}

func (svc *quotesService) GetQuote(ctx context.Context, quoteId string) (*db.Quote, error) {
	var quote db.Quote
	result := svc.db.Limit(1).Find(&quote, &db.Quote{ID: quoteId})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrQuoteNotFound, quoteId)
	}
	return &quote, nil
}

func (svc *quotesService) ListQuotes(ctx context.Context, limit uint64, offset uint64) ([]db.Quote, error) {
	quotes := []db.Quote{}
	if limit == 0 {
		limit = 50
	}
	result := svc.db.
		Order("created_at desc").
		Limit(int(limit)).
		Offset(int(offset)).
		Find(&quotes)
	if result.Error != nil {
		return nil, result.Error
	}
	return quotes, nil
}

func (svc *quotesService) enqueueProvisioning(quoteId string) {
	select {
	case svc.provisionQueue <- quoteId:
	default:
		// queue full: the requeue poller will pick the quote up from the
		// database on its next pass
		logger.Logger.Warn().Str("quote_id", quoteId).Msg("Provisioning queue full")
	}
}

func newQuoteEventProperties(quote *db.Quote) *QuoteEventProperties {
	return &QuoteEventProperties{
		QuoteId:             quote.ID,
		State:               quote.State,
		RequestedAmountMsat: quote.RequestedAmountMsat,
		CounterpartyNodeId:  quote.CounterpartyNodeId,
		ChannelId:           quote.ChannelId,
		FailureReason:       quote.FailureReason,
	}
}
