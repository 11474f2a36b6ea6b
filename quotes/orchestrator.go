package quotes

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thesimplekid/cashu-lsp/constants"
	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/events"
	"github.com/thesimplekid/cashu-lsp/lnclient"
	"github.com/thesimplekid/cashu-lsp/logger"
)

// Start recovers in-flight quotes from a previous run and launches the
// provisioning workers, the requeue poller and the expiry sweeper.
func (svc *quotesService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	svc.cancel = cancel

	if err := svc.recover(ctx); err != nil {
		cancel()
		return err
	}

	for range svc.concurrency {
		svc.wg.Add(1)
		go svc.provisionWorker(ctx)
	}

	svc.wg.Add(1)
	go svc.requeuePoller(ctx)

	svc.wg.Add(1)
	go svc.expirySweeper(ctx)

	return nil
}

func (svc *quotesService) Shutdown() {
	if svc.cancel != nil {
		svc.cancel()
	}
	svc.wg.Wait()
}

// recover re-admits quotes a previous process left mid-flight. A quote in
// PROVISIONING means we crashed while an open was in progress; it goes back
// to PAID and the next attempt re-checks the node's channel list before
// opening anything.
func (svc *quotesService) recover(ctx context.Context) error {
	result := svc.db.Model(&db.Quote{}).
		Where("state = ?", constants.QUOTE_STATE_PROVISIONING).
		Updates(map[string]interface{}{
			"state":            constants.QUOTE_STATE_PAID,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		logger.Logger.Info().
			Int64("count", result.RowsAffected).
			Msg("Re-admitted quotes left in provisioning by previous run")
	}

	var paidCount int64
	if err := svc.db.Model(&db.Quote{}).
		Where("state = ?", constants.QUOTE_STATE_PAID).
		Count(&paidCount).Error; err != nil {
		return err
	}
	if paidCount > 0 {
		logger.Logger.Info().
			Int64("count", paidCount).
			Msg("Found paid quotes awaiting provisioning")
	}
	return nil
}

func (svc *quotesService) provisionWorker(ctx context.Context) {
	defer svc.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case quoteId := <-svc.provisionQueue:
			svc.provision(ctx, quoteId)
		}
	}
}

// requeuePoller feeds due PAID quotes back into the provisioning queue.
// It covers backoff wakeups, queue overflow and quotes recovered at startup.
func (svc *quotesService) requeuePoller(ctx context.Context) {
	defer svc.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var due []db.Quote
			err := svc.db.
				Where("state = ?", constants.QUOTE_STATE_PAID).
				Where("next_attempt_at IS NULL OR next_attempt_at <= ?", time.Now()).
				Limit(100).
				Find(&due).Error
			if err != nil {
				logger.Logger.Error().Err(err).Msg("Failed to poll for due quotes")
				continue
			}
			for _, quote := range due {
				svc.enqueueProvisioning(quote.ID)
			}

			svc.reclaimExpiredLeases()
		}
	}
}

// reclaimExpiredLeases returns quotes whose worker died mid-attempt to PAID
// so another worker can take them over.
func (svc *quotesService) reclaimExpiredLeases() {
	result := svc.db.Model(&db.Quote{}).
		Where("state = ? AND lease_expires_at < ?", constants.QUOTE_STATE_PROVISIONING, time.Now()).
		Updates(map[string]interface{}{
			"state":            constants.QUOTE_STATE_PAID,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).Msg("Failed to reclaim expired leases")
	} else if result.RowsAffected > 0 {
		logger.Logger.Warn().
			Int64("count", result.RowsAffected).
			Msg("Reclaimed expired provisioning leases")
	}
}

// provision drives a single provisioning attempt for a paid quote.
func (svc *quotesService) provision(ctx context.Context, quoteId string) {
	quote, claimed := svc.claimLease(quoteId)
	if !claimed {
		return
	}

	logger.Logger.Info().
		Str("quote_id", quote.ID).
		Str("peer_id", quote.CounterpartyNodeId).
		Uint64("amount_msat", quote.RequestedAmountMsat).
		Uint("attempt", quote.AttemptCount+1).
		Msg("Provisioning channel")

	// before opening anything, check whether a previous attempt already
	// funded a channel that matches this quote. This is the crash window
	// between funding broadcast and our own acknowledgment.
	existing, err := svc.findMatchingChannel(ctx, quote)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("quote_id", quote.ID).
			Msg("Failed to list channels during reconciliation")
		// opening without the pre-check could fund the quote twice, so the
		// attempt fails and retries like a node outage
		if !lnclient.IsRetryable(err) {
			err = fmt.Errorf("%w: %s", lnclient.ErrNodeUnavailable, err.Error())
		}
		svc.failProvisioningAttempt(quote, err)
		return
	}
	if existing != nil {
		logger.Logger.Info().
			Str("quote_id", quote.ID).
			Str("channel_id", existing.Id).
			Msg("Adopting already-open channel for quote")
		svc.completeProvisioning(quote, existing.Id, existing.FundingTxId)
		return
	}

	response, err := svc.lnClient.OpenChannel(ctx, &lnclient.OpenChannelRequest{
		NodeId:     quote.CounterpartyNodeId,
		Address:    quote.CounterpartyAddress,
		Port:       quote.CounterpartyPort,
		AmountMsat: quote.RequestedAmountMsat,
		PushMsat:   quote.PushMsat,
		Public:     true,
	})
	if err != nil {
		svc.failProvisioningAttempt(quote, err)
		return
	}

	svc.completeProvisioning(quote, response.ChannelId, response.FundingTxId)
}

// claimLease transitions PAID -> PROVISIONING for exactly one caller. The
// state guard in the WHERE clause is the per-quote exclusive lease; losing
// the race affects zero rows.
func (svc *quotesService) claimLease(quoteId string) (*db.Quote, bool) {
	var quote db.Quote
	claimed := false
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Limit(1).Find(&quote, &db.Quote{ID: quoteId})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 || quote.State != constants.QUOTE_STATE_PAID {
			return nil
		}
		if quote.NextAttemptAt != nil && quote.NextAttemptAt.After(time.Now()) {
			return nil
		}

		leaseExpiry := time.Now().Add(constants.PROVISIONING_LEASE_DURATION)
		update := tx.Model(&db.Quote{}).
			Where("id = ? AND state = ?", quoteId, constants.QUOTE_STATE_PAID).
			Updates(map[string]interface{}{
				"state":            constants.QUOTE_STATE_PROVISIONING,
				"lease_expires_at": &leaseExpiry,
			})
		if update.Error != nil {
			return update.Error
		}
		claimed = update.RowsAffected > 0
		return nil
	})
	if err != nil {
		logger.Logger.Error().Err(err).Str("quote_id", quoteId).Msg("Failed to claim provisioning lease")
		return nil, false
	}
	return &quote, claimed
}

// findMatchingChannel looks for an open or pending channel to the quote's
// counterparty with the quote's capacity. Capacities are compared in whole
// sats because the node funds channels at sat granularity and reports the
// floored amount back.
func (svc *quotesService) findMatchingChannel(ctx context.Context, quote *db.Quote) (*lnclient.Channel, error) {
	channels, err := svc.lnClient.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	for _, channel := range channels {
		if channel.RemotePubkey == quote.CounterpartyNodeId && channel.CapacityMsat/1000 == quote.RequestedAmountMsat/1000 {
			return &channel, nil
		}
	}
	return nil, nil
}

// completeProvisioning transitions PROVISIONING -> COMPLETED and records the
// channel id. The channel_id IS NULL guard makes the write once-only.
func (svc *quotesService) completeProvisioning(quote *db.Quote, channelId string, fundingTxId string) {
	transitioned := false
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&db.Quote{}).
			Where("id = ? AND state = ? AND channel_id IS NULL", quote.ID, constants.QUOTE_STATE_PROVISIONING).
			Updates(map[string]interface{}{
				"state":            constants.QUOTE_STATE_COMPLETED,
				"channel_id":       channelId,
				"funding_tx_id":    fundingTxId,
				"lease_expires_at": nil,
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
			Msg("Failed to mark quote completed")
		return
	}
	if !transitioned {
		logger.Logger.Error().
			Str("quote_id", quote.ID).
			Msg("Quote left provisioning state while attempt was running")
		return
	}

	logger.Logger.Info().
		Str("quote_id", quote.ID).
		Str("channel_id", channelId).
		Msg("Channel provisioned")

	quote.State = constants.QUOTE_STATE_COMPLETED
	quote.ChannelId = &channelId
	svc.eventPublisher.Publish(&events.Event{
		Event:      constants.QUOTE_EVENT_COMPLETED,
		Properties: newQuoteEventProperties(quote),
	})
}

// failProvisioningAttempt either re-queues the quote with backoff or parks it
// in its terminal failure state.
func (svc *quotesService) failProvisioningAttempt(quote *db.Quote, attemptErr error) {
	attempts := quote.AttemptCount + 1
	retryable := lnclient.IsRetryable(attemptErr)

	if retryable && attempts < svc.maxAttempts {
		nextAttempt := time.Now().Add(backoffDelay(attempts))
		err := svc.db.Model(&db.Quote{}).
			Where("id = ? AND state = ?", quote.ID, constants.QUOTE_STATE_PROVISIONING).
			Updates(map[string]interface{}{
				"state":            constants.QUOTE_STATE_PAID,
				"attempt_count":    attempts,
				"next_attempt_at":  &nextAttempt,
				"lease_expires_at": nil,
			}).Error
		if err != nil {
			logger.Logger.Error().Err(err).Str("quote_id", quote.ID).Msg("Failed to schedule retry")
			return
		}
		logger.Logger.Warn().Err(attemptErr).
			Str("quote_id", quote.ID).
			Uint("attempt", attempts).
			Time("next_attempt_at", nextAttempt).
			Msg("Provisioning attempt failed, retry scheduled")
		return
	}

	reason := attemptErr.Error()
	result := svc.db.Model(&db.Quote{}).
		Where("id = ? AND state = ?", quote.ID, constants.QUOTE_STATE_PROVISIONING).
		Updates(map[string]interface{}{
			"state":            constants.QUOTE_STATE_PROVISIONING_FAILED,
			"attempt_count":    attempts,
			"failure_reason":   reason,
			"lease_expires_at": nil,
		})
	if result.Error != nil {
		logger.Logger.Error().Err(result.Error).Str("quote_id", quote.ID).Msg("Failed to mark quote failed")
		return
	}
	if result.RowsAffected == 0 {
		return
	}

	logger.Logger.Error().Err(attemptErr).
		Str("quote_id", quote.ID).
		Uint("attempts", attempts).
		Bool("retryable", retryable).
		Msg("Provisioning failed terminally, quote flagged for refund handling")

	quote.State = constants.QUOTE_STATE_PROVISIONING_FAILED
	quote.FailureReason = reason
	svc.eventPublisher.Publish(&events.Event{
		Event:      constants.QUOTE_EVENT_PROVISIONING_FAILED,
		Properties: newQuoteEventProperties(quote),
	})
}

// expirySweeper expires unpaid quotes past their deadline and invalidates
// their payment requests.
func (svc *quotesService) expirySweeper(ctx context.Context) {
	defer svc.wg.Done()
	ticker := time.NewTicker(constants.QUOTE_EXPIRY_SWEEP_INTERVAL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.sweepExpiredQuotes()
		}
	}
}

func (svc *quotesService) sweepExpiredQuotes() {
	var overdue []db.Quote
	err := svc.db.
		Where("state = ? AND expires_at < ?", constants.QUOTE_STATE_AWAITING_PAYMENT, time.Now()).
		Limit(100).
		Find(&overdue).Error
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to find expired quotes")
		return
	}

	for _, quote := range overdue {
		// CAS: a settlement landing between the read and this write wins
		result := svc.db.Model(&db.Quote{}).
			Where("id = ? AND state = ?", quote.ID, constants.QUOTE_STATE_AWAITING_PAYMENT).
			Update("state", constants.QUOTE_STATE_EXPIRED)
		if result.Error != nil {
			logger.Logger.Error().Err(result.Error).Str("quote_id", quote.ID).Msg("Failed to expire quote")
			continue
		}
		if result.RowsAffected == 0 {
			continue
		}

		if err := svc.processor.InvalidatePaymentRequest(quote.PaymentReference); err != nil {
			logger.Logger.Error().Err(err).
				Str("quote_id", quote.ID).
				Msg("Failed to invalidate payment request for expired quote")
		}

		logger.Logger.Info().Str("quote_id", quote.ID).Msg("Quote expired unpaid")

		quote.State = constants.QUOTE_STATE_EXPIRED
		svc.eventPublisher.Publish(&events.Event{
			Event:      constants.QUOTE_EVENT_EXPIRED,
			Properties: newQuoteEventProperties(&quote),
		})
	}
}

// backoffDelay returns the exponential backoff delay after the given number
// of failed attempts, capped at PROVISIONING_RETRY_MAX_DELAY.
func backoffDelay(attempts uint) time.Duration {
	delay := constants.PROVISIONING_RETRY_BASE_DELAY
	for i := uint(1); i < attempts; i++ {
		delay *= 2
		if delay >= constants.PROVISIONING_RETRY_MAX_DELAY {
			return constants.PROVISIONING_RETRY_MAX_DELAY
		}
	}
	return delay
}
