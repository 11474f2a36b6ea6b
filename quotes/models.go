package quotes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/policy"
)

var (
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrPushTooLarge - the pushed amount must leave a positive local
	// balance, the node rejects opens where it does not
	ErrPushTooLarge = fmt.Errorf("%w: push amount must be below channel size", policy.ErrPolicyViolation)

	// ErrUnknownReference - settlement for a reference no quote was issued
	// under. At-least-once delivery makes these routine; callers log and
	// discard.
	ErrUnknownReference = errors.New("no quote for payment reference")

	// ErrInsufficientPayment - settlement amount below the quoted total.
	// The quote stays payable.
	ErrInsufficientPayment = errors.New("insufficient payment")
)

type CreateQuoteRequest struct {
	ChannelSizeMsat uint64          `json:"channel_size_msat" validate:"required"`
	NodePubkey      string          `json:"node_pubkey" validate:"required"`
	Address         string          `json:"address" validate:"required"`
	Port            uint32          `json:"port"`
	PushMsat        *uint64         `json:"push_msat,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

type CreateQuoteResponse struct {
	QuoteId        string    `json:"quote_id"`
	PaymentRequest string    `json:"payment_request"`
	PriceMsat      uint64    `json:"price_msat"`
	TotalMsat      uint64    `json:"total_msat"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type QuoteStatusResponse struct {
	Id            string  `json:"id"`
	State         string  `json:"state"`
	ChannelId     *string `json:"channel_id,omitempty"`
	FundingTxId   *string `json:"funding_tx_id,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`
}

func NewQuoteStatusResponse(quote *db.Quote) *QuoteStatusResponse {
	return &QuoteStatusResponse{
		Id:            quote.ID,
		State:         quote.State,
		ChannelId:     quote.ChannelId,
		FundingTxId:   quote.FundingTxId,
		FailureReason: quote.FailureReason,
	}
}

// QuotePaidEventProperties et al. are attached to events published on quote
// state transitions.
type QuoteEventProperties struct {
	QuoteId             string  `json:"quote_id"`
	State               string  `json:"state"`
	RequestedAmountMsat uint64  `json:"requested_amount_msat"`
	CounterpartyNodeId  string  `json:"counterparty_node_id"`
	ChannelId           *string `json:"channel_id,omitempty"`
	FailureReason       string  `json:"failure_reason,omitempty"`
}
