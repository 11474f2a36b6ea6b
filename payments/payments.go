package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/thesimplekid/cashu-lsp/logger"
	"github.com/thesimplekid/cashu-lsp/nut18"
)

var (
	ErrUnsupportedMint    = errors.New("unsupported mint")
	ErrMissingReference   = errors.New("payment payload is missing a payment id")
	ErrRequestInvalidated = errors.New("payment request is no longer payable")
	ErrProofVerification  = errors.New("failed to verify payment proofs")
)

// Settlement reports a verified incoming payment, keyed by the payment
// reference the request was issued under.
type Settlement struct {
	Reference  string
	AmountMsat uint64
}

// Processor is the capability the engine holds on the payment layer. The
// engine never touches ecash cryptography; it only issues requests and
// consumes verified settlements.
type Processor interface {
	CreatePaymentRequest(reference string, amountMsat uint64) (string, error)
	VerifyPayment(ctx context.Context, payload *nut18.PaymentRequestPayload) (*Settlement, error)
	InvalidatePaymentRequest(reference string) error
}

// ProofReceiver redeems verified proofs into the provider's wallet.
// A nil receiver skips redemption, which is only appropriate in tests.
type ProofReceiver interface {
	ReceiveProofs(ctx context.Context, mint string, proofs []nut18.Proof) error
}

type nut18Processor struct {
	paymentUrl    string
	acceptedMints []string
	proofReceiver ProofReceiver

	// references revoked by quote expiry; single-use requests cannot be
	// recalled from wallets that already copied them, so revocation is
	// enforced at verification time
	revoked sync.Map
}

func NewNUT18Processor(paymentUrl string, acceptedMints []string, proofReceiver ProofReceiver) *nut18Processor {
	return &nut18Processor{
		paymentUrl:    paymentUrl,
		acceptedMints: acceptedMints,
		proofReceiver: proofReceiver,
	}
}

func (p *nut18Processor) CreatePaymentRequest(reference string, amountMsat uint64) (string, error) {
	request := &nut18.PaymentRequest{
		PaymentId: reference,
		Amount:    msatToSatCeil(amountMsat),
		Unit:      "sat",
		SingleUse: true,
		Mints:     p.acceptedMints,
		Transports: []nut18.Transport{
			{
				Type:   nut18.TransportTypePost,
				Target: p.paymentUrl,
			},
		},
	}
	return request.Encode()
}

func (p *nut18Processor) VerifyPayment(ctx context.Context, payload *nut18.PaymentRequestPayload) (*Settlement, error) {
	if payload.Id == "" {
		return nil, ErrMissingReference
	}

	if _, ok := p.revoked.Load(payload.Id); ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestInvalidated, payload.Id)
	}

	if !p.isAcceptedMint(payload.Mint) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMint, payload.Mint)
	}

	if p.proofReceiver != nil {
		if err := p.proofReceiver.ReceiveProofs(ctx, payload.Mint, payload.Proofs); err != nil {
			logger.Logger.Error().Err(err).
				Str("mint", payload.Mint).
				Str("reference", payload.Id).
				Msg("Failed to receive payment proofs")
			return nil, fmt.Errorf("%w: %s", ErrProofVerification, err.Error())
		}
	}

	return &Settlement{
		Reference:  payload.Id,
		AmountMsat: payload.TotalAmount() * 1000,
	}, nil
}

func (p *nut18Processor) InvalidatePaymentRequest(reference string) error {
	p.revoked.Store(reference, struct{}{})
	return nil
}

func (p *nut18Processor) isAcceptedMint(mint string) bool {
	mint = strings.TrimSuffix(mint, "/")
	for _, accepted := range p.acceptedMints {
		if strings.TrimSuffix(accepted, "/") == mint {
			return true
		}
	}
	return false
}

func msatToSatCeil(amountMsat uint64) uint64 {
	return (amountMsat + 999) / 1000
}
