package mocks

import (
	"context"
	"sync"

	"github.com/thesimplekid/cashu-lsp/nut18"
	"github.com/thesimplekid/cashu-lsp/payments"
)

// MockPaymentProcessor is a hand-rolled fake: issuing encoded requests and
// tracking invalidations is simple enough that call-recording is more useful
// than expectation wiring.
type MockPaymentProcessor struct {
	mu          sync.Mutex
	Invalidated []string

	CreateErr error
	VerifyErr error
}

func NewMockPaymentProcessor() *MockPaymentProcessor {
	return &MockPaymentProcessor{}
}

func (m *MockPaymentProcessor) CreatePaymentRequest(reference string, amountMsat uint64) (string, error) {
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	request := &nut18.PaymentRequest{
		PaymentId: reference,
		Amount:    (amountMsat + 999) / 1000,
		Unit:      "sat",
		SingleUse: true,
		Mints:     []string{"https://mint.example.com"},
		Transports: []nut18.Transport{
			{Type: nut18.TransportTypePost, Target: "https://lsp.example.com/api/v1/payment"},
		},
	}
	return request.Encode()
}

func (m *MockPaymentProcessor) VerifyPayment(ctx context.Context, payload *nut18.PaymentRequestPayload) (*payments.Settlement, error) {
	if m.VerifyErr != nil {
		return nil, m.VerifyErr
	}
	return &payments.Settlement{
		Reference:  payload.Id,
		AmountMsat: payload.TotalAmount() * 1000,
	}, nil
}

func (m *MockPaymentProcessor) InvalidatePaymentRequest(reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invalidated = append(m.Invalidated, reference)
	return nil
}

func (m *MockPaymentProcessor) WasInvalidated(reference string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range m.Invalidated {
		if ref == reference {
			return true
		}
	}
	return false
}
