package callbacks

import (
	"context"
	"crowdfund-bend/models"
	"crowdfund-bend/utils/payment"
)

// Ledger is the part of the funding ledger the callbacks need
type Ledger interface {
	FindDonation(ctx context.Context, invoice string) (models.Donation, error)
	ApplyGatewayCallback(ctx context.Context, cb models.GatewayCallback) (models.CallbackResult, error)
}

// Service represents the Callbacks Service
type Service struct {
	ledger   Ledger
	verifier payment.Verifier
}

// NewCallbacksService returns a new callbacks service. verifier may be nil,
// in which case completed callbacks are trusted as sent.
func NewCallbacksService(ledger Ledger, verifier payment.Verifier) *Service {
	return &Service{ledger: ledger, verifier: verifier}
}
