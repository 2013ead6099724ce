package payment

import (
	"context"
	"crowdfund-bend/models"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Charger opens a hosted checkout for a donation
type Charger interface {
	InitiateCharge(ctx context.Context, req models.ChargeRequest) (models.ChargeResult, error)
}

// Transferer moves released funds to a creator's payout destination. A
// declined transfer is reported in the result; err is reserved for transport
// failures. Both leave the request retryable.
type Transferer interface {
	InitiateTransfer(ctx context.Context, destination string, amount int64, currency string) (models.TransferResult, error)
}

// OrderStatus is what the gateway reports for a checkout order
type OrderStatus struct {
	ProviderOrderID string
	Status          string
	Amount          string
	Currency        string
}

// Verifier looks up a checkout order at the gateway
type Verifier interface {
	VerifyOrder(ctx context.Context, providerOrderID string) (OrderStatus, error)
}

// Gateway is the full payment collaborator
type Gateway interface {
	Charger
	Transferer
	Verifier
}

// FormatAmount renders minor units as a two-decimal major unit string
func FormatAmount(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// ParseAmount converts a two-decimal major unit string into minor units
func ParseAmount(v string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimals", v)
	}
	return minor.IntPart(), nil
}

// Stub is a Gateway that never leaves the process. It approves every
// transfer unless Decline is set, and is used when no PayPal credentials are
// configured.
type Stub struct {
	mu        sync.Mutex
	Decline   string
	Transfers []StubTransfer
}

// StubTransfer records one transfer request
type StubTransfer struct {
	Destination string
	Amount      int64
	Currency    string
}

// InitiateCharge ...
func (s *Stub) InitiateCharge(_ context.Context, req models.ChargeRequest) (models.ChargeResult, error) {
	if req.Amount <= 0 {
		return models.ChargeResult{}, errors.New("amount must be positive")
	}
	id := "stub-" + uuid.NewString()
	return models.ChargeResult{
		ProviderOrderID: id,
		CheckoutURL:     "https://checkout.invalid/" + id,
	}, nil
}

// InitiateTransfer ...
func (s *Stub) InitiateTransfer(_ context.Context, destination string, amount int64, currency string) (models.TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Transfers = append(s.Transfers, StubTransfer{Destination: destination, Amount: amount, Currency: currency})
	if s.Decline != "" {
		return models.TransferResult{Success: false, Reason: s.Decline}, nil
	}
	return models.TransferResult{Success: true, TransactionRef: "stub-" + uuid.NewString()}, nil
}

// VerifyOrder ...
func (s *Stub) VerifyOrder(_ context.Context, providerOrderID string) (OrderStatus, error) {
	return OrderStatus{ProviderOrderID: providerOrderID, Status: "COMPLETED"}, nil
}
