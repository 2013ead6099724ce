package payment

import (
	"context"
	"crowdfund-bend/models"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/plutov/paypal/v4"
)

// PayPalConfig ...
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	ReturnURL    string
	CancelURL    string
}

// PayPal implements Gateway with PayPal orders and payouts
type PayPal struct {
	client *paypal.Client
	cfg    PayPalConfig
}

// NewPayPal creates a client and fetches its first access token
func NewPayPal(ctx context.Context, cfg PayPalConfig) (*PayPal, error) {
	base := paypal.APIBaseLive
	if cfg.Sandbox {
		base = paypal.APIBaseSandBox
	}

	c, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, base)
	if err != nil {
		return nil, err
	}
	if _, err := c.GetAccessToken(ctx); err != nil {
		return nil, fmt.Errorf("paypal access token: %w", err)
	}

	return &PayPal{client: c, cfg: cfg}, nil
}

// InitiateCharge creates a CAPTURE order carrying the invoice number and
// returns the payer approval link
func (p *PayPal) InitiateCharge(ctx context.Context, req models.ChargeRequest) (models.ChargeResult, error) {
	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: req.InvoiceNumber,
		InvoiceID:   req.InvoiceNumber,
		Description: req.Description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: req.Currency,
			Value:    FormatAmount(req.Amount),
		},
	}}
	appCtx := &paypal.ApplicationContext{
		ReturnURL: p.cfg.ReturnURL,
		CancelURL: p.cfg.CancelURL,
	}

	order, err := p.client.CreateOrder(ctx, "CAPTURE", units, nil, appCtx)
	if err != nil {
		return models.ChargeResult{}, err
	}

	result := models.ChargeResult{ProviderOrderID: order.ID}
	for _, link := range order.Links {
		if link.Rel == "approve" {
			result.CheckoutURL = link.Href
		}
	}
	if result.CheckoutURL == "" {
		return result, errors.New("paypal order has no approve link")
	}
	return result, nil
}

// VerifyOrder ...
func (p *PayPal) VerifyOrder(ctx context.Context, providerOrderID string) (OrderStatus, error) {
	order, err := p.client.GetOrder(ctx, providerOrderID)
	if err != nil {
		return OrderStatus{}, err
	}

	status := OrderStatus{ProviderOrderID: order.ID, Status: order.Status}
	if len(order.PurchaseUnits) > 0 && order.PurchaseUnits[0].Amount != nil {
		status.Amount = order.PurchaseUnits[0].Amount.Value
		status.Currency = order.PurchaseUnits[0].Amount.Currency
	}
	return status, nil
}

// InitiateTransfer sends a single-item payout to a PayPal email
func (p *PayPal) InitiateTransfer(ctx context.Context, destination string, amount int64, currency string) (models.TransferResult, error) {
	batchID := "release-" + uuid.NewString()
	payout := paypal.Payout{
		SenderBatchHeader: &paypal.SenderBatchHeader{
			SenderBatchID: batchID,
			EmailSubject:  "You have received campaign funds",
		},
		Items: []paypal.PayoutItem{{
			RecipientType: "EMAIL",
			Receiver:      destination,
			Amount: &paypal.AmountPayout{
				Currency: currency,
				Value:    FormatAmount(amount),
			},
			Note:         "Campaign withdrawal release",
			SenderItemID: batchID,
		}},
	}

	resp, err := p.client.CreatePayout(ctx, payout)
	if err != nil {
		return models.TransferResult{}, err
	}
	if resp.BatchHeader == nil {
		return models.TransferResult{Success: false, Reason: "empty payout response"}, nil
	}

	switch resp.BatchHeader.BatchStatus {
	case "DENIED", "CANCELED":
		log.Printf("paypal_payout_declined: %s", resp.BatchHeader.BatchStatus)
		return models.TransferResult{Success: false, Reason: "payout " + resp.BatchHeader.BatchStatus}, nil
	}
	return models.TransferResult{Success: true, TransactionRef: resp.BatchHeader.PayoutBatchID}, nil
}
