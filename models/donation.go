package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentStatus is the gateway-driven state of a donation
type PaymentStatus string

// Payment statuses
const (
	PaymentPending           PaymentStatus = "pending"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// ParsePaymentStatus converts a wire value into a PaymentStatus
func ParsePaymentStatus(v string) (PaymentStatus, error) {
	s := PaymentStatus(v)
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentRefunded, PaymentPartiallyRefunded:
		return s, nil
	}
	return "", Validation("invalid_payment_status", "Unknown payment status "+v)
}

// IsFailure reports whether s is one of the gateway failure outcomes
func (s PaymentStatus) IsFailure() bool {
	return s == PaymentFailed || s == PaymentCancelled
}

// HasSettled reports whether the donation was ever completed. Settled donations
// only move toward the refund states.
func (s PaymentStatus) HasSettled() bool {
	return s == PaymentCompleted || s == PaymentRefunded || s == PaymentPartiallyRefunded
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentFailed:            {PaymentCompleted},
	PaymentCancelled:         {PaymentCompleted},
	PaymentCompleted:         {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded},
}

// CanTransitionTo reports whether s -> next is a legal donation transition
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Donation ...
type Donation struct {
	ID                     primitive.ObjectID `json:"id" bson:"_id"`
	CampaignID             primitive.ObjectID `json:"campaign_id" bson:"campaign_id"`
	DonorID                primitive.ObjectID `json:"donor_id" bson:"donor_id"`
	Amount                 int64              `json:"amount" bson:"amount"`
	Currency               string             `json:"currency" bson:"currency"`
	PaymentStatus          PaymentStatus      `json:"payment_status" bson:"payment_status"`
	OrderInvoiceNumber     string             `json:"order_invoice_number" bson:"order_invoice_number"`
	ProviderOrderID        string             `json:"provider_order_id,omitempty" bson:"provider_order_id,omitempty"`
	ProviderTransactionID  string             `json:"provider_transaction_id,omitempty" bson:"provider_transaction_id,omitempty"`
	ProviderPayload        string             `json:"-" bson:"provider_payload,omitempty"`
	PaidAt                 *time.Time         `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	RefundedAmount         int64              `json:"refunded_amount" bson:"refunded_amount"`
	RefundRatio            float64            `json:"refund_ratio" bson:"refund_ratio"`
	RemainingRefundPending int64              `json:"remaining_refund_pending" bson:"remaining_refund_pending"`
	MailSentAt             *time.Time         `json:"mail_sent_at,omitempty" bson:"mail_sent_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at" bson:"updated_at"`
}

// GatewayCallback is the normalized inbound payment notification
type GatewayCallback struct {
	OrderInvoiceNumber    string        `json:"order_invoice_number"`
	Status                PaymentStatus `json:"status"`
	ProviderTransactionID string        `json:"provider_transaction_id"`
	PaidAt                *time.Time    `json:"paid_at,omitempty"`
	RawPayload            string        `json:"-"`
}

// CallbackResult is returned by the ledger for every processed callback
type CallbackResult struct {
	Donation         Donation `json:"donation"`
	AlreadyProcessed bool     `json:"already_processed"`
	Ignored          bool     `json:"ignored"`
}

// CheckoutReq is the donation checkout request payload
type CheckoutReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Checkout is returned by checkout init
type Checkout struct {
	Donation    Donation `json:"donation"`
	CheckoutURL string   `json:"checkout_url"`
}
