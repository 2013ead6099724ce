package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentOption represents a payout rail
type PaymentOption uint

const (
	// Bank payment option
	Bank PaymentOption = iota
	// PayPal payment option
	PayPal
)

// PayoutOption is where a creator's released funds are sent
type PayoutOption struct {
	ID        primitive.ObjectID `json:"id" bson:"_id"`
	UserID    primitive.ObjectID `json:"user_id" bson:"user_id"`
	Type      PaymentOption      `json:"type" bson:"type"`
	Email     string             `json:"email" bson:"email"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}

// PayoutOptionReq represents the payout_option create request payload
type PayoutOptionReq struct {
	Type  PaymentOption `json:"type"`
	Email string        `json:"email"`
}

// TransferResult is the outcome reported by the payment collaborator
type TransferResult struct {
	Success        bool   `json:"success"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// ChargeRequest is sent to the gateway on checkout init
type ChargeRequest struct {
	InvoiceNumber string
	Amount        int64
	Currency      string
	Description   string
}

// ChargeResult ...
type ChargeResult struct {
	CheckoutURL     string
	ProviderOrderID string
}
