package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RefundStatus ...
type RefundStatus string

// Refund statuses
const (
	RefundPending   RefundStatus = "pending"
	RefundPartial   RefundStatus = "partial"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// RefundMethod records where the refunded money came from
type RefundMethod string

// Refund methods
const (
	RefundMethodEscrow   RefundMethod = "escrow"
	RefundMethodRecovery RefundMethod = "recovery"
)

// Refund tracks money owed back to one donor for one donation.
// RefundedAmount + RemainingRefund == OriginalAmount.
type Refund struct {
	ID              primitive.ObjectID `json:"id" bson:"_id"`
	CampaignID      primitive.ObjectID `json:"campaign_id" bson:"campaign_id"`
	DonationID      primitive.ObjectID `json:"donation_id" bson:"donation_id"`
	DonorID         primitive.ObjectID `json:"donor_id" bson:"donor_id"`
	OriginalAmount  int64              `json:"original_amount" bson:"original_amount"`
	RefundedAmount  int64              `json:"refunded_amount" bson:"refunded_amount"`
	RefundRatio     float64            `json:"refund_ratio" bson:"refund_ratio"`
	RemainingRefund int64              `json:"remaining_refund" bson:"remaining_refund"`
	Status          RefundStatus       `json:"refund_status" bson:"refund_status"`
	Method          RefundMethod       `json:"refund_method" bson:"refund_method"`
	CreatedAt       time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" bson:"updated_at"`
}

// StatusFor derives the refund status from the amounts
func StatusFor(refunded, remaining int64) RefundStatus {
	switch {
	case remaining <= 0:
		return RefundCompleted
	case refunded > 0:
		return RefundPartial
	default:
		return RefundPending
	}
}

// RefundSummary is the result of a proportional refund pass
type RefundSummary struct {
	CampaignID    primitive.ObjectID   `json:"campaign_id"`
	TotalDonated  int64                `json:"total_donated"`
	TotalReleased int64                `json:"total_released"`
	Available     int64                `json:"available"`
	RefundRatio   float64              `json:"refund_ratio"`
	TotalRefunded int64                `json:"total_refunded"`
	Refunds       []Refund             `json:"refunds"`
	RecoveryCase  *RecoveryCase        `json:"recovery_case,omitempty"`
	Cancelled     []primitive.ObjectID `json:"cancelled_requests,omitempty"`
}
