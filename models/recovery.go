package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecoveryStatus ...
type RecoveryStatus string

// Recovery statuses
const (
	RecoveryPending     RecoveryStatus = "pending"
	RecoveryInProgress  RecoveryStatus = "in_progress"
	RecoveryCompleted   RecoveryStatus = "completed"
	RecoveryFailed      RecoveryStatus = "failed"
	RecoveryLegalAction RecoveryStatus = "legal_action"
)

// Timeline actions
const (
	TimelineOpened    = "opened"
	TimelineRecovered = "recovered"
	TimelineRefunded  = "refund_distributed"
	TimelineEscalated = "escalated"
	TimelineOverdue   = "deadline_passed"
)

// TimelineEntry is one append-only action on a recovery case
type TimelineEntry struct {
	Action    string              `json:"action" bson:"action"`
	Amount    int64               `json:"amount,omitempty" bson:"amount,omitempty"`
	Note      string              `json:"note,omitempty" bson:"note,omitempty"`
	ActorID   *primitive.ObjectID `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	CreatedAt time.Time           `json:"created_at" bson:"created_at"`
}

// RecoveryCase tracks clawing back money released to a creator of a
// cancelled campaign. RecoveredAmount is the undisbursed balance;
// TotalRecovered only grows.
type RecoveryCase struct {
	ID              primitive.ObjectID `json:"id" bson:"_id"`
	CampaignID      primitive.ObjectID `json:"campaign_id" bson:"campaign_id"`
	CreatorID       primitive.ObjectID `json:"creator_id" bson:"creator_id"`
	TotalAmount     int64              `json:"total_amount" bson:"total_amount"`
	RecoveredAmount int64              `json:"recovered_amount" bson:"recovered_amount"`
	TotalRecovered  int64              `json:"total_recovered" bson:"total_recovered"`
	Status          RecoveryStatus     `json:"status" bson:"status"`
	Deadline        time.Time          `json:"deadline" bson:"deadline"`
	LegalCaseID     string             `json:"legal_case_id,omitempty" bson:"legal_case_id,omitempty"`
	Timeline        []TimelineEntry    `json:"timeline" bson:"timeline"`
	CreatedAt       time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" bson:"updated_at"`
}

// Append adds a timeline entry
func (rc *RecoveryCase) Append(entry TimelineEntry) {
	rc.Timeline = append(rc.Timeline, entry)
	rc.UpdatedAt = entry.CreatedAt
}

// RecoveryReq records clawed back money
type RecoveryReq struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

// EscalateReq ...
type EscalateReq struct {
	LegalCaseID string `json:"legal_case_id"`
	Note        string `json:"note"`
}

// RecoveryDistribution is the outcome of replaying recovered money to donors
type RecoveryDistribution struct {
	Case        RecoveryCase `json:"recovery_case"`
	Distributed int64        `json:"distributed"`
	Refunds     []Refund     `json:"refunds"`
}
