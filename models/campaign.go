package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

// Campaign statuses
const (
	CampaignPending   CampaignStatus = "pending"
	CampaignActive    CampaignStatus = "active"
	CampaignVoting    CampaignStatus = "voting"
	CampaignRejected  CampaignStatus = "rejected"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Valid reports whether s is a known campaign status
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignPending, CampaignActive, CampaignVoting, CampaignRejected, CampaignCompleted, CampaignCancelled:
		return true
	}
	return false
}

// AcceptsDonations reports whether checkout may be opened against the campaign
func (s CampaignStatus) AcceptsDonations() bool {
	return s == CampaignActive || s == CampaignVoting
}

// Milestone is a funding percentage threshold with the creator's commitment
type Milestone struct {
	Percentage int    `json:"percentage" bson:"percentage"`
	Commitment string `json:"commitment" bson:"commitment"`
}

// Campaign ...
type Campaign struct {
	ID                 primitive.ObjectID `json:"id" bson:"_id"`
	CreatorID          primitive.ObjectID `json:"creator_id" bson:"creator_id"`
	Title              string             `json:"title" bson:"title"`
	GoalAmount         int64              `json:"goal_amount" bson:"goal_amount"`
	CurrentAmount      int64              `json:"current_amount" bson:"current_amount"`
	DonationCount      int64              `json:"donation_count" bson:"donation_count"`
	Currency           string             `json:"currency" bson:"currency"`
	Status             CampaignStatus     `json:"status" bson:"status"`
	Milestones         []Milestone        `json:"milestones" bson:"milestones"`
	EndDate            time.Time          `json:"end_date" bson:"end_date"`
	ExpiryProcessedAt  *time.Time         `json:"expiry_processed_at,omitempty" bson:"expiry_processed_at,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty" bson:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" bson:"updated_at"`
}

// FundingPercentage returns current_amount / goal_amount * 100. A zero goal
// yields zero.
func (c Campaign) FundingPercentage() float64 {
	if c.GoalAmount <= 0 {
		return 0
	}
	return decimal.NewFromInt(c.CurrentAmount).
		Shift(2).
		DivRound(decimal.NewFromInt(c.GoalAmount), 4).
		InexactFloat64()
}

// MilestonePercentages returns the campaign's milestone percentages in
// descending order
func (c Campaign) MilestonePercentages() []int {
	out := make([]int, 0, len(c.Milestones))
	for _, m := range c.Milestones {
		out = append(out, m.Percentage)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// HasMilestone reports whether the campaign defines the given percentage
func (c Campaign) HasMilestone(pct int) bool {
	for _, m := range c.Milestones {
		if m.Percentage == pct {
			return true
		}
	}
	return false
}

// FundingSummary is the cached read model behind GET /campaigns/{id}/funding
type FundingSummary struct {
	CampaignID    primitive.ObjectID `json:"campaign_id"`
	GoalAmount    int64              `json:"goal_amount"`
	CurrentAmount int64              `json:"current_amount"`
	Released      int64              `json:"released"`
	Available     int64              `json:"available"`
	Percentage    float64            `json:"percentage"`
	Status        CampaignStatus     `json:"status"`
}

// CancelReq is the campaign cancellation payload
type CancelReq struct {
	Reason string `json:"reason"`
}
