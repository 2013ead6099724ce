package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VoteValue is a donor's decision on a withdrawal request
type VoteValue string

// Vote values
const (
	VoteApprove VoteValue = "approve"
	VoteReject  VoteValue = "reject"
)

// ParseVoteValue converts a wire value into a VoteValue
func ParseVoteValue(v string) (VoteValue, error) {
	switch VoteValue(v) {
	case VoteApprove, VoteReject:
		return VoteValue(v), nil
	}
	return "", Validation("invalid_vote_value", "Vote must be either approve or reject")
}

// Vote is unique per (escrow, donor)
type Vote struct {
	ID            primitive.ObjectID `json:"id" bson:"_id"`
	EscrowID      primitive.ObjectID `json:"escrow_id" bson:"escrow_id"`
	CampaignID    primitive.ObjectID `json:"campaign_id" bson:"campaign_id"`
	DonorID       primitive.ObjectID `json:"donor_id" bson:"donor_id"`
	Value         VoteValue          `json:"value" bson:"value"`
	DonatedAmount int64              `json:"donated_amount" bson:"donated_amount"`
	VoteWeight    int64              `json:"vote_weight" bson:"vote_weight"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

// VoteReq ...
type VoteReq struct {
	Value string `json:"value"`
}

// Eligibility is a donor's cached voting standing on a campaign
type Eligibility struct {
	DonorTotal int64 `json:"donor_total"`
	Threshold  int64 `json:"threshold"`
	Eligible   bool  `json:"eligible"`
}
