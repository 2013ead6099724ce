package models

import (
	"encoding/json"
	"time"
)

// ContextKey is a string type used in context.WithValue
type ContextKey string

func (c ContextKey) String() string {
	return string(c)
}

// Context keys set by the auth middleware
const (
	UserIDKey    ContextKey = "user_id"
	UserEmailKey ContextKey = "user_email"
	UserRoleKey  ContextKey = "user_role"
)

// Job types
const (
	JobThankYou = "donation.thank_you"
)

// Job is a deferred, at-least-once unit of work
type Job struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ThankYouPayload ...
type ThankYouPayload struct {
	DonationID string `json:"donation_id"`
	CampaignID string `json:"campaign_id"`
	DonorID    string `json:"donor_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}
