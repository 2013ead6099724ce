package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationType ...
type NotificationType string

// NotificationActionType ...
type NotificationActionType string

// Notification types
const (
	DonationN   NotificationType = "donation"
	WithdrawalN NotificationType = "withdrawal"
	RefundN     NotificationType = "refund"
	CampaignN   NotificationType = "campaign"
)

// Notification action types
const (
	AInfo      NotificationActionType = "info"
	AAction    NotificationActionType = "action_required"
	APayment   NotificationActionType = "payment"
	ACompleted NotificationActionType = "completed"
)

// Email templates
const (
	TplThankYou         = "thank_you.html"
	TplVotingOpened     = "voting_opened.html"
	TplVotingClosed     = "voting_closed.html"
	TplWithdrawalDone   = "withdrawal_released.html"
	TplWithdrawalDenied = "withdrawal_rejected.html"
	TplUpdateOverdue    = "update_overdue_warning.html"
	TplCampaignCanceled = "campaign_cancelled.html"
	TplRefundProcessed  = "refund_processed.html"
	TplGeneric          = "generic.html"
)

// Notification represents an actionable/non-actionable notification model
type Notification struct {
	ID         primitive.ObjectID     `json:"id" bson:"_id"`
	Title      string                 `json:"title" bson:"title"`
	CampaignID primitive.ObjectID     `json:"campaign_id" bson:"campaign_id"`
	UserID     primitive.ObjectID     `json:"user_id" bson:"user_id"`
	Type       NotificationType       `json:"type" bson:"type"`
	Message    string                 `json:"message" bson:"message"`
	Action     NotificationActionType `json:"action" bson:"action"`
	CreatedAt  time.Time              `json:"created_at" bson:"created_at"`
}

// Message is the payload handed to the notification sender
type Message struct {
	Template   string
	Recipient  primitive.ObjectID
	CampaignID primitive.ObjectID
	Title      string
	Body       string
	Type       NotificationType
	Action     NotificationActionType
	Data       map[string]interface{}
}
