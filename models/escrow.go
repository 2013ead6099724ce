package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EscrowStatus is the request_status of a withdrawal request
type EscrowStatus string

// Withdrawal request statuses
const (
	EscrowPendingVoting    EscrowStatus = "pending_voting"
	EscrowVotingInProgress EscrowStatus = "voting_in_progress"
	EscrowVotingCompleted  EscrowStatus = "voting_completed"
	EscrowAdminApproved    EscrowStatus = "admin_approved"
	EscrowAdminRejected    EscrowStatus = "admin_rejected"
	EscrowReleased         EscrowStatus = "released"
	EscrowCancelled        EscrowStatus = "cancelled"
)

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowPendingVoting:    {EscrowVotingInProgress, EscrowCancelled},
	EscrowVotingInProgress: {EscrowVotingCompleted, EscrowCancelled},
	EscrowVotingCompleted:  {EscrowAdminApproved, EscrowAdminRejected, EscrowCancelled},
	EscrowAdminApproved:    {EscrowReleased, EscrowCancelled},
}

// ParseEscrowStatus converts a wire value into an EscrowStatus
func ParseEscrowStatus(v string) (EscrowStatus, error) {
	s := EscrowStatus(v)
	switch s {
	case EscrowPendingVoting, EscrowVotingInProgress, EscrowVotingCompleted,
		EscrowAdminApproved, EscrowAdminRejected, EscrowReleased, EscrowCancelled:
		return s, nil
	}
	return "", Validation("invalid_request_status", "Unknown withdrawal request status "+v)
}

// Terminal reports whether no further transition is possible
func (s EscrowStatus) Terminal() bool {
	return len(escrowTransitions[s]) == 0
}

// CanTransitionTo reports whether s -> next is allowed
func (s EscrowStatus) CanTransitionTo(next EscrowStatus) bool {
	for _, t := range escrowTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Supersedable reports whether a higher milestone may cancel a request in s.
// Approved requests are mid-transfer and are left alone.
func (s EscrowStatus) Supersedable() bool {
	return s == EscrowPendingVoting || s == EscrowVotingInProgress || s == EscrowVotingCompleted
}

// Tally is the weighted vote outcome recorded at voting close
type Tally struct {
	ApproveWeight     int64   `json:"approve_weight" bson:"approve_weight"`
	RejectWeight      int64   `json:"reject_weight" bson:"reject_weight"`
	ApprovePercentage float64 `json:"approve_percentage" bson:"approve_percentage"`
	RejectPercentage  float64 `json:"reject_percentage" bson:"reject_percentage"`
	TotalVotes        int     `json:"total_votes" bson:"total_votes"`
}

// Escrow is a withdrawal request: one governed tranche of campaign funds
type Escrow struct {
	ID                        primitive.ObjectID  `json:"id" bson:"_id"`
	CampaignID                primitive.ObjectID  `json:"campaign_id" bson:"campaign_id"`
	RequesterID               primitive.ObjectID  `json:"requester_id" bson:"requester_id"`
	Amount                    int64               `json:"withdrawal_request_amount" bson:"withdrawal_request_amount"`
	Reason                    string              `json:"request_reason" bson:"request_reason"`
	MilestonePercentage       *int                `json:"milestone_percentage" bson:"milestone_percentage"`
	AutoCreated               bool                `json:"auto_created" bson:"auto_created"`
	Status                    EscrowStatus        `json:"request_status" bson:"request_status"`
	Open                      bool                `json:"-" bson:"is_open"`
	VotingStartDate           *time.Time          `json:"voting_start_date,omitempty" bson:"voting_start_date,omitempty"`
	VotingEndDate             *time.Time          `json:"voting_end_date,omitempty" bson:"voting_end_date,omitempty"`
	Tally                     *Tally              `json:"tally,omitempty" bson:"tally,omitempty"`
	AdminReviewedBy           *primitive.ObjectID `json:"admin_reviewed_by,omitempty" bson:"admin_reviewed_by,omitempty"`
	AdminReviewedAt           *time.Time          `json:"admin_reviewed_at,omitempty" bson:"admin_reviewed_at,omitempty"`
	RejectionReason           string              `json:"rejection_reason,omitempty" bson:"rejection_reason,omitempty"`
	CancellationReason        string              `json:"cancellation_reason,omitempty" bson:"cancellation_reason,omitempty"`
	TransferRef               string              `json:"transfer_ref,omitempty" bson:"transfer_ref,omitempty"`
	LastTransferError         string              `json:"last_transfer_error,omitempty" bson:"last_transfer_error,omitempty"`
	ReleasedAt                *time.Time          `json:"released_at,omitempty" bson:"released_at,omitempty"`
	ProgressUpdateDueAt       *time.Time          `json:"progress_update_due_at,omitempty" bson:"progress_update_due_at,omitempty"`
	ProgressUpdate            string              `json:"progress_update,omitempty" bson:"progress_update,omitempty"`
	ProgressUpdateSubmittedAt *time.Time          `json:"progress_update_submitted_at,omitempty" bson:"progress_update_submitted_at,omitempty"`
	WarningEmailSentAt        *time.Time          `json:"warning_email_sent_at,omitempty" bson:"warning_email_sent_at,omitempty"`
	CreatedAt                 time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt                 time.Time           `json:"updated_at" bson:"updated_at"`
}

// SetStatus moves the request to next, keeping the is_open index flag in sync.
// Callers check CanTransitionTo first.
func (e *Escrow) SetStatus(next EscrowStatus, now time.Time) {
	e.Status = next
	e.Open = !next.Terminal()
	e.UpdatedAt = now
}

// MilestoneValue returns the tagged milestone or -1 for untagged requests
func (e Escrow) MilestoneValue() int {
	if e.MilestonePercentage == nil {
		return -1
	}
	return *e.MilestonePercentage
}

// WithdrawalReq is the manual withdrawal request payload
type WithdrawalReq struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// RejectReq ...
type RejectReq struct {
	Reason string `json:"reason"`
}

// ProgressUpdateReq ...
type ProgressUpdateReq struct {
	Content string `json:"content"`
}
