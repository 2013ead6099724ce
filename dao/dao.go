package dao

import (
	"context"
	"crowdfund-bend/models"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Errors shared by every Store implementation
var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate key")
	// ErrConflict means a guarded update matched nothing: the document was
	// not in the expected state
	ErrConflict = errors.New("document state changed")
)

// Store groups the repositories and the transaction boundary
type Store interface {
	// WithTransaction runs fn atomically. Nested calls join the outer
	// transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Campaigns() CampaignRepository
	Donations() DonationRepository
	Escrows() EscrowRepository
	Votes() VoteRepository
	Refunds() RefundRepository
	Recoveries() RecoveryRepository
	Users() UserRepository
}

// CampaignRepository ...
type CampaignRepository interface {
	Insert(ctx context.Context, c models.Campaign) error
	FindByID(ctx context.Context, id primitive.ObjectID) (models.Campaign, error)
	// IncrementFunding atomically adds amount to current_amount and bumps
	// donation_count, returning the updated document
	IncrementFunding(ctx context.Context, id primitive.ObjectID, amount int64) (models.Campaign, error)
	// UpdateStatus moves the campaign to `to` only if its status is one of
	// `from`; ErrConflict otherwise
	UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.CampaignStatus, to models.CampaignStatus, reason string, now time.Time) (models.Campaign, error)
	MarkExpiryProcessed(ctx context.Context, id primitive.ObjectID, now time.Time) error
	ListExpired(ctx context.Context, now time.Time) ([]models.Campaign, error)
}

// DonationRepository ...
type DonationRepository interface {
	Insert(ctx context.Context, d models.Donation) error
	FindByID(ctx context.Context, id primitive.ObjectID) (models.Donation, error)
	FindByInvoice(ctx context.Context, invoice string) (models.Donation, error)
	SetProviderOrder(ctx context.Context, id primitive.ObjectID, providerOrderID string) error
	// MarkCompleted sets status completed unless the donation has already
	// settled. applied is false when another writer got there first.
	MarkCompleted(ctx context.Context, invoice, providerTxID string, paidAt time.Time, payload string) (d models.Donation, applied bool, err error)
	// MarkFailed moves a pending donation to failed or cancelled
	MarkFailed(ctx context.Context, invoice string, status models.PaymentStatus, payload string, now time.Time) (d models.Donation, applied bool, err error)
	// MarkMailSent stamps mail_sent_at if unset
	MarkMailSent(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error)
	ListCompleted(ctx context.Context, campaignID primitive.ObjectID) ([]models.Donation, error)
	ListPendingRefund(ctx context.Context, campaignID primitive.ObjectID) ([]models.Donation, error)
	SumCompletedByDonor(ctx context.Context, campaignID, donorID primitive.ObjectID) (int64, error)
	// ApplyRefund writes the refund bookkeeping fields and status of d if the
	// stored status is still expected
	ApplyRefund(ctx context.Context, d models.Donation, expected models.PaymentStatus) error
}

// EscrowRepository ...
type EscrowRepository interface {
	// Insert fails with ErrDuplicate when the campaign already has an open
	// request
	Insert(ctx context.Context, e models.Escrow) error
	FindByID(ctx context.Context, id primitive.ObjectID) (models.Escrow, error)
	// Update replaces e if the stored request_status equals expected
	Update(ctx context.Context, e models.Escrow, expected models.EscrowStatus) error
	ListOpen(ctx context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error)
	ListAutoCreated(ctx context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error)
	ListByCampaign(ctx context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error)
	SumReleased(ctx context.Context, campaignID primitive.ObjectID) (int64, error)
	ListByStatus(ctx context.Context, status models.EscrowStatus) ([]models.Escrow, error)
	ListVotingExpired(ctx context.Context, now time.Time) ([]models.Escrow, error)
	// ListUpdateOverdue returns released requests past their progress-update
	// due date with no update and no warning yet
	ListUpdateOverdue(ctx context.Context, now time.Time) ([]models.Escrow, error)
	// ListWarnedBefore returns released requests still without an update
	// whose warning went out at or before cutoff
	ListWarnedBefore(ctx context.Context, cutoff time.Time) ([]models.Escrow, error)
	MarkWarningSent(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error)
}

// VoteRepository ...
type VoteRepository interface {
	// Upsert writes the vote keyed by (escrow, donor)
	Upsert(ctx context.Context, v models.Vote) (models.Vote, error)
	ListByEscrow(ctx context.Context, escrowID primitive.ObjectID) ([]models.Vote, error)
}

// RefundRepository ...
type RefundRepository interface {
	Insert(ctx context.Context, r models.Refund) error
	FindByDonation(ctx context.Context, donationID primitive.ObjectID) (models.Refund, error)
	Update(ctx context.Context, r models.Refund) error
	ListByCampaign(ctx context.Context, campaignID primitive.ObjectID) ([]models.Refund, error)
}

// RecoveryRepository ...
type RecoveryRepository interface {
	Insert(ctx context.Context, rc models.RecoveryCase) error
	FindByID(ctx context.Context, id primitive.ObjectID) (models.RecoveryCase, error)
	FindByCampaign(ctx context.Context, campaignID primitive.ObjectID) (models.RecoveryCase, error)
	Update(ctx context.Context, rc models.RecoveryCase) error
	ListOverdue(ctx context.Context, now time.Time) ([]models.RecoveryCase, error)
}

// UserRepository ...
type UserRepository interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	FindPayoutOption(ctx context.Context, userID primitive.ObjectID) (models.PayoutOption, error)
	UpsertPayoutOption(ctx context.Context, opt models.PayoutOption) error
}

type txKey struct{}

func inTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// Initialize a connection
func Initialize(dbURI string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(dbURI))
	if err != nil {
		return nil, err
	}

	// ping primary
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	return client, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if isDuplicateKey(err) {
		return ErrDuplicate
	}
	return err
}

func isDuplicateKey(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}
