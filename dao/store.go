package dao

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	campaignsC     = "campaigns"
	donationsC     = "donations"
	escrowsC       = "withdrawal_requests"
	votesC         = "votes"
	refundsC       = "refunds"
	recoveryC      = "recovery_cases"
	usersC         = "user"
	payoutOptionsC = "payout_option"
)

// MongoStore is the MongoDB backed Store. Transactions need a replica set.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database

	campaigns  *CampaignDAO
	donations  *DonationDAO
	escrows    *EscrowDAO
	votes      *VoteDAO
	refunds    *RefundDAO
	recoveries *RecoveryDAO
	users      *UserDAO
}

// NewMongoStore returns a Store over db
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:     client,
		db:         db,
		campaigns:  &CampaignDAO{Collection: db.Collection(campaignsC)},
		donations:  &DonationDAO{Collection: db.Collection(donationsC)},
		escrows:    &EscrowDAO{Collection: db.Collection(escrowsC)},
		votes:      &VoteDAO{Collection: db.Collection(votesC)},
		refunds:    &RefundDAO{Collection: db.Collection(refundsC)},
		recoveries: &RecoveryDAO{Collection: db.Collection(recoveryC)},
		users:      &UserDAO{Collection: db.Collection(usersC), payoutOptions: db.Collection(payoutOptionsC)},
	}
}

// WithTransaction runs fn inside a multi-document transaction. The session
// context is handed to fn so every DAO call joins it.
func (s *MongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTransaction(ctx) {
		return fn(ctx)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(context.WithValue(sessCtx, txKey{}, true))
	})
	return err
}

// Campaigns ...
func (s *MongoStore) Campaigns() CampaignRepository { return s.campaigns }

// Donations ...
func (s *MongoStore) Donations() DonationRepository { return s.donations }

// Escrows ...
func (s *MongoStore) Escrows() EscrowRepository { return s.escrows }

// Votes ...
func (s *MongoStore) Votes() VoteRepository { return s.votes }

// Refunds ...
func (s *MongoStore) Refunds() RefundRepository { return s.refunds }

// Recoveries ...
func (s *MongoStore) Recoveries() RecoveryRepository { return s.recoveries }

// Users ...
func (s *MongoStore) Users() UserRepository { return s.users }

// EnsureIndexes creates the unique indexes the engine relies on as a
// concurrency backstop
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		donationsC: {
			{Keys: bson.D{{Key: "order_invoice_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "campaign_id", Value: 1}, {Key: "donor_id", Value: 1}, {Key: "payment_status", Value: 1}}},
		},
		escrowsC: {
			{
				Keys: bson.D{{Key: "campaign_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetName("one_open_request_per_campaign").
					SetPartialFilterExpression(bson.M{"is_open": true}),
			},
			{Keys: bson.D{{Key: "request_status", Value: 1}, {Key: "voting_end_date", Value: 1}}},
		},
		votesC: {
			{Keys: bson.D{{Key: "escrow_id", Value: 1}, {Key: "donor_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		refundsC: {
			{Keys: bson.D{{Key: "donation_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		recoveryC: {
			{Keys: bson.D{{Key: "campaign_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		payoutOptionsC: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, idx := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}
