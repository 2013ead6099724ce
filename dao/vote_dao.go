package dao

import (
	"context"
	"crowdfund-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// VoteDAO ...
type VoteDAO struct {
	Collection *mongo.Collection
}

// Upsert keys the vote by (escrow_id, donor_id); the unique index backs it
func (dao *VoteDAO) Upsert(ctx context.Context, v models.Vote) (models.Vote, error) {
	var out models.Vote
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := dao.Collection.FindOneAndUpdate(ctx,
		bson.M{"escrow_id": v.EscrowID, "donor_id": v.DonorID},
		bson.M{
			"$set": bson.M{
				"value":          v.Value,
				"donated_amount": v.DonatedAmount,
				"vote_weight":    v.VoteWeight,
				"updated_at":     v.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":         v.ID,
				"campaign_id": v.CampaignID,
				"created_at":  v.CreatedAt,
			},
		},
		opts,
	).Decode(&out)
	return out, translate(err)
}

// ListByEscrow ...
func (dao *VoteDAO) ListByEscrow(ctx context.Context, escrowID primitive.ObjectID) ([]models.Vote, error) {
	var votes []models.Vote
	cursor, err := dao.Collection.Find(ctx, bson.M{"escrow_id": escrowID})
	if err != nil {
		return nil, err
	}
	err = cursor.All(ctx, &votes)
	return votes, err
}
