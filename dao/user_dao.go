package dao

import (
	"context"
	"crowdfund-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserDAO represents a user DAO
type UserDAO struct {
	Collection    *mongo.Collection
	payoutOptions *mongo.Collection
}

// FindByID ... get a user by its id
func (dao *UserDAO) FindByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	var user models.User
	err := dao.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	return user, translate(err)
}

// FindPayoutOption returns the payout destination registered by userID
func (dao *UserDAO) FindPayoutOption(ctx context.Context, userID primitive.ObjectID) (models.PayoutOption, error) {
	var opt models.PayoutOption
	err := dao.payoutOptions.FindOne(ctx, bson.M{"user_id": userID}).Decode(&opt)
	return opt, translate(err)
}

// UpsertPayoutOption replaces the user's payout destination
func (dao *UserDAO) UpsertPayoutOption(ctx context.Context, opt models.PayoutOption) error {
	_, err := dao.payoutOptions.UpdateOne(ctx,
		bson.M{"user_id": opt.UserID},
		bson.M{
			"$set": bson.M{
				"type":       opt.Type,
				"email":      opt.Email,
				"updated_at": opt.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        opt.ID,
				"created_at": opt.CreatedAt,
			},
		},
		options.Update().SetUpsert(true),
	)
	return translate(err)
}
