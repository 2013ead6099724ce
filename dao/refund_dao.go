package dao

import (
	"context"
	"crowdfund-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RefundDAO ...
type RefundDAO struct {
	Collection *mongo.Collection
}

// Insert a refund; one per donation
func (dao *RefundDAO) Insert(ctx context.Context, r models.Refund) error {
	obj, err := bson.Marshal(r)
	if err != nil {
		return err
	}
	_, err = dao.Collection.InsertOne(ctx, obj)
	return translate(err)
}

// FindByDonation ...
func (dao *RefundDAO) FindByDonation(ctx context.Context, donationID primitive.ObjectID) (models.Refund, error) {
	var r models.Refund
	err := dao.Collection.FindOne(ctx, bson.M{"donation_id": donationID}).Decode(&r)
	return r, translate(err)
}

// Update ...
func (dao *RefundDAO) Update(ctx context.Context, r models.Refund) error {
	_, err := dao.Collection.UpdateOne(ctx, bson.M{"_id": r.ID}, bson.M{"$set": r})
	return translate(err)
}

// ListByCampaign ...
func (dao *RefundDAO) ListByCampaign(ctx context.Context, campaignID primitive.ObjectID) ([]models.Refund, error) {
	var refunds []models.Refund

	opts := options.Find()
	opts.SetSort(bson.M{"created_at": 1})

	cursor, err := dao.Collection.Find(ctx, bson.M{"campaign_id": campaignID}, opts)
	if err != nil {
		return nil, err
	}
	err = cursor.All(ctx, &refunds)
	return refunds, err
}
