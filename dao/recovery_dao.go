package dao

import (
	"context"
	"crowdfund-bend/models"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// RecoveryDAO ...
type RecoveryDAO struct {
	Collection *mongo.Collection
}

// Insert a recovery case; the unique campaign_id index keeps it one per campaign
func (dao *RecoveryDAO) Insert(ctx context.Context, rc models.RecoveryCase) error {
	obj, err := bson.Marshal(rc)
	if err != nil {
		return err
	}
	_, err = dao.Collection.InsertOne(ctx, obj)
	return translate(err)
}

// FindByID ...
func (dao *RecoveryDAO) FindByID(ctx context.Context, id primitive.ObjectID) (models.RecoveryCase, error) {
	var rc models.RecoveryCase
	err := dao.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rc)
	return rc, translate(err)
}

// FindByCampaign ...
func (dao *RecoveryDAO) FindByCampaign(ctx context.Context, campaignID primitive.ObjectID) (models.RecoveryCase, error) {
	var rc models.RecoveryCase
	err := dao.Collection.FindOne(ctx, bson.M{"campaign_id": campaignID}).Decode(&rc)
	return rc, translate(err)
}

// Update ...
func (dao *RecoveryDAO) Update(ctx context.Context, rc models.RecoveryCase) error {
	_, err := dao.Collection.UpdateOne(ctx, bson.M{"_id": rc.ID}, bson.M{"$set": rc})
	return translate(err)
}

// ListOverdue returns open cases past their deadline
func (dao *RecoveryDAO) ListOverdue(ctx context.Context, now time.Time) ([]models.RecoveryCase, error) {
	var cases []models.RecoveryCase
	cursor, err := dao.Collection.Find(ctx, bson.M{
		"status":   bson.M{"$in": []models.RecoveryStatus{models.RecoveryPending, models.RecoveryInProgress}},
		"deadline": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, err
	}
	err = cursor.All(ctx, &cases)
	return cases, err
}
