package dao

import (
	"context"
	"crowdfund-bend/models"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CampaignDAO represents a campaign DAO
type CampaignDAO struct {
	Collection *mongo.Collection
}

// Insert a campaign into database
func (dao *CampaignDAO) Insert(ctx context.Context, c models.Campaign) error {
	obj, err := bson.Marshal(c)
	if err != nil {
		return err
	}
	_, err = dao.Collection.InsertOne(ctx, obj)
	return translate(err)
}

// FindByID retrieves a campaign by its id
func (dao *CampaignDAO) FindByID(ctx context.Context, id primitive.ObjectID) (models.Campaign, error) {
	var c models.Campaign
	err := dao.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	return c, translate(err)
}

// IncrementFunding applies $inc so concurrent completions never lose an update
func (dao *CampaignDAO) IncrementFunding(ctx context.Context, id primitive.ObjectID, amount int64) (models.Campaign, error) {
	var c models.Campaign
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := dao.Collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"current_amount": amount, "donation_count": 1},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		opts,
	).Decode(&c)
	return c, translate(err)
}

// UpdateStatus ...
func (dao *CampaignDAO) UpdateStatus(ctx context.Context, id primitive.ObjectID, from []models.CampaignStatus, to models.CampaignStatus, reason string, now time.Time) (models.Campaign, error) {
	set := bson.M{"status": to, "updated_at": now}
	if to == models.CampaignCancelled {
		set["cancellation_reason"] = reason
		set["cancelled_at"] = now
	}

	var c models.Campaign
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := dao.Collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": set},
		opts,
	).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return c, ErrConflict
	}
	return c, translate(err)
}

// MarkExpiryProcessed ...
func (dao *CampaignDAO) MarkExpiryProcessed(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	_, err := dao.Collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"expiry_processed_at": now, "updated_at": now}},
	)
	return translate(err)
}

// ListExpired returns live campaigns past their end date that the expiry
// path has not handled yet
func (dao *CampaignDAO) ListExpired(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	return dao.query(ctx, bson.M{
		"status":              bson.M{"$in": []models.CampaignStatus{models.CampaignActive, models.CampaignVoting}},
		"end_date":            bson.M{"$lte": now},
		"expiry_processed_at": bson.M{"$exists": false},
	})
}

func (dao *CampaignDAO) query(ctx context.Context, filter bson.M) ([]models.Campaign, error) {
	var campaigns []models.Campaign

	opts := options.Find()
	opts.SetSort(bson.M{"created_at": 1})

	cursor, err := dao.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	err = cursor.All(ctx, &campaigns)
	return campaigns, err
}
