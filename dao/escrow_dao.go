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

// EscrowDAO stores withdrawal requests
type EscrowDAO struct {
	Collection *mongo.Collection
}

// Insert a withdrawal request. The partial unique index on is_open turns a
// second open request into ErrDuplicate.
func (dao *EscrowDAO) Insert(ctx context.Context, e models.Escrow) error {
	obj, err := bson.Marshal(e)
	if err != nil {
		return err
	}
	_, err = dao.Collection.InsertOne(ctx, obj)
	return translate(err)
}

// FindByID ...
func (dao *EscrowDAO) FindByID(ctx context.Context, id primitive.ObjectID) (models.Escrow, error) {
	var e models.Escrow
	err := dao.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	return e, translate(err)
}

// Update replaces the request only while it is still in the expected status
func (dao *EscrowDAO) Update(ctx context.Context, e models.Escrow, expected models.EscrowStatus) error {
	obj, err := bson.Marshal(e)
	if err != nil {
		return err
	}
	res, err := dao.Collection.ReplaceOne(ctx, bson.M{"_id": e.ID, "request_status": expected}, obj)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

// ListOpen ...
func (dao *EscrowDAO) ListOpen(ctx context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error) {
	return dao.query(ctx, bson.M{"campaign_id": campaignID, "is_open": true})
}

// ListAutoCreated ...
func (dao *EscrowDAO) ListAutoCreated(ctx context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error) {
	return dao.query(ctx, bson.M{"campaign_id": campaignID, "auto_created": true})
}

// ListByCampaign ...
func (dao *EscrowDAO) ListByCampaign(ctx context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error) {
	return dao.query(ctx, bson.M{"campaign_id": campaignID})
}

// SumReleased totals the released withdrawal amounts of a campaign
func (dao *EscrowDAO) SumReleased(ctx context.Context, campaignID primitive.ObjectID) (int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"campaign_id": campaignID, "request_status": models.EscrowReleased}},
		{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$withdrawal_request_amount"}}},
	}
	cursor, err := dao.Collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}

	var out []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, nil
	}
	return out[0].Total, nil
}

// ListByStatus ...
func (dao *EscrowDAO) ListByStatus(ctx context.Context, status models.EscrowStatus) ([]models.Escrow, error) {
	return dao.query(ctx, bson.M{"request_status": status})
}

// ListVotingExpired ...
func (dao *EscrowDAO) ListVotingExpired(ctx context.Context, now time.Time) ([]models.Escrow, error) {
	return dao.query(ctx, bson.M{
		"request_status":  models.EscrowVotingInProgress,
		"voting_end_date": bson.M{"$lte": now},
	})
}

// ListUpdateOverdue ...
func (dao *EscrowDAO) ListUpdateOverdue(ctx context.Context, now time.Time) ([]models.Escrow, error) {
	return dao.query(ctx, bson.M{
		"request_status":               models.EscrowReleased,
		"progress_update_due_at":       bson.M{"$lte": now},
		"progress_update_submitted_at": bson.M{"$exists": false},
		"warning_email_sent_at":        bson.M{"$exists": false},
	})
}

// ListWarnedBefore ...
func (dao *EscrowDAO) ListWarnedBefore(ctx context.Context, cutoff time.Time) ([]models.Escrow, error) {
	return dao.query(ctx, bson.M{
		"request_status":               models.EscrowReleased,
		"progress_update_submitted_at": bson.M{"$exists": false},
		"warning_email_sent_at":        bson.M{"$lte": cutoff},
	})
}

// MarkWarningSent stamps warning_email_sent_at once
func (dao *EscrowDAO) MarkWarningSent(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	res, err := dao.Collection.UpdateOne(ctx,
		bson.M{"_id": id, "warning_email_sent_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"warning_email_sent_at": now, "updated_at": now}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (dao *EscrowDAO) query(ctx context.Context, filter bson.M) ([]models.Escrow, error) {
	var escrows []models.Escrow

	opts := options.Find()
	opts.SetSort(bson.M{"created_at": 1})

	cursor, err := dao.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	err = cursor.All(ctx, &escrows)
	return escrows, err
}
