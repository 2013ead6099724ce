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

var settledStatuses = []models.PaymentStatus{
	models.PaymentCompleted,
	models.PaymentRefunded,
	models.PaymentPartiallyRefunded,
}

// DonationDAO represents a donation DAO
type DonationDAO struct {
	Collection *mongo.Collection
}

// Insert a donation; ErrDuplicate on a reused invoice number
func (dao *DonationDAO) Insert(ctx context.Context, d models.Donation) error {
	obj, err := bson.Marshal(d)
	if err != nil {
		return err
	}
	_, err = dao.Collection.InsertOne(ctx, obj)
	return translate(err)
}

// FindByID ...
func (dao *DonationDAO) FindByID(ctx context.Context, id primitive.ObjectID) (models.Donation, error) {
	return dao.findOne(ctx, bson.M{"_id": id})
}

// FindByInvoice ...
func (dao *DonationDAO) FindByInvoice(ctx context.Context, invoice string) (models.Donation, error) {
	return dao.findOne(ctx, bson.M{"order_invoice_number": invoice})
}

// SetProviderOrder ...
func (dao *DonationDAO) SetProviderOrder(ctx context.Context, id primitive.ObjectID, providerOrderID string) error {
	_, err := dao.Collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"provider_order_id": providerOrderID, "updated_at": time.Now().UTC()}},
	)
	return translate(err)
}

// MarkCompleted is the guarded transition: the filter excludes settled
// donations, so of two racing callbacks only one matches
func (dao *DonationDAO) MarkCompleted(ctx context.Context, invoice, providerTxID string, paidAt time.Time, payload string) (models.Donation, bool, error) {
	set := bson.M{
		"payment_status":   models.PaymentCompleted,
		"paid_at":          paidAt,
		"provider_payload": payload,
		"updated_at":       time.Now().UTC(),
	}
	if providerTxID != "" {
		set["provider_transaction_id"] = providerTxID
	}
	return dao.guardedUpdate(ctx,
		bson.M{"order_invoice_number": invoice, "payment_status": bson.M{"$nin": settledStatuses}},
		bson.M{"$set": set},
	)
}

// MarkFailed ...
func (dao *DonationDAO) MarkFailed(ctx context.Context, invoice string, status models.PaymentStatus, payload string, now time.Time) (models.Donation, bool, error) {
	return dao.guardedUpdate(ctx,
		bson.M{"order_invoice_number": invoice, "payment_status": models.PaymentPending},
		bson.M{"$set": bson.M{"payment_status": status, "provider_payload": payload, "updated_at": now}},
	)
}

// MarkMailSent ...
func (dao *DonationDAO) MarkMailSent(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	res, err := dao.Collection.UpdateOne(ctx,
		bson.M{"_id": id, "mail_sent_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"mail_sent_at": now}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// ListCompleted ...
func (dao *DonationDAO) ListCompleted(ctx context.Context, campaignID primitive.ObjectID) ([]models.Donation, error) {
	return dao.query(ctx, bson.M{"campaign_id": campaignID, "payment_status": models.PaymentCompleted})
}

// ListPendingRefund returns donations still owed money from recovery
func (dao *DonationDAO) ListPendingRefund(ctx context.Context, campaignID primitive.ObjectID) ([]models.Donation, error) {
	return dao.query(ctx, bson.M{
		"campaign_id":              campaignID,
		"payment_status":           models.PaymentPartiallyRefunded,
		"remaining_refund_pending": bson.M{"$gt": 0},
	})
}

// SumCompletedByDonor aggregates a donor's completed donations to a campaign
func (dao *DonationDAO) SumCompletedByDonor(ctx context.Context, campaignID, donorID primitive.ObjectID) (int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{
			"campaign_id":    campaignID,
			"donor_id":       donorID,
			"payment_status": models.PaymentCompleted,
		}},
		{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}}},
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

// ApplyRefund ...
func (dao *DonationDAO) ApplyRefund(ctx context.Context, d models.Donation, expected models.PaymentStatus) error {
	res, err := dao.Collection.UpdateOne(ctx,
		bson.M{"_id": d.ID, "payment_status": expected},
		bson.M{"$set": bson.M{
			"payment_status":           d.PaymentStatus,
			"refunded_amount":          d.RefundedAmount,
			"refund_ratio":             d.RefundRatio,
			"remaining_refund_pending": d.RemainingRefundPending,
			"updated_at":               d.UpdatedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (dao *DonationDAO) guardedUpdate(ctx context.Context, filter, update bson.M) (models.Donation, bool, error) {
	var d models.Donation
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := dao.Collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}
	return d, true, nil
}

func (dao *DonationDAO) findOne(ctx context.Context, filter bson.M) (models.Donation, error) {
	var d models.Donation
	err := dao.Collection.FindOne(ctx, filter).Decode(&d)
	return d, translate(err)
}

func (dao *DonationDAO) query(ctx context.Context, filter bson.M) ([]models.Donation, error) {
	var donations []models.Donation

	opts := options.Find()
	opts.SetSort(bson.M{"created_at": 1})

	cursor, err := dao.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	err = cursor.All(ctx, &donations)
	return donations, err
}
