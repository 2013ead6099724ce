// Package refund unwinds a cancelled campaign: proportional refunds of the
// money still held, and a recovery case for money already paid out.
package refund

import (
	"context"
	"crowdfund-bend/config"
	"crowdfund-bend/dao"
	"crowdfund-bend/escrow"
	"crowdfund-bend/models"
	"crowdfund-bend/utils/notifications"
	"crowdfund-bend/utils/payment"
	"crowdfund-bend/voting"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AutoCancelReason is recorded on campaigns cancelled for ignoring the
// progress update warning
const AutoCancelReason = "Campaign cancelled automatically: no progress update after the overdue warning"

// Engine ...
type Engine struct {
	store    dao.Store
	machine  *escrow.Machine
	voting   *voting.Service
	notifier notifications.Sender
	policy   config.Policy
}

// Deps groups the collaborators of an Engine
type Deps struct {
	Store    dao.Store
	Machine  *escrow.Machine
	Voting   *voting.Service
	Notifier notifications.Sender
	Policy   config.Policy
}

// NewEngine ...
func NewEngine(d Deps) *Engine {
	return &Engine{
		store:    d.Store,
		machine:  d.Machine,
		voting:   d.Voting,
		notifier: d.Notifier,
		policy:   d.Policy,
	}
}

// share returns floor(amount * num / den) without overflowing int64
func share(amount, num, den int64) int64 {
	if den <= 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(num)).QuoRem(decimal.NewFromInt(den), 0)
	return q.IntPart()
}

func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), 6).InexactFloat64()
}

// CancelCampaign cancels a campaign on an admin's behalf
func (en *Engine) CancelCampaign(ctx context.Context, campaignID primitive.ObjectID, actor models.Actor, reason string) (models.RefundSummary, error) {
	if !actor.IsAdmin() {
		return models.RefundSummary{}, models.Forbidden("admin_only", "Only admins can cancel campaigns")
	}
	from := []models.CampaignStatus{
		models.CampaignPending, models.CampaignActive, models.CampaignVoting, models.CampaignCompleted,
	}
	return en.cancel(ctx, campaignID, from, reason)
}

// AutoCancel cancels a campaign still in voting whose creator ignored the
// overdue warning
func (en *Engine) AutoCancel(ctx context.Context, campaignID primitive.ObjectID) (models.RefundSummary, error) {
	return en.cancel(ctx, campaignID, []models.CampaignStatus{models.CampaignVoting}, AutoCancelReason)
}

// cancel moves the campaign to cancelled, closes its open requests, refunds
// what is still held and opens the recovery case, all in one transaction
func (en *Engine) cancel(ctx context.Context, campaignID primitive.ObjectID, from []models.CampaignStatus, reason string) (models.RefundSummary, error) {
	if reason == "" {
		return models.RefundSummary{}, models.Validation("reason_required", "A cancellation reason is required")
	}

	var (
		summary  models.RefundSummary
		campaign models.Campaign
	)
	err := en.store.WithTransaction(ctx, func(ctx context.Context) error {
		summary = models.RefundSummary{}

		c, err := en.store.Campaigns().UpdateStatus(ctx, campaignID, from, models.CampaignCancelled, reason, en.machine.Now())
		if errors.Is(err, dao.ErrConflict) {
			current, ferr := en.store.Campaigns().FindByID(ctx, campaignID)
			if errors.Is(ferr, dao.ErrNotFound) {
				return models.NotFound("campaign_not_found", "Campaign not found")
			}
			if ferr != nil {
				return ferr
			}
			return models.Conflict("campaign_not_cancellable",
				fmt.Sprintf("Campaign is %s and cannot be cancelled", current.Status), campaignID.Hex())
		}
		if err != nil {
			return fmt.Errorf("cancel campaign: %w", err)
		}
		campaign = c

		open, err := en.store.Escrows().ListOpen(ctx, c.ID)
		if err != nil {
			return err
		}
		var cancelled []primitive.ObjectID
		for _, e := range open {
			if _, err := en.machine.Cancel(ctx, e, "Campaign cancelled: "+reason); err != nil {
				return err
			}
			cancelled = append(cancelled, e.ID)
		}

		summary, err = en.ProcessProportionalRefund(ctx, c)
		if err != nil {
			return err
		}
		summary.Cancelled = cancelled

		rc, err := en.OpenRecoveryCase(ctx, c, summary.TotalReleased)
		if err != nil {
			return err
		}
		summary.RecoveryCase = rc
		return nil
	})
	if err != nil {
		return summary, err
	}

	en.machine.InvalidateFunding(ctx, campaignID)
	en.voting.Invalidate(ctx, campaignID)

	en.notifier.Send(ctx, models.Message{
		Template:   models.TplCampaignCanceled,
		Recipient:  campaign.CreatorID,
		CampaignID: campaign.ID,
		Body:       "Your campaign " + campaign.Title + " was cancelled: " + reason,
		Type:       models.CampaignN,
		Action:     models.AInfo,
		Data:       map[string]interface{}{"Campaign": campaign.Title, "Reason": reason},
	})
	en.NotifyRefunds(ctx, campaign, summary.Refunds)
	return summary, nil
}

// ProcessProportionalRefund refunds every completed donation of a cancelled
// campaign by the share of the total that is still held. Donations already
// processed by an earlier pass are skipped. It joins the caller's transaction
// when there is one.
func (en *Engine) ProcessProportionalRefund(ctx context.Context, c models.Campaign) (models.RefundSummary, error) {
	var summary models.RefundSummary
	err := en.store.WithTransaction(ctx, func(ctx context.Context) error {
		released, err := en.store.Escrows().SumReleased(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("sum released: %w", err)
		}
		summary = models.RefundSummary{
			CampaignID:    c.ID,
			TotalDonated:  c.CurrentAmount,
			TotalReleased: released,
			Available:     c.CurrentAmount - released,
		}
		if summary.TotalDonated <= 0 {
			return nil
		}

		// nothing held: every donation is owed in full from recovery
		held := summary.Available
		if held < 0 {
			held = 0
		}
		summary.RefundRatio = ratio(held, summary.TotalDonated)

		donations, err := en.store.Donations().ListCompleted(ctx, c.ID)
		if err != nil {
			return err
		}
		now := en.machine.Now()
		for _, d := range donations {
			refunded := share(d.Amount, held, summary.TotalDonated)
			remaining := d.Amount - refunded

			rf := models.Refund{
				ID:              primitive.NewObjectID(),
				CampaignID:      c.ID,
				DonationID:      d.ID,
				DonorID:         d.DonorID,
				OriginalAmount:  d.Amount,
				RefundedAmount:  refunded,
				RefundRatio:     summary.RefundRatio,
				RemainingRefund: remaining,
				Status:          models.StatusFor(refunded, remaining),
				Method:          models.RefundMethodEscrow,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if refunded == 0 {
				rf.Method = models.RefundMethodRecovery
			}
			err := en.store.Refunds().Insert(ctx, rf)
			if errors.Is(err, dao.ErrDuplicate) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert refund: %w", err)
			}

			d.RefundedAmount = refunded
			d.RefundRatio = summary.RefundRatio
			d.RemainingRefundPending = remaining
			d.PaymentStatus = models.PaymentPartiallyRefunded
			if released == 0 || remaining <= 0 {
				d.PaymentStatus = models.PaymentRefunded
				d.RemainingRefundPending = 0
			}
			d.UpdatedAt = now
			if err := en.store.Donations().ApplyRefund(ctx, d, models.PaymentCompleted); err != nil {
				return fmt.Errorf("apply refund to %s: %w", d.ID.Hex(), err)
			}

			summary.TotalRefunded += refunded
			summary.Refunds = append(summary.Refunds, rf)
		}
		return nil
	})
	return summary, err
}

// ListRefunds ...
func (en *Engine) ListRefunds(ctx context.Context, campaignID primitive.ObjectID) ([]models.Refund, error) {
	return en.store.Refunds().ListByCampaign(ctx, campaignID)
}

// RefundLateDonation hands a donation that completed after its campaign was
// cancelled back to the donor in full. None of it was ever released, so it
// needs no recovery. It joins the caller's transaction.
func (en *Engine) RefundLateDonation(ctx context.Context, c models.Campaign, d models.Donation) (models.Refund, models.Donation, error) {
	if c.Status != models.CampaignCancelled {
		return models.Refund{}, d, models.Conflict("campaign_not_cancelled",
			"Only donations to a cancelled campaign are refunded on arrival", c.ID.Hex())
	}

	now := en.machine.Now()
	rf := models.Refund{
		ID:              primitive.NewObjectID(),
		CampaignID:      c.ID,
		DonationID:      d.ID,
		DonorID:         d.DonorID,
		OriginalAmount:  d.Amount,
		RefundedAmount:  d.Amount,
		RefundRatio:     1,
		RemainingRefund: 0,
		Status:          models.RefundCompleted,
		Method:          models.RefundMethodEscrow,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := en.store.Refunds().Insert(ctx, rf); err != nil {
		return rf, d, fmt.Errorf("insert late refund: %w", err)
	}

	d.RefundedAmount = d.Amount
	d.RefundRatio = 1
	d.RemainingRefundPending = 0
	d.PaymentStatus = models.PaymentRefunded
	d.UpdatedAt = now
	if err := en.store.Donations().ApplyRefund(ctx, d, models.PaymentCompleted); err != nil {
		return rf, d, fmt.Errorf("apply late refund to %s: %w", d.ID.Hex(), err)
	}

	log.Printf("late_donation_refunded: campaign=%s donation=%s amount=%d", c.ID.Hex(), d.ID.Hex(), d.Amount)
	return rf, d, nil
}

// NotifyRefunds tells each donor what was refunded and what is still owed
func (en *Engine) NotifyRefunds(ctx context.Context, c models.Campaign, refunds []models.Refund) {
	for _, rf := range refunds {
		remaining := ""
		if rf.RemainingRefund > 0 {
			remaining = payment.FormatAmount(rf.RemainingRefund) + " " + c.Currency
		}
		en.notifier.Send(ctx, models.Message{
			Template:   models.TplRefundProcessed,
			Recipient:  rf.DonorID,
			CampaignID: c.ID,
			Body: fmt.Sprintf("Refunded %s of your %s donation to %s",
				payment.FormatAmount(rf.RefundedAmount), payment.FormatAmount(rf.OriginalAmount), c.Title),
			Type:   models.RefundN,
			Action: models.APayment,
			Data: map[string]interface{}{
				"Campaign":  c.Title,
				"Refunded":  payment.FormatAmount(rf.RefundedAmount) + " " + c.Currency,
				"Original":  payment.FormatAmount(rf.OriginalAmount) + " " + c.Currency,
				"Remaining": remaining,
			},
		})
	}
	if len(refunds) > 0 {
		log.Printf("refunds_notified: campaign=%s count=%d", c.ID.Hex(), len(refunds))
	}
}
