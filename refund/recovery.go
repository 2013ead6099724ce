package refund

import (
	"context"
	"crowdfund-bend/dao"
	"crowdfund-bend/models"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OpenRecoveryCase opens the claw-back case for money already released to
// the creator. Nothing is opened when nothing was released; an existing case
// is returned as is.
func (en *Engine) OpenRecoveryCase(ctx context.Context, c models.Campaign, totalReleased int64) (*models.RecoveryCase, error) {
	if totalReleased <= 0 {
		return nil, nil
	}

	now := en.machine.Now()
	rc := models.RecoveryCase{
		ID:          primitive.NewObjectID(),
		CampaignID:  c.ID,
		CreatorID:   c.CreatorID,
		TotalAmount: totalReleased,
		Status:      models.RecoveryPending,
		Deadline:    now.Add(en.policy.RecoveryDeadline),
		CreatedAt:   now,
	}
	rc.Append(models.TimelineEntry{
		Action:    models.TimelineOpened,
		Amount:    totalReleased,
		Note:      "Recovery opened for released funds",
		CreatedAt: now,
	})

	err := en.store.Recoveries().Insert(ctx, rc)
	if errors.Is(err, dao.ErrDuplicate) {
		existing, err := en.store.Recoveries().FindByCampaign(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert recovery case: %w", err)
	}
	return &rc, nil
}

// GetRecoveryCase ...
func (en *Engine) GetRecoveryCase(ctx context.Context, id primitive.ObjectID) (models.RecoveryCase, error) {
	rc, err := en.store.Recoveries().FindByID(ctx, id)
	if errors.Is(err, dao.ErrNotFound) {
		return rc, models.NotFound("recovery_case_not_found", "Recovery case not found")
	}
	return rc, err
}

// UpdateRecoveryAmount books money clawed back from the creator. The case
// moves to in_progress, then to completed once everything released came
// back; a case under legal action keeps its status.
func (en *Engine) UpdateRecoveryAmount(ctx context.Context, id primitive.ObjectID, actorID *primitive.ObjectID, amount int64, note string) (models.RecoveryCase, error) {
	if amount <= 0 {
		return models.RecoveryCase{}, models.Validation("invalid_amount", "Recovered amount must be positive")
	}

	var rc models.RecoveryCase
	err := en.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		rc, err = en.GetRecoveryCase(ctx, id)
		if err != nil {
			return err
		}
		if rc.TotalRecovered+amount > rc.TotalAmount {
			return models.Validation("amount_exceeds_outstanding",
				fmt.Sprintf("Only %d of %d is still outstanding", rc.TotalAmount-rc.TotalRecovered, rc.TotalAmount))
		}

		rc.RecoveredAmount += amount
		rc.TotalRecovered += amount
		if rc.Status != models.RecoveryLegalAction {
			if rc.TotalRecovered >= rc.TotalAmount {
				rc.Status = models.RecoveryCompleted
			} else {
				rc.Status = models.RecoveryInProgress
			}
		}
		rc.Append(models.TimelineEntry{
			Action:    models.TimelineRecovered,
			Amount:    amount,
			Note:      note,
			ActorID:   actorID,
			CreatedAt: en.machine.Now(),
		})
		return en.store.Recoveries().Update(ctx, rc)
	})
	return rc, err
}

// ProcessRecoveryRefund hands the undisbursed recovered balance to donors
// still owed money, in proportion to what each is owed. Units lost to
// rounding stay in the balance for the next pass.
func (en *Engine) ProcessRecoveryRefund(ctx context.Context, id primitive.ObjectID) (models.RecoveryDistribution, error) {
	var (
		dist     models.RecoveryDistribution
		campaign models.Campaign
	)
	err := en.store.WithTransaction(ctx, func(ctx context.Context) error {
		dist = models.RecoveryDistribution{}

		rc, err := en.GetRecoveryCase(ctx, id)
		if err != nil {
			return err
		}
		dist.Case = rc
		if rc.RecoveredAmount <= 0 {
			return nil
		}

		owed, err := en.store.Donations().ListPendingRefund(ctx, rc.CampaignID)
		if err != nil {
			return err
		}
		var pool int64
		for _, d := range owed {
			pool += d.RemainingRefundPending
		}
		if pool <= 0 {
			return nil
		}
		payable := rc.RecoveredAmount
		if payable > pool {
			payable = pool
		}

		campaign, err = en.store.Campaigns().FindByID(ctx, rc.CampaignID)
		if err != nil {
			return fmt.Errorf("load campaign: %w", err)
		}

		now := en.machine.Now()
		for _, d := range owed {
			amount := share(payable, d.RemainingRefundPending, pool)
			if amount > d.RemainingRefundPending {
				amount = d.RemainingRefundPending
			}
			if amount <= 0 {
				continue
			}

			d.RefundedAmount += amount
			d.RemainingRefundPending -= amount
			d.RefundRatio = ratio(d.RefundedAmount, d.Amount)
			if d.RemainingRefundPending == 0 {
				d.PaymentStatus = models.PaymentRefunded
			}
			d.UpdatedAt = now
			if err := en.store.Donations().ApplyRefund(ctx, d, models.PaymentPartiallyRefunded); err != nil {
				return fmt.Errorf("apply recovery refund to %s: %w", d.ID.Hex(), err)
			}

			rf, err := en.recordRecoveryRefund(ctx, d, amount, now)
			if err != nil {
				return err
			}
			dist.Distributed += amount
			dist.Refunds = append(dist.Refunds, rf)
		}

		rc.RecoveredAmount -= dist.Distributed
		rc.Append(models.TimelineEntry{
			Action:    models.TimelineRefunded,
			Amount:    dist.Distributed,
			Note:      fmt.Sprintf("Refunded %d donations", len(dist.Refunds)),
			CreatedAt: now,
		})
		if err := en.store.Recoveries().Update(ctx, rc); err != nil {
			return err
		}
		dist.Case = rc
		return nil
	})
	if err != nil {
		return dist, err
	}

	if dist.Distributed > 0 {
		en.machine.InvalidateFunding(ctx, campaign.ID)
		en.NotifyRefunds(ctx, campaign, dist.Refunds)
	}
	return dist, nil
}

// recordRecoveryRefund folds a recovery payout into the donation's refund row
func (en *Engine) recordRecoveryRefund(ctx context.Context, d models.Donation, amount int64, now time.Time) (models.Refund, error) {
	rf, err := en.store.Refunds().FindByDonation(ctx, d.ID)
	if errors.Is(err, dao.ErrNotFound) {
		rf = models.Refund{
			ID:             primitive.NewObjectID(),
			CampaignID:     d.CampaignID,
			DonationID:     d.ID,
			DonorID:        d.DonorID,
			OriginalAmount: d.Amount,
			CreatedAt:      now,
		}
		rf.RefundedAmount = d.RefundedAmount
		rf.RemainingRefund = d.RemainingRefundPending
		rf.RefundRatio = d.RefundRatio
		rf.Status = models.StatusFor(rf.RefundedAmount, rf.RemainingRefund)
		rf.Method = models.RefundMethodRecovery
		rf.UpdatedAt = now
		if err := en.store.Refunds().Insert(ctx, rf); err != nil {
			return rf, fmt.Errorf("insert refund: %w", err)
		}
		return rf, nil
	}
	if err != nil {
		return rf, err
	}

	rf.RefundedAmount += amount
	rf.RemainingRefund -= amount
	if rf.RemainingRefund < 0 {
		rf.RemainingRefund = 0
	}
	rf.RefundRatio = ratio(rf.RefundedAmount, rf.OriginalAmount)
	rf.Status = models.StatusFor(rf.RefundedAmount, rf.RemainingRefund)
	rf.Method = models.RefundMethodRecovery
	rf.UpdatedAt = now
	if err := en.store.Refunds().Update(ctx, rf); err != nil {
		return rf, fmt.Errorf("update refund: %w", err)
	}
	return rf, nil
}

// RecordRecovery books clawed back money and immediately replays it to
// donors, as one unit
func (en *Engine) RecordRecovery(ctx context.Context, id primitive.ObjectID, actor models.Actor, req models.RecoveryReq) (models.RecoveryDistribution, error) {
	if !actor.IsAdmin() {
		return models.RecoveryDistribution{}, models.Forbidden("admin_only", "Only admins can record recoveries")
	}

	var dist models.RecoveryDistribution
	err := en.store.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := en.UpdateRecoveryAmount(ctx, id, &actor.ID, req.Amount, req.Note); err != nil {
			return err
		}
		var err error
		dist, err = en.ProcessRecoveryRefund(ctx, id)
		return err
	})
	return dist, err
}

// Escalate hands the case to legal. Recoveries still post afterwards but the
// status no longer advances on its own.
func (en *Engine) Escalate(ctx context.Context, id primitive.ObjectID, actor models.Actor, req models.EscalateReq) (models.RecoveryCase, error) {
	if !actor.IsAdmin() {
		return models.RecoveryCase{}, models.Forbidden("admin_only", "Only admins can escalate recovery cases")
	}
	if req.LegalCaseID == "" {
		return models.RecoveryCase{}, models.Validation("legal_case_id_required", "An external legal case id is required")
	}

	var rc models.RecoveryCase
	err := en.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		rc, err = en.GetRecoveryCase(ctx, id)
		if err != nil {
			return err
		}
		switch rc.Status {
		case models.RecoveryCompleted:
			return models.Conflict("recovery_completed", "Everything released was already recovered", rc.ID.Hex())
		case models.RecoveryLegalAction:
			return models.Conflict("already_escalated", "Case is already under legal action "+rc.LegalCaseID, rc.ID.Hex())
		}

		rc.Status = models.RecoveryLegalAction
		rc.LegalCaseID = req.LegalCaseID
		rc.Append(models.TimelineEntry{
			Action:    models.TimelineEscalated,
			Note:      req.Note,
			ActorID:   &actor.ID,
			CreatedAt: en.machine.Now(),
		})
		return en.store.Recoveries().Update(ctx, rc)
	})
	return rc, err
}

// FailOverdueCases marks pending or in-progress cases past their deadline as
// failed and returns how many were
func (en *Engine) FailOverdueCases(ctx context.Context) (int, error) {
	overdue, err := en.store.Recoveries().ListOverdue(ctx, en.machine.Now())
	if err != nil {
		return 0, fmt.Errorf("list overdue recoveries: %w", err)
	}

	failed := 0
	for _, candidate := range overdue {
		err := en.store.WithTransaction(ctx, func(ctx context.Context) error {
			rc, err := en.GetRecoveryCase(ctx, candidate.ID)
			if err != nil {
				return err
			}
			now := en.machine.Now()
			if rc.Status != models.RecoveryPending && rc.Status != models.RecoveryInProgress {
				return nil
			}
			if rc.Deadline.After(now) {
				return nil
			}
			rc.Status = models.RecoveryFailed
			rc.Append(models.TimelineEntry{
				Action:    models.TimelineOverdue,
				Amount:    rc.TotalAmount - rc.TotalRecovered,
				Note:      "Recovery deadline passed",
				CreatedAt: now,
			})
			if err := en.store.Recoveries().Update(ctx, rc); err != nil {
				return err
			}
			failed++
			return nil
		})
		if err != nil {
			log.Printf("recovery_overdue_%s: %v", candidate.ID.Hex(), err)
		}
	}
	return failed, nil
}
