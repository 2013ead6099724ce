package escrow

import (
	"context"
	"crowdfund-bend/dao"
	"crowdfund-bend/models"
	"crowdfund-bend/utils/cache"
	"errors"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func requireAdmin(actor models.Actor) error {
	if !actor.IsAdmin() {
		return models.Forbidden("admin_only", "Only admins can adjudicate withdrawal requests")
	}
	return nil
}

// Approve records the admin decision and attempts the transfer. A failed
// transfer leaves the request admin_approved and returns a retryable error.
func (m *Machine) Approve(ctx context.Context, id primitive.ObjectID, actor models.Actor) (models.Escrow, error) {
	if err := requireAdmin(actor); err != nil {
		return models.Escrow{}, err
	}

	e, err := m.Get(ctx, id)
	if err != nil {
		return e, err
	}
	if e.Status != models.EscrowVotingCompleted {
		return e, models.Conflict("not_awaiting_review",
			fmt.Sprintf("Withdrawal request is %s, not voting_completed", e.Status), e.ID.Hex())
	}

	now := m.Now()
	if err := m.transition(ctx, &e, models.EscrowAdminApproved, func(e *models.Escrow) {
		e.AdminReviewedBy = &actor.ID
		e.AdminReviewedAt = &now
	}); err != nil {
		return e, err
	}

	return m.release(ctx, e)
}

// RetryRelease re-attempts the transfer of a request stuck in admin_approved
func (m *Machine) RetryRelease(ctx context.Context, id primitive.ObjectID, actor models.Actor) (models.Escrow, error) {
	if err := requireAdmin(actor); err != nil {
		return models.Escrow{}, err
	}

	e, err := m.Get(ctx, id)
	if err != nil {
		return e, err
	}
	if e.Status != models.EscrowAdminApproved {
		return e, models.Conflict("not_awaiting_release",
			fmt.Sprintf("Withdrawal request is %s, not admin_approved", e.Status), e.ID.Hex())
	}
	return m.release(ctx, e)
}

// release moves funds for an admin_approved request. Only one release per
// request may be in flight.
func (m *Machine) release(ctx context.Context, e models.Escrow) (models.Escrow, error) {
	unlock, err := m.locker.Acquire(ctx, "release:"+e.ID.Hex(), m.policy.SweepLockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return e, models.Conflict("release_in_progress", "A release of this request is already in progress", e.ID.Hex())
	}
	if err != nil {
		return e, err
	}
	defer unlock()

	c, err := m.store.Campaigns().FindByID(ctx, e.CampaignID)
	if err != nil {
		return e, fmt.Errorf("load campaign: %w", err)
	}
	available, err := m.Available(ctx, c)
	if err != nil {
		return e, err
	}
	if e.Amount > available {
		return e, models.Conflict("insufficient_available",
			fmt.Sprintf("Request is for %d but only %d is available", e.Amount, available), c.ID.Hex())
	}

	dest, err := m.store.Users().FindPayoutOption(ctx, c.CreatorID)
	if errors.Is(err, dao.ErrNotFound) {
		return m.transferFailed(ctx, e, "creator has no payout destination")
	}
	if err != nil {
		return e, err
	}

	result, err := m.transfer.InitiateTransfer(ctx, dest.Email, e.Amount, c.Currency)
	if err != nil {
		log.Printf("transfer_err: %v", err)
		return m.transferFailed(ctx, e, err.Error())
	}
	if !result.Success {
		return m.transferFailed(ctx, e, result.Reason)
	}

	now := m.Now()
	due := now.Add(m.policy.ProgressUpdateWindow)
	if err := m.transition(ctx, &e, models.EscrowReleased, func(e *models.Escrow) {
		e.ReleasedAt = &now
		e.ProgressUpdateDueAt = &due
		e.TransferRef = result.TransactionRef
		e.LastTransferError = ""
	}); err != nil {
		// money moved but the write lost; surface loudly for reconciliation
		log.Printf("release_record_err: escrow=%s ref=%s: %v", e.ID.Hex(), result.TransactionRef, err)
		return e, err
	}

	m.InvalidateFunding(ctx, e.CampaignID)
	m.notify(ctx, e, models.TplWithdrawalDone,
		fmt.Sprintf("%d has been released to your payout account", e.Amount),
		map[string]interface{}{
			"Amount":    e.Amount,
			"Reference": result.TransactionRef,
			"UpdateDue": due.Format("2006-01-02"),
		})
	return e, nil
}

func (m *Machine) transferFailed(ctx context.Context, e models.Escrow, reason string) (models.Escrow, error) {
	updated := e
	updated.LastTransferError = reason
	updated.UpdatedAt = m.Now()
	if err := m.store.Escrows().Update(ctx, updated, models.EscrowAdminApproved); err != nil {
		log.Printf("record_transfer_err: %v", err)
	} else {
		e = updated
	}
	return e, models.External("transfer_failed", "Fund transfer failed: "+reason)
}

// Reject closes a tallied request with a reason
func (m *Machine) Reject(ctx context.Context, id primitive.ObjectID, actor models.Actor, reason string) (models.Escrow, error) {
	if err := requireAdmin(actor); err != nil {
		return models.Escrow{}, err
	}
	if reason == "" {
		return models.Escrow{}, models.Validation("reason_required", "A rejection reason is required")
	}

	var e models.Escrow
	err := m.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		e, err = m.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != models.EscrowVotingCompleted {
			return models.Conflict("not_awaiting_review",
				fmt.Sprintf("Withdrawal request is %s, not voting_completed", e.Status), e.ID.Hex())
		}

		now := m.Now()
		if err := m.transition(ctx, &e, models.EscrowAdminRejected, func(e *models.Escrow) {
			e.AdminReviewedBy = &actor.ID
			e.AdminReviewedAt = &now
			e.RejectionReason = reason
		}); err != nil {
			return err
		}
		return m.SettleCampaign(ctx, e.CampaignID)
	})
	if err != nil {
		return e, err
	}

	m.notify(ctx, e, models.TplWithdrawalDenied, "Your withdrawal request was rejected: "+reason,
		map[string]interface{}{"Reason": reason})
	return e, nil
}

// SubmitProgressUpdate records the creator's post-release report
func (m *Machine) SubmitProgressUpdate(ctx context.Context, id primitive.ObjectID, actor models.Actor, content string) (models.Escrow, error) {
	if content == "" {
		return models.Escrow{}, models.Validation("content_required", "Progress update content is required")
	}

	var e models.Escrow
	err := m.store.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		e, err = m.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.RequesterID != actor.ID {
			return models.Forbidden("not_campaign_creator", "Only the campaign creator can post progress updates")
		}
		if e.Status != models.EscrowReleased {
			return models.Conflict("not_released", "Progress updates follow a released withdrawal", e.ID.Hex())
		}
		if e.ProgressUpdateSubmittedAt != nil {
			return models.Conflict("update_already_submitted", "A progress update was already submitted", e.ID.Hex())
		}

		now := m.Now()
		updated := e
		updated.ProgressUpdate = content
		updated.ProgressUpdateSubmittedAt = &now
		updated.UpdatedAt = now
		if err := m.store.Escrows().Update(ctx, updated, models.EscrowReleased); err != nil {
			if errors.Is(err, dao.ErrConflict) {
				return models.Conflict("state_conflict", "Withdrawal request was modified concurrently", e.ID.Hex())
			}
			return err
		}
		e = updated
		return m.SettleCampaign(ctx, e.CampaignID)
	})
	return e, err
}

// SettleCampaign returns a voting campaign to active once nothing is pending:
// no open request and no released request awaiting its progress update. An
// ended campaign with nothing left to withdraw becomes completed instead.
func (m *Machine) SettleCampaign(ctx context.Context, campaignID primitive.ObjectID) error {
	c, err := m.store.Campaigns().FindByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if c.Status != models.CampaignVoting {
		return nil
	}

	requests, err := m.store.Escrows().ListByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	for _, r := range requests {
		if r.Open {
			return nil
		}
		if r.Status == models.EscrowReleased && r.ProgressUpdateSubmittedAt == nil {
			return nil
		}
	}

	next := models.CampaignActive
	now := m.Now()
	if !now.Before(c.EndDate) {
		available, err := m.Available(ctx, c)
		if err != nil {
			return err
		}
		if available <= 0 {
			next = models.CampaignCompleted
		}
	}

	_, err = m.store.Campaigns().UpdateStatus(ctx, campaignID,
		[]models.CampaignStatus{models.CampaignVoting}, next, "", now)
	if err != nil && !errors.Is(err, dao.ErrConflict) {
		return err
	}
	return nil
}
