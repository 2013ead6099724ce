// Package escrow owns the lifecycle of a withdrawal request: creation, the
// voting window, admin adjudication and release of funds to the creator.
package escrow

import (
	"context"
	"crowdfund-bend/config"
	"crowdfund-bend/dao"
	"crowdfund-bend/models"
	"crowdfund-bend/utils/cache"
	"crowdfund-bend/utils/notifications"
	"crowdfund-bend/utils/payment"
	"crowdfund-bend/voting"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Machine ...
type Machine struct {
	store    dao.Store
	transfer payment.Transferer
	notifier notifications.Sender
	cache    cache.Cache
	locker   cache.Locker
	voting   *voting.Service
	policy   config.Policy
	nowFn    func() time.Time
}

// Deps groups the collaborators of a Machine
type Deps struct {
	Store    dao.Store
	Transfer payment.Transferer
	Notifier notifications.Sender
	Cache    cache.Cache
	Locker   cache.Locker
	Voting   *voting.Service
	Policy   config.Policy
}

// NewMachine ...
func NewMachine(d Deps) *Machine {
	return &Machine{
		store:    d.Store,
		transfer: d.Transfer,
		notifier: d.Notifier,
		cache:    d.Cache,
		locker:   d.Locker,
		voting:   d.Voting,
		policy:   d.Policy,
		nowFn:    time.Now,
	}
}

// WithClock replaces the time source
func (m *Machine) WithClock(fn func() time.Time) *Machine {
	m.nowFn = fn
	return m
}

// Now returns the machine's current time
func (m *Machine) Now() time.Time {
	return m.nowFn().UTC()
}

// Get ...
func (m *Machine) Get(ctx context.Context, id primitive.ObjectID) (models.Escrow, error) {
	e, err := m.store.Escrows().FindByID(ctx, id)
	if errors.Is(err, dao.ErrNotFound) {
		return e, models.NotFound("withdrawal_request_not_found", "Withdrawal request not found")
	}
	return e, err
}

// Available returns the campaign total minus everything already released
func (m *Machine) Available(ctx context.Context, c models.Campaign) (int64, error) {
	released, err := m.store.Escrows().SumReleased(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("sum released: %w", err)
	}
	return c.CurrentAmount - released, nil
}

// transition applies a legal status change through a guarded write. A writer
// that lost a race gets a state conflict naming the request.
func (m *Machine) transition(ctx context.Context, e *models.Escrow, next models.EscrowStatus, mutate func(e *models.Escrow)) error {
	if !e.Status.CanTransitionTo(next) {
		return models.Conflict("invalid_transition",
			fmt.Sprintf("Withdrawal request cannot move from %s to %s", e.Status, next), e.ID.Hex())
	}
	expected := e.Status
	updated := *e
	updated.SetStatus(next, m.Now())
	if mutate != nil {
		mutate(&updated)
	}

	err := m.store.Escrows().Update(ctx, updated, expected)
	if errors.Is(err, dao.ErrConflict) {
		return models.Conflict("state_conflict",
			"Withdrawal request was modified concurrently", e.ID.Hex())
	}
	if errors.Is(err, dao.ErrDuplicate) {
		return models.Conflict("open_request_exists",
			"Campaign already has an open withdrawal request", e.CampaignID.Hex())
	}
	if err != nil {
		return err
	}
	*e = updated
	return nil
}

// insert persists a new pending request, mapping the one-open-request index
// violation to a conflict
func (m *Machine) insert(ctx context.Context, e models.Escrow) error {
	err := m.store.Escrows().Insert(ctx, e)
	if errors.Is(err, dao.ErrDuplicate) {
		return models.Conflict("open_request_exists",
			"Campaign already has an open withdrawal request", e.CampaignID.Hex())
	}
	return err
}

// openVoting starts the voting window and moves an active campaign to voting
func (m *Machine) openVoting(ctx context.Context, e *models.Escrow, period time.Duration) error {
	now := m.Now()
	end := now.Add(period)
	err := m.transition(ctx, e, models.EscrowVotingInProgress, func(e *models.Escrow) {
		e.VotingStartDate = &now
		e.VotingEndDate = &end
	})
	if err != nil {
		return err
	}

	_, err = m.store.Campaigns().UpdateStatus(ctx, e.CampaignID,
		[]models.CampaignStatus{models.CampaignActive}, models.CampaignVoting, "", now)
	if err != nil && !errors.Is(err, dao.ErrConflict) {
		return err
	}
	return nil
}

// CreateAuto creates a milestone or expiry request for amount and opens its
// voting window. It must run inside the caller's transaction.
func (m *Machine) CreateAuto(ctx context.Context, c models.Campaign, amount int64, milestone *int, reason string) (models.Escrow, error) {
	now := m.Now()
	e := models.Escrow{
		ID:                  primitive.NewObjectID(),
		CampaignID:          c.ID,
		RequesterID:         c.CreatorID,
		Amount:              amount,
		Reason:              reason,
		MilestonePercentage: milestone,
		AutoCreated:         true,
		Status:              models.EscrowPendingVoting,
		Open:                true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.insert(ctx, e); err != nil {
		return e, err
	}
	if err := m.openVoting(ctx, &e, m.policy.MilestoneVotingPeriod); err != nil {
		return e, err
	}
	return e, nil
}

// CreateManual lets the campaign creator request a withdrawal of up to the
// available balance
func (m *Machine) CreateManual(ctx context.Context, campaignID primitive.ObjectID, actor models.Actor, req models.WithdrawalReq) (models.Escrow, error) {
	if req.Amount <= 0 {
		return models.Escrow{}, models.Validation("invalid_amount", "Withdrawal amount must be positive")
	}
	if req.Reason == "" {
		return models.Escrow{}, models.Validation("reason_required", "A reason is required for a withdrawal request")
	}

	var e models.Escrow
	err := m.store.WithTransaction(ctx, func(ctx context.Context) error {
		c, err := m.store.Campaigns().FindByID(ctx, campaignID)
		if errors.Is(err, dao.ErrNotFound) {
			return models.NotFound("campaign_not_found", "Campaign not found")
		}
		if err != nil {
			return err
		}
		if c.CreatorID != actor.ID {
			return models.Forbidden("not_campaign_creator", "Only the campaign creator can request a withdrawal")
		}
		if c.Status != models.CampaignActive {
			return models.Conflict("campaign_not_active",
				"Withdrawals can only be requested on an active campaign", c.ID.Hex())
		}

		open, err := m.store.Escrows().ListOpen(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return models.Conflict("open_request_exists",
				fmt.Sprintf("Withdrawal request %s is still %s", open[0].ID.Hex(), open[0].Status),
				open[0].ID.Hex())
		}

		available, err := m.Available(ctx, c)
		if err != nil {
			return err
		}
		if req.Amount > available {
			return models.Validation("amount_exceeds_available",
				fmt.Sprintf("Requested %d but only %d is available", req.Amount, available))
		}

		now := m.Now()
		e = models.Escrow{
			ID:          primitive.NewObjectID(),
			CampaignID:  c.ID,
			RequesterID: actor.ID,
			Amount:      req.Amount,
			Reason:      req.Reason,
			Status:      models.EscrowPendingVoting,
			Open:        true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.insert(ctx, e); err != nil {
			return err
		}
		return m.openVoting(ctx, &e, m.policy.ManualVotingPeriod)
	})
	if err != nil {
		return models.Escrow{}, err
	}

	m.InvalidateFunding(ctx, campaignID)
	m.AnnounceVoting(ctx, e)
	return e, nil
}

// Cancel moves a non-terminal request to cancelled
func (m *Machine) Cancel(ctx context.Context, e models.Escrow, reason string) (models.Escrow, error) {
	err := m.transition(ctx, &e, models.EscrowCancelled, func(e *models.Escrow) {
		e.CancellationReason = reason
	})
	return e, err
}

// Finalize closes an expired voting window and records the tally. The
// outcome is informational; the request always moves to voting_completed.
func (m *Machine) Finalize(ctx context.Context, id primitive.ObjectID) (models.Escrow, error) {
	e, err := m.Get(ctx, id)
	if err != nil {
		return e, err
	}
	if e.Status != models.EscrowVotingInProgress {
		return e, models.Conflict("voting_not_open", "Voting is not in progress on this request", e.ID.Hex())
	}
	if e.VotingEndDate != nil && m.Now().Before(*e.VotingEndDate) {
		return e, models.Conflict("voting_still_open", "The voting period has not ended", e.ID.Hex())
	}

	tally, err := m.voting.Tally(ctx, e.ID)
	if err != nil {
		return e, err
	}
	if err := m.transition(ctx, &e, models.EscrowVotingCompleted, func(e *models.Escrow) {
		e.Tally = &tally
	}); err != nil {
		return e, err
	}

	m.notify(ctx, e, models.TplVotingClosed,
		fmt.Sprintf("Voting closed: %.2f%% approve, %.2f%% reject", tally.ApprovePercentage, tally.RejectPercentage),
		map[string]interface{}{
			"ApprovePercentage": tally.ApprovePercentage,
			"RejectPercentage":  tally.RejectPercentage,
		})
	return e, nil
}

// ListForReview returns requests in the given status, voting_completed by
// default
func (m *Machine) ListForReview(ctx context.Context, status string) ([]models.Escrow, error) {
	s := models.EscrowVotingCompleted
	if status != "" {
		parsed, err := models.ParseEscrowStatus(status)
		if err != nil {
			return nil, err
		}
		s = parsed
	}
	return m.store.Escrows().ListByStatus(ctx, s)
}

// InvalidateFunding drops the cached funding summary of a campaign
func (m *Machine) InvalidateFunding(ctx context.Context, campaignID primitive.ObjectID) {
	if err := m.cache.Delete(ctx, cache.FundingKey(campaignID.Hex())); err != nil {
		log.Printf("funding_cache_invalidate: %v", err)
	}
}
