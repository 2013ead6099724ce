// Package milestone opens withdrawal requests as a campaign's funding crosses
// its milestones and when the campaign ends with money left to withdraw.
package milestone

import (
	"context"
	"crowdfund-bend/dao"
	"crowdfund-bend/escrow"
	"crowdfund-bend/models"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ExpiryMilestone is the milestone an expiry request is tagged with when the
// campaign defines it
const ExpiryMilestone = 100

// Engine ...
type Engine struct {
	store   dao.Store
	machine *escrow.Machine
}

// NewEngine ...
func NewEngine(store dao.Store, machine *escrow.Machine) *Engine {
	return &Engine{store: store, machine: machine}
}

// Evaluate opens a request for the highest newly reached milestone, cancelling
// lower milestone requests it supersedes. It must run inside the transaction
// that changed the campaign total. The created request, if any, is returned
// so the caller can announce it after commit.
func (en *Engine) Evaluate(ctx context.Context, c models.Campaign) (*models.Escrow, error) {
	if !c.Status.AcceptsDonations() {
		return nil, nil
	}

	auto, err := en.store.Escrows().ListAutoCreated(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list auto requests: %w", err)
	}
	target, ok := Select(c.MilestonePercentages(), c.CurrentAmount, c.GoalAmount, auto)
	if !ok {
		return nil, nil
	}

	open, err := en.store.Escrows().ListOpen(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list open requests: %w", err)
	}
	if blocking := Blocking(target, open); len(blocking) > 0 {
		log.Printf("milestone_%d_deferred: campaign=%s open=%s", target, c.ID.Hex(), blocking[0].ID.Hex())
		return nil, nil
	}
	for _, e := range Superseded(target, open) {
		if _, err := en.machine.Cancel(ctx, e, fmt.Sprintf("Superseded by the %d%% milestone", target)); err != nil {
			return nil, err
		}
	}

	available, err := en.machine.Available(ctx, c)
	if err != nil {
		return nil, err
	}
	if available <= 0 {
		return nil, nil
	}

	m := target
	e, err := en.machine.CreateAuto(ctx, c, available, &m,
		fmt.Sprintf("Campaign reached its %d%% milestone", target))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// HandleExpiry opens a request for the remaining balance of an ended
// campaign. It is skipped while any request is open so it can be retried by
// the next sweep; once handled the campaign is stamped expiry_processed_at.
func (en *Engine) HandleExpiry(ctx context.Context, campaignID primitive.ObjectID) (*models.Escrow, error) {
	var created *models.Escrow
	err := en.store.WithTransaction(ctx, func(ctx context.Context) error {
		created = nil
		c, err := en.store.Campaigns().FindByID(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("load campaign: %w", err)
		}
		if c.ExpiryProcessedAt != nil || !c.Status.AcceptsDonations() {
			return nil
		}
		if en.machine.Now().Before(c.EndDate) {
			return nil
		}

		open, err := en.store.Escrows().ListOpen(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return nil
		}

		available, err := en.machine.Available(ctx, c)
		if err != nil {
			return err
		}
		if available > 0 {
			var tag *int
			reason := "Campaign ended: remaining balance"
			if c.HasMilestone(ExpiryMilestone) {
				auto, err := en.store.Escrows().ListAutoCreated(ctx, c.ID)
				if err != nil {
					return err
				}
				if !Consumed(auto)[ExpiryMilestone] {
					m := ExpiryMilestone
					tag = &m
					reason = fmt.Sprintf("Campaign ended: %d%% milestone", ExpiryMilestone)
				}
			}
			e, err := en.machine.CreateAuto(ctx, c, available, tag, reason)
			if err != nil {
				return err
			}
			created = &e
		}

		return en.store.Campaigns().MarkExpiryProcessed(ctx, c.ID, en.machine.Now())
	})
	if err != nil {
		return nil, err
	}

	if created != nil {
		en.machine.InvalidateFunding(ctx, campaignID)
		en.machine.AnnounceVoting(ctx, *created)
	}
	return created, nil
}
