// Package scheduler runs the periodic reconciliation sweeps: voting expiry,
// overdue progress updates, auto-cancellation, campaign expiry and recovery
// deadlines.
package scheduler

import (
	"context"
	"crowdfund-bend/config"
	"crowdfund-bend/dao"
	"crowdfund-bend/escrow"
	"crowdfund-bend/milestone"
	"crowdfund-bend/models"
	"crowdfund-bend/refund"
	"crowdfund-bend/utils/cache"
	"crowdfund-bend/utils/notifications"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sweep names, also used as lock keys
const (
	SweepVotingExpiry     = "voting_expiry"
	SweepOverdueWarning   = "overdue_warning"
	SweepAutoCancel       = "auto_cancel"
	SweepCampaignExpiry   = "campaign_expiry"
	SweepRecoveryDeadline = "recovery_deadline"
)

// Report counts what each sweep of one run processed. A sweep skipped
// because another instance held its lock is listed in Skipped.
type Report struct {
	Processed map[string]int
	Skipped   []string
}

// Scheduler ...
type Scheduler struct {
	store     dao.Store
	machine   *escrow.Machine
	milestone *milestone.Engine
	refunds   *refund.Engine
	locker    cache.Locker
	notifier  notifications.Sender
	policy    config.Policy
}

// Deps groups the collaborators of a Scheduler
type Deps struct {
	Store     dao.Store
	Machine   *escrow.Machine
	Milestone *milestone.Engine
	Refunds   *refund.Engine
	Locker    cache.Locker
	Notifier  notifications.Sender
	Policy    config.Policy
}

// New ...
func New(d Deps) *Scheduler {
	return &Scheduler{
		store:     d.Store,
		machine:   d.Machine,
		milestone: d.Milestone,
		refunds:   d.Refunds,
		locker:    d.Locker,
		notifier:  d.Notifier,
		policy:    d.Policy,
	}
}

// Run sweeps once immediately, then every SweepInterval until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("starting reconciliation sweeps every %s", s.policy.SweepInterval)

	ticker := time.NewTicker(s.policy.SweepInterval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			log.Println("stopping reconciliation sweeps")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs every sweep in order. One failing sweep does not stop the
// others.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	report := Report{Processed: map[string]int{}}
	sweeps := []struct {
		name string
		fn   func(ctx context.Context) (int, error)
	}{
		{SweepVotingExpiry, s.FinalizeExpiredVoting},
		{SweepOverdueWarning, s.WarnOverdueUpdates},
		{SweepAutoCancel, s.AutoCancelIgnored},
		{SweepCampaignExpiry, s.ExpireCampaigns},
		{SweepRecoveryDeadline, s.refunds.FailOverdueCases},
	}

	for _, sw := range sweeps {
		n, err := s.locked(ctx, sw.name, sw.fn)
		if errors.Is(err, cache.ErrLockHeld) {
			log.Printf("sweep_%s: skipped, lock held", sw.name)
			report.Skipped = append(report.Skipped, sw.name)
			continue
		}
		if err != nil {
			log.Printf("sweep_%s: %v", sw.name, err)
		}
		report.Processed[sw.name] = n
	}
	return report
}

// locked runs fn under the sweep's lease
func (s *Scheduler) locked(ctx context.Context, name string, fn func(ctx context.Context) (int, error)) (int, error) {
	release, err := s.locker.Acquire(ctx, "sweep:"+name, s.policy.SweepLockTTL)
	if err != nil {
		return 0, err
	}
	defer release()
	return fn(ctx)
}

// FinalizeExpiredVoting closes every voting window that has ended
func (s *Scheduler) FinalizeExpiredVoting(ctx context.Context) (int, error) {
	expired, err := s.store.Escrows().ListVotingExpired(ctx, s.machine.Now())
	if err != nil {
		return 0, fmt.Errorf("list expired voting: %w", err)
	}

	n := 0
	for _, e := range expired {
		if _, err := s.machine.Finalize(ctx, e.ID); err != nil {
			log.Printf("finalize_%s: %v", e.ID.Hex(), err)
			continue
		}
		n++
	}
	return n, nil
}

// WarnOverdueUpdates sends one warning per released request whose progress
// update is overdue
func (s *Scheduler) WarnOverdueUpdates(ctx context.Context) (int, error) {
	now := s.machine.Now()
	overdue, err := s.store.Escrows().ListUpdateOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list overdue updates: %w", err)
	}

	n := 0
	for _, e := range overdue {
		sent, err := s.store.Escrows().MarkWarningSent(ctx, e.ID, now)
		if err != nil {
			log.Printf("mark_warning_%s: %v", e.ID.Hex(), err)
			continue
		}
		if !sent {
			continue
		}

		data := map[string]interface{}{
			"Grace": s.policy.AutoCancelGrace.String(),
		}
		if c, err := s.store.Campaigns().FindByID(ctx, e.CampaignID); err == nil {
			data["Campaign"] = c.Title
		}
		if e.ProgressUpdateDueAt != nil {
			data["UpdateDue"] = e.ProgressUpdateDueAt.Format("2006-01-02")
		}
		s.notifier.Send(ctx, models.Message{
			Template:   models.TplUpdateOverdue,
			Recipient:  e.RequesterID,
			CampaignID: e.CampaignID,
			Body:       "Your progress update is overdue. Post it within " + s.policy.AutoCancelGrace.String() + " to avoid cancellation",
			Type:       models.WithdrawalN,
			Action:     models.AAction,
			Data:       data,
		})
		n++
	}
	return n, nil
}

// AutoCancelIgnored cancels campaigns still in voting whose creator let the
// overdue warning lapse for the grace period. Released requests stay as they
// are; the cancellation drives refunds and recovery.
func (s *Scheduler) AutoCancelIgnored(ctx context.Context) (int, error) {
	cutoff := s.machine.Now().Add(-s.policy.AutoCancelGrace)
	lapsed, err := s.store.Escrows().ListWarnedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list lapsed warnings: %w", err)
	}

	seen := map[primitive.ObjectID]bool{}
	n := 0
	for _, e := range lapsed {
		if seen[e.CampaignID] {
			continue
		}
		seen[e.CampaignID] = true

		c, err := s.store.Campaigns().FindByID(ctx, e.CampaignID)
		if err != nil {
			log.Printf("auto_cancel_load_%s: %v", e.CampaignID.Hex(), err)
			continue
		}
		if c.Status != models.CampaignVoting {
			continue
		}
		if _, err := s.refunds.AutoCancel(ctx, c.ID); err != nil {
			log.Printf("auto_cancel_%s: %v", c.ID.Hex(), err)
			continue
		}
		log.Printf("auto cancelled campaign #%s", c.ID.Hex())
		n++
	}
	return n, nil
}

// ExpireCampaigns runs the end-of-campaign withdrawal for campaigns past
// their end date
func (s *Scheduler) ExpireCampaigns(ctx context.Context) (int, error) {
	expired, err := s.store.Campaigns().ListExpired(ctx, s.machine.Now())
	if err != nil {
		return 0, fmt.Errorf("list expired campaigns: %w", err)
	}

	n := 0
	for _, c := range expired {
		created, err := s.milestone.HandleExpiry(ctx, c.ID)
		if err != nil {
			log.Printf("expire_campaign_%s: %v", c.ID.Hex(), err)
			continue
		}
		if created != nil {
			n++
		}
	}
	return n, nil
}
