// Package voting decides who may vote on a campaign's withdrawal requests,
// records their weighted votes and tallies the outcome.
package voting

import (
	"context"
	"crowdfund-bend/config"
	"crowdfund-bend/dao"
	"crowdfund-bend/models"
	"crowdfund-bend/utils/cache"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service ...
type Service struct {
	store  dao.Store
	cache  cache.Cache
	policy config.Policy
	nowFn  func() time.Time
}

// NewService ...
func NewService(store dao.Store, c cache.Cache, policy config.Policy) *Service {
	return &Service{store: store, cache: c, policy: policy, nowFn: time.Now}
}

// WithClock replaces the time source
func (s *Service) WithClock(fn func() time.Time) *Service {
	s.nowFn = fn
	return s
}

func (s *Service) now() time.Time {
	return s.nowFn().UTC()
}

// Threshold is the smallest completed total that makes a donor eligible
func (s *Service) Threshold(goal int64) int64 {
	// ceil(goal * pct / 100)
	return (goal*s.policy.EligibilityPercent + 99) / 100
}

// Eligibility returns the donor's standing, served from cache when fresh
func (s *Service) Eligibility(ctx context.Context, campaign models.Campaign, donorID primitive.ObjectID) (models.Eligibility, error) {
	key := cache.EligibilityKey(campaign.ID.Hex(), donorID.Hex())

	var cached models.Eligibility
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Printf("eligibility_cache_get: %v", err)
	}
	if found {
		return cached, nil
	}
	return s.freshEligibility(ctx, campaign, donorID)
}

// freshEligibility recomputes from completed donations and refreshes the cache
func (s *Service) freshEligibility(ctx context.Context, campaign models.Campaign, donorID primitive.ObjectID) (models.Eligibility, error) {
	total, err := s.store.Donations().SumCompletedByDonor(ctx, campaign.ID, donorID)
	if err != nil {
		return models.Eligibility{}, fmt.Errorf("sum donor total: %w", err)
	}

	threshold := s.Threshold(campaign.GoalAmount)
	el := models.Eligibility{
		DonorTotal: total,
		Threshold:  threshold,
		Eligible:   total > 0 && total >= threshold,
	}

	key := cache.EligibilityKey(campaign.ID.Hex(), donorID.Hex())
	if err := s.cache.Set(ctx, key, el, s.policy.EligibilityTTL); err != nil {
		log.Printf("eligibility_cache_set: %v", err)
	}
	return el, nil
}

// Invalidate drops every cached eligibility of a campaign
func (s *Service) Invalidate(ctx context.Context, campaignID primitive.ObjectID) {
	if err := s.cache.DeletePattern(ctx, cache.EligibilityPattern(campaignID.Hex())); err != nil {
		log.Printf("eligibility_cache_invalidate: %v", err)
	}
}

// CastVote records or replaces the donor's vote on an open request. The
// weight is recomputed from completed donations on every cast.
func (s *Service) CastVote(ctx context.Context, escrowID primitive.ObjectID, actor models.Actor, value string) (models.Vote, error) {
	v, err := models.ParseVoteValue(value)
	if err != nil {
		return models.Vote{}, err
	}

	e, err := s.store.Escrows().FindByID(ctx, escrowID)
	if errors.Is(err, dao.ErrNotFound) {
		return models.Vote{}, models.NotFound("withdrawal_request_not_found", "Withdrawal request not found")
	}
	if err != nil {
		return models.Vote{}, err
	}

	now := s.now()
	if e.Status != models.EscrowVotingInProgress {
		return models.Vote{}, models.Conflict("voting_not_open",
			"Voting is not open on this withdrawal request", e.ID.Hex())
	}
	if e.VotingEndDate != nil && now.After(*e.VotingEndDate) {
		return models.Vote{}, models.Conflict("voting_closed",
			"The voting period for this withdrawal request has ended", e.ID.Hex())
	}

	campaign, err := s.store.Campaigns().FindByID(ctx, e.CampaignID)
	if err != nil {
		return models.Vote{}, fmt.Errorf("load campaign: %w", err)
	}

	el, err := s.freshEligibility(ctx, campaign, actor.ID)
	if err != nil {
		return models.Vote{}, err
	}
	if !el.Eligible {
		return models.Vote{}, models.Forbidden("not_eligible",
			fmt.Sprintf("Donors need completed donations of at least %d to vote", el.Threshold))
	}

	return s.store.Votes().Upsert(ctx, models.Vote{
		ID:            primitive.NewObjectID(),
		EscrowID:      e.ID,
		CampaignID:    e.CampaignID,
		DonorID:       actor.ID,
		Value:         v,
		DonatedAmount: el.DonorTotal,
		VoteWeight:    el.DonorTotal,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// Tally sums the current votes on a request
func (s *Service) Tally(ctx context.Context, escrowID primitive.ObjectID) (models.Tally, error) {
	votes, err := s.store.Votes().ListByEscrow(ctx, escrowID)
	if err != nil {
		return models.Tally{}, fmt.Errorf("list votes: %w", err)
	}
	return ComputeTally(votes), nil
}

var hundred = decimal.NewFromInt(100)

// ComputeTally weighs approve against reject. With no weight cast both
// percentages are zero.
func ComputeTally(votes []models.Vote) models.Tally {
	var t models.Tally
	for _, v := range votes {
		switch v.Value {
		case models.VoteApprove:
			t.ApproveWeight += v.VoteWeight
		case models.VoteReject:
			t.RejectWeight += v.VoteWeight
		}
	}
	t.TotalVotes = len(votes)

	total := t.ApproveWeight + t.RejectWeight
	if total == 0 {
		return t
	}
	d := decimal.NewFromInt(total)
	t.ApprovePercentage = decimal.NewFromInt(t.ApproveWeight).Mul(hundred).Div(d).Round(2).InexactFloat64()
	t.RejectPercentage = decimal.NewFromInt(t.RejectWeight).Mul(hundred).Div(d).Round(2).InexactFloat64()
	return t
}
