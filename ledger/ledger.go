// Package ledger records donations against campaigns and applies payment
// gateway callbacks idempotently.
package ledger

import (
	"context"
	"crowdfund-bend/dao"
	"crowdfund-bend/escrow"
	"crowdfund-bend/milestone"
	"crowdfund-bend/models"
	"crowdfund-bend/utils/cache"
	"crowdfund-bend/utils/payment"
	"crowdfund-bend/utils/queue"
	"crowdfund-bend/voting"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const fundingTTL = time.Minute

// Refunder returns money that arrives after a campaign was cancelled
type Refunder interface {
	RefundLateDonation(ctx context.Context, c models.Campaign, d models.Donation) (models.Refund, models.Donation, error)
	NotifyRefunds(ctx context.Context, c models.Campaign, refunds []models.Refund)
}

// Ledger ...
type Ledger struct {
	store     dao.Store
	charger   payment.Charger
	queue     queue.Queue
	cache     cache.Cache
	machine   *escrow.Machine
	milestone *milestone.Engine
	voting    *voting.Service
	refunds   Refunder
}

// Deps groups the collaborators of a Ledger
type Deps struct {
	Store     dao.Store
	Charger   payment.Charger
	Queue     queue.Queue
	Cache     cache.Cache
	Machine   *escrow.Machine
	Milestone *milestone.Engine
	Voting    *voting.Service
	Refunds   Refunder
}

// New ...
func New(d Deps) *Ledger {
	return &Ledger{
		store:     d.Store,
		charger:   d.Charger,
		queue:     d.Queue,
		cache:     d.Cache,
		machine:   d.Machine,
		milestone: d.Milestone,
		voting:    d.Voting,
		refunds:   d.Refunds,
	}
}

// RecordCompletedDonation atomically adds amount to the campaign total
func (l *Ledger) RecordCompletedDonation(ctx context.Context, campaignID primitive.ObjectID, amount int64) (models.Campaign, error) {
	c, err := l.store.Campaigns().IncrementFunding(ctx, campaignID, amount)
	if err != nil {
		return c, fmt.Errorf("increment funding: %w", err)
	}
	return c, nil
}

// InitCheckout creates a pending donation and opens a gateway checkout for it
func (l *Ledger) InitCheckout(ctx context.Context, campaignID primitive.ObjectID, actor models.Actor, req models.CheckoutReq) (models.Checkout, error) {
	if req.Amount <= 0 {
		return models.Checkout{}, models.Validation("invalid_amount", "Donation amount must be positive")
	}

	c, err := l.store.Campaigns().FindByID(ctx, campaignID)
	if errors.Is(err, dao.ErrNotFound) {
		return models.Checkout{}, models.NotFound("campaign_not_found", "Campaign not found")
	}
	if err != nil {
		return models.Checkout{}, err
	}
	if !c.Status.AcceptsDonations() {
		return models.Checkout{}, models.Conflict("campaign_not_accepting",
			"Campaign is not accepting donations", c.ID.Hex())
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.Currency
	}
	if currency != c.Currency {
		return models.Checkout{}, models.Validation("currency_mismatch", "Campaign accepts "+c.Currency+" only")
	}

	now := l.machine.Now()
	d := models.Donation{
		ID:                 primitive.NewObjectID(),
		CampaignID:         c.ID,
		DonorID:            actor.ID,
		Amount:             req.Amount,
		Currency:           currency,
		PaymentStatus:      models.PaymentPending,
		OrderInvoiceNumber: uuid.NewString(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := l.store.Donations().Insert(ctx, d); err != nil {
		return models.Checkout{}, fmt.Errorf("insert donation: %w", err)
	}

	charge, err := l.charger.InitiateCharge(ctx, models.ChargeRequest{
		InvoiceNumber: d.OrderInvoiceNumber,
		Amount:        d.Amount,
		Currency:      d.Currency,
		Description:   "Donation to " + c.Title,
	})
	if err != nil {
		log.Printf("initiate_charge: %v", err)
		return models.Checkout{}, models.External("checkout_failed", "Could not open a checkout with the payment provider")
	}

	if err := l.store.Donations().SetProviderOrder(ctx, d.ID, charge.ProviderOrderID); err != nil {
		return models.Checkout{}, err
	}
	d.ProviderOrderID = charge.ProviderOrderID

	return models.Checkout{Donation: d, CheckoutURL: charge.CheckoutURL}, nil
}

// FindDonation looks a donation up by its invoice number
func (l *Ledger) FindDonation(ctx context.Context, invoice string) (models.Donation, error) {
	d, err := l.store.Donations().FindByInvoice(ctx, invoice)
	if errors.Is(err, dao.ErrNotFound) {
		return d, models.NotFound("donation_not_found", "No donation for invoice "+invoice)
	}
	return d, err
}

// Funding returns the campaign's funding summary, cached briefly
func (l *Ledger) Funding(ctx context.Context, campaignID primitive.ObjectID) (models.FundingSummary, error) {
	key := cache.FundingKey(campaignID.Hex())

	var summary models.FundingSummary
	found, err := l.cache.Get(ctx, key, &summary)
	if err != nil {
		log.Printf("funding_cache_get: %v", err)
	}
	if found {
		return summary, nil
	}

	c, err := l.store.Campaigns().FindByID(ctx, campaignID)
	if errors.Is(err, dao.ErrNotFound) {
		return summary, models.NotFound("campaign_not_found", "Campaign not found")
	}
	if err != nil {
		return summary, err
	}
	released, err := l.store.Escrows().SumReleased(ctx, campaignID)
	if err != nil {
		return summary, err
	}

	summary = models.FundingSummary{
		CampaignID:    c.ID,
		GoalAmount:    c.GoalAmount,
		CurrentAmount: c.CurrentAmount,
		Released:      released,
		Available:     c.CurrentAmount - released,
		Percentage:    c.FundingPercentage(),
		Status:        c.Status,
	}
	if err := l.cache.Set(ctx, key, summary, fundingTTL); err != nil {
		log.Printf("funding_cache_set: %v", err)
	}
	return summary, nil
}
