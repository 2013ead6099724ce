// Package testutil holds fakes and fixtures shared by the engine tests.
package testutil

import (
	"context"
	"crowdfund-bend/dao"
	"crowdfund-bend/models"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Clock is a settable time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock ...
func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

// Now ...
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Notifier records every message it is asked to send
type Notifier struct {
	mu   sync.Mutex
	sent []models.Message
}

// Send ...
func (n *Notifier) Send(_ context.Context, msg models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

// Sent returns the recorded messages using template tpl, or all when tpl is
// empty
func (n *Notifier) Sent(tpl string) []models.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Message
	for _, m := range n.sent {
		if tpl == "" || m.Template == tpl {
			out = append(out, m)
		}
	}
	return out
}

// Queue records enqueued jobs. Fail makes every Enqueue return an error.
type Queue struct {
	mu   sync.Mutex
	Fail bool
	jobs []models.Job
}

// Enqueue ...
func (q *Queue) Enqueue(_ context.Context, jobType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Fail {
		return errors.New("queue unavailable")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.jobs = append(q.jobs, models.Job{Type: jobType, Payload: raw, EnqueuedAt: time.Now().UTC()})
	return nil
}

// Jobs ...
func (q *Queue) Jobs() []models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Job(nil), q.jobs...)
}

// Campaign returns an active campaign fixture owned by creatorID
func Campaign(creatorID primitive.ObjectID, goal int64, milestones ...int) models.Campaign {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := models.Campaign{
		ID:         primitive.NewObjectID(),
		CreatorID:  creatorID,
		Title:      "Clean water",
		GoalAmount: goal,
		Currency:   "USD",
		Status:     models.CampaignActive,
		EndDate:    now.Add(90 * 24 * time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, m := range milestones {
		c.Milestones = append(c.Milestones, models.Milestone{Percentage: m, Commitment: "deliver phase"})
	}
	return c
}

// MustInsertCampaign ...
func MustInsertCampaign(t testing.TB, store dao.Store, c models.Campaign) models.Campaign {
	t.Helper()
	if err := store.Campaigns().Insert(context.Background(), c); err != nil {
		t.Fatalf("insert campaign: %v", err)
	}
	return c
}

// PendingDonation returns a pending donation fixture
func PendingDonation(campaignID, donorID primitive.ObjectID, amount int64, invoice string) models.Donation {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	return models.Donation{
		ID:                 primitive.NewObjectID(),
		CampaignID:         campaignID,
		DonorID:            donorID,
		Amount:             amount,
		Currency:           "USD",
		PaymentStatus:      models.PaymentPending,
		OrderInvoiceNumber: invoice,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// MustCompleteDonation inserts a completed donation and bumps the campaign
// total the way the ledger would
func MustCompleteDonation(t testing.TB, store dao.Store, campaignID, donorID primitive.ObjectID, amount int64) models.Donation {
	t.Helper()
	ctx := context.Background()
	d := PendingDonation(campaignID, donorID, amount, primitive.NewObjectID().Hex())
	if err := store.Donations().Insert(ctx, d); err != nil {
		t.Fatalf("insert donation: %v", err)
	}
	d, applied, err := store.Donations().MarkCompleted(ctx, d.OrderInvoiceNumber, "tx-"+d.OrderInvoiceNumber, d.CreatedAt, "{}")
	if err != nil || !applied {
		t.Fatalf("complete donation: applied=%v err=%v", applied, err)
	}
	if _, err := store.Campaigns().IncrementFunding(ctx, campaignID, amount); err != nil {
		t.Fatalf("increment funding: %v", err)
	}
	return d
}

// MustInsertEscrow ...
func MustInsertEscrow(t testing.TB, store dao.Store, e models.Escrow) models.Escrow {
	t.Helper()
	if err := store.Escrows().Insert(context.Background(), e); err != nil {
		t.Fatalf("insert escrow: %v", err)
	}
	return e
}

// ReleasedEscrow returns a released withdrawal request fixture
func ReleasedEscrow(c models.Campaign, amount int64, releasedAt time.Time) models.Escrow {
	return models.Escrow{
		ID:          primitive.NewObjectID(),
		CampaignID:  c.ID,
		RequesterID: c.CreatorID,
		Amount:      amount,
		Reason:      "phase one",
		Status:      models.EscrowReleased,
		Open:        false,
		ReleasedAt:  &releasedAt,
		CreatedAt:   releasedAt,
		UpdatedAt:   releasedAt,
	}
}

// Admin returns an admin actor
func Admin() models.Actor {
	return models.Actor{ID: primitive.NewObjectID(), Email: "admin@example.com", Role: models.RoleAdmin}
}

// User returns a regular actor
func User(id primitive.ObjectID) models.Actor {
	return models.Actor{ID: id, Email: id.Hex() + "@example.com", Role: models.RoleUser}
}
