package refund

import (
	"context"
	"crowdfund-bend/config"
	"crowdfund-bend/dao"
	"crowdfund-bend/escrow"
	"crowdfund-bend/models"
	"crowdfund-bend/testutil"
	"crowdfund-bend/utils/cache"
	"crowdfund-bend/utils/payment"
	"crowdfund-bend/voting"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fixture struct {
	store  *dao.MemoryStore
	clock  *testutil.Clock
	notes  *testutil.Notifier
	engine *Engine
	admin  models.Actor
}

func newFixture() *fixture {
	f := &fixture{
		store: dao.NewMemoryStore(),
		clock: testutil.NewClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		notes: &testutil.Notifier{},
		admin: testutil.Admin(),
	}
	c := cache.NewMemory()
	policy := config.DefaultPolicy()
	v := voting.NewService(f.store, c, policy).WithClock(f.clock.Now)
	m := escrow.NewMachine(escrow.Deps{
		Store: f.store, Transfer: &payment.Stub{}, Notifier: f.notes, Cache: c,
		Locker: cache.NewMemoryLocker(), Voting: v, Policy: policy,
	}).WithClock(f.clock.Now)
	f.engine = NewEngine(Deps{Store: f.store, Machine: m, Voting: v, Notifier: f.notes, Policy: policy})
	return f
}

func (f *fixture) donation(ctx context.Context, t *testing.T, id primitive.ObjectID) models.Donation {
	t.Helper()
	d, err := f.store.Donations().FindByID(ctx, id)
	if err != nil {
		t.Fatalf("find donation: %v", err)
	}
	return d
}

func TestShare(t *testing.T) {
	t.Parallel()

	cases := []struct {
		amount, num, den, want int64
	}{
		{200000, 300000, 1000000, 60000},
		{333, 1, 3, 111},
		{100, 2, 3, 66},
		{5, 0, 10, 0},
		{5, 10, 0, 0},
		{9000000000000, 9000000000000, 9000000000000, 9000000000000},
	}
	for _, tc := range cases {
		if got := share(tc.amount, tc.num, tc.den); got != tc.want {
			t.Errorf("share(%d,%d,%d) = %d, want %d", tc.amount, tc.num, tc.den, got, tc.want)
		}
	}
}

func TestCancelWithReleasedFunds(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 2000000, 50))
	small := testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 200000)
	large := testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 800000)
	testutil.MustInsertEscrow(t, f.store, testutil.ReleasedEscrow(c, 700000, f.clock.Now().Add(-72*time.Hour)))

	summary, err := f.engine.CancelCampaign(ctx, c.ID, f.admin, "fraud report")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if summary.Available != 300000 || summary.RefundRatio != 0.3 || summary.TotalRefunded != 300000 {
		t.Fatalf("summary: %+v", summary)
	}

	d := f.donation(ctx, t, small.ID)
	if d.PaymentStatus != models.PaymentPartiallyRefunded || d.RefundedAmount != 60000 || d.RemainingRefundPending != 140000 {
		t.Fatalf("small donation: %+v", d)
	}
	if d.RefundedAmount+d.RemainingRefundPending != d.Amount {
		t.Fatalf("refund conservation broken: %+v", d)
	}

	rc := summary.RecoveryCase
	if rc == nil || rc.TotalAmount != 700000 || rc.Status != models.RecoveryPending {
		t.Fatalf("recovery case: %+v", rc)
	}
	if !rc.Deadline.Equal(f.clock.Now().Add(30 * 24 * time.Hour)) {
		t.Fatalf("deadline: %v", rc.Deadline)
	}

	got, _ := f.store.Campaigns().FindByID(ctx, c.ID)
	if got.Status != models.CampaignCancelled || got.CancellationReason != "fraud report" {
		t.Fatalf("campaign: %+v", got)
	}
	if len(f.notes.Sent(models.TplRefundProcessed)) != 2 || len(f.notes.Sent(models.TplCampaignCanceled)) != 1 {
		t.Fatalf("notifications: %+v", f.notes.Sent(""))
	}

	// claw back half, then the rest
	dist, err := f.engine.RecordRecovery(ctx, rc.ID, f.admin, models.RecoveryReq{Amount: 350000, Note: "first instalment"})
	if err != nil {
		t.Fatalf("record recovery: %v", err)
	}
	if dist.Distributed != 350000 || dist.Case.RecoveredAmount != 0 || dist.Case.TotalRecovered != 350000 {
		t.Fatalf("first distribution: %+v", dist)
	}
	if dist.Case.Status != models.RecoveryInProgress {
		t.Fatalf("status after first instalment: %s", dist.Case.Status)
	}
	d = f.donation(ctx, t, small.ID)
	if d.RefundedAmount != 130000 || d.RemainingRefundPending != 70000 {
		t.Fatalf("small donation after replay: %+v", d)
	}

	dist, err = f.engine.RecordRecovery(ctx, rc.ID, f.admin, models.RecoveryReq{Amount: 350000})
	if err != nil {
		t.Fatalf("record recovery: %v", err)
	}
	if dist.Case.Status != models.RecoveryCompleted {
		t.Fatalf("status after full recovery: %s", dist.Case.Status)
	}
	for _, id := range []primitive.ObjectID{small.ID, large.ID} {
		d := f.donation(ctx, t, id)
		if d.PaymentStatus != models.PaymentRefunded || d.RefundedAmount != d.Amount || d.RemainingRefundPending != 0 {
			t.Fatalf("donation not fully refunded: %+v", d)
		}
		rf, err := f.store.Refunds().FindByDonation(ctx, id)
		if err != nil || rf.Status != models.RefundCompleted || rf.RefundedAmount+rf.RemainingRefund != rf.OriginalAmount {
			t.Fatalf("refund row: %+v %v", rf, err)
		}
	}
	refunds, _ := f.engine.ListRefunds(ctx, c.ID)
	if len(refunds) != 2 {
		t.Fatalf("refund rows should not be duplicated: %d", len(refunds))
	}

	if _, err := f.engine.RecordRecovery(ctx, rc.ID, f.admin, models.RecoveryReq{Amount: 1}); !models.IsKind(err, models.KindValidation) {
		t.Fatalf("over-recovery: %v", err)
	}
}

func TestCancelWithoutReleaseRefundsInFull(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 100000, 50))
	d := testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 1234)

	open := testutil.MustInsertEscrow(t, f.store, models.Escrow{
		ID: primitive.NewObjectID(), CampaignID: c.ID, RequesterID: c.CreatorID, Amount: 1234,
		Reason: "manual", Status: models.EscrowVotingInProgress, Open: true,
	})

	summary, err := f.engine.CancelCampaign(ctx, c.ID, f.admin, "creator request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if summary.RecoveryCase != nil || summary.RefundRatio != 1 || len(summary.Cancelled) != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	stored := f.donation(ctx, t, d.ID)
	if stored.PaymentStatus != models.PaymentRefunded || stored.RefundedAmount != 1234 {
		t.Fatalf("donation: %+v", stored)
	}
	e, _ := f.store.Escrows().FindByID(ctx, open.ID)
	if e.Status != models.EscrowCancelled {
		t.Fatalf("open request should be cancelled: %s", e.Status)
	}
	if _, err := f.store.Recoveries().FindByCampaign(ctx, c.ID); err != dao.ErrNotFound {
		t.Fatalf("no recovery case expected: %v", err)
	}
}

func TestCancelWithNothingHeld(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 1000, 50))
	d := testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 500)
	testutil.MustInsertEscrow(t, f.store, testutil.ReleasedEscrow(c, 500, f.clock.Now()))

	summary, err := f.engine.CancelCampaign(ctx, c.ID, f.admin, "abandoned")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if summary.TotalRefunded != 0 || summary.RefundRatio != 0 || summary.RecoveryCase == nil {
		t.Fatalf("summary: %+v", summary)
	}
	stored := f.donation(ctx, t, d.ID)
	if stored.RefundedAmount != 0 || stored.RemainingRefundPending != 500 {
		t.Fatalf("donation: %+v", stored)
	}
	rf, _ := f.store.Refunds().FindByDonation(ctx, d.ID)
	if rf.Status != models.RefundPending || rf.Method != models.RefundMethodRecovery {
		t.Fatalf("refund: %+v", rf)
	}
}

func TestCancelGuards(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 1000, 50))

	if _, err := f.engine.CancelCampaign(ctx, c.ID, testutil.User(c.CreatorID), "mine"); !models.IsKind(err, models.KindAuthorization) {
		t.Fatalf("non-admin: %v", err)
	}
	if _, err := f.engine.CancelCampaign(ctx, c.ID, f.admin, ""); !models.IsKind(err, models.KindValidation) {
		t.Fatalf("empty reason: %v", err)
	}
	if _, err := f.engine.CancelCampaign(ctx, primitive.NewObjectID(), f.admin, "x"); !models.IsKind(err, models.KindNotFound) {
		t.Fatalf("missing campaign: %v", err)
	}
	// auto-cancel only applies to campaigns in voting
	if _, err := f.engine.AutoCancel(ctx, c.ID); !models.IsKind(err, models.KindConflict) {
		t.Fatalf("auto-cancel of active campaign: %v", err)
	}
	if _, err := f.engine.CancelCampaign(ctx, c.ID, f.admin, "x"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.engine.CancelCampaign(ctx, c.ID, f.admin, "again"); !models.IsKind(err, models.KindConflict) {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestRecoveryRoundingStaysInBalance(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 1000, 50))
	for i := 0; i < 3; i++ {
		testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 100)
	}
	testutil.MustInsertEscrow(t, f.store, testutil.ReleasedEscrow(c, 300, f.clock.Now()))

	summary, err := f.engine.CancelCampaign(ctx, c.ID, f.admin, "gone")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	dist, err := f.engine.RecordRecovery(ctx, summary.RecoveryCase.ID, f.admin, models.RecoveryReq{Amount: 100})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	// 100 split over three equal claims: 33 each, 1 left for later
	if dist.Distributed != 99 || dist.Case.RecoveredAmount != 1 {
		t.Fatalf("distribution: %+v", dist)
	}
	for _, rf := range dist.Refunds {
		if rf.RefundedAmount != 33 || rf.RemainingRefund != 67 {
			t.Fatalf("refund: %+v", rf)
		}
	}
}

func TestEscalateAndOverdue(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 1000, 50))
	testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 600)
	testutil.MustInsertEscrow(t, f.store, testutil.ReleasedEscrow(c, 400, f.clock.Now()))
	other := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 1000, 50))
	testutil.MustCompleteDonation(t, f.store, other.ID, primitive.NewObjectID(), 600)
	testutil.MustInsertEscrow(t, f.store, testutil.ReleasedEscrow(other, 400, f.clock.Now()))

	first, err := f.engine.CancelCampaign(ctx, c.ID, f.admin, "fraud")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second, err := f.engine.CancelCampaign(ctx, other.ID, f.admin, "fraud")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.engine.Escalate(ctx, first.RecoveryCase.ID, f.admin, models.EscalateReq{}); !models.IsKind(err, models.KindValidation) {
		t.Fatalf("missing legal id: %v", err)
	}
	rc, err := f.engine.Escalate(ctx, first.RecoveryCase.ID, f.admin, models.EscalateReq{LegalCaseID: "LC-42", Note: "filed"})
	if err != nil || rc.Status != models.RecoveryLegalAction || rc.LegalCaseID != "LC-42" {
		t.Fatalf("escalate: %+v %v", rc, err)
	}
	if _, err := f.engine.Escalate(ctx, rc.ID, f.admin, models.EscalateReq{LegalCaseID: "LC-43"}); !models.IsKind(err, models.KindConflict) {
		t.Fatalf("second escalation: %v", err)
	}

	// recovering everything under legal action keeps the status
	dist, err := f.engine.RecordRecovery(ctx, rc.ID, f.admin, models.RecoveryReq{Amount: 400})
	if err != nil || dist.Case.Status != models.RecoveryLegalAction || dist.Case.TotalRecovered != 400 {
		t.Fatalf("recovery under legal action: %+v %v", dist.Case, err)
	}

	f.clock.Advance(31 * 24 * time.Hour)
	n, err := f.engine.FailOverdueCases(ctx)
	if err != nil || n != 1 {
		t.Fatalf("fail overdue: n=%d err=%v", n, err)
	}
	failed, _ := f.engine.GetRecoveryCase(ctx, second.RecoveryCase.ID)
	last := failed.Timeline[len(failed.Timeline)-1]
	if failed.Status != models.RecoveryFailed || last.Action != models.TimelineOverdue {
		t.Fatalf("overdue case: %+v", failed)
	}
	if n, _ := f.engine.FailOverdueCases(ctx); n != 0 {
		t.Fatalf("second sweep failed %d cases", n)
	}

	// a late clawback still posts
	if _, err := f.engine.RecordRecovery(ctx, failed.ID, f.admin, models.RecoveryReq{Amount: 100}); err != nil {
		t.Fatalf("late recovery: %v", err)
	}
}
