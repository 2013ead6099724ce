package milestone

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

func pct(v int) *int { return &v }

func autoReq(milestone int, status models.EscrowStatus) models.Escrow {
	return models.Escrow{
		ID:                  primitive.NewObjectID(),
		MilestonePercentage: pct(milestone),
		AutoCreated:         true,
		Status:              status,
		Open:                !status.Terminal(),
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	desc := []int{100, 75, 50, 25}
	cases := []struct {
		name    string
		current int64
		auto    []models.Escrow
		want    int
		wantOK  bool
	}{
		{"below first milestone", 10, nil, 0, false},
		{"exactly on a milestone", 25, nil, 25, true},
		{"jump over several", 80, nil, 75, true},
		{"already claimed", 60, []models.Escrow{autoReq(50, models.EscrowVotingInProgress)}, 0, false},
		{"higher than claimed", 105, []models.Escrow{autoReq(50, models.EscrowVotingInProgress)}, 100, true},
		{"released still claims", 55, []models.Escrow{autoReq(50, models.EscrowReleased)}, 0, false},
		{"cancelled frees milestone", 55, []models.Escrow{autoReq(50, models.EscrowCancelled)}, 50, true},
		{"never fall back below a claim", 90, []models.Escrow{autoReq(75, models.EscrowAdminRejected)}, 0, false},
		{"manual requests ignored", 30, []models.Escrow{{Status: models.EscrowReleased, MilestonePercentage: pct(25)}}, 25, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Select(desc, tc.current, 100, tc.auto)
			if got != tc.want || ok != tc.wantOK {
				t.Fatalf("Select(%d/100) = %d,%v want %d,%v", tc.current, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestSelectExactMilestones(t *testing.T) {
	t.Parallel()

	// float division puts each of these a hair under its milestone
	cases := []struct {
		milestone int
		current   int64
	}{
		{29, 29000},
		{57, 57000},
		{58, 58000},
	}
	for _, tc := range cases {
		got, ok := Select([]int{tc.milestone}, tc.current, 100000, nil)
		if !ok || got != tc.milestone {
			t.Errorf("Select(%d/100000) = %d,%v want %d", tc.current, got, ok, tc.milestone)
		}
		if _, ok := Select([]int{tc.milestone}, tc.current-1, 100000, nil); ok {
			t.Errorf("one unit short of %d%% must not select it", tc.milestone)
		}
	}
	if Reached(10, 0, 0) {
		t.Fatalf("a zero goal reaches nothing")
	}
}

func TestEvaluateExactMilestone(t *testing.T) {
	t.Parallel()

	f := newFixture()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 100000, 57))
	testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 57000)

	created := f.evaluate(t, c.ID)
	if created == nil || created.MilestoneValue() != 57 || created.Amount != 57000 {
		t.Fatalf("exact 57%% should open the 57%% request: %+v", created)
	}
}

func TestSupersededAndBlocking(t *testing.T) {
	t.Parallel()

	lowVoting := autoReq(50, models.EscrowVotingInProgress)
	lowApproved := autoReq(25, models.EscrowAdminApproved)
	manual := models.Escrow{ID: primitive.NewObjectID(), Status: models.EscrowPendingVoting, Open: true}
	open := []models.Escrow{lowVoting, lowApproved, manual}

	sup := Superseded(100, open)
	if len(sup) != 1 || sup[0].ID != lowVoting.ID {
		t.Fatalf("superseded: %+v", sup)
	}
	block := Blocking(100, open)
	if len(block) != 2 {
		t.Fatalf("blocking: %+v", block)
	}
	if len(Blocking(100, []models.Escrow{lowVoting})) != 0 {
		t.Fatalf("a supersedable request must not block")
	}
}

type fixture struct {
	store   *dao.MemoryStore
	clock   *testutil.Clock
	machine *escrow.Machine
	engine  *Engine
	notes   *testutil.Notifier
}

func newFixture() *fixture {
	f := &fixture{
		store: dao.NewMemoryStore(),
		clock: testutil.NewClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		notes: &testutil.Notifier{},
	}
	c := cache.NewMemory()
	policy := config.DefaultPolicy()
	v := voting.NewService(f.store, c, policy).WithClock(f.clock.Now)
	f.machine = escrow.NewMachine(escrow.Deps{
		Store: f.store, Transfer: &payment.Stub{}, Notifier: f.notes, Cache: c,
		Locker: cache.NewMemoryLocker(), Voting: v, Policy: policy,
	}).WithClock(f.clock.Now)
	f.engine = NewEngine(f.store, f.machine)
	return f
}

func (f *fixture) evaluate(t *testing.T, id primitive.ObjectID) *models.Escrow {
	t.Helper()
	var created *models.Escrow
	err := f.store.WithTransaction(context.Background(), func(ctx context.Context) error {
		c, err := f.store.Campaigns().FindByID(ctx, id)
		if err != nil {
			return err
		}
		created, err = f.engine.Evaluate(ctx, c)
		return err
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return created
}

func TestEvaluateSupersedesLowerMilestone(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 1000000, 50, 100))

	testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 600000)
	first := f.evaluate(t, c.ID)
	if first == nil || first.MilestoneValue() != 50 || first.Amount != 600000 {
		t.Fatalf("first milestone: %+v", first)
	}
	if got := first.VotingEndDate.Sub(*first.VotingStartDate); got != 7*24*time.Hour {
		t.Fatalf("milestone voting period: %v", got)
	}

	// no new milestone, nothing happens
	if again := f.evaluate(t, c.ID); again != nil {
		t.Fatalf("unexpected second request: %+v", again)
	}

	testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 450000)
	second := f.evaluate(t, c.ID)
	if second == nil || second.MilestoneValue() != 100 || second.Amount != 1050000 || !second.AutoCreated {
		t.Fatalf("second milestone: %+v", second)
	}

	old, _ := f.store.Escrows().FindByID(ctx, first.ID)
	if old.Status != models.EscrowCancelled || old.Open {
		t.Fatalf("lower milestone should be cancelled: %+v", old)
	}
	open, _ := f.store.Escrows().ListOpen(ctx, c.ID)
	if len(open) != 1 || open[0].ID != second.ID {
		t.Fatalf("open requests: %+v", open)
	}
}

func TestEvaluateDefersBehindManualRequest(t *testing.T) {
	t.Parallel()

	f := newFixture()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 1000, 50))
	testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 600)
	testutil.MustInsertEscrow(t, f.store, models.Escrow{
		ID: primitive.NewObjectID(), CampaignID: c.ID, Amount: 100, Reason: "manual",
		Status: models.EscrowVotingInProgress, Open: true,
	})

	if created := f.evaluate(t, c.ID); created != nil {
		t.Fatalf("manual request should block: %+v", created)
	}
}

func TestEvaluateNothingAvailable(t *testing.T) {
	t.Parallel()

	f := newFixture()
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(primitive.NewObjectID(), 1000, 50))
	testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 600)
	testutil.MustInsertEscrow(t, f.store, testutil.ReleasedEscrow(c, 600, f.clock.Now()))

	if created := f.evaluate(t, c.ID); created != nil {
		t.Fatalf("nothing available, got %+v", created)
	}
}

func TestHandleExpiry(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		milestones []int
		claimed    []int
		wantTag    int
	}{
		{"tags 100 when defined", []int{50, 100}, nil, 100},
		{"untagged without a 100 milestone", []int{50}, nil, -1},
		{"untagged when 100 already claimed", []int{100}, []int{100}, -1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			ctx := context.Background()
			fixture := testutil.Campaign(primitive.NewObjectID(), 1000, tc.milestones...)
			fixture.EndDate = f.clock.Now().Add(-time.Hour)
			c := testutil.MustInsertCampaign(t, f.store, fixture)
			testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 400)
			for _, m := range tc.claimed {
				e := testutil.ReleasedEscrow(c, 100, f.clock.Now())
				e.AutoCreated = true
				e.MilestonePercentage = pct(m)
				testutil.MustInsertEscrow(t, f.store, e)
			}

			created, err := f.engine.HandleExpiry(ctx, c.ID)
			if err != nil {
				t.Fatalf("expiry: %v", err)
			}
			if created == nil || created.MilestoneValue() != tc.wantTag {
				t.Fatalf("created: %+v", created)
			}

			// idempotent: second run does nothing
			again, err := f.engine.HandleExpiry(ctx, c.ID)
			if err != nil || again != nil {
				t.Fatalf("second expiry run: %+v err=%v", again, err)
			}
			stored, _ := f.store.Campaigns().FindByID(ctx, c.ID)
			if stored.ExpiryProcessedAt == nil {
				t.Fatalf("campaign not stamped")
			}
		})
	}
}

func TestHandleExpirySkipsWhileRequestOpen(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	fixture := testutil.Campaign(primitive.NewObjectID(), 1000, 100)
	fixture.EndDate = f.clock.Now().Add(-time.Hour)
	c := testutil.MustInsertCampaign(t, f.store, fixture)
	testutil.MustCompleteDonation(t, f.store, c.ID, primitive.NewObjectID(), 400)
	testutil.MustInsertEscrow(t, f.store, models.Escrow{
		ID: primitive.NewObjectID(), CampaignID: c.ID, Amount: 100, Reason: "manual",
		Status: models.EscrowVotingInProgress, Open: true,
	})

	created, err := f.engine.HandleExpiry(ctx, c.ID)
	if err != nil || created != nil {
		t.Fatalf("expected skip, got %+v err=%v", created, err)
	}
	stored, _ := f.store.Campaigns().FindByID(ctx, c.ID)
	if stored.ExpiryProcessedAt != nil {
		t.Fatalf("skipped run must not stamp the campaign")
	}
}
