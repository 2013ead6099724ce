package models

import "testing"

func TestPaymentTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentPending, PaymentCompleted, true},
		{PaymentPending, PaymentCancelled, true},
		{PaymentFailed, PaymentCompleted, true},
		{PaymentCancelled, PaymentCompleted, true},
		{PaymentCompleted, PaymentFailed, false},
		{PaymentCompleted, PaymentPartiallyRefunded, true},
		{PaymentPartiallyRefunded, PaymentRefunded, true},
		{PaymentRefunded, PaymentCompleted, false},
		{PaymentFailed, PaymentRefunded, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}

	if _, err := ParsePaymentStatus("chargeback"); !IsKind(err, KindValidation) {
		t.Fatalf("unknown status should be a validation error, got %v", err)
	}
	if !PaymentPartiallyRefunded.HasSettled() || PaymentFailed.HasSettled() {
		t.Fatalf("HasSettled mismatch")
	}
}

func TestEscrowTransitions(t *testing.T) {
	t.Parallel()

	for _, s := range []EscrowStatus{EscrowAdminRejected, EscrowReleased, EscrowCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if EscrowAdminApproved.Terminal() || !EscrowAdminApproved.CanTransitionTo(EscrowReleased) {
		t.Fatalf("admin_approved must still release")
	}
	if EscrowVotingInProgress.CanTransitionTo(EscrowAdminApproved) {
		t.Fatalf("voting must complete before approval")
	}
	if EscrowAdminApproved.Supersedable() || !EscrowVotingCompleted.Supersedable() {
		t.Fatalf("Supersedable mismatch")
	}
}

func TestCampaignHelpers(t *testing.T) {
	t.Parallel()

	c := Campaign{
		GoalAmount:    2000,
		CurrentAmount: 500,
		Milestones:    []Milestone{{Percentage: 25}, {Percentage: 100}, {Percentage: 50}},
	}
	if got := c.FundingPercentage(); got != 25 {
		t.Fatalf("FundingPercentage = %v", got)
	}
	got := c.MilestonePercentages()
	if len(got) != 3 || got[0] != 100 || got[1] != 50 || got[2] != 25 {
		t.Fatalf("MilestonePercentages = %v", got)
	}
	if got := (Campaign{GoalAmount: 100000, CurrentAmount: 57000}).FundingPercentage(); got != 57 {
		t.Fatalf("exact percentage = %v", got)
	}
	if (Campaign{}).FundingPercentage() != 0 {
		t.Fatalf("zero goal should yield zero")
	}
	if !CampaignVoting.AcceptsDonations() || CampaignCancelled.AcceptsDonations() {
		t.Fatalf("AcceptsDonations mismatch")
	}
}

func TestRefundStatusFor(t *testing.T) {
	t.Parallel()

	if StatusFor(0, 100) != RefundPending || StatusFor(40, 60) != RefundPartial || StatusFor(100, 0) != RefundCompleted {
		t.Fatalf("StatusFor mismatch")
	}
}
