package admin

import (
	"bytes"
	"context"
	"crowdfund-bend/config"
	"crowdfund-bend/dao"
	"crowdfund-bend/escrow"
	"crowdfund-bend/models"
	"crowdfund-bend/refund"
	"crowdfund-bend/testutil"
	"crowdfund-bend/utils"
	"crowdfund-bend/utils/cache"
	"crowdfund-bend/utils/payment"
	"crowdfund-bend/voting"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeAdjudicator struct {
	err    error
	listed string
}

func (f *fakeAdjudicator) ListForReview(_ context.Context, status string) ([]models.Escrow, error) {
	f.listed = status
	return nil, nil
}

func (f *fakeAdjudicator) Approve(_ context.Context, id primitive.ObjectID, _ models.Actor) (models.Escrow, error) {
	return models.Escrow{ID: id, Status: models.EscrowReleased}, f.err
}

func (f *fakeAdjudicator) Reject(_ context.Context, id primitive.ObjectID, _ models.Actor, reason string) (models.Escrow, error) {
	return models.Escrow{ID: id, Status: models.EscrowAdminRejected, RejectionReason: reason}, f.err
}

func (f *fakeAdjudicator) RetryRelease(_ context.Context, id primitive.ObjectID, _ models.Actor) (models.Escrow, error) {
	return models.Escrow{ID: id, Status: models.EscrowReleased}, f.err
}

func newService(adj Adjudicator) (*Service, *dao.MemoryStore) {
	store := dao.NewMemoryStore()
	clock := testutil.NewClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	c := cache.NewMemory()
	policy := config.DefaultPolicy()
	notes := &testutil.Notifier{}
	v := voting.NewService(store, c, policy).WithClock(clock.Now)
	m := escrow.NewMachine(escrow.Deps{
		Store: store, Transfer: &payment.Stub{}, Notifier: notes, Cache: c,
		Locker: cache.NewMemoryLocker(), Voting: v, Policy: policy,
	}).WithClock(clock.Now)
	refunds := refund.NewEngine(refund.Deps{Store: store, Machine: m, Voting: v, Notifier: notes, Policy: policy})
	return NewAdminService(adj, refunds), store
}

func call(t *testing.T, h http.HandlerFunc, id primitive.ObjectID, actor models.Actor, body string) (int, utils.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req = mux.SetURLVars(req, map[string]string{"id": id.Hex()})
	ctx := context.WithValue(req.Context(), models.UserIDKey, actor.ID.Hex())
	ctx = context.WithValue(ctx, models.UserRoleKey, actor.Role)
	rec := httptest.NewRecorder()
	h(rec, req.WithContext(ctx))

	var resp utils.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, resp
}

func TestAdjudicationHandlers(t *testing.T) {
	t.Parallel()

	adj := &fakeAdjudicator{}
	s, _ := newService(adj)
	id := primitive.NewObjectID()

	code, resp := call(t, s.Approve, id, testutil.Admin(), "")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("approve: %d %+v", code, resp)
	}
	code, resp = call(t, s.Reject, id, testutil.Admin(), `{"reason":"no receipts"}`)
	if code != http.StatusOK || resp.Data.(map[string]interface{})["rejection_reason"] != "no receipts" {
		t.Fatalf("reject: %d %+v", code, resp)
	}

	adj.err = models.External("transfer_failed", "Fund transfer failed: declined")
	code, resp = call(t, s.RetryRelease, id, testutil.Admin(), "")
	if code != http.StatusBadGateway || resp.Error != "transfer_failed" {
		t.Fatalf("retry: %d %+v", code, resp)
	}
	if resp.Data.(map[string]interface{})["retryable"] != true {
		t.Fatalf("transfer failures must be flagged retryable: %+v", resp.Data)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/withdrawals?status=admin_approved", nil)
	rec := httptest.NewRecorder()
	s.ListWithdrawals(rec, req)
	if rec.Code != http.StatusOK || adj.listed != "admin_approved" {
		t.Fatalf("list: %d status=%q", rec.Code, adj.listed)
	}
}

func TestCancelCampaignHandler(t *testing.T) {
	t.Parallel()

	s, store := newService(&fakeAdjudicator{})
	creator := primitive.NewObjectID()
	c := testutil.MustInsertCampaign(t, store, testutil.Campaign(creator, 1000))
	testutil.MustCompleteDonation(t, store, c.ID, primitive.NewObjectID(), 500)

	code, resp := call(t, s.CancelCampaign, c.ID, testutil.User(creator), `{"reason":"fraud"}`)
	if code != http.StatusForbidden || resp.Error != "admin_only" {
		t.Fatalf("non-admin cancel: %d %+v", code, resp)
	}
	code, resp = call(t, s.CancelCampaign, c.ID, testutil.Admin(), `{}`)
	if code != http.StatusBadRequest || resp.Error != "reason_required" {
		t.Fatalf("missing reason: %d %+v", code, resp)
	}

	code, resp = call(t, s.CancelCampaign, c.ID, testutil.Admin(), `{"reason":"fraud"}`)
	if code != http.StatusOK {
		t.Fatalf("cancel: %d %+v", code, resp)
	}
	if got := resp.Data.(map[string]interface{})["total_refunded"].(float64); got != 500 {
		t.Fatalf("total_refunded = %v", got)
	}

	code, resp = call(t, s.CancelCampaign, c.ID, testutil.Admin(), `{"reason":"again"}`)
	if code != http.StatusConflict || resp.Error != "campaign_not_cancellable" {
		t.Fatalf("second cancel: %d %+v", code, resp)
	}

	code, resp = call(t, s.Refunds, c.ID, testutil.Admin(), "")
	if code != http.StatusOK || len(resp.Data.([]interface{})) != 1 {
		t.Fatalf("refunds: %d %+v", code, resp)
	}
}
