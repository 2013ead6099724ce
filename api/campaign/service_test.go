package campaign

import (
	"bytes"
	"context"
	"crowdfund-bend/config"
	"crowdfund-bend/dao"
	"crowdfund-bend/escrow"
	"crowdfund-bend/ledger"
	"crowdfund-bend/milestone"
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

type fixture struct {
	store   *dao.MemoryStore
	ledger  *ledger.Ledger
	service *Service
}

func newFixture() *fixture {
	f := &fixture{store: dao.NewMemoryStore()}
	clock := testutil.NewClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	c := cache.NewMemory()
	policy := config.DefaultPolicy()
	v := voting.NewService(f.store, c, policy).WithClock(clock.Now)
	m := escrow.NewMachine(escrow.Deps{
		Store: f.store, Transfer: &payment.Stub{}, Notifier: &testutil.Notifier{}, Cache: c,
		Locker: cache.NewMemoryLocker(), Voting: v, Policy: policy,
	}).WithClock(clock.Now)
	f.ledger = ledger.New(ledger.Deps{
		Store: f.store, Charger: &payment.Stub{}, Queue: &testutil.Queue{}, Cache: c,
		Machine: m, Milestone: milestone.NewEngine(f.store, m), Voting: v,
		Refunds: refund.NewEngine(refund.Deps{Store: f.store, Machine: m, Voting: v, Notifier: &testutil.Notifier{}, Policy: policy}),
	})
	f.service = NewCampaignService(f.ledger, m, v)
	return f
}

func call(t *testing.T, h http.HandlerFunc, id primitive.ObjectID, actor *models.Actor, body string) (int, utils.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req = mux.SetURLVars(req, map[string]string{"id": id.Hex()})
	if actor != nil {
		ctx := context.WithValue(req.Context(), models.UserIDKey, actor.ID.Hex())
		ctx = context.WithValue(ctx, models.UserEmailKey, actor.Email)
		ctx = context.WithValue(ctx, models.UserRoleKey, actor.Role)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	h(rec, req)

	var resp utils.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, resp
}

func TestDonateVoteFlow(t *testing.T) {
	t.Parallel()

	f := newFixture()
	creator := testutil.User(primitive.NewObjectID())
	donor := testutil.User(primitive.NewObjectID())
	c := testutil.MustInsertCampaign(t, f.store, testutil.Campaign(creator.ID, 1000))

	code, resp := call(t, f.service.Donate, c.ID, &donor, `{"amount":500,"currency":"USD"}`)
	if code != http.StatusCreated {
		t.Fatalf("donate: %d %+v", code, resp)
	}
	invoice := resp.Data.(map[string]interface{})["donation"].(map[string]interface{})["order_invoice_number"].(string)
	if _, err := f.ledger.ApplyGatewayCallback(context.Background(), models.GatewayCallback{
		OrderInvoiceNumber: invoice, Status: models.PaymentCompleted, ProviderTransactionID: "TX",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	code, resp = call(t, f.service.Funding, c.ID, nil, "")
	if code != http.StatusOK || resp.Data.(map[string]interface{})["available"].(float64) != 500 {
		t.Fatalf("funding: %d %+v", code, resp)
	}

	code, resp = call(t, f.service.RequestWithdrawal, c.ID, &donor, `{"amount":200,"reason":"materials"}`)
	if code != http.StatusForbidden || resp.Error != "not_campaign_creator" {
		t.Fatalf("non-creator withdrawal: %d %+v", code, resp)
	}
	code, resp = call(t, f.service.RequestWithdrawal, c.ID, &creator, `{"amount":200,"reason":"materials"}`)
	if code != http.StatusCreated {
		t.Fatalf("withdrawal: %d %+v", code, resp)
	}
	escrowID, _ := primitive.ObjectIDFromHex(resp.Data.(map[string]interface{})["id"].(string))

	code, resp = call(t, f.service.RequestWithdrawal, c.ID, &creator, `{"amount":100,"reason":"more"}`)
	if code != http.StatusConflict || resp.Error != "campaign_not_active" {
		t.Fatalf("second withdrawal while voting: %d %+v", code, resp)
	}
	if resp.Data.(map[string]interface{})["resource"] != c.ID.Hex() {
		t.Fatalf("conflict should name the campaign: %+v", resp.Data)
	}

	code, resp = call(t, f.service.Vote, escrowID, &donor, `{"value":"approve"}`)
	if code != http.StatusOK || resp.Data.(map[string]interface{})["vote_weight"].(float64) != 500 {
		t.Fatalf("vote: %d %+v", code, resp)
	}
	code, resp = call(t, f.service.Vote, escrowID, &creator, `{"value":"approve"}`)
	if code != http.StatusForbidden {
		t.Fatalf("ineligible vote: %d %+v", code, resp)
	}
	code, resp = call(t, f.service.Vote, escrowID, &donor, `{"value":"maybe"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("invalid vote: %d %+v", code, resp)
	}

	code, resp = call(t, f.service.Tally, escrowID, &donor, "")
	if code != http.StatusOK || resp.Data.(map[string]interface{})["approve_percentage"].(float64) != 100 {
		t.Fatalf("tally: %d %+v", code, resp)
	}
}

func TestHandlersRejectBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture()
	donor := testutil.User(primitive.NewObjectID())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "not-an-id"})
	rec := httptest.NewRecorder()
	f.service.Funding(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}

	code, _ := call(t, f.service.Donate, primitive.NewObjectID(), nil, `{"amount":5}`)
	if code != http.StatusUnauthorized {
		t.Fatalf("missing actor: %d", code)
	}
	code, _ = call(t, f.service.Donate, primitive.NewObjectID(), &donor, `{"amount":`)
	if code != http.StatusBadRequest {
		t.Fatalf("malformed body: %d", code)
	}
	code, resp := call(t, f.service.Donate, primitive.NewObjectID(), &donor, `{"amount":5}`)
	if code != http.StatusNotFound || resp.Error != "campaign_not_found" {
		t.Fatalf("unknown campaign: %d %+v", code, resp)
	}
}
