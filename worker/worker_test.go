package worker

import (
	"context"
	"crowdfund-bend/dao"
	"crowdfund-bend/models"
	"crowdfund-bend/testutil"
	"crowdfund-bend/utils"
	"crowdfund-bend/utils/queue"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeMailer struct {
	mu   sync.Mutex
	fail int
	sent []utils.EmailData
}

func (m *fakeMailer) SendEmail(_ context.Context, data utils.EmailData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail > 0 {
		m.fail--
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *fakeMailer) Sent() []utils.EmailData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]utils.EmailData(nil), m.sent...)
}

func seed(t *testing.T) (*dao.MemoryStore, models.ThankYouPayload) {
	t.Helper()
	store := dao.NewMemoryStore()
	donor := models.User{ID: primitive.NewObjectID(), Username: "ada", Email: "ada@example.com"}
	store.PutUser(donor)
	c := testutil.MustInsertCampaign(t, store, testutil.Campaign(primitive.NewObjectID(), 1000))
	return store, models.ThankYouPayload{
		DonationID: primitive.NewObjectID().Hex(),
		CampaignID: c.ID.Hex(),
		DonorID:    donor.ID.Hex(),
		Amount:     12345,
		Currency:   "USD",
	}
}

func job(t *testing.T, p models.ThankYouPayload) models.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return models.Job{Type: models.JobThankYou, Payload: raw}
}

func TestThankYou(t *testing.T) {
	t.Parallel()

	store, p := seed(t)
	mailer := &fakeMailer{}
	notes := &testutil.Notifier{}
	w := New(queue.NewLocal(1), store, mailer, notes)

	if err := w.Handle(context.Background(), job(t, p)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	sent := mailer.Sent()
	if len(sent) != 1 || sent[0].EmailTo != "ada@example.com" || sent[0].Template != models.TplThankYou {
		t.Fatalf("sent: %+v", sent)
	}
	data := sent[0].ContentData.(map[string]interface{})
	if data["Amount"] != "123.45" || data["Campaign"] != "Clean water" {
		t.Fatalf("content: %+v", data)
	}
	if len(notes.Sent("")) != 1 {
		t.Fatalf("feed notification missing")
	}
}

func TestThankYouMailFailureIsRetryable(t *testing.T) {
	t.Parallel()

	store, p := seed(t)
	w := New(queue.NewLocal(1), store, &fakeMailer{fail: 1}, &testutil.Notifier{})
	if err := w.Handle(context.Background(), job(t, p)); err == nil {
		t.Fatalf("mail failure should be returned for retry")
	}
}

func TestUnknownAndMalformedJobsDropped(t *testing.T) {
	t.Parallel()

	store, p := seed(t)
	mailer := &fakeMailer{}
	w := New(queue.NewLocal(1), store, mailer, &testutil.Notifier{})
	ctx := context.Background()

	if err := w.Handle(ctx, models.Job{Type: "nope"}); err != nil {
		t.Fatalf("unknown job: %v", err)
	}
	if err := w.Handle(ctx, models.Job{Type: models.JobThankYou, Payload: []byte("{")}); err != nil {
		t.Fatalf("malformed job: %v", err)
	}
	p.DonorID = primitive.NewObjectID().Hex()
	if err := w.Handle(ctx, job(t, p)); err != nil {
		t.Fatalf("missing donor: %v", err)
	}
	if len(mailer.Sent()) != 0 {
		t.Fatalf("nothing should be mailed")
	}
}

func TestRunDrainsLocalQueue(t *testing.T) {
	t.Parallel()

	store, p := seed(t)
	mailer := &fakeMailer{fail: 1}
	local := queue.NewLocal(4)
	w := New(local, store, mailer, &testutil.Notifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if err := local.Enqueue(ctx, models.JobThankYou, p); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(mailer.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mailer.Sent()) != 1 {
		t.Fatalf("job should be delivered after one retry, sent=%d", len(mailer.Sent()))
	}
}
