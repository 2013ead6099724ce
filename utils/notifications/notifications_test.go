package notifications

import (
	"context"
	"crowdfund-bend/models"
	"crowdfund-bend/utils"
	"errors"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeStore struct {
	mu            sync.Mutex
	users         map[primitive.ObjectID]models.User
	notifications []models.Notification
}

func (s *fakeStore) FindUser(_ context.Context, id primitive.ObjectID) (models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return u, errors.New("not found")
	}
	return u, nil
}

func (s *fakeStore) InsertNotification(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

type fakeMailer struct {
	sent []utils.EmailData
	err  error
}

func (m *fakeMailer) SendEmail(_ context.Context, data utils.EmailData) error {
	m.sent = append(m.sent, data)
	return m.err
}

type fakePusher struct {
	pushed []string
}

func (p *fakePusher) PushNotification(_ context.Context, token, title, message string) error {
	p.pushed = append(p.pushed, token+"|"+title+"|"+message)
	return nil
}

func TestNotifiableDeliversOnEveryChannel(t *testing.T) {
	t.Parallel()

	user := models.User{ID: primitive.NewObjectID(), Username: "ada", Email: "ada@example.com", FCMToken: "tok"}
	store := &fakeStore{users: map[primitive.ObjectID]models.User{user.ID: user}}
	mailer := &fakeMailer{err: errors.New("smtp down")}
	pusher := &fakePusher{}

	n := NewNotifiable(store, mailer, pusher)
	n.wait = true

	campaignID := primitive.NewObjectID()
	n.Send(context.Background(), models.Message{
		Template:   models.TplWithdrawalDenied,
		Recipient:  user.ID,
		CampaignID: campaignID,
		Body:       "Your withdrawal request was rejected",
		Type:       models.WithdrawalN,
		Data:       map[string]interface{}{"Reason": "missing receipts"},
	})

	if len(mailer.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(mailer.sent))
	}
	sent := mailer.sent[0]
	if sent.EmailTo != user.Email || sent.Title != "Withdrawal request rejected" {
		t.Fatalf("unexpected email: %+v", sent)
	}
	if data := sent.ContentData.(map[string]interface{}); data["Name"] != "ada" || data["Reason"] != "missing receipts" {
		t.Fatalf("unexpected content data: %+v", data)
	}
	// a mail failure does not stop the other channels
	if len(pusher.pushed) != 1 {
		t.Fatalf("expected one push, got %v", pusher.pushed)
	}
	if len(store.notifications) != 1 {
		t.Fatalf("expected persisted notification")
	}
	if got := store.notifications[0]; got.CampaignID != campaignID || got.Action != models.AInfo {
		t.Fatalf("unexpected notification: %+v", got)
	}
}

func TestNotifiableUnknownRecipient(t *testing.T) {
	t.Parallel()

	store := &fakeStore{users: map[primitive.ObjectID]models.User{}}
	mailer := &fakeMailer{}
	n := NewNotifiable(store, mailer, nil)
	n.wait = true

	n.Send(context.Background(), models.Message{Template: models.TplThankYou, Recipient: primitive.NewObjectID(), Body: "hi"})

	if len(mailer.sent) != 0 || len(store.notifications) != 0 {
		t.Fatalf("expected nothing delivered")
	}
}

func TestRenderTemplates(t *testing.T) {
	t.Parallel()

	for _, tpl := range []string{
		models.TplThankYou, models.TplVotingOpened, models.TplVotingClosed,
		models.TplWithdrawalDone, models.TplWithdrawalDenied, models.TplUpdateOverdue,
		models.TplCampaignCanceled, models.TplRefundProcessed, models.TplGeneric,
	} {
		body, err := utils.RenderEmail(tpl, map[string]interface{}{"Name": "ada", "Campaign": "<b>wells</b>"})
		if err != nil {
			t.Fatalf("%s: %v", tpl, err)
		}
		if body == "" {
			t.Fatalf("%s rendered empty", tpl)
		}
	}
}
