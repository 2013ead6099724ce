package notifications

import (
	"context"
	"crowdfund-bend/models"
	"crowdfund-bend/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sender is the fire-and-forget notification collaborator used by the engines.
// Send never blocks the caller on delivery and never reports failure.
type Sender interface {
	Send(ctx context.Context, msg models.Message)
}

// Store is where recipients are looked up and notifications persisted
type Store interface {
	FindUser(ctx context.Context, id primitive.ObjectID) (models.User, error)
	InsertNotification(ctx context.Context, n models.Notification) error
}

// EmailSender ...
type EmailSender interface {
	SendEmail(ctx context.Context, data utils.EmailData) error
}

// Pusher dispatches a push notification to a device token
type Pusher interface {
	PushNotification(ctx context.Context, recipientToken, title, message string) error
}

// Notifiable delivers a message over every configured channel: email, push
// and the persisted notification feed
type Notifiable struct {
	store  Store
	mailer EmailSender
	pusher Pusher
	// wait makes Send deliver inline, used by tests
	wait bool
}

// NewNotifiable returns a Notifiable. pusher may be nil when push is disabled.
func NewNotifiable(store Store, mailer EmailSender, pusher Pusher) *Notifiable {
	return &Notifiable{store: store, mailer: mailer, pusher: pusher}
}

// Send ...
func (n *Notifiable) Send(ctx context.Context, msg models.Message) {
	if n.wait {
		n.deliver(context.WithoutCancel(ctx), msg)
		return
	}
	go n.deliver(context.WithoutCancel(ctx), msg)
}
