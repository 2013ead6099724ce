package notifications

import (
	"context"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCM pushes through Firebase Cloud Messaging
type FCM struct {
	app *firebase.App
}

// NewFCM initializes a firebase app from a service account key file
func NewFCM(ctx context.Context, serviceAccountKeyPath string) (*FCM, error) {
	opt := option.WithCredentialsFile(serviceAccountKeyPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, err
	}
	return &FCM{app: app}, nil
}

// PushNotification dispatches a push notification to a user token
func (f *FCM) PushNotification(ctx context.Context, recipientToken, title, message string) error {
	if recipientToken == "" {
		return nil
	}

	client, err := f.app.Messaging(ctx)
	if err != nil {
		return err
	}
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: title,
			Body:  message,
		},
		Token: recipientToken,
	}

	response, err := client.Send(ctx, msg)
	if err != nil {
		return err
	}

	log.Printf("Successfully sent message: %v", response)
	return nil
}
