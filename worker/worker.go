// Package worker consumes deferred jobs from the queue.
package worker

import (
	"context"
	"crowdfund-bend/dao"
	"crowdfund-bend/models"
	"crowdfund-bend/utils"
	"crowdfund-bend/utils/notifications"
	"crowdfund-bend/utils/payment"
	"crowdfund-bend/utils/queue"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Worker ...
type Worker struct {
	source   queue.Source
	store    dao.Store
	mailer   notifications.EmailSender
	notifier notifications.Sender
}

// New returns a Worker reading jobs from source
func New(source queue.Source, store dao.Store, mailer notifications.EmailSender, notifier notifications.Sender) *Worker {
	return &Worker{source: source, store: store, mailer: mailer, notifier: notifier}
}

// Run blocks handling jobs until ctx is done
func (w *Worker) Run(ctx context.Context) error {
	log.Println("starting job worker")
	defer func() {
		if err := w.source.Close(); err != nil {
			log.Printf("job_source_close: %v", err)
		}
	}()
	return w.source.Run(ctx, w.Handle)
}

// Handle dispatches one job by type. Unknown types are dropped.
func (w *Worker) Handle(ctx context.Context, job models.Job) error {
	switch job.Type {
	case models.JobThankYou:
		var p models.ThankYouPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			log.Printf("thank_you_decode: %v", err)
			return nil
		}
		return w.thankYou(ctx, p)
	}
	log.Printf("unknown_job_type: %s", job.Type)
	return nil
}

// thankYou mails the donor. A mail failure is returned so the job is retried.
func (w *Worker) thankYou(ctx context.Context, p models.ThankYouPayload) error {
	donorID, err := primitive.ObjectIDFromHex(p.DonorID)
	if err != nil {
		log.Printf("thank_you_donor_id: %v", err)
		return nil
	}
	campaignID, err := primitive.ObjectIDFromHex(p.CampaignID)
	if err != nil {
		log.Printf("thank_you_campaign_id: %v", err)
		return nil
	}

	user, err := w.store.Users().FindByID(ctx, donorID)
	if errors.Is(err, dao.ErrNotFound) {
		log.Printf("thank_you_no_user: %s", p.DonorID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load donor: %w", err)
	}
	c, err := w.store.Campaigns().FindByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}

	amount := payment.FormatAmount(p.Amount)
	err = w.mailer.SendEmail(ctx, utils.EmailData{
		Title:   "Thank you for your donation",
		EmailTo: user.Email,
		ContentData: map[string]interface{}{
			"Name":     user.Username,
			"Amount":   amount,
			"Currency": p.Currency,
			"Campaign": c.Title,
		},
		Template: models.TplThankYou,
	})
	if err != nil {
		return fmt.Errorf("send thank you: %w", err)
	}

	w.notifier.Send(ctx, models.Message{
		Recipient:  donorID,
		CampaignID: campaignID,
		Title:      "Donation received",
		Body:       fmt.Sprintf("Your donation of %s %s to %s was received", amount, p.Currency, c.Title),
		Type:       models.DonationN,
		Action:     models.APayment,
	})
	return nil
}
