package ledger

import (
	"context"
	"crowdfund-bend/models"
	"fmt"
	"log"
)

// ApplyGatewayCallback moves a donation to the status reported by the
// gateway. Replays and stale notifications never change the ledger twice.
func (l *Ledger) ApplyGatewayCallback(ctx context.Context, cb models.GatewayCallback) (models.CallbackResult, error) {
	if cb.OrderInvoiceNumber == "" {
		return models.CallbackResult{}, models.Validation("invoice_required", "order_invoice_number is required")
	}
	if _, err := models.ParsePaymentStatus(string(cb.Status)); err != nil {
		return models.CallbackResult{}, err
	}

	d, err := l.FindDonation(ctx, cb.OrderInvoiceNumber)
	if err != nil {
		return models.CallbackResult{}, err
	}

	switch {
	case cb.Status == models.PaymentPending:
		return models.CallbackResult{Donation: d, Ignored: true}, nil

	case cb.Status == models.PaymentCompleted:
		if d.PaymentStatus.HasSettled() {
			return models.CallbackResult{Donation: d, AlreadyProcessed: true}, nil
		}
		return l.complete(ctx, d, cb)

	case cb.Status.IsFailure():
		if d.PaymentStatus.HasSettled() {
			return models.CallbackResult{}, models.Conflict("payment_already_completed",
				"Payment already processed; a completed donation cannot fail", d.ID.Hex())
		}
		if d.ProviderTransactionID != "" || d.PaidAt != nil {
			return models.CallbackResult{}, models.Conflict("stale_failure",
				"Donation has a recorded payment; the failure notification is stale", d.ID.Hex())
		}
		if d.PaymentStatus.IsFailure() {
			return models.CallbackResult{Donation: d, AlreadyProcessed: true}, nil
		}
		return l.fail(ctx, d, cb)
	}

	return models.CallbackResult{}, models.Validation("unsupported_status",
		fmt.Sprintf("Gateway callbacks cannot set %s", cb.Status))
}

// complete applies a completed callback: conditional status write, ledger
// increment and milestone evaluation in one transaction. Money arriving for a
// cancelled campaign is counted and refunded in full in the same transaction.
func (l *Ledger) complete(ctx context.Context, d models.Donation, cb models.GatewayCallback) (models.CallbackResult, error) {
	paidAt := l.machine.Now()
	if cb.PaidAt != nil {
		paidAt = cb.PaidAt.UTC()
	}

	var (
		result   models.CallbackResult
		created  *models.Escrow
		campaign models.Campaign
		late     *models.Refund
	)
	err := l.store.WithTransaction(ctx, func(ctx context.Context) error {
		result, created, late = models.CallbackResult{}, nil, nil

		updated, applied, err := l.store.Donations().MarkCompleted(ctx, cb.OrderInvoiceNumber,
			cb.ProviderTransactionID, paidAt, cb.RawPayload)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if !applied {
			// a concurrent duplicate won the conditional write
			current, err := l.store.Donations().FindByInvoice(ctx, cb.OrderInvoiceNumber)
			if err != nil {
				return err
			}
			result = models.CallbackResult{Donation: current, AlreadyProcessed: true}
			return nil
		}

		c, err := l.RecordCompletedDonation(ctx, updated.CampaignID, updated.Amount)
		if err != nil {
			return err
		}
		campaign = c

		if c.Status == models.CampaignCancelled {
			rf, refunded, err := l.refunds.RefundLateDonation(ctx, c, updated)
			if err != nil {
				return err
			}
			late = &rf
			result = models.CallbackResult{Donation: refunded}
			return nil
		}

		created, err = l.milestone.Evaluate(ctx, c)
		if err != nil {
			return fmt.Errorf("evaluate milestones: %w", err)
		}

		result = models.CallbackResult{Donation: updated}
		return nil
	})
	if err != nil {
		return models.CallbackResult{}, err
	}
	if result.AlreadyProcessed {
		return result, nil
	}

	l.machine.InvalidateFunding(ctx, d.CampaignID)
	l.voting.Invalidate(ctx, d.CampaignID)
	if late != nil {
		l.refunds.NotifyRefunds(ctx, campaign, []models.Refund{*late})
		return result, nil
	}
	if created != nil {
		l.machine.AnnounceVoting(ctx, *created)
	}
	result.Donation = l.queueThankYou(ctx, result.Donation)
	return result, nil
}

func (l *Ledger) fail(ctx context.Context, d models.Donation, cb models.GatewayCallback) (models.CallbackResult, error) {
	updated, applied, err := l.store.Donations().MarkFailed(ctx, cb.OrderInvoiceNumber, cb.Status, cb.RawPayload, l.machine.Now())
	if err != nil {
		return models.CallbackResult{}, fmt.Errorf("mark failed: %w", err)
	}
	if applied {
		return models.CallbackResult{Donation: updated}, nil
	}

	current, err := l.store.Donations().FindByInvoice(ctx, cb.OrderInvoiceNumber)
	if err != nil {
		return models.CallbackResult{}, err
	}
	if current.PaymentStatus.HasSettled() {
		return models.CallbackResult{}, models.Conflict("payment_already_completed",
			"Payment already processed; a completed donation cannot fail", d.ID.Hex())
	}
	return models.CallbackResult{Donation: current, AlreadyProcessed: true}, nil
}

// queueThankYou enqueues the thank-you email once. mail_sent_at is stamped
// only after the queue accepted the job.
func (l *Ledger) queueThankYou(ctx context.Context, d models.Donation) models.Donation {
	if d.MailSentAt != nil {
		return d
	}

	err := l.queue.Enqueue(ctx, models.JobThankYou, models.ThankYouPayload{
		DonationID: d.ID.Hex(),
		CampaignID: d.CampaignID.Hex(),
		DonorID:    d.DonorID.Hex(),
		Amount:     d.Amount,
		Currency:   d.Currency,
	})
	if err != nil {
		log.Printf("enqueue_thank_you: %v", err)
		return d
	}

	now := l.machine.Now()
	marked, err := l.store.Donations().MarkMailSent(ctx, d.ID, now)
	if err != nil {
		log.Printf("mark_mail_sent: %v", err)
		return d
	}
	if marked {
		d.MailSentAt = &now
	}
	return d
}
