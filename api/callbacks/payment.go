package callbacks

import (
	"context"
	"crowdfund-bend/models"
	"crowdfund-bend/utils"
	"crowdfund-bend/utils/payment"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// ConfirmPayment applies a payment gateway notification to the donation it
// names. Completed orders are checked against the gateway, and the amount
// must match the donation.
func (s *Service) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	body, err := utils.ReadBody(r)
	if err != nil {
		log.Printf("err reading callback body: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request data detected")
		return
	}

	var cb models.GatewayCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		log.Printf("err decoding callback: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request data detected")
		return
	}
	cb.Status = models.PaymentStatus(strings.ToLower(string(cb.Status)))
	cb.RawPayload = string(body)

	if cb.Status == models.PaymentCompleted && s.verifier != nil {
		if err := s.verify(r.Context(), cb.OrderInvoiceNumber); err != nil {
			utils.RespondWithErr(w, "err_verify_order", err)
			return
		}
	}

	result, err := s.ledger.ApplyGatewayCallback(r.Context(), cb)
	if err != nil {
		utils.RespondWithErr(w, "err_apply_callback", err)
		return
	}

	msg := "Payment status updated"
	switch {
	case result.AlreadyProcessed:
		msg = "Payment already processed"
	case result.Ignored:
		msg = "Payment still pending"
	}
	utils.RespondWithData(w, http.StatusOK, msg, result)
}

// verify checks the gateway order behind a donation before it is completed
func (s *Service) verify(ctx context.Context, invoice string) error {
	d, err := s.ledger.FindDonation(ctx, invoice)
	if err != nil {
		return err
	}
	if d.PaymentStatus.HasSettled() || d.ProviderOrderID == "" {
		return nil
	}

	order, err := s.verifier.VerifyOrder(ctx, d.ProviderOrderID)
	if err != nil {
		log.Printf("err retrieving order: %v", err)
		return models.External("order_verification_failed", "Error validating order")
	}
	// an APPROVED order has not been captured yet
	if order.Status != "COMPLETED" {
		return models.Validation("order_not_completed", "Gateway reports the order as "+order.Status)
	}
	if order.Amount != "" && order.Amount != payment.FormatAmount(d.Amount) {
		return models.Validation("amount_mismatch", "Invalid order detected")
	}
	return nil
}
