package admin

import (
	"context"
	"crowdfund-bend/models"
	"crowdfund-bend/refund"
	"crowdfund-bend/utils"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Adjudicator is the admin side of the escrow machine
type Adjudicator interface {
	ListForReview(ctx context.Context, status string) ([]models.Escrow, error)
	Approve(ctx context.Context, id primitive.ObjectID, actor models.Actor) (models.Escrow, error)
	Reject(ctx context.Context, id primitive.ObjectID, actor models.Actor, reason string) (models.Escrow, error)
	RetryRelease(ctx context.Context, id primitive.ObjectID, actor models.Actor) (models.Escrow, error)
}

// Service represents the Admin Service
type Service struct {
	escrow  Adjudicator
	refunds *refund.Engine
}

// NewAdminService ...
func NewAdminService(escrow Adjudicator, refunds *refund.Engine) *Service {
	return &Service{escrow: escrow, refunds: refunds}
}

func pathID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := utils.ParseID(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondWithErr(w, "err_parse_id", err)
		return id, false
	}
	return id, true
}

func admin(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	a, err := utils.ActorFromContext(r.Context())
	if err != nil {
		log.Printf("failed to read actor: %v", err)
		utils.RespondWithError(w, http.StatusUnauthorized, "You are not authorized")
		return a, false
	}
	return a, true
}

// ListWithdrawals lists requests awaiting review, or in ?status=
func (s *Service) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := s.escrow.ListForReview(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		utils.RespondWithErr(w, "err_list_withdrawals", err)
		return
	}
	if list == nil {
		list = []models.Escrow{}
	}
	utils.RespondWithData(w, http.StatusOK, "", list)
}

// Approve approves a tallied request and releases its funds
func (s *Service) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, ok := admin(w, r)
	if !ok {
		return
	}
	e, err := s.escrow.Approve(r.Context(), id, actor)
	if err != nil {
		utils.RespondWithErr(w, "err_approve", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "Funds released", e)
}

// Reject closes a tallied request
func (s *Service) Reject(w http.ResponseWriter, r *http.Request) {
	var req models.RejectReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, ok := admin(w, r)
	if !ok {
		return
	}
	e, err := s.escrow.Reject(r.Context(), id, actor, req.Reason)
	if err != nil {
		utils.RespondWithErr(w, "err_reject", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "Withdrawal request rejected", e)
}

// RetryRelease re-attempts a failed transfer
func (s *Service) RetryRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, ok := admin(w, r)
	if !ok {
		return
	}
	e, err := s.escrow.RetryRelease(r.Context(), id, actor)
	if err != nil {
		utils.RespondWithErr(w, "err_retry_release", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "Funds released", e)
}

// CancelCampaign cancels a campaign and unwinds its funds
func (s *Service) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	var req models.CancelReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, ok := admin(w, r)
	if !ok {
		return
	}
	summary, err := s.refunds.CancelCampaign(r.Context(), id, actor, req.Reason)
	if err != nil {
		utils.RespondWithErr(w, "err_cancel_campaign", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "Campaign cancelled", summary)
}

// Refunds lists the refund rows of a campaign
func (s *Service) Refunds(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	refunds, err := s.refunds.ListRefunds(r.Context(), id)
	if err != nil {
		utils.RespondWithErr(w, "err_list_refunds", err)
		return
	}
	if refunds == nil {
		refunds = []models.Refund{}
	}
	utils.RespondWithData(w, http.StatusOK, "", refunds)
}

// RecordRecovery books clawed back money and refunds it to donors
func (s *Service) RecordRecovery(w http.ResponseWriter, r *http.Request) {
	var req models.RecoveryReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, ok := admin(w, r)
	if !ok {
		return
	}
	dist, err := s.refunds.RecordRecovery(r.Context(), id, actor, req)
	if err != nil {
		utils.RespondWithErr(w, "err_record_recovery", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "Recovery recorded", dist)
}

// Escalate moves a recovery case to legal action
func (s *Service) Escalate(w http.ResponseWriter, r *http.Request) {
	var req models.EscalateReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, ok := admin(w, r)
	if !ok {
		return
	}
	rc, err := s.refunds.Escalate(r.Context(), id, actor, req)
	if err != nil {
		utils.RespondWithErr(w, "err_escalate", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "Recovery case escalated", rc)
}
