package campaign

import (
	"context"
	"crowdfund-bend/ledger"
	"crowdfund-bend/models"
	"crowdfund-bend/utils"
	"crowdfund-bend/voting"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Withdrawals is the part of the escrow machine donors and creators reach
type Withdrawals interface {
	CreateManual(ctx context.Context, campaignID primitive.ObjectID, actor models.Actor, req models.WithdrawalReq) (models.Escrow, error)
	SubmitProgressUpdate(ctx context.Context, id primitive.ObjectID, actor models.Actor, content string) (models.Escrow, error)
}

// Service represents the Campaign Service
type Service struct {
	ledger      *ledger.Ledger
	withdrawals Withdrawals
	voting      *voting.Service
}

// NewCampaignService ...
func NewCampaignService(l *ledger.Ledger, withdrawals Withdrawals, v *voting.Service) *Service {
	return &Service{ledger: l, withdrawals: withdrawals, voting: v}
}

func pathID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := utils.ParseID(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondWithErr(w, "err_parse_id", err)
		return id, false
	}
	return id, true
}

func actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	a, err := utils.ActorFromContext(r.Context())
	if err != nil {
		log.Printf("failed to read actor: %v", err)
		utils.RespondWithError(w, http.StatusUnauthorized, "You are not authorized")
		return a, false
	}
	return a, true
}

// Funding returns the campaign's funding summary
func (s *Service) Funding(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	summary, err := s.ledger.Funding(r.Context(), id)
	if err != nil {
		utils.RespondWithErr(w, "err_funding", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "", summary)
}

// Donate opens a checkout for a donation to the campaign
func (s *Service) Donate(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	donor, ok := actor(w, r)
	if !ok {
		return
	}

	checkout, err := s.ledger.InitCheckout(r.Context(), id, donor, req)
	if err != nil {
		utils.RespondWithErr(w, "err_checkout", err)
		return
	}
	utils.RespondWithData(w, http.StatusCreated, "Checkout created", checkout)
}

// RequestWithdrawal lets the creator open a manual withdrawal request
func (s *Service) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req models.WithdrawalReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	creator, ok := actor(w, r)
	if !ok {
		return
	}

	e, err := s.withdrawals.CreateManual(r.Context(), id, creator, req)
	if err != nil {
		utils.RespondWithErr(w, "err_create_withdrawal", err)
		return
	}
	utils.RespondWithData(w, http.StatusCreated, "Withdrawal request opened for voting", e)
}

// Vote casts or changes the caller's vote on a withdrawal request
func (s *Service) Vote(w http.ResponseWriter, r *http.Request) {
	var req models.VoteReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	donor, ok := actor(w, r)
	if !ok {
		return
	}

	vote, err := s.voting.CastVote(r.Context(), id, donor, req.Value)
	if err != nil {
		utils.RespondWithErr(w, "err_cast_vote", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "Vote recorded", vote)
}

// Tally returns the current weighted tally of a withdrawal request
func (s *Service) Tally(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tally, err := s.voting.Tally(r.Context(), id)
	if err != nil {
		utils.RespondWithErr(w, "err_tally", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "", tally)
}

// ProgressUpdate records the creator's report on released funds
func (s *Service) ProgressUpdate(w http.ResponseWriter, r *http.Request) {
	var req models.ProgressUpdateReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	creator, ok := actor(w, r)
	if !ok {
		return
	}

	e, err := s.withdrawals.SubmitProgressUpdate(r.Context(), id, creator, req.Content)
	if err != nil {
		utils.RespondWithErr(w, "err_progress_update", err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, "Progress update recorded", e)
}
