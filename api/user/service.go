package user

import (
	"context"
	"crowdfund-bend/dao"
	"crowdfund-bend/models"
	"crowdfund-bend/utils"
	"log"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationFeed lists persisted notifications
type NotificationFeed interface {
	QueryNotifications(ctx context.Context, userID primitive.ObjectID) ([]models.Notification, error)
}

// Service represents the User Service
type Service struct {
	users dao.UserRepository
	feed  NotificationFeed
}

// NewUserService returns a user service object
func NewUserService(users dao.UserRepository, feed NotificationFeed) *Service {
	return &Service{users: users, feed: feed}
}

// AddPayoutOption registers where released campaign funds are sent
func (s *Service) AddPayoutOption(w http.ResponseWriter, r *http.Request) {
	var req models.PayoutOptionReq
	if err := utils.DecodeReq(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	actor, err := utils.ActorFromContext(r.Context())
	if err != nil {
		log.Printf("failed to parse userid: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.Type != models.PayPal {
		utils.RespondWithErr(w, "", models.Validation("unsupported_payout_type", "Only PayPal payouts are supported"))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		utils.RespondWithErr(w, "", models.Validation("invalid_email", "A valid PayPal email is required"))
		return
	}

	now := time.Now().UTC()
	opt := models.PayoutOption{
		ID:        primitive.NewObjectID(),
		UserID:    actor.ID,
		Type:      req.Type,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.UpsertPayoutOption(r.Context(), opt); err != nil {
		utils.RespondWithErr(w, "failed to save payout option", err)
		return
	}

	utils.RespondWithData(w, http.StatusCreated, "Payout option saved", opt)
}

// Notifications ...
func (s *Service) Notifications(w http.ResponseWriter, r *http.Request) {
	actor, err := utils.ActorFromContext(r.Context())
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	notifications, err := s.feed.QueryNotifications(r.Context(), actor.ID)
	if err != nil {
		log.Printf("failed to retrieve user notifications: %v", err)
		utils.RespondWithError(w, http.StatusBadRequest, "Error retrieving notifications")
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	utils.RespondWithJSON(w, http.StatusOK, utils.Response{
		Status:  "success",
		Success: true,
		Code:    http.StatusOK,
		Data:    notifications,
	})
}
