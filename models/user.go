package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the subset of the account document the settlement engine reads:
// who to mail, which device to push to
type User struct {
	ID        primitive.ObjectID `json:"id" bson:"_id"`
	Username  string             `json:"username" bson:"username"`
	Email     string             `json:"email" bson:"email"`
	FCMToken  string             `json:"fcm_token" bson:"fcm_token"`
	Role      string             `json:"role" bson:"role"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}

// Actor is the authenticated caller of an operation
type Actor struct {
	ID    primitive.ObjectID
	Email string
	Role  string
}

// IsAdmin ...
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
