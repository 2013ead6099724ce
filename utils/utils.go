package utils

import (
	"bytes"
	"context"
	"crowdfund-bend/models"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DecodeReq decodes a json request body into an interface
func DecodeReq(r *http.Request, model interface{}) error {
	defer r.Body.Close()
	b, _ := ioutil.ReadAll(r.Body)
	err := json.Unmarshal(b, model)
	r.Body = ioutil.NopCloser(bytes.NewBuffer(b))
	return err
}

// ReadBody returns the raw request body, leaving it readable for later decodes
func ReadBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	b, err := ioutil.ReadAll(r.Body)
	r.Body = ioutil.NopCloser(bytes.NewBuffer(b))
	return b, err
}

// ActorFromContext returns the caller set by the auth middleware
func ActorFromContext(ctx context.Context) (models.Actor, error) {
	id, _ := ctx.Value(models.UserIDKey).(string)
	userID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Actor{}, errors.New("invalid user id in context")
	}
	email, _ := ctx.Value(models.UserEmailKey).(string)
	role, _ := ctx.Value(models.UserRoleKey).(string)
	return models.Actor{ID: userID, Email: email, Role: role}, nil
}

// ParseID converts a path variable into an ObjectID
func ParseID(v string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(v)
	if err != nil {
		return id, models.Validation("invalid_id", "Invalid id "+v)
	}
	return id, nil
}
