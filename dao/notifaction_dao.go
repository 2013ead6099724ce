package dao

import (
	"context"
	"crowdfund-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InsertNotification persists a notification row
func (dao *FactoryDAO) InsertNotification(ctx context.Context, n models.Notification) error {
	return dao.Insert(ctx, "notifications", n)
}

// QueryNotifications lists a user's notifications, newest first
func (dao *FactoryDAO) QueryNotifications(ctx context.Context, userID primitive.ObjectID) ([]models.Notification, error) {
	var notifications []models.Notification
	err := dao.Query(ctx, "notifications", bson.M{"user_id": userID}, &notifications)
	return notifications, err
}

// FindUser ...
func (dao *FactoryDAO) FindUser(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	var user models.User
	err := dao.FindOne(ctx, usersC, bson.M{"_id": id}, &user)
	return user, err
}
