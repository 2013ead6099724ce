package notifications

import (
	"context"
	"crowdfund-bend/models"
	"crowdfund-bend/utils"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func cErr(tag string, err error) {
	if err != nil {
		log.Printf("%s: %v", tag, err)
		return
	}
}

func (n *Notifiable) deliver(ctx context.Context, msg models.Message) {
	user, err := n.store.FindUser(ctx, msg.Recipient)
	if err != nil {
		cErr("rtv_user", err)
		return
	}

	title := msg.Title
	if title == "" {
		title = titleFor(msg.Template)
	}

	data := map[string]interface{}{"Name": user.Username}
	for k, v := range msg.Data {
		data[k] = v
	}

	if msg.Template != "" {
		err = n.mailer.SendEmail(ctx, utils.EmailData{
			Title:       title,
			ContentData: data,
			EmailTo:     user.Email,
			Template:    msg.Template,
		})
		cErr("err_send_mail_"+msg.Template, err)
	}

	if n.pusher != nil && user.FCMToken != "" && msg.Body != "" {
		err = n.pusher.PushNotification(ctx, user.FCMToken, title, msg.Body)
		cErr("err_send_PN", err)
	}

	if msg.Body != "" {
		n.persist(ctx, title, msg)
	}
}

func (n *Notifiable) persist(ctx context.Context, title string, msg models.Message) {
	action := msg.Action
	if action == "" {
		action = models.AInfo
	}
	notification := models.Notification{
		ID:         primitive.NewObjectID(),
		Title:      title,
		CampaignID: msg.CampaignID,
		UserID:     msg.Recipient,
		Action:     action,
		Type:       msg.Type,
		Message:    msg.Body,
		CreatedAt:  time.Now().UTC(),
	}

	err := n.store.InsertNotification(ctx, notification)
	cErr("err_persist_notification", err)
}
