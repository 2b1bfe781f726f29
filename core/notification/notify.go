package notification

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

// ErrNotificationNotFound is returned when a notification does not exist.
var ErrNotificationNotFound = core.NotFoundError{Resource: "notification"}

const notificationTemplate = "notification"

type (
	NotificationRepository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		GetNotification(ctx context.Context, id string) (Notification, error)
		// QueryNotifications lists the notifications of a recipient, newest first.
		QueryNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)
		UpdateNotification(ctx context.Context, n Notification) (Notification, error)
	}

	// Pusher delivers PUSH notifications to the devices of a recipient.
	Pusher interface {
		Push(ctx context.Context, recipientID, title, message string, data map[string]interface{}) error
	}

	NotificationFilter struct {
		RecipientID string
		// UnreadOnly keeps the delivered notifications not yet read.
		UnreadOnly bool
	}
)

// enrollmentTexts are shown on the dashboard, and wherever no channel template exists.
var enrollmentTexts = map[string][2]string{
	core.EventEnrollmentCreated:   {"Enrollment request received", "Your enrollment request for module %s is awaiting approval."},
	core.EventEnrollmentApproved:  {"Enrollment approved", "Your enrollment in module %s has been approved."},
	core.EventEnrollmentRejected:  {"Enrollment rejected", "Your enrollment request for module %s has been rejected."},
	core.EventEnrollmentCancelled: {"Enrollment cancelled", "Your enrollment in module %s has been cancelled."},
}

func (svc *Service) enrollmentChanged(ctx context.Context, evt core.Event) error {
	var data core.EnrollmentChanged
	if err := evt.Decode(&data); err != nil {
		return errors.Wrapf(err, "decoding %s event", evt.Type)
	}
	module := data.ModuleCode
	if module == "" {
		module = fmt.Sprint(data.ModuleID)
	}
	channel := ChannelAll
	if data.StudentEmail == "" {
		channel = ChannelDashboard
	}
	text := enrollmentTexts[evt.Type]

	_, err := svc.Notify(ctx, NewNotification{
		RecipientID:    data.StudentID,
		RecipientEmail: data.StudentEmail,
		Type:           evt.Type,
		Title:          text[0],
		Message:        fmt.Sprintf(text[1], module),
		Channel:        channel,
		Metadata: map[string]interface{}{
			"enrollment_id": data.EnrollmentID,
			"module_id":     data.ModuleID,
			"module_code":   module,
			"status":        data.Status,
		},
	})
	return err
}

// Notify stores a notification and delivers it on its channels. A failed delivery is
// recorded on the returned notification, not returned as an error.
func (svc *Service) Notify(ctx context.Context, req NewNotification) (Notification, error) {
	if err := req.Validate(svc.validate); err != nil {
		return Notification{}, err
	}
	n := Notification{
		RecipientID:    req.RecipientID,
		RecipientEmail: req.RecipientEmail,
		Type:           req.Type,
		Title:          req.Title,
		Message:        req.Message,
		Channel:        req.Channel,
		Status:         DeliveryPending,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	if n.Metadata == nil {
		n.Metadata = map[string]interface{}{}
	}
	var err error
	if n.Title, n.Message, err = svc.renderer.Render(n, n.Channel); err != nil {
		return Notification{}, err
	}

	if n, err = svc.notifications.CreateNotification(ctx, n); err != nil {
		return Notification{}, errors.Wrap(err, "creating notification")
	}

	if err = svc.deliver(ctx, n); err != nil {
		svc.logger.Error(fmt.Sprintf("delivering %s notification %s", n.Channel, n.ID), err)
		n.Status = DeliveryFailed
	} else {
		now := time.Now().UTC()
		n.Status = DeliverySent
		n.SentAt = &now
	}
	n, err = svc.notifications.UpdateNotification(ctx, n)
	return n, errors.Wrap(err, "updating notification")
}

// deliver sends n by email and push as its channel asks. Dashboard notifications need
// nothing more than being stored.
func (svc *Service) deliver(ctx context.Context, n Notification) error {
	if n.Delivers(ChannelEmail) {
		if err := svc.sendEmail(n); err != nil {
			return err
		}
	}
	if n.Delivers(ChannelPush) {
		if svc.push == nil {
			return errors.New("push notifications are not configured")
		}
		title, message, err := svc.renderer.Render(n, ChannelPush)
		if err != nil {
			return err
		}
		data := map[string]interface{}{"notification_id": n.ID, "type": n.Type}
		if err = svc.push.Push(ctx, n.RecipientID, title, message, data); err != nil {
			return errors.Wrap(err, "pushing notification")
		}
	}
	return nil
}

func (svc *Service) sendEmail(n Notification) error {
	if svc.email == nil {
		return errors.New("email is not configured")
	}
	title, message, err := svc.renderer.Render(n, ChannelEmail)
	if err != nil {
		return err
	}
	n.Title, n.Message = title, message
	svc.email.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Address: n.RecipientEmail}},
		Subject:      title,
		TemplateName: notificationTemplate,
		TemplateData: n,
	})
	return nil
}

func (svc *Service) GetNotification(ctx context.Context, id string) (Notification, error) {
	return svc.notifications.GetNotification(ctx, id)
}

// Notifications lists the notifications of a recipient, optionally only the unread ones.
func (svc *Service) Notifications(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	return svc.notifications.QueryNotifications(ctx, NotificationFilter{
		RecipientID: core.CleanString(recipientID),
		UnreadOnly:  unreadOnly,
	})
}

// MarkNotificationRead records when the recipient first read a notification.
func (svc *Service) MarkNotificationRead(ctx context.Context, id string) (Notification, error) {
	n, err := svc.notifications.GetNotification(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.ReadAt != nil {
		return n, nil
	}
	now := time.Now().UTC()
	n.ReadAt = &now
	n, err = svc.notifications.UpdateNotification(ctx, n)
	return n, errors.Wrap(err, "updating notification")
}
