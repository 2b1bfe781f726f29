package notification

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/abmarghoub/EduPathInsight/core"
)

// Statuses
const (
	StatusUnread   = "UNREAD"
	StatusRead     = "READ"
	StatusResolved = "RESOLVED"
)

// Actions accepted on an alert.
const (
	ActionRead    = "read"
	ActionResolve = "resolve"
)

// AdminRecipient receives the module-level alerts.
const AdminRecipient = "admin"

var (
	Statuses = []string{StatusUnread, StatusRead, StatusResolved}
	Actions  = []string{ActionRead, ActionResolve}
)

// Notification channels. ALL delivers on every other channel.
const (
	ChannelEmail     = "EMAIL"
	ChannelPush      = "PUSH"
	ChannelDashboard = "DASHBOARD"
	ChannelAll       = "ALL"
)

// Delivery statuses of a notification.
const (
	DeliveryPending = "PENDING"
	DeliverySent    = "SENT"
	DeliveryFailed  = "FAILED"
)

var Channels = []string{ChannelEmail, ChannelPush, ChannelDashboard, ChannelAll}

const (
	actionTag   = "alertaction"
	severityTag = "severity"
	channelTag  = "channel"
)

// InitValidators registers the alert and notification validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	core.RegisterEnumValidation(validate, translator, actionTag, Actions...)
	core.RegisterEnumValidation(validate, translator, severityTag, core.Severities...)
	core.RegisterEnumValidation(validate, translator, channelTag, Channels...)
}

// Alert is a message raised for a student or the administration.
type Alert struct {
	ID          string                 `json:"id"`
	RecipientID string                 `json:"recipient_id"`
	AlertType   string                 `json:"alert_type"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Severity    string                 `json:"severity"`
	Status      string                 `json:"status"`
	Metadata    map[string]interface{} `json:"metadata"`
	CreatedAt   time.Time              `json:"created_at"` // UTC
	ReadAt      *time.Time             `json:"read_at"`
	ResolvedAt  *time.Time             `json:"resolved_at"`
}

// CreateRequest raises an alert by hand.
type CreateRequest struct {
	RecipientID string                 `json:"recipient_id" validate:"required"`
	AlertType   string                 `json:"alert_type" validate:"required,max=50"`
	Title       string                 `json:"title" validate:"required,max=255"`
	Message     string                 `json:"message" validate:"required"`
	Severity    string                 `json:"severity" validate:"required,severity"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (cr *CreateRequest) Validate(validate *validator.Validate) error {
	cr.RecipientID = core.CleanString(cr.RecipientID)
	cr.AlertType = strings.ToUpper(core.CleanString(cr.AlertType))
	cr.Title = core.CleanString(cr.Title)
	cr.Message = core.CleanString(cr.Message)
	cr.Severity = strings.ToUpper(core.CleanString(cr.Severity))
	return validate.Struct(cr)
}

// ActionRequest changes the status of an alert.
type ActionRequest struct {
	Action string `json:"action" validate:"required,alertaction"`
}

func (ar *ActionRequest) Validate(validate *validator.Validate) error {
	ar.Action = strings.ToLower(core.CleanString(ar.Action))
	return validate.Struct(ar)
}

type QueryFilter struct {
	RecipientID string
	Status      string
	Severity    string
}

func (qf *QueryFilter) Clean() {
	qf.RecipientID = core.CleanString(qf.RecipientID)
	qf.Status = strings.ToUpper(core.CleanString(qf.Status))
	qf.Severity = strings.ToUpper(core.CleanString(qf.Severity))
}

// Notification is a message sent to one recipient on one or every channel.
// Dashboard notifications are read from the recipient feed.
type Notification struct {
	ID             string                 `json:"id"`
	RecipientID    string                 `json:"recipient_id"`
	RecipientEmail string                 `json:"recipient_email"`
	Type           string                 `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Channel        string                 `json:"channel"`
	Status         string                 `json:"status"`
	Metadata       map[string]interface{} `json:"metadata"`
	CreatedAt      time.Time              `json:"created_at"` // UTC
	SentAt         *time.Time             `json:"sent_at"`
	ReadAt         *time.Time             `json:"read_at"`
}

// Delivers reports whether n goes out on channel.
func (n Notification) Delivers(channel string) bool {
	return n.Channel == channel || n.Channel == ChannelAll
}

// NewNotification asks for a notification to be sent.
type NewNotification struct {
	RecipientID    string                 `json:"recipient_id" validate:"required"`
	RecipientEmail string                 `json:"recipient_email" validate:"omitempty,email"`
	Type           string                 `json:"type" validate:"required,max=100"`
	Title          string                 `json:"title" validate:"required,max=200"`
	Message        string                 `json:"message" validate:"required"`
	Channel        string                 `json:"channel" validate:"required,channel"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (nn *NewNotification) Validate(validate *validator.Validate) error {
	nn.RecipientID = core.CleanString(nn.RecipientID)
	nn.RecipientEmail = strings.ToLower(core.CleanString(nn.RecipientEmail))
	nn.Type = strings.ToUpper(core.CleanString(nn.Type))
	nn.Title = core.CleanString(nn.Title)
	nn.Message = strings.TrimSpace(nn.Message)
	nn.Channel = strings.ToUpper(core.CleanString(nn.Channel))
	if err := validate.Struct(nn); err != nil {
		return err
	}
	if nn.RecipientEmail == "" && (nn.Channel == ChannelEmail || nn.Channel == ChannelAll) {
		return core.NewValidationError(nil, core.FieldError{Field: "recipient_email", Error: "this field is required"})
	}
	return nil
}
