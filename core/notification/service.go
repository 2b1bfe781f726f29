package notification

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

// ErrNotFound is returned when an alert does not exist.
var ErrNotFound = core.NotFoundError{Resource: "alert"}

const alertTemplate = "alert"

type (
	Repository interface {
		CreateAlert(ctx context.Context, a Alert) (Alert, error)
		GetAlert(ctx context.Context, id string) (Alert, error)
		// QueryAlerts applies AND operation on available QueryFilter fields, newest first.
		QueryAlerts(ctx context.Context, filter QueryFilter) ([]Alert, error)
		UpdateAlert(ctx context.Context, a Alert) (Alert, error)
	}

	Service struct {
		repo          Repository
		notifications NotificationRepository
		email         core.EmailService
		push          Pusher
		renderer      *Renderer
		staff         []mail.Address
		minSeverity   string
		validate      *validator.Validate
		logger        core.Logger
	}
)

func NewService(
	repo Repository,
	notifications NotificationRepository,
	email core.EmailService,
	push Pusher,
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
) *Service {
	staff := make([]mail.Address, 0, len(conf.Notification.StaffEmails))
	for _, addr := range conf.Notification.StaffEmails {
		staff = append(staff, mail.Address{Address: addr})
	}
	minSeverity := conf.Notification.EmailMinSeverity
	if core.SeverityRank(minSeverity) == 0 {
		minSeverity = core.SeverityHigh
	}
	return &Service{
		repo:          repo,
		notifications: notifications,
		email:         email,
		push:          push,
		renderer:      DefaultRenderer(),
		staff:         staff,
		minSeverity:   minSeverity,
		validate:      validate,
		logger:        logger,
	}
}

// Handle turns a consumed event into an alert, or into a notification for enrollment
// changes. Events that do not concern anybody are only logged.
func (svc *Service) Handle(ctx context.Context, evt core.Event) error {
	var (
		a   Alert
		err error
	)
	switch evt.Type {
	case core.EventHighRiskStudent:
		a, err = highRiskAlert(evt)
	case core.EventRiskModule:
		a, err = riskModuleAlert(evt)
	case core.EventAnomalyDetected:
		a, err = anomalyAlert(evt)
	case core.EventEnrollmentCreated, core.EventEnrollmentApproved,
		core.EventEnrollmentRejected, core.EventEnrollmentCancelled:
		return svc.enrollmentChanged(ctx, evt)
	case core.EventPresenceRecorded, core.EventActivityRecorded:
		svc.logger.Debug("received " + evt.Type + " event")
		return nil
	default:
		svc.logger.Info(fmt.Sprintf("ignoring event of unknown type %q", evt.Type))
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "decoding %s event", evt.Type)
	}

	_, err = svc.raise(ctx, a)
	return err
}

func highRiskAlert(evt core.Event) (Alert, error) {
	var data core.HighRiskStudent
	if err := evt.Decode(&data); err != nil {
		return Alert{}, err
	}
	severity := core.SeverityMedium
	switch data.RiskLevel {
	case core.SeverityCritical, core.SeverityHigh:
		severity = data.RiskLevel
	}
	return Alert{
		RecipientID: data.StudentID,
		AlertType:   evt.Type,
		Title:       "High-risk student alert",
		Message:     fmt.Sprintf("Student %s shows a %s risk in module %d", data.StudentID, data.RiskLevel, data.ModuleID),
		Severity:    severity,
		Metadata: map[string]interface{}{
			"module_id":           data.ModuleID,
			"risk_level":          data.RiskLevel,
			"success_probability": data.SuccessProbability,
			"dropout_probability": data.DropoutProbability,
		},
	}, nil
}

func riskModuleAlert(evt core.Event) (Alert, error) {
	var data core.RiskModule
	if err := evt.Decode(&data); err != nil {
		return Alert{}, err
	}
	severity := core.SeverityLow
	switch {
	case data.RiskScore > 0.7:
		severity = core.SeverityHigh
	case data.RiskScore > 0.5:
		severity = core.SeverityMedium
	}
	return Alert{
		RecipientID: AdminRecipient,
		AlertType:   evt.Type,
		Title:       "Module at risk",
		Message: fmt.Sprintf(
			"Module %d has a risk score of %.2f with %d students at risk",
			data.ModuleID, data.RiskScore, data.AtRiskStudents,
		),
		Severity: severity,
		Metadata: map[string]interface{}{
			"module_id":        data.ModuleID,
			"risk_score":       data.RiskScore,
			"at_risk_students": data.AtRiskStudents,
			"total_students":   data.TotalStudents,
		},
	}, nil
}

func anomalyAlert(evt core.Event) (Alert, error) {
	var data core.AnomalyDetected
	if err := evt.Decode(&data); err != nil {
		return Alert{}, err
	}
	severity := strings.ToUpper(data.Severity)
	if core.SeverityRank(severity) == 0 {
		severity = core.SeverityMedium
	}
	return Alert{
		RecipientID: data.StudentID,
		AlertType:   evt.Type,
		Title:       "Anomaly detected: " + data.AnomalyType,
		Message: fmt.Sprintf(
			"Anomaly detected for student %s in module %d: %s",
			data.StudentID, data.ModuleID, data.Description,
		),
		Severity: severity,
		Metadata: map[string]interface{}{
			"anomaly_id":   data.AnomalyID,
			"anomaly_type": data.AnomalyType,
			"module_id":    data.ModuleID,
		},
	}, nil
}

// Create raises an alert from a validated request.
func (svc *Service) Create(ctx context.Context, req CreateRequest) (Alert, error) {
	if err := req.Validate(svc.validate); err != nil {
		return Alert{}, err
	}
	return svc.raise(ctx, Alert{
		RecipientID: req.RecipientID,
		AlertType:   req.AlertType,
		Title:       req.Title,
		Message:     req.Message,
		Severity:    req.Severity,
		Metadata:    req.Metadata,
	})
}

// raise stores a new UNREAD alert and emails staff when it is severe enough.
func (svc *Service) raise(ctx context.Context, a Alert) (Alert, error) {
	a.Status = StatusUnread
	a.CreatedAt = time.Now().UTC()
	if a.Metadata == nil {
		a.Metadata = map[string]interface{}{}
	}
	a, err := svc.repo.CreateAlert(ctx, a)
	if err != nil {
		return Alert{}, errors.Wrap(err, "creating alert")
	}
	svc.notifyStaff(a)
	return a, nil
}

func (svc *Service) notifyStaff(a Alert) {
	if svc.email == nil || len(svc.staff) == 0 {
		return
	}
	if core.SeverityRank(a.Severity) < core.SeverityRank(svc.minSeverity) {
		return
	}
	svc.email.SendMessages(&core.EmailMessage{
		To:           svc.staff,
		Subject:      fmt.Sprintf("[%s] %s", a.Severity, a.Title),
		TemplateName: alertTemplate,
		TemplateData: a,
	})
}

func (svc *Service) GetByID(ctx context.Context, id string) (Alert, error) {
	return svc.repo.GetAlert(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Alert, error) {
	filter.Clean()
	return svc.repo.QueryAlerts(ctx, filter)
}

// ByRecipient lists the alerts of a recipient, optionally only the UNREAD ones.
func (svc *Service) ByRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]Alert, error) {
	filter := QueryFilter{RecipientID: recipientID}
	if unreadOnly {
		filter.Status = StatusUnread
	}
	return svc.Query(ctx, filter)
}

// Apply performs one of the alert Actions.
func (svc *Service) Apply(ctx context.Context, id, action string) (Alert, error) {
	switch action {
	case ActionRead:
		return svc.MarkRead(ctx, id)
	case ActionResolve:
		return svc.Resolve(ctx, id)
	}
	return Alert{}, core.NewValidationError(nil, core.FieldError{Field: "action", Error: "invalid action"})
}

// MarkRead marks an UNREAD alert as READ. Resolved alerts stay resolved.
func (svc *Service) MarkRead(ctx context.Context, id string) (Alert, error) {
	return svc.setStatus(ctx, id, func(a *Alert, now time.Time) {
		if a.ReadAt == nil {
			a.ReadAt = &now
		}
		if a.Status == StatusUnread {
			a.Status = StatusRead
		}
	})
}

func (svc *Service) Resolve(ctx context.Context, id string) (Alert, error) {
	return svc.setStatus(ctx, id, func(a *Alert, now time.Time) {
		if a.ReadAt == nil {
			a.ReadAt = &now
		}
		a.Status = StatusResolved
		a.ResolvedAt = &now
	})
}

func (svc *Service) setStatus(ctx context.Context, id string, set func(*Alert, time.Time)) (Alert, error) {
	a, err := svc.repo.GetAlert(ctx, id)
	if err != nil {
		return Alert{}, err
	}
	set(&a, time.Now().UTC())
	a, err = svc.repo.UpdateAlert(ctx, a)
	return a, errors.Wrap(err, "updating alert")
}
