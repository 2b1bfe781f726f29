package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/presence"
)

var (
	// ErrNotFound is returned when an anomaly does not exist.
	ErrNotFound = core.NotFoundError{Resource: "anomaly"}

	// ErrActiveExists is returned by Repository.CreateAnomaly when the student already
	// has an ACTIVE anomaly of that type in the module.
	ErrActiveExists = errors.New("an active anomaly of this type already exists")
)

type (
	Repository interface {
		// CreateAnomaly returns ErrActiveExists rather than storing a second ACTIVE anomaly
		// of a type for a student and module.
		CreateAnomaly(ctx context.Context, a Anomaly) (Anomaly, error)
		GetAnomaly(ctx context.Context, id string) (Anomaly, error)
		// QueryAnomalies applies AND operation on available QueryFilter fields, newest first.
		QueryAnomalies(ctx context.Context, filter QueryFilter) ([]Anomaly, error)
		UpdateAnomaly(ctx context.Context, a Anomaly) (Anomaly, error)
	}

	PresenceSource interface {
		ByStudent(ctx context.Context, studentID string, moduleID *int64) ([]presence.Presence, error)
		StudentModules(ctx context.Context) ([]core.StudentModule, error)
	}

	ActivitySource interface {
		ByStudent(ctx context.Context, studentID string, moduleID *int64) ([]activity.Activity, error)
		StudentModules(ctx context.Context) ([]core.StudentModule, error)
	}

	Service struct {
		repo       Repository
		presences  PresenceSource
		activities ActivitySource
		publisher  core.Publisher
		routingKey string
		thresholds Thresholds
		logger     core.Logger
	}

	// SweepResult summarizes a detection run over every student and module.
	SweepResult struct {
		Checked  int `json:"checked"`
		Detected int `json:"detected"`
		Created  int `json:"created"`
		Failed   int `json:"failed"`
	}
)

func NewService(
	repo Repository,
	presences PresenceSource,
	activities ActivitySource,
	publisher core.Publisher,
	conf *core.Config,
	logger core.Logger,
) *Service {
	return &Service{
		repo:       repo,
		presences:  presences,
		activities: activities,
		publisher:  publisher,
		routingKey: conf.Broker.ActivityRoutingKey,
		thresholds: ThresholdsFromConfig(conf.Anomaly),
		logger:     logger,
	}
}

// Check runs the detection rules for a student in a module and publishes every anomaly found.
// An ACTIVE anomaly of the same type is refreshed instead of duplicated.
func (svc *Service) Check(ctx context.Context, studentID string, moduleID int64) ([]Anomaly, error) {
	anomalies, _, err := svc.check(ctx, studentID, moduleID)
	if err != nil {
		return nil, err
	}
	for _, a := range anomalies {
		svc.publish(ctx, a)
	}
	return anomalies, nil
}

// check returns the anomalies found and, among them, those that did not exist yet.
func (svc *Service) check(ctx context.Context, studentID string, moduleID int64) ([]Anomaly, []Anomaly, error) {
	presences, err := svc.presences.ByStudent(ctx, studentID, &moduleID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying presences")
	}
	activities, err := svc.activities.ByStudent(ctx, studentID, &moduleID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying activities")
	}

	anomalies := make([]Anomaly, 0)
	var created []Anomaly
	for _, f := range Detect(presences, activities, svc.thresholds) {
		a, isNew, err := svc.record(ctx, studentID, moduleID, f)
		if err != nil {
			return nil, nil, err
		}
		if isNew {
			created = append(created, a)
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, created, nil
}

func (svc *Service) record(ctx context.Context, studentID string, moduleID int64, f Finding) (Anomaly, bool, error) {
	a, found, err := svc.refresh(ctx, studentID, moduleID, f)
	if err != nil || found {
		return a, false, err
	}

	a, err = svc.repo.CreateAnomaly(ctx, Anomaly{
		StudentID:   studentID,
		ModuleID:    moduleID,
		Type:        f.Type,
		Title:       f.Title,
		Description: f.Description,
		Severity:    f.Severity,
		Status:      StatusActive,
		Metadata:    f.Metadata,
		DetectedAt:  time.Now().UTC(),
	})
	if errors.Is(err, ErrActiveExists) {
		// a concurrent check recorded it first
		a, found, err = svc.refresh(ctx, studentID, moduleID, f)
		if err == nil && !found {
			err = errors.Wrapf(ErrActiveExists, "%s anomaly vanished", f.Type)
		}
		return a, false, err
	}
	return a, true, errors.Wrap(err, "creating anomaly")
}

// refresh updates the description and metadata of the ACTIVE anomaly matching f, if any.
func (svc *Service) refresh(ctx context.Context, studentID string, moduleID int64, f Finding) (Anomaly, bool, error) {
	existing, err := svc.repo.QueryAnomalies(ctx, QueryFilter{
		StudentID: studentID,
		ModuleID:  &moduleID,
		Type:      f.Type,
		Status:    StatusActive,
	})
	if err != nil {
		return Anomaly{}, false, errors.Wrap(err, "querying active anomalies")
	}
	if len(existing) == 0 {
		return Anomaly{}, false, nil
	}
	a := existing[0]
	a.Description = f.Description
	a.Metadata = f.Metadata
	a, err = svc.repo.UpdateAnomaly(ctx, a)
	return a, true, errors.Wrap(err, "refreshing anomaly")
}

func (svc *Service) publish(ctx context.Context, a Anomaly) {
	core.PublishEvent(ctx, svc.publisher, svc.logger, svc.routingKey, core.EventAnomalyDetected, core.AnomalyDetected{
		AnomalyID:   a.ID,
		StudentID:   a.StudentID,
		ModuleID:    a.ModuleID,
		AnomalyType: a.Type,
		Severity:    a.Severity,
		Description: a.Description,
	})
}

// Sweep checks every student and module having records. Only newly created anomalies are published.
func (svc *Service) Sweep(ctx context.Context) (SweepResult, error) {
	pairs, err := svc.studentModules(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	for _, p := range pairs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++
		anomalies, created, err := svc.check(ctx, p.StudentID, p.ModuleID)
		if err != nil {
			res.Failed++
			svc.logger.Error(fmt.Sprintf("checking anomalies of %s in module %d", p.StudentID, p.ModuleID), err)
			continue
		}
		res.Detected += len(anomalies)
		res.Created += len(created)
		for _, a := range created {
			svc.publish(ctx, a)
		}
	}
	return res, nil
}

func (svc *Service) studentModules(ctx context.Context) ([]core.StudentModule, error) {
	fromPresences, err := svc.presences.StudentModules(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing presence pairs")
	}
	fromActivities, err := svc.activities.StudentModules(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing activity pairs")
	}

	seen := make(map[core.StudentModule]struct{}, len(fromPresences)+len(fromActivities))
	pairs := make([]core.StudentModule, 0, len(fromPresences)+len(fromActivities))
	for _, p := range append(fromPresences, fromActivities...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Anomaly, error) {
	return svc.repo.GetAnomaly(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Anomaly, error) {
	filter.Clean()
	return svc.repo.QueryAnomalies(ctx, filter)
}

// ByStudent lists the anomalies of a student, optionally only the ACTIVE ones.
func (svc *Service) ByStudent(ctx context.Context, studentID string, activeOnly bool) ([]Anomaly, error) {
	filter := QueryFilter{StudentID: studentID}
	if activeOnly {
		filter.Status = StatusActive
	}
	return svc.repo.QueryAnomalies(ctx, filter)
}

// Apply performs one of the anomaly Actions.
func (svc *Service) Apply(ctx context.Context, id, action string) (Anomaly, error) {
	switch action {
	case ActionAcknowledge:
		return svc.Acknowledge(ctx, id)
	case ActionResolve:
		return svc.Resolve(ctx, id)
	case ActionDismiss:
		return svc.Dismiss(ctx, id)
	}
	return Anomaly{}, core.NewValidationError(nil, core.FieldError{Field: "action", Error: "invalid action"})
}

func (svc *Service) Acknowledge(ctx context.Context, id string) (Anomaly, error) {
	return svc.setStatus(ctx, id, func(a *Anomaly, now time.Time) {
		a.Status = StatusAcknowledged
		a.AcknowledgedAt = &now
	})
}

func (svc *Service) Resolve(ctx context.Context, id string) (Anomaly, error) {
	return svc.setStatus(ctx, id, func(a *Anomaly, now time.Time) {
		a.Status = StatusResolved
		a.ResolvedAt = &now
	})
}

func (svc *Service) Dismiss(ctx context.Context, id string) (Anomaly, error) {
	return svc.setStatus(ctx, id, func(a *Anomaly, _ time.Time) {
		a.Status = StatusDismissed
	})
}

func (svc *Service) setStatus(ctx context.Context, id string, set func(*Anomaly, time.Time)) (Anomaly, error) {
	a, err := svc.repo.GetAnomaly(ctx, id)
	if err != nil {
		return Anomaly{}, err
	}
	set(&a, time.Now().UTC())
	a, err = svc.repo.UpdateAnomaly(ctx, a)
	return a, errors.Wrap(err, "updating anomaly")
}
