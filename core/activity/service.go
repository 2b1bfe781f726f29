package activity

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

// ErrNotFound is returned when an activity does not exist.
var ErrNotFound = core.NotFoundError{Resource: "activity"}

type (
	Repository interface {
		CreateActivity(ctx context.Context, a Activity) (Activity, error)
		GetActivity(ctx context.Context, id string) (Activity, error)
		// QueryActivities applies AND operation on available QueryFilter fields.
		QueryActivities(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Activity, error)
		UpdateActivity(ctx context.Context, a Activity) (Activity, error)
		DeleteActivity(ctx context.Context, id string) error
		// StudentModules lists the distinct (student, module) pairs having activities.
		StudentModules(ctx context.Context) ([]core.StudentModule, error)
	}

	Service struct {
		repo       Repository
		modules    core.ModuleDirectory
		publisher  core.Publisher
		routingKey string
		logger     core.Logger
		validate   *validator.Validate
		translator ut.Translator
	}
)

func NewService(
	repo Repository,
	modules core.ModuleDirectory,
	publisher core.Publisher,
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
) *Service {
	return &Service{
		repo:       repo,
		modules:    modules,
		publisher:  publisher,
		routingKey: conf.Broker.ActivityRoutingKey,
		logger:     logger,
		validate:   validate,
		translator: translator,
	}
}

func (svc *Service) moduleInfo(ctx context.Context, id int64) core.ModuleInfo {
	if svc.modules == nil {
		return core.ModuleInfo{ID: id}
	}
	mod, err := svc.modules.GetModule(ctx, id)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("fetching module %d", id), err)
		return core.ModuleInfo{ID: id}
	}
	return mod
}

// Create records a validated NewActivity on behalf of the teacher.
func (svc *Service) Create(ctx context.Context, na NewActivity, teacher core.Actor) (Activity, error) {
	mod := svc.moduleInfo(ctx, na.ModuleID)
	username := na.StudentUsername
	if username == "" {
		username = na.StudentID
	}

	now := time.Now().UTC()
	a, err := svc.repo.CreateActivity(ctx, Activity{
		StudentID:          na.StudentID,
		StudentUsername:    username,
		ModuleID:           na.ModuleID,
		ModuleCode:         mod.Code,
		ModuleName:         mod.Name,
		ActivityType:       na.ActivityType,
		Title:              na.Title,
		Description:        na.Description,
		ActivityDate:       na.ActivityDate,
		DurationMinutes:    na.DurationMinutes,
		Completed:          na.Completed,
		ParticipationScore: na.ParticipationScore,
		Notes:              na.Notes,
		TeacherID:          teacher.ID,
		TeacherUsername:    teacher.Username,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return Activity{}, errors.Wrap(err, "creating activity")
	}

	core.PublishEvent(ctx, svc.publisher, svc.logger, svc.routingKey, core.EventActivityRecorded, core.ActivityRecorded{
		ActivityID:   a.ID,
		StudentID:    a.StudentID,
		ModuleID:     a.ModuleID,
		ActivityType: a.ActivityType,
	})
	return a, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Activity, error) {
	return svc.repo.GetActivity(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Activity, error) {
	filter.Clean()
	return svc.repo.QueryActivities(ctx, filter, ordering)
}

func (svc *Service) ByModule(ctx context.Context, moduleID int64) ([]Activity, error) {
	return svc.repo.QueryActivities(ctx, QueryFilter{ModuleID: &moduleID}, nil)
}

// ByStudent lists the activities of a student, optionally restricted to one module.
func (svc *Service) ByStudent(ctx context.Context, studentID string, moduleID *int64) ([]Activity, error) {
	return svc.repo.QueryActivities(ctx, QueryFilter{StudentID: studentID, ModuleID: moduleID}, nil)
}

// Update applies ua to the activity; only its teacher or an admin may do so.
func (svc *Service) Update(ctx context.Context, id string, ua UpdateActivity, actor core.Actor) (Activity, error) {
	a, err := svc.repo.GetActivity(ctx, id)
	if err != nil {
		return Activity{}, err
	}
	if !actor.CanModify(a.TeacherID) {
		return Activity{}, core.ErrPermissionDenied
	}
	ua.apply(&a)
	a.UpdatedAt = time.Now().UTC()

	a, err = svc.repo.UpdateActivity(ctx, a)
	return a, errors.Wrap(err, "updating activity")
}

// Delete removes the activity; only its teacher or an admin may do so.
func (svc *Service) Delete(ctx context.Context, id string, actor core.Actor) error {
	a, err := svc.repo.GetActivity(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(a.TeacherID) {
		return core.ErrPermissionDenied
	}
	return errors.Wrap(svc.repo.DeleteActivity(ctx, id), "deleting activity")
}

func (svc *Service) Statistics(ctx context.Context, studentID string, moduleID int64) (Statistics, error) {
	activities, err := svc.ByStudent(ctx, studentID, &moduleID)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "querying activities")
	}
	return ComputeStatistics(activities), nil
}

func (svc *Service) StudentModules(ctx context.Context) ([]core.StudentModule, error) {
	return svc.repo.StudentModules(ctx)
}
