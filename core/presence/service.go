package presence

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

// ErrNotFound is returned when a presence does not exist.
var ErrNotFound = core.NotFoundError{Resource: "presence"}

type (
	Repository interface {
		CreatePresence(ctx context.Context, p Presence) (Presence, error)
		GetPresence(ctx context.Context, id string) (Presence, error)
		// QueryPresences applies AND operation on available QueryFilter fields.
		QueryPresences(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Presence, error)
		UpdatePresence(ctx context.Context, p Presence) (Presence, error)
		DeletePresence(ctx context.Context, id string) error
		// StudentModules lists the distinct (student, module) pairs having presences.
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

// moduleInfo never fails: a missing module leaves code and name empty.
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

// Create records a validated NewPresence on behalf of the teacher.
func (svc *Service) Create(ctx context.Context, np NewPresence, teacher core.Actor) (Presence, error) {
	mod := svc.moduleInfo(ctx, np.ModuleID)
	username := np.StudentUsername
	if username == "" {
		username = np.StudentID
	}

	now := time.Now().UTC()
	p, err := svc.repo.CreatePresence(ctx, Presence{
		StudentID:       np.StudentID,
		StudentUsername: username,
		ModuleID:        np.ModuleID,
		ModuleCode:      mod.Code,
		ModuleName:      mod.Name,
		SessionDate:     np.SessionDate,
		SessionTime:     np.SessionTime,
		Status:          np.Status,
		Notes:           np.Notes,
		TeacherID:       teacher.ID,
		TeacherUsername: teacher.Username,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return Presence{}, errors.Wrap(err, "creating presence")
	}

	core.PublishEvent(ctx, svc.publisher, svc.logger, svc.routingKey, core.EventPresenceRecorded, core.PresenceRecorded{
		PresenceID: p.ID,
		StudentID:  p.StudentID,
		ModuleID:   p.ModuleID,
		Status:     p.Status,
	})
	return p, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Presence, error) {
	return svc.repo.GetPresence(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Presence, error) {
	filter.Clean()
	return svc.repo.QueryPresences(ctx, filter, ordering)
}

func (svc *Service) ByModule(ctx context.Context, moduleID int64) ([]Presence, error) {
	return svc.repo.QueryPresences(ctx, QueryFilter{ModuleID: &moduleID}, nil)
}

// ByStudent lists the presences of a student, optionally restricted to one module.
func (svc *Service) ByStudent(ctx context.Context, studentID string, moduleID *int64) ([]Presence, error) {
	return svc.repo.QueryPresences(ctx, QueryFilter{StudentID: studentID, ModuleID: moduleID}, nil)
}

// Update applies up to the presence; only its teacher or an admin may do so.
func (svc *Service) Update(ctx context.Context, id string, up UpdatePresence, actor core.Actor) (Presence, error) {
	p, err := svc.repo.GetPresence(ctx, id)
	if err != nil {
		return Presence{}, err
	}
	if !actor.CanModify(p.TeacherID) {
		return Presence{}, core.ErrPermissionDenied
	}
	up.apply(&p)
	p.UpdatedAt = time.Now().UTC()

	p, err = svc.repo.UpdatePresence(ctx, p)
	return p, errors.Wrap(err, "updating presence")
}

// Delete removes the presence; only its teacher or an admin may do so.
func (svc *Service) Delete(ctx context.Context, id string, actor core.Actor) error {
	p, err := svc.repo.GetPresence(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(p.TeacherID) {
		return core.ErrPermissionDenied
	}
	return errors.Wrap(svc.repo.DeletePresence(ctx, id), "deleting presence")
}

func (svc *Service) Statistics(ctx context.Context, studentID string, moduleID int64) (Statistics, error) {
	presences, err := svc.ByStudent(ctx, studentID, &moduleID)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "querying presences")
	}
	return ComputeStatistics(presences), nil
}

func (svc *Service) StudentModules(ctx context.Context) ([]core.StudentModule, error) {
	return svc.repo.StudentModules(ctx)
}
