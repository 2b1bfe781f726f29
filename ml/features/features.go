// Package features turns the recorded activity of a student in a module into
// the fixed-size vector consumed by the prediction model and its explainer.
package features

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/presence"
)

// Feature names, in vector order.
const (
	PresenceRate       = "presence_rate"
	AbsenceRate        = "absence_rate"
	LateRate           = "late_rate"
	ExcusedRate        = "excused_rate"
	CompletionRate     = "completion_rate"
	ParticipationScore = "participation_score"
	SessionVolume      = "session_volume"
	ActivityVolume     = "activity_volume"
)

var Names = []string{
	PresenceRate, AbsenceRate, LateRate, ExcusedRate,
	CompletionRate, ParticipationScore, SessionVolume, ActivityVolume,
}

// Count is the length of every Vector.
var Count = len(Names)

// volumeSaturation is the record count at which a volume feature reaches 1.
const volumeSaturation = 20

// Statistics bundles the presence and activity statistics of a student in a module.
type Statistics struct {
	StudentID          string              `json:"student_id"`
	ModuleID           int64               `json:"module_id"`
	PresenceStatistics presence.Statistics `json:"presence_statistics"`
	ActivityStatistics activity.Statistics `json:"activity_statistics"`
}

type (
	PresenceStatistics interface {
		Statistics(ctx context.Context, studentID string, moduleID int64) (presence.Statistics, error)
	}

	ActivityStatistics interface {
		Statistics(ctx context.Context, studentID string, moduleID int64) (activity.Statistics, error)
	}

	// Collector gathers Statistics from the services owning the records.
	Collector struct {
		presences  PresenceStatistics
		activities ActivityStatistics
	}
)

func NewCollector(presences PresenceStatistics, activities ActivityStatistics) *Collector {
	return &Collector{presences: presences, activities: activities}
}

func (c *Collector) Statistics(ctx context.Context, studentID string, moduleID int64) (Statistics, error) {
	ps, err := c.presences.Statistics(ctx, studentID, moduleID)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "presence statistics")
	}
	as, err := c.activities.Statistics(ctx, studentID, moduleID)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "activity statistics")
	}
	return Statistics{
		StudentID:          studentID,
		ModuleID:           moduleID,
		PresenceStatistics: ps,
		ActivityStatistics: as,
	}, nil
}

// Vector holds feature values in [0, 1], ordered as Names.
type Vector []float64

// FromStatistics derives the feature vector.
func FromStatistics(stats Statistics) Vector {
	ps, as := stats.PresenceStatistics, stats.ActivityStatistics
	v := make(Vector, Count)

	if ps.TotalSessions > 0 {
		total := float64(ps.TotalSessions)
		v[0] = float64(ps.Present) / total
		v[1] = float64(ps.Absent) / total
		v[2] = float64(ps.Late) / total
		v[3] = float64(ps.Excused) / total
	}
	if as.TotalActivities > 0 {
		v[4] = float64(as.Completed) / float64(as.TotalActivities)
	}
	if as.AverageParticipationScore != nil {
		v[5] = clamp(*as.AverageParticipationScore / 100)
	}
	v[6] = math.Min(float64(ps.TotalSessions)/volumeSaturation, 1)
	v[7] = math.Min(float64(as.TotalActivities)/volumeSaturation, 1)
	return v
}

// Map returns the vector keyed by feature name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v))
	for i, val := range v {
		if i < len(Names) {
			m[Names[i]] = val
		}
	}
	return m
}

// FromMap rebuilds a Vector, missing names default to 0.
func FromMap(m map[string]interface{}) Vector {
	v := make(Vector, Count)
	for i, name := range Names {
		if f, ok := m[name].(float64); ok {
			v[i] = clamp(f)
		}
	}
	return v
}

func clamp(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
