package anomaly

import (
	"fmt"
	"sort"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/presence"
)

// Thresholds tune the detection rules.
type Thresholds struct {
	Absenteeism        float64 // absence ratio raising HIGH_ABSENTEEISM
	HighAbsenteeism    float64 // absence ratio escalating it to HIGH severity
	Lateness           int     // late arrivals raising FREQUENT_LATENESS
	MinPatternSessions int     // sessions needed before looking for alternating presence
}

func DefaultThresholds() Thresholds {
	return Thresholds{Absenteeism: 0.3, HighAbsenteeism: 0.5, Lateness: 3, MinPatternSessions: 4}
}

func ThresholdsFromConfig(conf core.AnomalyConfig) Thresholds {
	th := DefaultThresholds()
	if conf.AbsenteeismThreshold > 0 {
		th.Absenteeism = conf.AbsenteeismThreshold
	}
	if conf.HighAbsenteeismThreshold > 0 {
		th.HighAbsenteeism = conf.HighAbsenteeismThreshold
	}
	if conf.LatenessThreshold > 0 {
		th.Lateness = conf.LatenessThreshold
	}
	if conf.MinPatternSessions > 0 {
		th.MinPatternSessions = conf.MinPatternSessions
	}
	return th
}

// Finding is the outcome of a rule that fired.
type Finding struct {
	Type        string
	Title       string
	Description string
	Severity    string
	Metadata    map[string]interface{}
}

type rule func(presences []presence.Presence, activities []activity.Activity, th Thresholds) (Finding, bool)

// rules run in this order; findings keep it.
var rules = []rule{
	checkAbsenteeism,
	checkFrequentLateness,
	checkNoActivityParticipation,
	checkInconsistentPresence,
}

// Detect evaluates every rule against the records of one student in one module.
func Detect(presences []presence.Presence, activities []activity.Activity, th Thresholds) []Finding {
	var findings []Finding
	for _, r := range rules {
		if f, ok := r(presences, activities, th); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

func statsMetadata(stats presence.Statistics) map[string]interface{} {
	return map[string]interface{}{
		"total_sessions": stats.TotalSessions,
		"present":        stats.Present,
		"absent":         stats.Absent,
		"late":           stats.Late,
		"excused":        stats.Excused,
		"presence_rate":  stats.PresenceRate,
	}
}

func checkAbsenteeism(presences []presence.Presence, _ []activity.Activity, th Thresholds) (Finding, bool) {
	stats := presence.ComputeStatistics(presences)
	if stats.TotalSessions == 0 {
		return Finding{}, false
	}
	rate := stats.AbsenceRate()
	if rate < th.Absenteeism {
		return Finding{}, false
	}

	severity := core.SeverityMedium
	if rate >= th.HighAbsenteeism {
		severity = core.SeverityHigh
	}
	return Finding{
		Type:  TypeHighAbsenteeism,
		Title: "High absenteeism",
		Description: fmt.Sprintf(
			"Absence rate of %.2f%% (%d absences out of %d sessions)",
			rate*100, stats.Absent, stats.TotalSessions,
		),
		Severity: severity,
		Metadata: statsMetadata(stats),
	}, true
}

func checkFrequentLateness(presences []presence.Presence, _ []activity.Activity, th Thresholds) (Finding, bool) {
	stats := presence.ComputeStatistics(presences)
	if stats.Late < th.Lateness {
		return Finding{}, false
	}
	return Finding{
		Type:        TypeFrequentLateness,
		Title:       "Frequent lateness",
		Description: fmt.Sprintf("%d late arrivals out of %d sessions", stats.Late, stats.TotalSessions),
		Severity:    core.SeverityMedium,
		Metadata:    statsMetadata(stats),
	}, true
}

func checkNoActivityParticipation(_ []presence.Presence, activities []activity.Activity, _ Thresholds) (Finding, bool) {
	if len(activities) == 0 {
		return Finding{}, false
	}
	for _, a := range activities {
		if a.Completed {
			return Finding{}, false
		}
	}
	return Finding{
		Type:        TypeNoActivityParticipation,
		Title:       "No activity participation",
		Description: fmt.Sprintf("No activity completed out of %d activities", len(activities)),
		Severity:    core.SeverityHigh,
		Metadata:    map[string]interface{}{"total_activities": len(activities), "completed": 0},
	}, true
}

// checkInconsistentPresence looks for a PRESENT, ABSENT, PRESENT run in chronological order.
func checkInconsistentPresence(presences []presence.Presence, _ []activity.Activity, th Thresholds) (Finding, bool) {
	if len(presences) < th.MinPatternSessions {
		return Finding{}, false
	}

	sorted := make([]presence.Presence, len(presences))
	copy(sorted, presences)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SessionDate.Before(sorted[j].SessionDate)
	})

	for i := 1; i < len(sorted)-1; i++ {
		if sorted[i-1].Status == presence.StatusPresent &&
			sorted[i].Status == presence.StatusAbsent &&
			sorted[i+1].Status == presence.StatusPresent {
			return Finding{
				Type:        TypeInconsistentPresence,
				Title:       "Inconsistent presence",
				Description: "Alternating presence pattern detected (present and absent sessions alternate)",
				Severity:    core.SeverityLow,
				Metadata:    map[string]interface{}{"total_sessions": len(presences)},
			}, true
		}
	}
	return Finding{}, false
}
