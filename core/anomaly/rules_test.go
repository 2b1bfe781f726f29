package anomaly_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	"github.com/abmarghoub/EduPathInsight/core/anomaly"
	"github.com/abmarghoub/EduPathInsight/core/presence"
	testutil "github.com/abmarghoub/EduPathInsight/tests"
)

var start = core.NewDate(2024, time.February, 5)

func presences(statuses ...string) []presence.Presence {
	out := make([]presence.Presence, len(statuses))
	for i, s := range statuses {
		out[i] = testutil.Presence("s1", 1, core.DateOf(start.AddDate(0, 0, i)), s)
	}
	return out
}

func activities(completed ...bool) []activity.Activity {
	out := make([]activity.Activity, len(completed))
	for i, c := range completed {
		out[i] = testutil.Activity("s1", 1, core.DateOf(start.AddDate(0, 0, i)), c, nil)
	}
	return out
}

func repeat(status string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = status
	}
	return out
}

func types(findings []anomaly.Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Type
	}
	return out
}

func TestDetect(t *testing.T) {
	const (
		P = presence.StatusPresent
		A = presence.StatusAbsent
		L = presence.StatusLate
		E = presence.StatusExcused
	)
	th := anomaly.DefaultThresholds()

	tests := []struct {
		name       string
		presences  []presence.Presence
		activities []activity.Activity
		want       []string
	}{
		{name: "no records"},
		{
			name:      "regular student",
			presences: presences(P, P, P, L, P, E, P, P, P, P),
			want:      []string{},
		},
		{
			name:      "absence ratio at threshold",
			presences: presences(append(repeat(A, 3), repeat(E, 7)...)...),
			want:      []string{anomaly.TypeHighAbsenteeism},
		},
		{
			name:      "frequent lateness",
			presences: presences(L, L, L, E, E),
			want:      []string{anomaly.TypeFrequentLateness},
		},
		{
			name:       "no completed activity",
			activities: activities(false, false),
			want:       []string{anomaly.TypeNoActivityParticipation},
		},
		{
			name:       "one completed activity",
			activities: activities(false, true),
			want:       []string{},
		},
		{
			name:      "alternating presence",
			presences: presences(E, P, A, P, E, E, E, E, E, E, E),
			want:      []string{anomaly.TypeInconsistentPresence},
		},
		{
			name:      "too few sessions for a pattern",
			presences: presences(P, A, P),
			want:      []string{anomaly.TypeHighAbsenteeism},
		},
		{
			name:       "every rule",
			presences:  presences(P, A, P, A, L, L, L, A, A),
			activities: activities(false),
			want: []string{
				anomaly.TypeHighAbsenteeism,
				anomaly.TypeFrequentLateness,
				anomaly.TypeNoActivityParticipation,
				anomaly.TypeInconsistentPresence,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := types(anomaly.Detect(tc.presences, tc.activities, th))
			if tc.want == nil {
				tc.want = []string{}
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetect_absenteeismSeverity(t *testing.T) {
	th := anomaly.DefaultThresholds()

	medium := anomaly.Detect(presences(append(repeat(presence.StatusAbsent, 3), repeat(presence.StatusExcused, 7)...)...), nil, th)
	if assert.Len(t, medium, 1) {
		assert.Equal(t, core.SeverityMedium, medium[0].Severity)
		assert.Equal(t, "Absence rate of 30.00% (3 absences out of 10 sessions)", medium[0].Description)
		assert.Equal(t, 10, medium[0].Metadata["total_sessions"])
		assert.Equal(t, 3, medium[0].Metadata["absent"])
	}

	high := anomaly.Detect(presences(append(repeat(presence.StatusAbsent, 5), repeat(presence.StatusExcused, 5)...)...), nil, th)
	if assert.Len(t, high, 1) {
		assert.Equal(t, core.SeverityHigh, high[0].Severity)
	}

	// the pattern is looked for in session order, not in slice order
	ps := presences(presence.StatusPresent, presence.StatusAbsent, presence.StatusPresent, presence.StatusExcused)
	ps[0], ps[1] = ps[1], ps[0]
	assert.Contains(t, types(anomaly.Detect(ps, nil, th)), anomaly.TypeInconsistentPresence)
}

func TestThresholdsFromConfig(t *testing.T) {
	th := anomaly.ThresholdsFromConfig(core.AnomalyConfig{LatenessThreshold: 5})
	want := anomaly.DefaultThresholds()
	want.Lateness = 5
	assert.Equal(t, want, th)
}
