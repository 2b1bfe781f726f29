package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abmarghoub/EduPathInsight/core"
	"github.com/abmarghoub/EduPathInsight/core/activity"
	sqlxrepos "github.com/abmarghoub/EduPathInsight/storage/database/sqlx"
	testutil "github.com/abmarghoub/EduPathInsight/tests"
)

func TestActivityRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.PrepareDB(t, core.ServiceActivities)
	repo := sqlxrepos.NewActivityRepository(db)
	day := core.NewDate(2024, time.April, 2)

	a := testutil.Activity("s1", 20, day, true, testutil.Float(72.5))
	duration := 90
	a.DurationMinutes = &duration
	a.Description = testutil.String("Graph traversal lab")
	created, err := repo.CreateActivity(ctx, a)
	require.NoError(t, err)

	got, err := repo.GetActivity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, 90, *got.DurationMinutes)
	assert.Equal(t, 72.5, *got.ParticipationScore)
	assert.True(t, got.Completed)

	testutil.CreateActivities(t, repo, "s1", 20, day, false, false)
	testutil.CreateActivities(t, repo, "s3", 21, day, true)

	done, notDone := true, false
	tests := []struct {
		name   string
		filter activity.QueryFilter
		want   int
	}{
		{name: "all", want: 4},
		{name: "student", filter: activity.QueryFilter{StudentID: "s1"}, want: 3},
		{name: "completed", filter: activity.QueryFilter{Completed: &done}, want: 2},
		{name: "not completed", filter: activity.QueryFilter{Completed: &notDone}, want: 2},
		{name: "type", filter: activity.QueryFilter{ActivityType: activity.TypeExam}, want: 0},
		{name: "from", filter: activity.QueryFilter{From: core.NewDate(2024, time.April, 3)}, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.QueryActivities(ctx, tc.filter, nil)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}

	t.Run("update", func(t *testing.T) {
		a := created
		a.Completed = false
		a.ParticipationScore = nil
		a.Title = "Graph lab"
		a.UpdatedAt = time.Now().UTC()
		_, err := repo.UpdateActivity(ctx, a)
		require.NoError(t, err)

		got, err := repo.GetActivity(ctx, created.ID)
		require.NoError(t, err)
		assert.False(t, got.Completed)
		assert.Nil(t, got.ParticipationScore)
		assert.Equal(t, "Graph lab", got.Title)
	})

	t.Run("student modules", func(t *testing.T) {
		pairs, err := repo.StudentModules(ctx)
		require.NoError(t, err)
		assert.Len(t, pairs, 2)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.DeleteActivity(ctx, created.ID))
		assert.Equal(t, activity.ErrNotFound, repo.DeleteActivity(ctx, created.ID))
		assert.Equal(t, activity.ErrNotFound, repo.DeleteActivity(ctx, "nope"))
	})
}
