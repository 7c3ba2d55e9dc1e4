package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteflow/internal/db"
	"siteflow/internal/domain"
	"siteflow/internal/events"
	"siteflow/internal/migrate"
	"siteflow/internal/repo"
)

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	Repo repo.Repo
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	now := func() time.Time { return epoch }
	r := repo.Repo{DB: conn, Events: events.Writer{Now: now}, Now: now}
	ctx := context.Background()
	_, err = r.InsertProject(ctx, domain.Project{ID: "proj-1", Name: "House"})
	require.NoError(t, err)
	return testEnv{Repo: r, Ctx: ctx}
}

func TestProjects(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.Repo.SingleProject(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, "House", p.Name)
	assert.Equal(t, "active", p.Status)
	assert.Equal(t, "2024-03-01T00:00:00Z", p.CreatedAt)

	require.NoError(t, env.Repo.EnsureProject(env.Ctx, "proj-2"))
	require.NoError(t, env.Repo.EnsureProject(env.Ctx, "proj-2"))
	projects, err := env.Repo.ListProjects(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 2)
	_, err = env.Repo.SingleProject(env.Ctx)
	assert.Error(t, err)

	_, err = env.Repo.GetProject(env.Ctx, "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpsertAndListTasks(t *testing.T) {
	env := newTestEnv(t)
	tasks := []domain.Task{
		{ID: "b", ProjectID: "proj-1", Name: "Frame", ConstructionPhase: "framing", StartDate: epoch.AddDate(0, 0, 5), EndDate: epoch.AddDate(0, 0, 9)},
		{ID: "c", ProjectID: "proj-1", Name: "Someday", Phase: "framing"},
		{ID: "a", ProjectID: "proj-1", Name: "Pour", Phase: "foundation", StartDate: epoch, EndDate: epoch.AddDate(0, 0, 5),
			Status: domain.TaskStatusCompleted, WeatherSensitive: true},
	}
	saved, err := env.Repo.UpsertTasks(env.Ctx, tasks)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPlanned, saved[0].Status)

	all, err := env.Repo.ListTasks(env.Ctx, repo.TaskFilters{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "c", all[2].ID, "undated tasks sort last")
	assert.True(t, all[0].StartDate.Equal(epoch))
	assert.True(t, all[0].WeatherSensitive)
	assert.True(t, all[2].StartDate.IsZero())

	framing, err := env.Repo.ListTasks(env.Ctx, repo.TaskFilters{ProjectID: "proj-1", Phase: "framing"})
	require.NoError(t, err)
	assert.Len(t, framing, 2)

	statuses, err := env.Repo.TaskStatusesByPhase(env.Ctx, "proj-1", "foundation")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.TaskStatusCompleted}, statuses)

	counts, err := env.Repo.CountTasksByStatus(env.Ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"planned": 2, "completed": 1}, counts)

	tasks[1].Name = "Renamed"
	_, err = env.Repo.UpsertTasks(env.Ctx, tasks[1:2])
	require.NoError(t, err)
	got, err := env.Repo.GetTask(env.Ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	require.NoError(t, env.Repo.DeleteTask(env.Ctx, "c"))
	_, err = env.Repo.GetTask(env.Ctx, "c")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	evts, err := env.Repo.LatestEvents(env.Ctx, 10, "proj-1", events.TaskDeleted)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestUpsertTasksRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.UpsertTasks(env.Ctx, []domain.Task{{ID: "x", ProjectID: "proj-1"}})
	assert.ErrorContains(t, err, "name is required")
	_, err = env.Repo.UpsertTasks(env.Ctx, []domain.Task{{ID: "x", ProjectID: "missing", Name: "x"}})
	assert.Error(t, err)

	all, err := env.Repo.ListTasks(env.Ctx, repo.TaskFilters{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpsertTasksRejectsOverlongRange(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.UpsertTasks(env.Ctx, []domain.Task{{
		ID: "x", ProjectID: "proj-1", Name: "Forever", Phase: "framing",
		StartDate: epoch, EndDate: epoch.AddDate(300, 0, 0),
	}})
	assert.ErrorContains(t, err, "invalid date range")

	_, err = env.Repo.UpsertTasks(env.Ctx, []domain.Task{{
		ID: "y", ProjectID: "proj-1", Name: "Long", Phase: "framing",
		StartDate: epoch, EndDate: epoch.AddDate(5, 0, 0),
	}})
	assert.NoError(t, err)
}

func TestTaskDatesKeepSubSecondPrecision(t *testing.T) {
	env := newTestEnv(t)
	start := epoch.Add(8*time.Hour + 250*time.Millisecond)
	end := start.Add(-time.Millisecond)
	_, err := env.Repo.UpsertTasks(env.Ctx, []domain.Task{
		{ID: "late", ProjectID: "proj-1", Name: "Foundation", Phase: "foundation", StartDate: epoch, EndDate: start},
		{ID: "early", ProjectID: "proj-1", Name: "Framing", Phase: "framing", StartDate: end, EndDate: start.Add(time.Hour)},
	})
	require.NoError(t, err)

	late, err := env.Repo.GetTask(env.Ctx, "late")
	require.NoError(t, err)
	early, err := env.Repo.GetTask(env.Ctx, "early")
	require.NoError(t, err)
	assert.True(t, late.EndDate.Equal(start))
	assert.True(t, early.StartDate.Equal(end))
	assert.True(t, late.EndDate.After(early.StartDate))

	all, err := env.Repo.ListTasks(env.Ctx, repo.TaskFilters{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"late", "early"}, []string{all[0].ID, all[1].ID})
}

func TestInspectionSchedules(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Repo.EnsureProject(env.Ctx, "proj-2"))

	_, err := env.Repo.GetInspectionSchedule(env.Ctx, "proj-1", "framing_inspection")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	rec := domain.InspectionSchedule{
		InspectionID:     "i1",
		ProjectID:        "proj-1",
		InspectionType:   "framing_inspection",
		RequiredForPhase: "framing",
		ScheduledDate:    epoch.AddDate(0, 0, 10),
		AutoScheduled:    true,
		Notes:            "after framing",
	}
	inserted, err := env.Repo.InsertInspectionSchedule(env.Ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := rec
	dup.InspectionID = "i2"
	inserted, err = env.Repo.InsertInspectionSchedule(env.Ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	other := rec
	other.InspectionID = "i3"
	other.ProjectID = "proj-2"
	inserted, err = env.Repo.InsertInspectionSchedule(env.Ctx, other)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := env.Repo.GetInspectionSchedule(env.Ctx, "proj-1", "framing_inspection")
	require.NoError(t, err)
	assert.Equal(t, "i1", got.InspectionID)
	assert.Equal(t, domain.InspectionStatusPending, got.Status)
	assert.True(t, got.ScheduledDate.Equal(rec.ScheduledDate))
	assert.True(t, got.AutoScheduled)
	assert.Equal(t, "after framing", got.Notes)

	all, err := env.Repo.ListInspectionSchedules(env.Ctx, repo.InspectionFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = env.Repo.UpdateInspectionStatus(env.Ctx, "proj-2", "i1", "failed")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	got, err = env.Repo.GetInspectionSchedule(env.Ctx, "proj-1", "framing_inspection")
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionStatusPending, got.Status, "update through another project must not write")

	updated, err := env.Repo.UpdateInspectionStatus(env.Ctx, "proj-1", "i1", "passed")
	require.NoError(t, err)
	assert.Equal(t, "passed", updated.Status)
	pending, err := env.Repo.ListInspectionSchedules(env.Ctx, repo.InspectionFilters{ProjectID: "proj-1", Status: "pending"})
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = env.Repo.UpdateInspectionStatus(env.Ctx, "proj-1", "nope", "passed")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	evts, err := env.Repo.LatestEvents(env.Ctx, 10, "", events.InspectionAutoScheduled)
	require.NoError(t, err)
	assert.Len(t, evts, 2)

	changed, err := env.Repo.LatestEvents(env.Ctx, 10, "proj-1", events.InspectionStatusChanged)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "i1", changed[0].EntityID)
	assert.Contains(t, changed[0].Payload, `"to":"passed"`)
}
