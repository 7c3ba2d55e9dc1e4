package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"siteflow/internal/config"
	"siteflow/internal/db"
	"siteflow/internal/domain"
	"siteflow/internal/engine"
	"siteflow/internal/events"
	"siteflow/internal/migrate"
	"siteflow/internal/repo"
)

const projectID = "house-1"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	logger := zaptest.NewLogger(t)
	r := repo.Repo{DB: conn, Events: events.Writer{}}
	_, err = r.InsertProject(context.Background(), domain.Project{ID: projectID, Name: "House"})
	require.NoError(t, err)

	cfg := config.Default(projectID)
	handler, err := New(Config{
		Engine:   engine.New(r, cfg, logger),
		Repo:     r,
		BasePath: "/v0",
		Logger:   logger,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func day(n int) string {
	return time.Date(2024, 3, 1+n, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

func seedTasks(t *testing.T, srv *httptest.Server) {
	t.Helper()
	res, data := doJSON(t, http.MethodPut, srv.URL+"/v0/projects/"+projectID+"/tasks", map[string]any{
		"tasks": []map[string]any{
			{"id": "framing", "name": "Frame walls", "construction_phase": "framing", "start_date": day(4), "end_date": day(12)},
			{"id": "foundation", "name": "Pour foundation", "construction_phase": "foundation", "start_date": day(0), "end_date": day(5), "status": "completed"},
		},
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestHealthAndPhases(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/health", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/phases", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var phases []map[string]any
	require.NoError(t, json.Unmarshal(data, &phases))
	assert.Len(t, phases, 17)
}

func TestProjects(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "house-2", "name": "Second house"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var p domain.Project
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "Second house", p.Name)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "house-2"})
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/projects", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var projects []domain.Project
	require.NoError(t, json.Unmarshal(data, &projects))
	assert.Len(t, projects, 2)
}

func TestTasksRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	seedTasks(t, srv)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/tasks", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var tasks []TaskResponse
	require.NoError(t, json.Unmarshal(data, &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, "foundation", tasks[0].ID)
	assert.Equal(t, "completed", tasks[0].Status)
	assert.Equal(t, "planned", tasks[1].Status)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/tasks?phase=framing", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestUnknownProjectIsNotFound(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodPut, srv.URL+"/v0/projects/nope/tasks", map[string]any{
		"tasks": []map[string]any{{"id": "x", "name": "x"}},
	})
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "not_found", envelope.Error.Code)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/conflicts?project_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestValidateEndpoints(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/validate", map[string]any{
		"tasks": []map[string]any{
			{"id": "a", "name": "Mystery", "phase": "unknown_xyz"},
			{"id": "b", "name": "Clear lot", "construction_phase": "site_preparation", "weather_sensitive": true},
		},
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var results []domain.ValidationResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 2)
	assert.False(t, results[0].IsValid)
	require.Len(t, results[0].Issues, 1)
	assert.Equal(t, domain.SeverityMedium, results[0].Issues[0].Severity)
	assert.True(t, results[1].IsValid)

	seedTasks(t, srv)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/validation", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, "framing", results[1].TaskID)
	assert.False(t, results[1].IsValid)
}

func TestInspectionEndpoints(t *testing.T) {
	srv := newTestServer(t)
	seedTasks(t, srv)
	url := srv.URL + "/v0/projects/" + projectID + "/inspections"

	res, data := doJSON(t, http.MethodPost, url+"/auto-schedule", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var first AutoScheduleResponse
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Len(t, first.Scheduled, 3)

	res, data = doJSON(t, http.MethodPost, url+"/auto-schedule", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var second AutoScheduleResponse
	require.NoError(t, json.Unmarshal(data, &second))
	assert.Empty(t, second.Scheduled)

	res, data = doJSON(t, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var listed []domain.InspectionSchedule
	require.NoError(t, json.Unmarshal(data, &listed))
	assert.Len(t, listed, 3)

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "other"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = doJSON(t, http.MethodPatch, srv.URL+"/v0/projects/other/inspections/"+listed[0].InspectionID, map[string]any{"status": "passed"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	res, data = doJSON(t, http.MethodGet, url+"?status=pending", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var stillPending []domain.InspectionSchedule
	require.NoError(t, json.Unmarshal(data, &stillPending))
	assert.Len(t, stillPending, 3, "a PATCH through another project must leave the record unchanged")
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/events?type=inspection.status_changed", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, "[]", string(data))

	res, data = doJSON(t, http.MethodPatch, url+"/"+listed[0].InspectionID, map[string]any{"status": "passed"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var updated domain.InspectionSchedule
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, "passed", updated.Status)

	res, _ = doJSON(t, http.MethodPatch, url+"/"+listed[0].InspectionID, map[string]any{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestOptimizationAndConflicts(t *testing.T) {
	srv := newTestServer(t)
	seedTasks(t, srv)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/optimization", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var opt domain.OptimizedSchedule
	require.NoError(t, json.Unmarshal(data, &opt))
	assert.Equal(t, projectID, opt.ProjectID)
	assert.NotNil(t, opt.NewCompletionDate)

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/conflicts", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var conflicts []domain.ScheduleConflict
	require.NoError(t, json.Unmarshal(data, &conflicts))
	types := map[domain.ConflictType]int{}
	for _, c := range conflicts {
		types[c.ConflictType]++
	}
	assert.Equal(t, 1, types[domain.ConflictDependencyViolation])
	assert.Equal(t, 3, types[domain.ConflictInspectionGap])
}

func TestOpenAPIAndEvents(t *testing.T) {
	srv := newTestServer(t)
	seedTasks(t, srv)

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/openapi.json", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/projects/{project_id}/inspections/auto-schedule")

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/events?type=task.upserted", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts []domain.Event
	require.NoError(t, json.Unmarshal(data, &evts))
	assert.Len(t, evts, 2)
}
