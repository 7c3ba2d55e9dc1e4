package siteflowsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPathsAndDecoding(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/projects/house%201/inspections/auto-schedule", "/v0/projects/house 1/inspections/auto-schedule":
			io.WriteString(w, `{"project_id":"house 1","scheduled":[{"inspection_id":"i1","inspection_type":"framing_inspection","scheduled_date":"2024-03-17T00:00:00Z","status":"pending","auto_scheduled":true}]}`)
		case "/v0/validate":
			var body struct {
				Tasks []Task `json:"tasks"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Tasks, 1)
			io.WriteString(w, `[{"task_id":"t1","is_valid":false,"issues":[{"type":"missing_dependency","severity":"medium"}]}]`)
		case "/v0/conflicts":
			io.WriteString(w, `[]`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":"not_found","message":"nope"}}`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "house 1")
	ctx := context.Background()

	scheduled, err := c.AutoScheduleInspections(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "framing_inspection", scheduled[0].InspectionType)
	assert.True(t, scheduled[0].AutoScheduled)

	results, err := c.Validate(ctx, []Task{{ID: "t1", Name: "Mystery", Phase: "unknown_xyz"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "medium", results[0].Issues[0].Severity)

	_, err = c.Conflicts(ctx, false)
	require.NoError(t, err)
	_, err = c.Conflicts(ctx, true)
	require.NoError(t, err)

	_, err = c.Optimize(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	assert.Equal(t, []string{
		"POST /v0/projects/house%201/inspections/auto-schedule",
		"POST /v0/validate",
		"GET /v0/conflicts?project_id=house+1",
		"GET /v0/conflicts",
		"GET /v0/projects/house%201/optimization",
	}, seen)
}
