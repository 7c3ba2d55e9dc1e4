package siteflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal siteflow HTTP API client.
type Client struct {
	BaseURL    string
	ProjectID  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task is a construction task as the API exchanges it.
type Task struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id,omitempty"`
	Name              string     `json:"name"`
	ConstructionPhase string     `json:"construction_phase,omitempty"`
	Phase             string     `json:"phase,omitempty"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	Status            string     `json:"status,omitempty"`
	WeatherSensitive  bool       `json:"weather_sensitive,omitempty"`
}

type PhaseRule struct {
	Phase               string   `json:"phase"`
	Prerequisites       []string `json:"prerequisites"`
	InspectionsRequired []string `json:"inspections_required"`
	WeatherSensitive    bool     `json:"weather_sensitive"`
	MinCureTimeDays     *int     `json:"min_cure_time_days,omitempty"`
	TypicalDurationDays int      `json:"typical_duration_days"`
	CannotOverlapWith   []string `json:"cannot_overlap_with"`
	RequiredBefore      []string `json:"required_before"`
}

type ValidationIssue struct {
	Type     string   `json:"type"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	TaskIDs  []string `json:"task_ids"`
}

type ValidationResult struct {
	TaskID          string            `json:"task_id"`
	TaskName        string            `json:"task_name"`
	Phase           string            `json:"phase"`
	IsValid         bool              `json:"is_valid"`
	Issues          []ValidationIssue `json:"issues"`
	Recommendations []string          `json:"recommendations"`
}

type Inspection struct {
	InspectionID     string    `json:"inspection_id"`
	ProjectID        string    `json:"project_id"`
	InspectionType   string    `json:"inspection_type"`
	RequiredForPhase string    `json:"required_for_phase"`
	ScheduledDate    time.Time `json:"scheduled_date"`
	Status           string    `json:"status"`
	AutoScheduled    bool      `json:"auto_scheduled"`
	Notes            string    `json:"notes"`
}

type Optimization struct {
	Type           string   `json:"type"`
	Description    string   `json:"description"`
	AffectedTasks  []string `json:"affected_tasks"`
	TimeImpactDays int      `json:"time_impact_days"`
	Recommendation string   `json:"recommendation"`
}

type OptimizedSchedule struct {
	ProjectID              string         `json:"project_id"`
	Optimizations          []Optimization `json:"optimizations"`
	EstimatedTimeSavedDays int            `json:"estimated_time_saved_days"`
	NewCompletionDate      *time.Time     `json:"new_completion_date"`
	CriticalPathImproved   bool           `json:"critical_path_improved"`
}

type Conflict struct {
	ConflictID          string   `json:"conflict_id"`
	ConflictType        string   `json:"conflict_type"`
	Severity            string   `json:"severity"`
	AffectedTasks       []string `json:"affected_tasks"`
	Description         string   `json:"description"`
	SuggestedResolution string   `json:"suggested_resolution"`
	AutoResolvable      bool     `json:"auto_resolvable"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListPhases returns the phase rule table.
func (c *Client) ListPhases(ctx context.Context) ([]PhaseRule, error) {
	var resp []PhaseRule
	err := c.do(ctx, http.MethodGet, "v0/phases", nil, &resp)
	return resp, err
}

// UpsertTasks creates or replaces tasks in the client's project.
func (c *Client) UpsertTasks(ctx context.Context, tasks []Task) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodPut, c.projectPath("tasks"), map[string]any{"tasks": tasks}, &resp)
	return resp, err
}

// ListTasks returns the project's tasks, optionally filtered by phase.
func (c *Client) ListTasks(ctx context.Context, phase string) ([]Task, error) {
	endpoint := c.projectPath("tasks")
	if phase != "" {
		endpoint += "?phase=" + url.QueryEscape(phase)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Validate checks an arbitrary task list without storing it.
func (c *Client) Validate(ctx context.Context, tasks []Task) ([]ValidationResult, error) {
	var resp []ValidationResult
	err := c.do(ctx, http.MethodPost, "v0/validate", map[string]any{"tasks": tasks}, &resp)
	return resp, err
}

// ValidateProject validates the project's stored tasks.
func (c *Client) ValidateProject(ctx context.Context) ([]ValidationResult, error) {
	var resp []ValidationResult
	err := c.do(ctx, http.MethodGet, c.projectPath("validation"), nil, &resp)
	return resp, err
}

// AutoScheduleInspections schedules missing inspections and returns the new ones.
func (c *Client) AutoScheduleInspections(ctx context.Context) ([]Inspection, error) {
	var resp struct {
		Scheduled []Inspection `json:"scheduled"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("inspections/auto-schedule"), nil, &resp)
	return resp.Scheduled, err
}

// ListInspections returns the project's inspection schedules.
func (c *Client) ListInspections(ctx context.Context, status string) ([]Inspection, error) {
	endpoint := c.projectPath("inspections")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Inspection
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Optimize returns schedule improvement proposals.
func (c *Client) Optimize(ctx context.Context) (OptimizedSchedule, error) {
	var resp OptimizedSchedule
	err := c.do(ctx, http.MethodGet, c.projectPath("optimization"), nil, &resp)
	return resp, err
}

// Conflicts detects schedule conflicts. With allProjects set the scan is not
// limited to the client's project.
func (c *Client) Conflicts(ctx context.Context, allProjects bool) ([]Conflict, error) {
	endpoint := "v0/conflicts"
	if !allProjects {
		endpoint += "?project_id=" + url.QueryEscape(c.ProjectID)
	}
	var resp []Conflict
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
