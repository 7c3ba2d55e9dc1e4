package server

import (
	"time"

	"siteflow/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id" minLength:"1"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// TaskRequest carries a task as the caller supplies it. Dates are optional;
// undated tasks are skipped by date-based checks.
type TaskRequest struct {
	ID                string     `json:"id" minLength:"1"`
	ProjectID         string     `json:"project_id,omitempty"`
	Name              string     `json:"name" minLength:"1"`
	ConstructionPhase string     `json:"construction_phase,omitempty" example:"framing"`
	Phase             string     `json:"phase,omitempty"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	Status            string     `json:"status,omitempty" example:"in_progress"`
	WeatherSensitive  bool       `json:"weather_sensitive,omitempty"`
}

type UpsertTasksRequest struct {
	Tasks []TaskRequest `json:"tasks"`
}

type ValidateRequest struct {
	Tasks []TaskRequest `json:"tasks"`
}

type UpdateInspectionRequest struct {
	Status string `json:"status" enum:"pending,scheduled,passed,failed,canceled"`
}

// Responses

type TaskResponse struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	Name              string     `json:"name"`
	ConstructionPhase string     `json:"construction_phase,omitempty"`
	Phase             string     `json:"phase,omitempty"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	Status            string     `json:"status"`
	WeatherSensitive  bool       `json:"weather_sensitive"`
	UpdatedAt         string     `json:"updated_at,omitempty" format:"date-time"`
}

type AutoScheduleResponse struct {
	ProjectID string                      `json:"project_id"`
	Scheduled []domain.InspectionSchedule `json:"scheduled"`
}

func (r TaskRequest) toDomain(projectID string) domain.Task {
	t := domain.Task{
		ID:                r.ID,
		ProjectID:         projectID,
		Name:              r.Name,
		ConstructionPhase: r.ConstructionPhase,
		Phase:             r.Phase,
		Status:            r.Status,
		WeatherSensitive:  r.WeatherSensitive,
	}
	if t.ProjectID == "" {
		t.ProjectID = r.ProjectID
	}
	if r.StartDate != nil {
		t.StartDate = r.StartDate.UTC()
	}
	if r.EndDate != nil {
		t.EndDate = r.EndDate.UTC()
	}
	return t
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:                t.ID,
		ProjectID:         t.ProjectID,
		Name:              t.Name,
		ConstructionPhase: t.ConstructionPhase,
		Phase:             t.Phase,
		StartDate:         timePtr(t.StartDate),
		EndDate:           timePtr(t.EndDate),
		Status:            t.Status,
		WeatherSensitive:  t.WeatherSensitive,
		UpdatedAt:         t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func toDomainTasks(items []TaskRequest, projectID string) []domain.Task {
	out := make([]domain.Task, 0, len(items))
	for _, r := range items {
		out = append(out, r.toDomain(projectID))
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
