package domain

import "time"

// Task statuses the engine looks at. Other values are stored verbatim.
const (
	TaskStatusPlanned    = "planned"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

const InspectionStatusPending = "pending"

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Task is owned by the surrounding application; the engine only reads it.
type Task struct {
	ID                string    `json:"id" yaml:"id"`
	ProjectID         string    `json:"project_id" yaml:"project_id"`
	Name              string    `json:"name" yaml:"name"`
	ConstructionPhase string    `json:"construction_phase,omitempty" yaml:"construction_phase"`
	Phase             string    `json:"phase,omitempty" yaml:"phase"`
	StartDate         time.Time `json:"start_date" yaml:"start_date"`
	EndDate           time.Time `json:"end_date" yaml:"end_date"`
	Status            string    `json:"status" yaml:"status"`
	WeatherSensitive  bool      `json:"weather_sensitive" yaml:"weather_sensitive"`
	UpdatedAt         string    `json:"updated_at,omitempty" yaml:"-" format:"date-time"`
}

// ResolvedPhase returns the construction phase, falling back to the generic phase field.
func (t Task) ResolvedPhase() string {
	if t.ConstructionPhase != "" {
		return t.ConstructionPhase
	}
	return t.Phase
}

// Overlaps reports whether the half-open ranges [start, end) of a and b intersect.
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

type InspectionSchedule struct {
	InspectionID     string    `json:"inspection_id"`
	ProjectID        string    `json:"project_id"`
	InspectionType   string    `json:"inspection_type"`
	RequiredForPhase string    `json:"required_for_phase"`
	ScheduledDate    time.Time `json:"scheduled_date"`
	Status           string    `json:"status" enum:"pending,scheduled,passed,failed,canceled"`
	AutoScheduled    bool      `json:"auto_scheduled"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        string    `json:"created_at,omitempty" format:"date-time"`
}

type IssueType string

const (
	IssueMissingDependency  IssueType = "missing_dependency"
	IssueSchedulingConflict IssueType = "scheduling_conflict"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ValidationIssue struct {
	Type     IssueType `json:"type" enum:"missing_dependency,scheduling_conflict"`
	Severity Severity  `json:"severity" enum:"low,medium,high,critical"`
	Message  string    `json:"message"`
	TaskIDs  []string  `json:"task_ids,omitempty"`
}

type ValidationResult struct {
	TaskID          string            `json:"task_id"`
	TaskName        string            `json:"task_name"`
	Phase           string            `json:"phase"`
	IsValid         bool              `json:"is_valid"`
	Issues          []ValidationIssue `json:"issues"`
	Recommendations []string          `json:"recommendations"`
}

type ConflictType string

const (
	ConflictResourceOverlap     ConflictType = "resource_overlap"
	ConflictDependencyViolation ConflictType = "dependency_violation"
	ConflictInspectionGap       ConflictType = "inspection_gap"
)

type ScheduleConflict struct {
	ConflictID          string       `json:"conflict_id"`
	ConflictType        ConflictType `json:"conflict_type" enum:"resource_overlap,dependency_violation,inspection_gap"`
	Severity            Severity     `json:"severity" enum:"low,medium,high,critical"`
	AffectedTasks       []string     `json:"affected_tasks"`
	Description         string       `json:"description"`
	SuggestedResolution string       `json:"suggested_resolution"`
	AutoResolvable      bool         `json:"auto_resolvable"`
}

type OptimizationType string

const (
	OptimizationParallelExecution OptimizationType = "parallel_execution"
	OptimizationDependency        OptimizationType = "dependency_optimization"
	OptimizationResourceLeveling  OptimizationType = "resource_leveling"
)

type ScheduleOptimization struct {
	Type           OptimizationType `json:"type" enum:"parallel_execution,dependency_optimization,resource_leveling"`
	Description    string           `json:"description"`
	AffectedTasks  []string         `json:"affected_tasks"`
	TimeImpactDays int              `json:"time_impact_days"`
	Recommendation string           `json:"recommendation"`
}

// OptimizedSchedule is advisory: nothing in it has been applied to any task.
type OptimizedSchedule struct {
	ProjectID              string                 `json:"project_id"`
	Optimizations          []ScheduleOptimization `json:"optimizations"`
	EstimatedTimeSavedDays int                    `json:"estimated_time_saved_days"`
	NewCompletionDate      *time.Time             `json:"new_completion_date,omitempty"`
	CriticalPathImproved   bool                   `json:"critical_path_improved"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
