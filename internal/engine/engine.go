// Package engine validates, schedules and optimizes construction task
// sequences against the phase rules in package rules.
//
// The engine is stateless: every call reads fresh data from the Store. The
// only write it performs is inserting auto-scheduled inspections.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"siteflow/internal/config"
	"siteflow/internal/domain"
	"siteflow/internal/repo"
)

// Store is the persistence the engine reads tasks from and writes inspection
// records to. repo.Repo satisfies it.
type Store interface {
	ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error)
	// GetInspectionSchedule returns repo.ErrNotFound when no record exists.
	GetInspectionSchedule(ctx context.Context, projectID, inspectionType string) (domain.InspectionSchedule, error)
	// InsertInspectionSchedule reports false when a record for the same project
	// and inspection type already exists.
	InsertInspectionSchedule(ctx context.Context, s domain.InspectionSchedule) (bool, error)
	TaskStatusesByPhase(ctx context.Context, projectID, phase string) ([]string, error)
	ListInspectionSchedules(ctx context.Context, f repo.InspectionFilters) ([]domain.InspectionSchedule, error)
}

var _ Store = repo.Repo{}

type Engine struct {
	Store  Store
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
}

func New(store Store, cfg *config.Config, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		Store:  store,
		Config: cfg,
		Logger: logger.Named("engine"),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default("")
}

// wholeDays rounds d up to whole days. Negative durations count as zero.
func wholeDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// floorDays truncates d towards negative infinity in whole days.
func floorDays(d time.Duration) int {
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

func taskIDs(tasks []domain.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func dated(t domain.Task) bool {
	return !t.StartDate.IsZero() && !t.EndDate.IsZero()
}

func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
