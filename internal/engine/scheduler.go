package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"siteflow/internal/domain"
	"siteflow/internal/repo"
	"siteflow/internal/rules"
)

// AutoScheduleInspections creates a pending inspection record for every
// inspection type a project's tasks require and that has no record yet, in
// task start order. It returns the records it inserted.
//
// Records are inserted one by one; a store failure stops the run and leaves
// earlier inserts in place. Running again completes the remaining work.
func (e Engine) AutoScheduleInspections(ctx context.Context, projectID string) ([]domain.InspectionSchedule, error) {
	log := e.log().With(zap.String("project_id", projectID))
	tasks, err := e.Store.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		log.Error("list tasks", zap.Error(err))
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	scheduled := []domain.InspectionSchedule{}
	for _, t := range tasks {
		phase := t.ResolvedPhase()
		rule, ok := rules.Lookup(phase)
		if !ok || len(rule.InspectionsRequired) == 0 {
			continue
		}
		if t.EndDate.IsZero() {
			log.Warn("task has no end date; inspections not scheduled", zap.String("task_id", t.ID), zap.String("phase", phase))
			continue
		}
		var met *bool
		for _, inspectionType := range rule.InspectionsRequired {
			_, err := e.Store.GetInspectionSchedule(ctx, projectID, inspectionType)
			if err == nil {
				continue
			}
			if !errors.Is(err, repo.ErrNotFound) {
				log.Error("get inspection schedule", zap.String("inspection_type", inspectionType), zap.Error(err))
				return nil, fmt.Errorf("get inspection %s: %w", inspectionType, err)
			}
			if met == nil {
				allMet, err := e.prerequisitesMet(ctx, projectID, rule)
				if err != nil {
					log.Error("check prerequisites", zap.String("phase", phase), zap.Error(err))
					return nil, err
				}
				met = &allMet
			}
			rec := domain.InspectionSchedule{
				InspectionID:     e.newID(),
				ProjectID:        projectID,
				InspectionType:   inspectionType,
				RequiredForPhase: phase,
				ScheduledDate:    t.EndDate.AddDate(0, 0, e.inspectionOffsetDays(inspectionType)),
				Status:           domain.InspectionStatusPending,
				AutoScheduled:    true,
				Notes:            fmt.Sprintf("Auto-scheduled after %s (task %s); prerequisites met: %t", t.Name, t.ID, *met),
				CreatedAt:        e.now().UTC().Format(time.RFC3339),
			}
			inserted, err := e.Store.InsertInspectionSchedule(ctx, rec)
			if err != nil {
				log.Error("insert inspection schedule", zap.String("inspection_type", inspectionType), zap.Error(err))
				return nil, fmt.Errorf("insert inspection %s: %w", inspectionType, err)
			}
			if !inserted {
				log.Debug("inspection already scheduled", zap.String("inspection_type", inspectionType))
				continue
			}
			log.Info("inspection auto-scheduled",
				zap.String("inspection_id", rec.InspectionID),
				zap.String("inspection_type", inspectionType),
				zap.Time("scheduled_date", rec.ScheduledDate))
			scheduled = append(scheduled, rec)
		}
	}
	log.Debug("auto-schedule finished", zap.Int("tasks", len(tasks)), zap.Int("scheduled", len(scheduled)))
	return scheduled, nil
}

func (e Engine) inspectionOffsetDays(inspectionType string) int {
	s := e.config().Scheduling
	switch {
	case strings.Contains(inspectionType, "rough"):
		return s.RoughOffsetDays
	case strings.Contains(inspectionType, "final"):
		return s.FinalOffsetDays
	default:
		return s.DefaultOffsetDays
	}
}

// prerequisitesMet reports whether every prerequisite of rule has a completed
// task in the project. Matching is by exact phase only.
func (e Engine) prerequisitesMet(ctx context.Context, projectID string, rule rules.PhaseRule) (bool, error) {
	for _, prereq := range rule.Prerequisites {
		statuses, err := e.Store.TaskStatusesByPhase(ctx, projectID, prereq)
		if err != nil {
			return false, fmt.Errorf("task statuses for %s: %w", prereq, err)
		}
		completed := false
		for _, s := range statuses {
			if s == domain.TaskStatusCompleted {
				completed = true
				break
			}
		}
		if !completed {
			return false, nil
		}
	}
	return true, nil
}
