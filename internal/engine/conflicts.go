package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"siteflow/internal/domain"
	"siteflow/internal/repo"
	"siteflow/internal/rules"
)

// DetectScheduleConflicts reports resource overlaps, dependency violations and
// missing inspections, in that order. An empty projectID scans every project.
// Conflict ids are generated per call.
func (e Engine) DetectScheduleConflicts(ctx context.Context, projectID string) ([]domain.ScheduleConflict, error) {
	log := e.log().With(zap.String("project_id", projectID))
	tasks, err := e.Store.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		log.Error("list tasks", zap.Error(err))
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	inspections, err := e.Store.ListInspectionSchedules(ctx, repo.InspectionFilters{ProjectID: projectID})
	if err != nil {
		log.Error("list inspection schedules", zap.Error(err))
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	scheduled := make(map[inspectionKey]bool, len(inspections))
	for _, s := range inspections {
		scheduled[inspectionKey{s.ProjectID, s.InspectionType}] = true
	}

	conflicts := []domain.ScheduleConflict{}
	conflicts = append(conflicts, e.resourceOverlaps(tasks)...)
	conflicts = append(conflicts, e.dependencyViolations(tasks)...)
	conflicts = append(conflicts, e.inspectionGaps(tasks, scheduled)...)
	log.Debug("detected schedule conflicts", zap.Int("tasks", len(tasks)), zap.Int("conflicts", len(conflicts)))
	return conflicts, nil
}

type inspectionKey struct {
	projectID      string
	inspectionType string
}

// resourceOverlaps counts tasks active on each calendar day, both ends inclusive.
// Tasks spanning more than repo.MaxTaskSpan are left out of the count.
func (e Engine) resourceOverlaps(tasks []domain.Task) []domain.ScheduleConflict {
	cfg := e.config().Conflicts
	byDay := map[time.Time][]string{}
	for _, t := range tasks {
		if !dated(t) || t.EndDate.Before(t.StartDate) {
			continue
		}
		if t.EndDate.Sub(t.StartDate) > repo.MaxTaskSpan {
			e.log().Warn("task span too long for resource overlap check", zap.String("task_id", t.ID),
				zap.Time("start", t.StartDate), zap.Time("end", t.EndDate))
			continue
		}
		last := truncateDay(t.EndDate)
		for d := truncateDay(t.StartDate); !d.After(last); d = d.AddDate(0, 0, 1) {
			byDay[d] = append(byDay[d], t.ID)
		}
	}
	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var out []domain.ScheduleConflict
	for _, d := range days {
		ids := byDay[d]
		if len(ids) <= cfg.MaxTasksPerDay {
			continue
		}
		severity := domain.SeverityMedium
		if len(ids) > cfg.HighSeverityTasksPerDay {
			severity = domain.SeverityHigh
		}
		out = append(out, domain.ScheduleConflict{
			ConflictID:          e.newID(),
			ConflictType:        domain.ConflictResourceOverlap,
			Severity:            severity,
			AffectedTasks:       ids,
			Description:         fmt.Sprintf("%d tasks scheduled on %s", len(ids), day(d)),
			SuggestedResolution: "Stagger task start dates or add crew capacity for this day",
			AutoResolvable:      true,
		})
	}
	return out
}

// dependencyViolations reports, per task and prerequisite phase, the first task
// of that phase that ends after the task starts.
func (e Engine) dependencyViolations(tasks []domain.Task) []domain.ScheduleConflict {
	var out []domain.ScheduleConflict
	for i, t := range tasks {
		rule, ok := rules.Lookup(t.ResolvedPhase())
		if !ok || t.StartDate.IsZero() {
			continue
		}
		for _, prereq := range rule.Prerequisites {
			for j, u := range tasks {
				if j == i || u.ResolvedPhase() != prereq || !u.EndDate.After(t.StartDate) {
					continue
				}
				out = append(out, domain.ScheduleConflict{
					ConflictID:    e.newID(),
					ConflictType:  domain.ConflictDependencyViolation,
					Severity:      domain.SeverityCritical,
					AffectedTasks: []string{t.ID, u.ID},
					Description: fmt.Sprintf("%s starts %s before %s task %s ends %s",
						t.Name, day(t.StartDate), prereq, u.Name, day(u.EndDate)),
					SuggestedResolution: fmt.Sprintf("Move %s to start after %s", t.Name, day(u.EndDate)),
					AutoResolvable:      true,
				})
				break
			}
		}
	}
	return out
}

func (e Engine) inspectionGaps(tasks []domain.Task, scheduled map[inspectionKey]bool) []domain.ScheduleConflict {
	var out []domain.ScheduleConflict
	for _, t := range tasks {
		rule, ok := rules.Lookup(t.ResolvedPhase())
		if !ok {
			continue
		}
		for _, inspectionType := range rule.InspectionsRequired {
			if scheduled[inspectionKey{t.ProjectID, inspectionType}] {
				continue
			}
			out = append(out, domain.ScheduleConflict{
				ConflictID:          e.newID(),
				ConflictType:        domain.ConflictInspectionGap,
				Severity:            domain.SeverityHigh,
				AffectedTasks:       []string{t.ID},
				Description:         fmt.Sprintf("No %s scheduled for %s", inspectionType, t.Name),
				SuggestedResolution: "Run inspection auto-scheduling for the project",
				AutoResolvable:      true,
			})
		}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
