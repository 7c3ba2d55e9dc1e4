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

// roughIns are the trades that may share the building once framing is done.
var roughIns = []rules.Phase{rules.ElectricalRough, rules.PlumbingRough, rules.HVACRough}

// OptimizeTradeSequencing proposes schedule improvements for a project. It is
// advisory and never changes a task.
func (e Engine) OptimizeTradeSequencing(ctx context.Context, projectID string) (domain.OptimizedSchedule, error) {
	tasks, err := e.Store.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		e.log().Error("list tasks", zap.String("project_id", projectID), zap.Error(err))
		return domain.OptimizedSchedule{}, fmt.Errorf("list tasks: %w", err)
	}
	order, groups := groupByPhase(tasks)

	opts := []domain.ScheduleOptimization{}
	if opt, ok := parallelRoughIns(groups); ok {
		opts = append(opts, opt)
	}
	opts = append(opts, e.bufferTrims(order, groups)...)
	opts = append(opts, e.levelStarts(tasks)...)

	saved := 0
	for _, o := range opts {
		saved += o.TimeImpactDays
	}
	out := domain.OptimizedSchedule{
		ProjectID:              projectID,
		Optimizations:          opts,
		EstimatedTimeSavedDays: saved,
		CriticalPathImproved:   saved > 0,
	}
	var latest time.Time
	for _, t := range tasks {
		if t.EndDate.After(latest) {
			latest = t.EndDate
		}
	}
	if !latest.IsZero() {
		completion := latest.AddDate(0, 0, -saved)
		out.NewCompletionDate = &completion
	}
	e.log().Debug("optimized trade sequencing",
		zap.String("project_id", projectID),
		zap.Int("optimizations", len(opts)),
		zap.Int("saved_days", saved))
	return out, nil
}

// groupByPhase buckets tasks by resolved phase, keeping first-appearance order.
func groupByPhase(tasks []domain.Task) ([]string, map[string][]domain.Task) {
	var order []string
	groups := map[string][]domain.Task{}
	for _, t := range tasks {
		p := t.ResolvedPhase()
		if _, ok := groups[p]; !ok {
			order = append(order, p)
		}
		groups[p] = append(groups[p], t)
	}
	return order, groups
}

func parallelRoughIns(groups map[string][]domain.Task) (domain.ScheduleOptimization, bool) {
	sequential, parallel := 0, 0
	var affected []string
	for _, p := range roughIns {
		ts := groups[string(p)]
		if len(ts) == 0 {
			return domain.ScheduleOptimization{}, false
		}
		d := wholeDays(ts[0].EndDate.Sub(ts[0].StartDate))
		sequential += d
		if d > parallel {
			parallel = d
		}
		affected = append(affected, taskIDs(ts)...)
	}
	saved := sequential - parallel
	if saved <= 0 {
		return domain.ScheduleOptimization{}, false
	}
	return domain.ScheduleOptimization{
		Type:           domain.OptimizationParallelExecution,
		Description:    "Electrical, plumbing and HVAC rough-in can run in parallel",
		AffectedTasks:  affected,
		TimeImpactDays: saved,
		Recommendation: fmt.Sprintf("Run the rough-in trades concurrently: %d days sequential vs %d days in parallel", sequential, parallel),
	}, true
}

// bufferTrims flags tasks that start long after their latest prerequisite ends.
func (e Engine) bufferTrims(order []string, groups map[string][]domain.Task) []domain.ScheduleOptimization {
	cfg := e.config().Optimization
	var out []domain.ScheduleOptimization
	for _, phase := range order {
		rule, ok := rules.Lookup(phase)
		if !ok || len(rule.Prerequisites) == 0 {
			continue
		}
		for _, t := range groups[phase] {
			if t.StartDate.IsZero() {
				continue
			}
			var latest time.Time
			for _, prereq := range rule.Prerequisites {
				for _, u := range groups[prereq] {
					if u.EndDate.After(latest) {
						latest = u.EndDate
					}
				}
			}
			if latest.IsZero() {
				continue
			}
			buffer := floorDays(t.StartDate.Sub(latest))
			if buffer <= cfg.BufferThresholdDays {
				continue
			}
			out = append(out, domain.ScheduleOptimization{
				Type:           domain.OptimizationDependency,
				Description:    fmt.Sprintf("%s starts %d days after its prerequisites finish", t.Name, buffer),
				AffectedTasks:  []string{t.ID},
				TimeImpactDays: buffer - cfg.TargetBufferDays,
				Recommendation: fmt.Sprintf("Reduce the buffer before %s to %d day(s)", t.Name, cfg.TargetBufferDays),
			})
		}
	}
	return out
}

// levelStarts flags start instants shared by too many tasks. Impact is zero.
func (e Engine) levelStarts(tasks []domain.Task) []domain.ScheduleOptimization {
	limit := e.config().Optimization.MaxStartsPerDay
	starts := map[time.Time][]string{}
	for _, t := range tasks {
		if t.StartDate.IsZero() {
			continue
		}
		k := t.StartDate.UTC()
		starts[k] = append(starts[k], t.ID)
	}
	keys := make([]time.Time, 0, len(starts))
	for k := range starts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	var out []domain.ScheduleOptimization
	for _, k := range keys {
		ids := starts[k]
		if len(ids) <= limit {
			continue
		}
		out = append(out, domain.ScheduleOptimization{
			Type:           domain.OptimizationResourceLeveling,
			Description:    fmt.Sprintf("%d tasks start on %s", len(ids), day(k)),
			AffectedTasks:  ids,
			Recommendation: fmt.Sprintf("Stagger start dates so no more than %d tasks begin together", limit),
		})
	}
	return out
}
