package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"siteflow/internal/domain"
	"siteflow/internal/repo"
	"siteflow/internal/rules"
)

// ValidateTaskSequence checks every task against its phase rule and returns one
// result per task, in input order. It never fails: unknown phases and broken
// sequencing are reported as issues.
func (e Engine) ValidateTaskSequence(tasks []domain.Task) []domain.ValidationResult {
	results := make([]domain.ValidationResult, 0, len(tasks))
	invalid := 0
	for i := range tasks {
		res := validateTask(tasks, i)
		if !res.IsValid {
			invalid++
		}
		results = append(results, res)
	}
	e.log().Debug("validated task sequence", zap.Int("tasks", len(tasks)), zap.Int("invalid", invalid))
	return results
}

// ValidateProject validates the stored tasks of a project.
func (e Engine) ValidateProject(ctx context.Context, projectID string) ([]domain.ValidationResult, error) {
	tasks, err := e.Store.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		e.log().Error("list tasks", zap.String("project_id", projectID), zap.Error(err))
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return e.ValidateTaskSequence(tasks), nil
}

func validateTask(tasks []domain.Task, i int) domain.ValidationResult {
	t := tasks[i]
	phase := t.ResolvedPhase()
	res := domain.ValidationResult{
		TaskID:          t.ID,
		TaskName:        t.Name,
		Phase:           phase,
		Issues:          []domain.ValidationIssue{},
		Recommendations: []string{},
	}
	rule, ok := rules.Lookup(phase)
	if !ok {
		msg := fmt.Sprintf("Unknown construction phase %q; sequencing rules cannot be validated", phase)
		if phase == "" {
			msg = "Task has no construction phase; sequencing rules cannot be validated"
		}
		res.Issues = append(res.Issues, domain.ValidationIssue{
			Type:     domain.IssueMissingDependency,
			Severity: domain.SeverityMedium,
			Message:  msg,
			TaskIDs:  []string{t.ID},
		})
		return res
	}

	for _, prereq := range rule.Prerequisites {
		j := resolvePrerequisite(tasks, i, prereq)
		if j < 0 {
			res.Issues = append(res.Issues, domain.ValidationIssue{
				Type:     domain.IssueMissingDependency,
				Severity: domain.SeverityHigh,
				Message:  fmt.Sprintf("Required prerequisite %s not found for %s", prereq, phase),
				TaskIDs:  []string{t.ID},
			})
			continue
		}
		dep := tasks[j]
		if dep.EndDate.IsZero() || t.StartDate.IsZero() {
			continue
		}
		if dep.EndDate.After(t.StartDate) {
			res.Issues = append(res.Issues, domain.ValidationIssue{
				Type:     domain.IssueSchedulingConflict,
				Severity: domain.SeverityCritical,
				Message: fmt.Sprintf("%s starts %s before prerequisite %s (%s) ends %s",
					t.Name, day(t.StartDate), prereq, dep.Name, day(dep.EndDate)),
				TaskIDs: []string{t.ID, dep.ID},
			})
		}
	}

	for _, insp := range rule.InspectionsRequired {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Schedule %s once %s work is complete", insp, phase))
	}

	for _, other := range rule.CannotOverlapWith {
		for j, u := range tasks {
			if j == i || u.ResolvedPhase() != other || !dated(t) || !dated(u) {
				continue
			}
			if domain.Overlaps(t.StartDate, t.EndDate, u.StartDate, u.EndDate) {
				res.Issues = append(res.Issues, domain.ValidationIssue{
					Type:     domain.IssueSchedulingConflict,
					Severity: domain.SeverityHigh,
					Message:  fmt.Sprintf("%s overlaps %s task %s; these phases cannot run concurrently", phase, other, u.Name),
					TaskIDs:  []string{t.ID, u.ID},
				})
				break
			}
		}
	}

	if rule.WeatherSensitive && !t.WeatherSensitive {
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Mark task as weather sensitive: %s work depends on weather conditions", phase))
	}
	res.IsValid = len(res.Issues) == 0
	return res
}

// resolvePrerequisite finds the task that satisfies prereq for tasks[self]:
// first by exact phase, then by task name. The result is best effort; with
// several candidates the first in input order wins. Returns -1 when nothing
// matches.
func resolvePrerequisite(tasks []domain.Task, self int, prereq string) int {
	if j := resolveByPhaseField(tasks, self, prereq); j >= 0 {
		return j
	}
	return resolveByNameHeuristic(tasks, self, prereq)
}

func resolveByPhaseField(tasks []domain.Task, self int, prereq string) int {
	for j, t := range tasks {
		if j != self && t.ResolvedPhase() == prereq {
			return j
		}
	}
	return -1
}

// resolveByNameHeuristic matches tasks whose name contains the prerequisite
// with underscores read as spaces, ignoring case.
func resolveByNameHeuristic(tasks []domain.Task, self int, prereq string) int {
	needle := strings.ToLower(strings.ReplaceAll(prereq, "_", " "))
	for j, t := range tasks {
		if j != self && strings.Contains(strings.ToLower(t.Name), needle) {
			return j
		}
	}
	return -1
}
