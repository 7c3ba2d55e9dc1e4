package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"siteflow/internal/domain"
	"siteflow/internal/rules"
)

// loadTaskFile reads tasks from YAML or JSON, either as a bare list or under a
// top-level "tasks" key. Tasks without a project take projectID.
func loadTaskFile(path, projectID string) ([]domain.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseTasks(data, projectID)
}

func parseTasks(data []byte, projectID string) ([]domain.Task, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("task file is empty")
	}
	var tasks []domain.Task
	if data[0] == '[' || data[0] == '-' {
		if err := yaml.Unmarshal(data, &tasks); err != nil {
			return nil, fmt.Errorf("invalid task list: %w", err)
		}
	} else {
		var doc struct {
			Tasks []domain.Task `yaml:"tasks"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid task file: %w", err)
		}
		tasks = doc.Tasks
	}
	for i := range tasks {
		if tasks[i].ProjectID == "" {
			tasks[i].ProjectID = projectID
		}
		tasks[i].StartDate = tasks[i].StartDate.UTC()
		tasks[i].EndDate = tasks[i].EndDate.UTC()
	}
	return tasks, nil
}

// unvalidatedPhases describes tasks whose phase has no rule; validation will only
// flag them, not check their ordering.
func unvalidatedPhases(tasks []domain.Task) []string {
	var out []string
	for _, t := range tasks {
		if phase := t.ResolvedPhase(); !rules.Known(phase) {
			out = append(out, fmt.Sprintf("task %s: phase %q", t.ID, phase))
		}
	}
	return out
}
