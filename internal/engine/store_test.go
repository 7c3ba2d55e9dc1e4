package engine_test

import (
	"context"
	"sort"
	"sync"

	"siteflow/internal/domain"
	"siteflow/internal/engine"
	"siteflow/internal/repo"
)

// fakeStore is an in-memory engine.Store with error injection.
type fakeStore struct {
	mu          sync.Mutex
	tasks       []domain.Task
	inspections []domain.InspectionSchedule

	listTasksErr  error
	insertErr     error
	insertErrFrom int  // fail from the nth insert on (1-based); 0 means every insert
	lostRace      bool // report every insert as already present

	inserts   int
	getCalls  int
	listCalls int
}

var _ engine.Store = (*fakeStore)(nil)

func (s *fakeStore) ListTasks(_ context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listTasksErr != nil {
		return nil, s.listTasksErr
	}
	var out []domain.Task
	for _, t := range s.tasks {
		if f.ProjectID != "" && t.ProjectID != f.ProjectID {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].StartDate, out[j].StartDate
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		return a.Before(b)
	})
	return out, nil
}

func (s *fakeStore) GetInspectionSchedule(_ context.Context, projectID, inspectionType string) (domain.InspectionSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	for _, rec := range s.inspections {
		if rec.ProjectID == projectID && rec.InspectionType == inspectionType {
			return rec, nil
		}
	}
	return domain.InspectionSchedule{}, repo.ErrNotFound
}

func (s *fakeStore) InsertInspectionSchedule(_ context.Context, rec domain.InspectionSchedule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.insertErr != nil && s.inserts >= s.insertErrFrom {
		return false, s.insertErr
	}
	if s.lostRace {
		return false, nil
	}
	s.inspections = append(s.inspections, rec)
	return true, nil
}

func (s *fakeStore) TaskStatusesByPhase(_ context.Context, projectID, phase string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, t := range s.tasks {
		if t.ProjectID == projectID && t.ResolvedPhase() == phase {
			out = append(out, t.Status)
		}
	}
	return out, nil
}

func (s *fakeStore) ListInspectionSchedules(_ context.Context, f repo.InspectionFilters) ([]domain.InspectionSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var out []domain.InspectionSchedule
	for _, rec := range s.inspections {
		if f.ProjectID == "" || rec.ProjectID == f.ProjectID {
			out = append(out, rec)
		}
	}
	return out, nil
}
