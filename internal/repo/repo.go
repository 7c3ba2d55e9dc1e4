package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"siteflow/internal/domain"
	"siteflow/internal/events"
)

// Repo is the SQL-backed store behind the scheduling engine.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

// MaxTaskSpan bounds a single task's date range.
const MaxTaskSpan = 10 * 366 * 24 * time.Hour

// timeLayout stamps created_at/updated_at columns.
const timeLayout = "2006-01-02T15:04:05Z"

// dateLayout keeps nanoseconds at a fixed width so stored task and inspection
// dates sort lexically and round-trip exactly.
const dateLayout = "2006-01-02T15:04:05.000000000Z"

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(dateLayout)
}

func parseTime(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v.String, err)
	}
	return t.UTC(), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Projects

func (r Repo) InsertProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	if p.ID == "" {
		return p, errors.New("project id is required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Status == "" {
		p.Status = "active"
	}
	if p.CreatedAt == "" {
		p.CreatedAt = r.now().UTC().Format(timeLayout)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return p, fmt.Errorf("insert project: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, events.Payload{"name": p.Name}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

// EnsureProject creates a bare project row when none exists for id.
func (r Repo) EnsureProject(ctx context.Context, id string) error {
	_, err := r.GetProject(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = r.InsertProject(ctx, domain.Project{ID: id})
	return err
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Status, &desc, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, err
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,name,status,description,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,description,created_at FROM projects ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProject returns the only project in the store.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// Tasks

const taskColumns = `id,project_id,name,construction_phase,phase,start_date,end_date,status,weather_sensitive,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var constructionPhase, phase, start, end sql.NullString
	var weather int
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &constructionPhase, &phase, &start, &end, &t.Status, &weather, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, ErrNotFound
		}
		return t, err
	}
	if constructionPhase.Valid {
		t.ConstructionPhase = constructionPhase.String
	}
	if phase.Valid {
		t.Phase = phase.String
	}
	var err error
	if t.StartDate, err = parseTime(start); err != nil {
		return t, err
	}
	if t.EndDate, err = parseTime(end); err != nil {
		return t, err
	}
	t.WeatherSensitive = weather != 0
	return t, nil
}

// UpsertTasks inserts or replaces tasks in one transaction. Projects referenced by
// the tasks must already exist.
func (r Repo) UpsertTasks(ctx context.Context, tasks []domain.Task) ([]domain.Task, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	now := r.now().UTC().Format(timeLayout)
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, errors.New("task id is required")
		}
		if t.ProjectID == "" {
			return nil, fmt.Errorf("task %s: project_id is required", t.ID)
		}
		if t.Name == "" {
			return nil, fmt.Errorf("task %s: name is required", t.ID)
		}
		if !t.StartDate.IsZero() && !t.EndDate.IsZero() && t.EndDate.Sub(t.StartDate) > MaxTaskSpan {
			return nil, fmt.Errorf("task %s: invalid date range: spans more than %d days", t.ID, int(MaxTaskSpan.Hours()/24))
		}
		if t.Status == "" {
			t.Status = domain.TaskStatusPlanned
		}
		t.UpdatedAt = now
		_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET project_id=excluded.project_id, name=excluded.name, construction_phase=excluded.construction_phase,
phase=excluded.phase, start_date=excluded.start_date, end_date=excluded.end_date, status=excluded.status,
weather_sensitive=excluded.weather_sensitive, updated_at=excluded.updated_at`,
			t.ID, t.ProjectID, t.Name, nullable(t.ConstructionPhase), nullable(t.Phase), formatTime(t.StartDate), formatTime(t.EndDate),
			t.Status, boolInt(t.WeatherSensitive), t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("upsert task %s: %w", t.ID, err)
		}
		if err := r.Events.Append(ctx, tx, events.TaskUpserted, t.ProjectID, "task", t.ID, events.Payload{
			"phase":  t.ResolvedPhase(),
			"status": t.Status,
		}); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id); err != nil {
		return err
	}
	if err := r.Events.Append(ctx, tx, events.TaskDeleted, t.ProjectID, "task", id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

type TaskFilters struct {
	ProjectID string
	Phase     string
	Status    string
	Limit     int
}

// phaseMatch compares against the construction phase, or the generic phase when
// the construction phase is unset.
const phaseMatch = `(CASE WHEN COALESCE(construction_phase,'') <> '' THEN construction_phase ELSE phase END) = ?`

// ListTasks returns tasks ordered by start date; undated tasks sort last.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Phase != "" {
		clauses = append(clauses, phaseMatch)
		args = append(args, f.Phase)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY start_date IS NULL, start_date ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskStatusesByPhase returns the status of every task in the project whose phase
// equals phase exactly.
func (r Repo) TaskStatusesByPhase(ctx context.Context, projectID, phase string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status FROM tasks WHERE project_id=? AND `+phaseMatch+` ORDER BY start_date IS NULL, start_date ASC, id ASC`,
		projectID, phase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var statuses []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// Events

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
