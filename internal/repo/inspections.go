package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"siteflow/internal/domain"
	"siteflow/internal/events"
)

const inspectionColumns = `inspection_id,project_id,inspection_type,required_for_phase,scheduled_date,status,auto_scheduled,notes,created_at`

func scanInspection(row rowScanner) (domain.InspectionSchedule, error) {
	var s domain.InspectionSchedule
	var scheduled, notes sql.NullString
	var auto int
	if err := row.Scan(&s.InspectionID, &s.ProjectID, &s.InspectionType, &s.RequiredForPhase, &scheduled, &s.Status, &auto, &notes, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, ErrNotFound
		}
		return s, err
	}
	var err error
	if s.ScheduledDate, err = parseTime(scheduled); err != nil {
		return s, err
	}
	if notes.Valid {
		s.Notes = notes.String
	}
	s.AutoScheduled = auto != 0
	return s, nil
}

// GetInspectionSchedule returns the record for (projectID, inspectionType) in any
// status, or ErrNotFound.
func (r Repo) GetInspectionSchedule(ctx context.Context, projectID, inspectionType string) (domain.InspectionSchedule, error) {
	return scanInspection(r.DB.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspection_schedules WHERE project_id=? AND inspection_type=?`,
		projectID, inspectionType))
}

// InsertInspectionSchedule stores s unless a record for the same project and
// inspection type already exists. inserted is false when another writer got
// there first; the unique constraint makes the check and the write one step.
func (r Repo) InsertInspectionSchedule(ctx context.Context, s domain.InspectionSchedule) (inserted bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	inserted, err = r.InsertInspectionScheduleTx(ctx, tx, s)
	if err != nil || !inserted {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) InsertInspectionScheduleTx(ctx context.Context, tx *sql.Tx, s domain.InspectionSchedule) (bool, error) {
	if s.InspectionID == "" || s.ProjectID == "" || s.InspectionType == "" {
		return false, errors.New("inspection_id, project_id and inspection_type are required")
	}
	if s.Status == "" {
		s.Status = domain.InspectionStatusPending
	}
	if s.CreatedAt == "" {
		s.CreatedAt = r.now().UTC().Format(timeLayout)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO inspection_schedules(`+inspectionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id, inspection_type) DO NOTHING`,
		s.InspectionID, s.ProjectID, s.InspectionType, s.RequiredForPhase, formatTime(s.ScheduledDate), s.Status,
		boolInt(s.AutoScheduled), nullable(s.Notes), s.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert inspection %s: %w", s.InspectionType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := r.Events.Append(ctx, tx, events.InspectionAutoScheduled, s.ProjectID, "inspection", s.InspectionID, events.Payload{
		"inspection_type":    s.InspectionType,
		"required_for_phase": s.RequiredForPhase,
		"scheduled_date":     formatTime(s.ScheduledDate),
		"auto_scheduled":     s.AutoScheduled,
	}); err != nil {
		return false, err
	}
	return true, nil
}

type InspectionFilters struct {
	ProjectID string
	Status    string
}

// ListInspectionSchedules returns records ordered by scheduled date. An empty
// ProjectID spans every project.
func (r Repo) ListInspectionSchedules(ctx context.Context, f InspectionFilters) ([]domain.InspectionSchedule, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inspectionColumns+` FROM inspection_schedules `+where+` ORDER BY scheduled_date ASC, inspection_type ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InspectionSchedule
	for rows.Next() {
		s, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateInspectionStatus is used by the inspection workflow once an inspection
// has happened. A record outside projectID is ErrNotFound and left untouched.
// The engine itself never calls it.
func (r Repo) UpdateInspectionStatus(ctx context.Context, projectID, inspectionID, status string) (domain.InspectionSchedule, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InspectionSchedule{}, err
	}
	defer tx.Rollback()
	current, err := scanInspection(tx.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspection_schedules WHERE inspection_id=? AND project_id=?`,
		inspectionID, projectID))
	if err != nil {
		return domain.InspectionSchedule{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE inspection_schedules SET status=? WHERE inspection_id=? AND project_id=?`, status, inspectionID, projectID); err != nil {
		return domain.InspectionSchedule{}, err
	}
	if err := r.Events.Append(ctx, tx, events.InspectionStatusChanged, current.ProjectID, "inspection", inspectionID, events.Payload{
		"inspection_type": current.InspectionType,
		"from":            current.Status,
		"to":              status,
	}); err != nil {
		return domain.InspectionSchedule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InspectionSchedule{}, err
	}
	current.Status = status
	return current, nil
}
