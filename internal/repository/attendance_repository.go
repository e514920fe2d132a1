package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jdcruz-dev/sc-portal-api/internal/models"
)

// AttendanceRepository handles persistence for event attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository instantiates an attendance repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// FindOpen returns the member's un-checked-out record for the event, if any.
func (r *AttendanceRepository) FindOpen(ctx context.Context, eventID, memberID string) (*models.AttendanceRecord, error) {
	const query = `SELECT id, event_id, member_id, check_in_at, check_out_at, recorded_by, created_at FROM attendance_records WHERE event_id = $1 AND member_id = $2 AND check_out_at IS NULL`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, eventID, memberID); err != nil {
		return nil, err
	}
	return &record, nil
}

// ExistsForEvent reports whether the member already checked in to the event.
func (r *AttendanceRepository) ExistsForEvent(ctx context.Context, eventID, memberID string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM attendance_records WHERE event_id = $1 AND member_id = $2 LIMIT 1`, eventID, memberID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check attendance existence: %w", err)
	}
	return true, nil
}

// Create inserts a check-in record.
func (r *AttendanceRepository) Create(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_records (id, event_id, member_id, check_in_at, check_out_at, recorded_by, created_at)
		VALUES (:id, :event_id, :member_id, :check_in_at, :check_out_at, :recorded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create attendance record: %w", err)
	}
	return nil
}

// SetCheckOut stamps the check-out time on a record.
func (r *AttendanceRepository) SetCheckOut(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE attendance_records SET check_out_at = $1 WHERE id = $2 AND check_out_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("set check out: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns attendance details matching the filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceDetail, int, error) {
	base := `FROM attendance_records a JOIN members m ON m.id = a.member_id WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.EventID != "" {
		conditions = append(conditions, fmt.Sprintf("a.event_id = $%d", len(args)+1))
		args = append(args, filter.EventID)
	}
	if filter.MemberID != "" {
		conditions = append(conditions, fmt.Sprintf("a.member_id = $%d", len(args)+1))
		args = append(args, filter.MemberID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("a.check_in_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("a.check_in_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.event_id, a.member_id, a.check_in_at, a.check_out_at, a.recorded_by, a.created_at, m.full_name AS member_name, m.student_no, m.year_level %s ORDER BY a.check_in_at ASC LIMIT %d OFFSET %d`, base, size, offset)

	var details []models.AttendanceDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}

	return details, total, nil
}
