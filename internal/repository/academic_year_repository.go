package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jdcruz-dev/sc-portal-api/internal/models"
)

const academicYearColumns = `id, year, is_current, is_closed, start_date, end_date, summary, created_at, updated_at`

// AcademicYearRepository handles persistence for the academic-year registry.
type AcademicYearRepository struct {
	db *sqlx.DB
}

// NewAcademicYearRepository instantiates an academic-year repository.
func NewAcademicYearRepository(db *sqlx.DB) *AcademicYearRepository {
	return &AcademicYearRepository{db: db}
}

// List returns every registered academic year, newest first.
func (r *AcademicYearRepository) List(ctx context.Context) ([]models.AcademicYear, error) {
	query := fmt.Sprintf("SELECT %s FROM academic_years ORDER BY year DESC", academicYearColumns)
	var years []models.AcademicYear
	if err := r.db.SelectContext(ctx, &years, query); err != nil {
		return nil, fmt.Errorf("list academic years: %w", err)
	}
	return years, nil
}

// FindByID loads a year by identifier.
func (r *AcademicYearRepository) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	query := fmt.Sprintf("SELECT %s FROM academic_years WHERE id = $1", academicYearColumns)
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query, id); err != nil {
		return nil, err
	}
	return &year, nil
}

// FindByYear loads a year by its human label.
func (r *AcademicYearRepository) FindByYear(ctx context.Context, label string) (*models.AcademicYear, error) {
	query := fmt.Sprintf("SELECT %s FROM academic_years WHERE year = $1", academicYearColumns)
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query, label); err != nil {
		return nil, err
	}
	return &year, nil
}

// FindCurrent returns the single year flagged current.
func (r *AcademicYearRepository) FindCurrent(ctx context.Context) (*models.AcademicYear, error) {
	query := fmt.Sprintf("SELECT %s FROM academic_years WHERE is_current = TRUE LIMIT 1", academicYearColumns)
	var year models.AcademicYear
	if err := r.db.GetContext(ctx, &year, query); err != nil {
		return nil, err
	}
	return &year, nil
}

// Create inserts a new academic year record.
func (r *AcademicYearRepository) Create(ctx context.Context, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if year.CreatedAt.IsZero() {
		year.CreatedAt = now
	}
	year.UpdatedAt = now

	const query = `INSERT INTO academic_years (id, year, is_current, is_closed, start_date, end_date, summary, created_at, updated_at)
		VALUES (:id, :year, :is_current, :is_closed, :start_date, :end_date, :summary, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("create academic year: %w", err)
	}
	return nil
}

// Update modifies label, flags and date bounds.
func (r *AcademicYearRepository) Update(ctx context.Context, year *models.AcademicYear) error {
	year.UpdatedAt = time.Now().UTC()
	const query = `UPDATE academic_years SET year = :year, is_current = :is_current, is_closed = :is_closed, start_date = :start_date, end_date = :end_date, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("update academic year: %w", err)
	}
	return nil
}

// SetCurrent marks the provided year as current and un-closes it, clearing
// the flag on every other record inside one transaction so the at-most-one
// invariant holds at every observable point. This is the operator path: it
// is how a previously closed year gets reopened.
func (r *AcademicYearRepository) SetCurrent(ctx context.Context, id string) error {
	return r.setCurrent(ctx, id, false)
}

// SetCurrentClosed marks the provided year as current while leaving it
// closed. Year-end activates the next year through this so a duplicate run
// fails the closed-flag check instead of processing the cohort again.
func (r *AcademicYearRepository) SetCurrentClosed(ctx context.Context, id string) error {
	return r.setCurrent(ctx, id, true)
}

func (r *AcademicYearRepository) setCurrent(ctx context.Context, id string, closed bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set current tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE academic_years SET is_current = FALSE, updated_at = $1 WHERE is_current = TRUE AND id <> $2`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("clear current flags: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE academic_years SET is_current = TRUE, is_closed = $2, updated_at = $3 WHERE id = $1`, id, closed, time.Now().UTC()); err != nil {
		return fmt.Errorf("set current year: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set current tx: %w", err)
	}
	return nil
}

// Close flips is_closed on the year if and only if it is still open, and
// drops its current flag in the same statement. The compare-and-swap makes
// the closed flag the run lock: it returns false when another run already
// claimed it.
func (r *AcademicYearRepository) Close(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE academic_years SET is_closed = TRUE, is_current = FALSE, updated_at = $1 WHERE id = $2 AND is_closed = FALSE`, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("close academic year: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close academic year: %w", err)
	}
	return rows > 0, nil
}

// Delete removes an academic year permanently.
func (r *AcademicYearRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM academic_years WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete academic year: %w", err)
	}
	return nil
}

// WriteSummary stores the run summary on the year record.
func (r *AcademicYearRepository) WriteSummary(ctx context.Context, id string, summary models.YearEndSummary) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE academic_years SET summary = $1, updated_at = $2 WHERE id = $3`, summary, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("write year summary: %w", err)
	}
	return nil
}

// IncrementSummary adds the delta counters onto the stored summary under a
// row lock, so concurrent manual-action batches do not lose updates.
func (r *AcademicYearRepository) IncrementSummary(ctx context.Context, id string, delta models.YearEndSummary) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summary tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.YearEndSummary
	if err = tx.GetContext(ctx, &current, `SELECT summary FROM academic_years WHERE id = $1 FOR UPDATE`, id); err != nil {
		return fmt.Errorf("load year summary: %w", err)
	}

	current.TotalPromoted += delta.TotalPromoted
	current.TotalGraduated += delta.TotalGraduated
	current.TotalFailed += delta.TotalFailed
	current.TotalDropped += delta.TotalDropped
	current.TotalIrregular += delta.TotalIrregular
	current.TotalOnLeave += delta.TotalOnLeave
	current.TotalSkipped += delta.TotalSkipped

	if _, err = tx.ExecContext(ctx, `UPDATE academic_years SET summary = $1, updated_at = $2 WHERE id = $3`, current, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("increment year summary: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit summary tx: %w", err)
	}
	return nil
}
