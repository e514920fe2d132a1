package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jdcruz-dev/sc-portal-api/internal/models"
)

const memberColumns = `id, student_no, email, password_hash, full_name, role, year_level, course, strand, status, academic_year, graduation_year, year_end_remarks, promotion_history, active, last_login, created_at, updated_at`

// MemberRepository handles persistence for organization members.
type MemberRepository struct {
	db *sqlx.DB
}

// NewMemberRepository instantiates a member repository.
func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// List returns members matching provided filters.
func (r *MemberRepository) List(ctx context.Context, filter models.MemberFilter) ([]models.Member, int, error) {
	base := "FROM members WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR email ILIKE $%d OR student_no ILIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"full_name":     true,
		"student_no":    true,
		"year_level":    true,
		"academic_year": true,
		"created_at":    true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "full_name"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", memberColumns, base, sortBy, order, size, offset)

	var members []models.Member
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list members: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count members: %w", err)
	}

	return members, total, nil
}

// FindByID loads a member by identifier.
func (r *MemberRepository) FindByID(ctx context.Context, id string) (*models.Member, error) {
	query := fmt.Sprintf("SELECT %s FROM members WHERE id = $1", memberColumns)
	var member models.Member
	if err := r.db.GetContext(ctx, &member, query, id); err != nil {
		return nil, err
	}
	return &member, nil
}

// FindByEmail loads a member by email.
func (r *MemberRepository) FindByEmail(ctx context.Context, email string) (*models.Member, error) {
	query := fmt.Sprintf("SELECT %s FROM members WHERE email = $1", memberColumns)
	var member models.Member
	if err := r.db.GetContext(ctx, &member, query, email); err != nil {
		return nil, err
	}
	return &member, nil
}

// ListCohort returns every student or officer whose status is active or unset.
// These are the members a year-end run iterates.
func (r *MemberRepository) ListCohort(ctx context.Context) ([]models.Member, error) {
	query := fmt.Sprintf(`SELECT %s FROM members WHERE role IN ($1, $2) AND (status = $3 OR status = '' OR status IS NULL) ORDER BY full_name ASC`, memberColumns)
	var members []models.Member
	if err := r.db.SelectContext(ctx, &members, query, models.RoleStudent, models.RoleOfficer, models.StatusActive); err != nil {
		return nil, fmt.Errorf("list cohort: %w", err)
	}
	return members, nil
}

// Create inserts a new member record.
func (r *MemberRepository) Create(ctx context.Context, member *models.Member) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if member.CreatedAt.IsZero() {
		member.CreatedAt = now
	}
	member.UpdatedAt = now

	const query = `INSERT INTO members (id, student_no, email, password_hash, full_name, role, year_level, course, strand, status, academic_year, graduation_year, year_end_remarks, promotion_history, active, created_at, updated_at)
		VALUES (:id, :student_no, :email, :password_hash, :full_name, :role, :year_level, :course, :strand, :status, :academic_year, :graduation_year, :year_end_remarks, :promotion_history, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, member); err != nil {
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

// Update modifies identity and academic descriptor fields. It deliberately
// does not touch status or promotion_history; only transitions may.
func (r *MemberRepository) Update(ctx context.Context, member *models.Member) error {
	member.UpdatedAt = time.Now().UTC()
	const query = `UPDATE members SET student_no = :student_no, email = :email, full_name = :full_name, role = :role, year_level = :year_level, course = :course, strand = :strand, academic_year = :academic_year, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, member); err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	return nil
}

// Delete removes a member permanently.
func (r *MemberRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// TransitionParams describes a single member's year-end mutation. Nil
// pointer fields are left untouched.
type TransitionParams struct {
	MemberID       string
	Status         models.AcademicStatus
	AcademicYear   string
	YearLevel      *string
	Role           *models.UserRole
	GraduationYear *int
	YearEndRemarks *string
	Entry          models.PromotionEntry
}

// ApplyTransition mutates a member's academic state and appends the history
// entry in a single statement, so a member is never half-transitioned.
func (r *MemberRepository) ApplyTransition(ctx context.Context, params TransitionParams) error {
	entry, err := json.Marshal([]models.PromotionEntry{params.Entry})
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	sets := []string{
		"status = $1",
		"academic_year = $2",
		"promotion_history = COALESCE(promotion_history, '[]'::jsonb) || $3::jsonb",
		"updated_at = $4",
	}
	args := []interface{}{params.Status, params.AcademicYear, entry, time.Now().UTC()}

	if params.YearLevel != nil {
		sets = append(sets, fmt.Sprintf("year_level = $%d", len(args)+1))
		args = append(args, *params.YearLevel)
	}
	if params.Role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *params.Role)
	}
	if params.GraduationYear != nil {
		sets = append(sets, fmt.Sprintf("graduation_year = $%d", len(args)+1))
		args = append(args, *params.GraduationYear)
	}
	if params.YearEndRemarks != nil {
		sets = append(sets, fmt.Sprintf("year_end_remarks = $%d", len(args)+1))
		args = append(args, *params.YearEndRemarks)
	}

	args = append(args, params.MemberID)
	query := fmt.Sprintf("UPDATE members SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MigrateDefaults bulk-sets academic year and status on member records
// missing them. The default label is always caller-supplied.
func (r *MemberRepository) MigrateDefaults(ctx context.Context, defaultAcademicYear string) (int, error) {
	const query = `UPDATE members
		SET academic_year = CASE WHEN academic_year = '' OR academic_year IS NULL THEN $1 ELSE academic_year END,
		    status = CASE WHEN status = '' OR status IS NULL THEN $2 ELSE status END,
		    updated_at = $3
		WHERE role IN ($4, $5) AND (academic_year = '' OR academic_year IS NULL OR status = '' OR status IS NULL)`
	result, err := r.db.ExecContext(ctx, query, defaultAcademicYear, models.StatusActive, time.Now().UTC(), models.RoleStudent, models.RoleOfficer)
	if err != nil {
		return 0, fmt.Errorf("migrate member defaults: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("migrate member defaults: %w", err)
	}
	return int(rows), nil
}

// UpdateLastLogin stamps the member's last successful login.
func (r *MemberRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE members SET last_login = $1 WHERE id = $2`, ts, id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword replaces the member's password hash.
func (r *MemberRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE members SET password_hash = $1, updated_at = $2 WHERE id = $3`, passwordHash, updatedAt, id); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh token.
func (r *MemberRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, ip_address, user_agent)
		VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken loads a refresh token by its opaque value.
func (r *MemberRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1`
	var stored models.RefreshToken
	if err := r.db.GetContext(ctx, &stored, query, token); err != nil {
		return nil, err
	}
	return &stored, nil
}

// RevokeRefreshToken marks a token revoked.
func (r *MemberRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $1 WHERE id = $2`, revokedAt, id); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every live token for a member.
func (r *MemberRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $1 WHERE user_id = $2 AND revoked = FALSE`, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("revoke member refresh tokens: %w", err)
	}
	return nil
}
