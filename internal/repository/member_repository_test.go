package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/jdcruz-dev/sc-portal-api/internal/models"
)

func newMemberRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func memberRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_no", "email", "password_hash", "full_name", "role",
		"year_level", "course", "strand", "status", "academic_year",
		"graduation_year", "year_end_remarks", "promotion_history",
		"active", "last_login", "created_at", "updated_at",
	})
}

func TestMemberRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMemberRepoMock(t)
	defer cleanup()

	repo := NewMemberRepository(db)
	role := models.RoleStudent

	rows := memberRows().AddRow(
		"m1", "2021-00123", "student@school.edu", "hash", "Juan Dela Cruz", "STUDENT",
		"1st Year", "BS Computer Science", "", "active", "2024-2025",
		nil, nil, []byte(`[]`),
		true, nil, time.Now(), time.Now(),
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_no, email")).
		WithArgs(role, models.StatusActive).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM members")).
		WithArgs(role, models.StatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	members, total, err := repo.List(context.Background(), models.MemberFilter{
		Role:   &role,
		Status: models.StatusActive,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, members, 1)
	require.Equal(t, "m1", members[0].ID)
	require.Equal(t, models.RoleStudent, members[0].Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepositoryListCohort(t *testing.T) {
	db, mock, cleanup := newMemberRepoMock(t)
	defer cleanup()

	repo := NewMemberRepository(db)
	rows := memberRows().
		AddRow("m1", "", "a@school.edu", "hash", "A", "STUDENT", "1st Year", "BSIT", "", "active", "2024-2025", nil, nil, []byte(`[]`), true, nil, time.Now(), time.Now()).
		AddRow("m2", "", "b@school.edu", "hash", "B", "OFFICER", "Grade 12", "", "STEM", "", "2024-2025", nil, nil, nil, true, nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_no, email")).
		WithArgs(models.RoleStudent, models.RoleOfficer, models.StatusActive).
		WillReturnRows(rows)

	members, err := repo.ListCohort(context.Background())
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.True(t, members[0].Role.IsCohortRole())
	require.True(t, members[1].Status.IsActiveOrUnset())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newMemberRepoMock(t)
	defer cleanup()

	repo := NewMemberRepository(db)
	rows := memberRows().AddRow(
		"m1", "", "officer@school.edu", "hash", "Officer One", "OFFICER",
		"2nd Year", "BS Accountancy", "", "active", "2024-2025",
		nil, nil, []byte(`[{"from_year":"2023-2024","from_year_level":"1st Year","to_year":"2024-2025","to_year_level":"2nd Year","action":"promote","processed_at":"2024-04-01T00:00:00Z","processed_by":"admin-1"}]`),
		true, nil, time.Now(), time.Now(),
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_no, email")).
		WithArgs("officer@school.edu").
		WillReturnRows(rows)

	member, err := repo.FindByEmail(context.Background(), "officer@school.edu")
	require.NoError(t, err)
	require.Equal(t, "m1", member.ID)
	require.Len(t, member.PromotionHistory, 1)
	require.Equal(t, "promote", member.PromotionHistory[0].Action)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_no, email")).
		WithArgs("ghost@school.edu").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByEmail(context.Background(), "ghost@school.edu")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMemberRepoMock(t)
	defer cleanup()

	repo := NewMemberRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO members")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	member := &models.Member{
		Email:        "new@school.edu",
		PasswordHash: "hash",
		FullName:     "New Member",
		Role:         models.RoleStudent,
		YearLevel:    "1st Year",
		Course:       "BSIT",
		Status:       models.StatusActive,
		AcademicYear: "2024-2025",
		Active:       true,
	}
	require.NoError(t, repo.Create(context.Background(), member))
	require.NotEmpty(t, member.ID)
	require.False(t, member.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepositoryApplyTransition(t *testing.T) {
	db, mock, cleanup := newMemberRepoMock(t)
	defer cleanup()

	repo := NewMemberRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE members SET status = $1, academic_year = $2, promotion_history = COALESCE(promotion_history, '[]'::jsonb) || $3::jsonb, updated_at = $4, year_level = $5 WHERE id = $6")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	yearLevel := "2nd Year"
	err := repo.ApplyTransition(context.Background(), TransitionParams{
		MemberID:     "m1",
		Status:       models.StatusActive,
		AcademicYear: "2025-2026",
		YearLevel:    &yearLevel,
		Entry: models.PromotionEntry{
			FromYear:      "2024-2025",
			FromYearLevel: "1st Year",
			ToYear:        "2025-2026",
			ToYearLevel:   "2nd Year",
			Action:        "promote",
			ProcessedAt:   time.Now().UTC(),
			ProcessedBy:   "admin-1",
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepositoryApplyTransitionMissingMember(t *testing.T) {
	db, mock, cleanup := newMemberRepoMock(t)
	defer cleanup()

	repo := NewMemberRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE members SET status = $1, academic_year = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ApplyTransition(context.Background(), TransitionParams{
		MemberID:     "missing",
		Status:       models.StatusGraduated,
		AcademicYear: "2024-2025",
		Entry:        models.PromotionEntry{Action: "graduate"},
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepositoryMigrateDefaults(t *testing.T) {
	db, mock, cleanup := newMemberRepoMock(t)
	defer cleanup()

	repo := NewMemberRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE members")).
		WillReturnResult(sqlmock.NewResult(0, 42))

	migrated, err := repo.MigrateDefaults(context.Background(), "2024-2025")
	require.NoError(t, err)
	require.Equal(t, 42, migrated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepositoryRefreshTokenLifecycle(t *testing.T) {
	db, mock, cleanup := newMemberRepoMock(t)
	defer cleanup()

	repo := NewMemberRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{
		UserID:    "m1",
		Token:     "opaque-token",
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateRefreshToken(context.Background(), token))
	require.NotEmpty(t, token.ID)

	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at", "revoked", "revoked_at", "ip_address", "user_agent"}).
		AddRow(token.ID, "m1", "opaque-token", token.ExpiresAt, token.CreatedAt, false, nil, "", "")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token")).
		WithArgs("opaque-token").
		WillReturnRows(rows)

	stored, err := repo.FindRefreshToken(context.Background(), "opaque-token")
	require.NoError(t, err)
	require.Equal(t, "m1", stored.UserID)
	require.False(t, stored.Revoked)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RevokeRefreshToken(context.Background(), stored.ID, time.Now().UTC()))
	require.NoError(t, mock.ExpectationsWereMet())
}
