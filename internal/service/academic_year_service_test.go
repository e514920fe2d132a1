package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdcruz-dev/sc-portal-api/internal/dto"
	"github.com/jdcruz-dev/sc-portal-api/internal/models"
	appErrors "github.com/jdcruz-dev/sc-portal-api/pkg/errors"
)

type fakeYearRepo struct {
	years []*models.AcademicYear
}

func (f *fakeYearRepo) List(ctx context.Context) ([]models.AcademicYear, error) {
	out := make([]models.AcademicYear, 0, len(f.years))
	for _, y := range f.years {
		out = append(out, *y)
	}
	return out, nil
}

func (f *fakeYearRepo) FindByID(ctx context.Context, id string) (*models.AcademicYear, error) {
	for _, y := range f.years {
		if y.ID == id {
			copy := *y
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeYearRepo) FindByYear(ctx context.Context, label string) (*models.AcademicYear, error) {
	for _, y := range f.years {
		if y.Year == label {
			copy := *y
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeYearRepo) Create(ctx context.Context, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = fmt.Sprintf("year-%d", len(f.years)+1)
	}
	copy := *year
	f.years = append(f.years, &copy)
	return nil
}

func (f *fakeYearRepo) Update(ctx context.Context, year *models.AcademicYear) error {
	for i, y := range f.years {
		if y.ID == year.ID {
			copy := *year
			f.years[i] = &copy
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeYearRepo) SetCurrent(ctx context.Context, id string) error {
	for _, y := range f.years {
		if y.ID == id {
			y.IsCurrent = true
			y.IsClosed = false
		} else {
			y.IsCurrent = false
		}
	}
	return nil
}

func (f *fakeYearRepo) Delete(ctx context.Context, id string) error {
	for i, y := range f.years {
		if y.ID == id {
			f.years = append(f.years[:i], f.years[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeYearRepo) currentCount() int {
	count := 0
	for _, y := range f.years {
		if y.IsCurrent {
			count++
		}
	}
	return count
}

type fakeMigrationStore struct {
	migrated int
	label    string
}

func (f *fakeMigrationStore) MigrateDefaults(ctx context.Context, defaultAcademicYear string) (int, error) {
	f.label = defaultAcademicYear
	return f.migrated, nil
}

func TestAcademicYearCreate(t *testing.T) {
	repo := &fakeYearRepo{}
	svc := NewAcademicYearService(repo, nil, nil, nil, nil)

	year, err := svc.Create(context.Background(), dto.CreateAcademicYearRequest{Year: "2024-2025"})
	require.NoError(t, err)
	assert.Equal(t, "2024-2025", year.Year)
	assert.False(t, year.IsCurrent)
	assert.Len(t, repo.years, 1)
}

func TestAcademicYearCreateSetAsCurrentSwapsFlag(t *testing.T) {
	repo := &fakeYearRepo{years: []*models.AcademicYear{
		{ID: "y1", Year: "2023-2024", IsCurrent: true},
	}}
	svc := NewAcademicYearService(repo, nil, nil, nil, nil)

	year, err := svc.Create(context.Background(), dto.CreateAcademicYearRequest{Year: "2024-2025", SetAsCurrent: true})
	require.NoError(t, err)
	assert.True(t, year.IsCurrent)

	// at most one year is ever current
	assert.Equal(t, 1, repo.currentCount())
	old, err := repo.FindByID(context.Background(), "y1")
	require.NoError(t, err)
	assert.False(t, old.IsCurrent)
}

func TestAcademicYearCreateRejectsDuplicateLabel(t *testing.T) {
	repo := &fakeYearRepo{years: []*models.AcademicYear{
		{ID: "y1", Year: "2024-2025"},
	}}
	svc := NewAcademicYearService(repo, nil, nil, nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateAcademicYearRequest{Year: "2024-2025"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAcademicYearCreateRejectsMalformedLabel(t *testing.T) {
	svc := NewAcademicYearService(&fakeYearRepo{}, nil, nil, nil, nil)

	for _, label := range []string{"2024", "SY 2024", "abcd-efgh"} {
		_, err := svc.Create(context.Background(), dto.CreateAcademicYearRequest{Year: label})
		require.Error(t, err, label)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestAcademicYearUpdateMakesCurrentAndUncloses(t *testing.T) {
	repo := &fakeYearRepo{years: []*models.AcademicYear{
		{ID: "y1", Year: "2023-2024", IsCurrent: true},
		{ID: "y2", Year: "2024-2025", IsClosed: true},
	}}
	svc := NewAcademicYearService(repo, nil, nil, nil, nil)

	isCurrent := true
	year, err := svc.Update(context.Background(), "y2", dto.UpdateAcademicYearRequest{IsCurrent: &isCurrent})
	require.NoError(t, err)
	assert.True(t, year.IsCurrent)
	assert.False(t, year.IsClosed)
	assert.Equal(t, 1, repo.currentCount())
}

func TestAcademicYearUpdateRejectsRenameCollision(t *testing.T) {
	repo := &fakeYearRepo{years: []*models.AcademicYear{
		{ID: "y1", Year: "2023-2024"},
		{ID: "y2", Year: "2024-2025"},
	}}
	svc := NewAcademicYearService(repo, nil, nil, nil, nil)

	label := "2024-2025"
	_, err := svc.Update(context.Background(), "y1", dto.UpdateAcademicYearRequest{Year: &label})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAcademicYearDeleteCurrentRejected(t *testing.T) {
	repo := &fakeYearRepo{years: []*models.AcademicYear{
		{ID: "y1", Year: "2024-2025", IsCurrent: true},
	}}
	svc := NewAcademicYearService(repo, nil, nil, nil, nil)

	err := svc.Delete(context.Background(), "y1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Len(t, repo.years, 1)
}

func TestAcademicYearDelete(t *testing.T) {
	repo := &fakeYearRepo{years: []*models.AcademicYear{
		{ID: "y1", Year: "2023-2024"},
		{ID: "y2", Year: "2024-2025", IsCurrent: true},
	}}
	svc := NewAcademicYearService(repo, nil, nil, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "y1"))
	assert.Len(t, repo.years, 1)

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestMigrateDefaults(t *testing.T) {
	members := &fakeMigrationStore{migrated: 42}
	audit := &fakeAudit{}
	svc := NewAcademicYearService(&fakeYearRepo{}, members, audit, nil, nil)

	result, err := svc.Migrate(context.Background(), dto.MigrateRequest{DefaultAcademicYear: "2024-2025"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 42, result.MigratedCount)
	assert.Equal(t, "2024-2025", members.label)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionMigration, audit.logs[0].Action)
}

func TestMigrateRejectsMalformedLabel(t *testing.T) {
	svc := NewAcademicYearService(&fakeYearRepo{}, &fakeMigrationStore{}, nil, nil, nil)

	_, err := svc.Migrate(context.Background(), dto.MigrateRequest{DefaultAcademicYear: "not-a-year"}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
