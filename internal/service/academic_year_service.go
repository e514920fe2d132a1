package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jdcruz-dev/sc-portal-api/internal/dto"
	"github.com/jdcruz-dev/sc-portal-api/internal/models"
	appErrors "github.com/jdcruz-dev/sc-portal-api/pkg/errors"
)

type academicYearRepository interface {
	List(ctx context.Context) ([]models.AcademicYear, error)
	FindByID(ctx context.Context, id string) (*models.AcademicYear, error)
	FindByYear(ctx context.Context, label string) (*models.AcademicYear, error)
	Create(ctx context.Context, year *models.AcademicYear) error
	Update(ctx context.Context, year *models.AcademicYear) error
	SetCurrent(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type migrationMemberStore interface {
	MigrateDefaults(ctx context.Context, defaultAcademicYear string) (int, error)
}

// AcademicYearService manages the year registry and the bootstrap migration
// helper. It owns the at-most-one-current invariant outside of runs.
type AcademicYearService struct {
	repo      academicYearRepository
	members   migrationMemberStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAcademicYearService creates a new academic-year service instance.
func NewAcademicYearService(repo academicYearRepository, members migrationMemberStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *AcademicYearService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcademicYearService{repo: repo, members: members, audit: audit, validator: validate, logger: logger}
}

// List returns every registered academic year.
func (s *AcademicYearService) List(ctx context.Context) ([]models.AcademicYear, error) {
	years, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list academic years")
	}
	return years, nil
}

// Create registers a new academic year, optionally making it current.
func (s *AcademicYearService) Create(ctx context.Context, req dto.CreateAcademicYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year payload")
	}
	if _, err := NextAcademicYearLabel(req.Year); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year must be in <start>-<end> form, e.g. 2025-2026")
	}

	if _, err := s.repo.FindByYear(ctx, req.Year); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("academic year %s already exists", req.Year))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check year uniqueness")
	}

	year := &models.AcademicYear{Year: req.Year}

	startDate, err := parseDatePtr(req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must be RFC 3339 or YYYY-MM-DD")
	}
	endDate, err := parseDatePtr(req.EndDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must be RFC 3339 or YYYY-MM-DD")
	}
	year.StartDate = startDate
	year.EndDate = endDate

	if err := s.repo.Create(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create academic year")
	}

	if req.SetAsCurrent {
		if err := s.repo.SetCurrent(ctx, year.ID); err != nil {
			s.logger.Error("failed to set current year after create", zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate academic year")
		}
		year.IsCurrent = true
	}

	return year, nil
}

// Update patches an academic year record. Setting is_current swaps the flag
// atomically and un-closes the record; clearing it is a plain flip.
func (s *AcademicYearService) Update(ctx context.Context, id string, req dto.UpdateAcademicYearRequest) (*models.AcademicYear, error) {
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}

	if req.Year != nil && *req.Year != year.Year {
		if _, err := NextAcademicYearLabel(*req.Year); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "year must be in <start>-<end> form, e.g. 2025-2026")
		}
		if _, err := s.repo.FindByYear(ctx, *req.Year); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("academic year %s already exists", *req.Year))
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check year uniqueness")
		}
		year.Year = *req.Year
	}

	if req.StartDate != nil {
		startDate, err := parseDatePtr(req.StartDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must be RFC 3339 or YYYY-MM-DD")
		}
		year.StartDate = startDate
	}
	if req.EndDate != nil {
		endDate, err := parseDatePtr(req.EndDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must be RFC 3339 or YYYY-MM-DD")
		}
		year.EndDate = endDate
	}

	if req.IsCurrent != nil && !*req.IsCurrent {
		year.IsCurrent = false
	}

	if err := s.repo.Update(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update academic year")
	}

	if req.IsCurrent != nil && *req.IsCurrent {
		if err := s.repo.SetCurrent(ctx, year.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate academic year")
		}
		year.IsCurrent = true
		year.IsClosed = false
	}

	return year, nil
}

// Delete removes a year. Deleting the current year is rejected so the system
// never loses its notion of "current"; reassign first.
func (s *AcademicYearService) Delete(ctx context.Context, id string) error {
	year, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "academic year not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic year")
	}

	if year.IsCurrent {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot delete the current academic year; set another year as current first")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete academic year")
	}
	return nil
}

// Migrate bulk-defaults academic year and status on member records missing
// them. The default label is always supplied by the operator, never inferred.
func (s *AcademicYearService) Migrate(ctx context.Context, req dto.MigrateRequest, processedBy string) (*dto.MigrateResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid migration payload")
	}
	if _, err := NextAcademicYearLabel(req.DefaultAcademicYear); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "default_academic_year must be in <start>-<end> form, e.g. 2024-2025")
	}

	count, err := s.members.MigrateDefaults(ctx, req.DefaultAcademicYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to migrate member defaults")
	}

	if s.audit != nil {
		payload, _ := json.Marshal(map[string]interface{}{"default_academic_year": req.DefaultAcademicYear, "migrated": count})
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:    &processedBy,
			Action:    models.AuditActionMigration,
			Resource:  "members",
			NewValues: payload,
			IPAddress: "system",
			UserAgent: "academic-year-service",
		}); err != nil {
			s.logger.Warn("failed to persist migration audit log", zap.Error(err))
		}
	}

	return &dto.MigrateResult{MigratedCount: count}, nil
}

func parseDatePtr(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, *raw); err == nil {
		return &ts, nil
	}
	ts, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
