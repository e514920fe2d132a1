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
	"github.com/jdcruz-dev/sc-portal-api/internal/repository"
	appErrors "github.com/jdcruz-dev/sc-portal-api/pkg/errors"
	"github.com/jdcruz-dev/sc-portal-api/pkg/export"
)

const reviewCacheKey = "yearend:review"

type yearEndMemberStore interface {
	ListCohort(ctx context.Context) ([]models.Member, error)
	FindByID(ctx context.Context, id string) (*models.Member, error)
	ApplyTransition(ctx context.Context, params repository.TransitionParams) error
}

type yearEndYearStore interface {
	List(ctx context.Context) ([]models.AcademicYear, error)
	FindCurrent(ctx context.Context) (*models.AcademicYear, error)
	FindByYear(ctx context.Context, label string) (*models.AcademicYear, error)
	Create(ctx context.Context, year *models.AcademicYear) error
	SetCurrentClosed(ctx context.Context, id string) error
	Close(ctx context.Context, id string) (bool, error)
	WriteSummary(ctx context.Context, id string, summary models.YearEndSummary) error
	IncrementSummary(ctx context.Context, id string, delta models.YearEndSummary) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type reviewCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// YearEndService drives the full-cohort promotion/graduation run, the manual
// per-member action path, and the read-only review projection.
type YearEndService struct {
	members   yearEndMemberStore
	years     yearEndYearStore
	audit     auditLogger
	cache     reviewCache
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	reviewTTL time.Duration
}

// NewYearEndService constructs the year-end engine.
func NewYearEndService(members yearEndMemberStore, years yearEndYearStore, audit auditLogger, cache reviewCache, validate *validator.Validate, logger *zap.Logger, reviewTTL time.Duration) *YearEndService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reviewTTL <= 0 {
		reviewTTL = 30 * time.Second
	}
	return &YearEndService{
		members:   members,
		years:     years,
		audit:     audit,
		cache:     cache,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		logger:    logger,
		reviewTTL: reviewTTL,
	}
}

// WithMetrics attaches a metrics sink for run outcome counters.
func (s *YearEndService) WithMetrics(metrics *MetricsService) *YearEndService {
	s.metrics = metrics
	return s
}

func (s *YearEndService) recordRun(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordYearEndRun(outcome)
	}
}

// Run executes the full-cohort year-end transition. The close of the current
// year doubles as the run lock: it is a compare-and-swap, so a second
// concurrent run loses the swap and aborts before touching any member.
func (s *YearEndService) Run(ctx context.Context, processedBy string) (*dto.RunYearEndResult, error) {
	current, err := s.years.FindCurrent(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active academic year; create one first")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current academic year")
	}
	if current.IsClosed {
		s.recordRun("rejected")
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "academic year already closed")
	}

	nextLabel, err := NextAcademicYearLabel(current.Year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "cannot derive next academic year")
	}

	closed, err := s.years.Close(ctx, current.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close current academic year")
	}
	if !closed {
		s.recordRun("conflict")
		return nil, appErrors.Clone(appErrors.ErrConflict, "academic year already closed")
	}

	next, err := s.years.FindByYear(ctx, nextLabel)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load next academic year")
		}
		next = &models.AcademicYear{Year: nextLabel, IsClosed: true}
		if err := s.years.Create(ctx, next); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create next academic year")
		}
	}
	// The next year is activated still closed: a duplicate run then fails the
	// closed-flag check with nothing mutated. Reopening is the operator's
	// move, via the academic-year update endpoint.
	if err := s.years.SetCurrentClosed(ctx, next.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate next academic year")
	}

	cohort, err := s.members.ListCohort(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active members")
	}

	now := time.Now().UTC()
	graduationYear := now.Year()
	graduateRole := models.RoleGraduate
	var counts dto.RunCounts

	for i := range cohort {
		member := &cohort[i]

		var params repository.TransitionParams
		switch {
		case IsFinalYear(member.YearLevel, member.Course, member.Strand):
			// Graduation is recorded against the year just closed, not
			// the new one.
			params = repository.TransitionParams{
				MemberID:       member.ID,
				Status:         models.StatusGraduated,
				AcademicYear:   current.Year,
				Role:           &graduateRole,
				GraduationYear: &graduationYear,
				Entry: models.PromotionEntry{
					FromYear:      member.AcademicYear,
					FromYearLevel: member.YearLevel,
					ToYear:        current.Year,
					ToYearLevel:   member.YearLevel,
					Action:        "graduated",
					ProcessedAt:   now,
					ProcessedBy:   processedBy,
				},
			}
			counts.Graduated++
		default:
			nextLevel, ok := NextYearLevel(member.YearLevel, member.Course, member.Strand)
			if !ok {
				// Unrecognised year level: leave the member untouched.
				counts.Skipped++
				continue
			}
			params = repository.TransitionParams{
				MemberID:     member.ID,
				Status:       models.StatusActive,
				AcademicYear: nextLabel,
				YearLevel:    &nextLevel,
				Entry: models.PromotionEntry{
					FromYear:      member.AcademicYear,
					FromYearLevel: member.YearLevel,
					ToYear:        nextLabel,
					ToYearLevel:   nextLevel,
					Action:        "promoted",
					ProcessedAt:   now,
					ProcessedBy:   processedBy,
				},
			}
			counts.Promoted++
		}

		if err := s.members.ApplyTransition(ctx, params); err != nil {
			s.logger.Error("year-end run aborted mid-cohort",
				zap.String("member_id", member.ID),
				zap.Int("promoted_so_far", counts.Promoted),
				zap.Int("graduated_so_far", counts.Graduated),
				zap.Error(err))
			s.recordRun("aborted")
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
				fmt.Sprintf("year-end run aborted while processing member %s; already-applied transitions remain and the year stays closed", member.ID))
		}
	}

	summary := models.YearEndSummary{
		TotalPromoted:  counts.Promoted,
		TotalGraduated: counts.Graduated,
		TotalSkipped:   counts.Skipped,
		ProcessedAt:    &now,
		ProcessedBy:    processedBy,
	}
	if err := s.years.WriteSummary(ctx, current.ID, summary); err != nil {
		s.logger.Error("failed to write year-end summary", zap.String("year", current.Year), zap.Error(err))
	}

	s.invalidateReview(ctx)
	s.emitAudit(ctx, processedBy, models.AuditActionYearEndRun, current.Year, map[string]interface{}{
		"previous_year": current.Year,
		"next_year":     nextLabel,
		"promoted":      counts.Promoted,
		"graduated":     counts.Graduated,
		"skipped":       counts.Skipped,
	})

	s.recordRun("completed")
	s.logger.Info("year-end run completed",
		zap.String("previous_year", current.Year),
		zap.String("next_year", nextLabel),
		zap.Int("promoted", counts.Promoted),
		zap.Int("graduated", counts.Graduated),
		zap.Int("skipped", counts.Skipped))

	return &dto.RunYearEndResult{
		Message:          "year-end processing completed",
		PreviousYear:     current.Year,
		NextAcademicYear: nextLabel,
		Results:          counts,
	}, nil
}

// ApplyManualAction applies one action to an explicit member list. Failures
// are isolated per member; the batch never aborts.
func (s *YearEndService) ApplyManualAction(ctx context.Context, req dto.ManualActionRequest, processedBy string) (*dto.ManualActionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual action payload")
	}
	if !req.Action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported action: %s", req.Action))
	}

	current, err := s.years.FindCurrent(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active academic year; create one first")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current academic year")
	}

	nextLabel, nextLabelErr := NextAcademicYearLabel(current.Year)

	now := time.Now().UTC()
	graduationYear := now.Year()
	graduateRole := models.RoleGraduate

	var remarks *string
	if req.Remarks != "" {
		remarks = &req.Remarks
	}

	results := make([]dto.ManualActionItem, 0, len(req.StudentIDs))
	var delta models.YearEndSummary

	for _, id := range req.StudentIDs {
		member, err := s.members.FindByID(ctx, id)
		if err != nil {
			reason := "member not found"
			if !errors.Is(err, sql.ErrNoRows) {
				reason = "failed to load member"
				s.logger.Warn("manual action member lookup failed", zap.String("member_id", id), zap.Error(err))
			}
			results = append(results, dto.ManualActionItem{ID: id, Success: false, Reason: reason})
			continue
		}

		params := repository.TransitionParams{
			MemberID:       member.ID,
			AcademicYear:   current.Year,
			YearEndRemarks: remarks,
			Entry: models.PromotionEntry{
				FromYear:      member.AcademicYear,
				FromYearLevel: member.YearLevel,
				ToYear:        current.Year,
				ToYearLevel:   member.YearLevel,
				ProcessedAt:   now,
				ProcessedBy:   processedBy,
				Remarks:       req.Remarks,
			},
		}

		switch req.Action {
		case dto.ManualPromote:
			nextLevel, ok := NextYearLevel(member.YearLevel, member.Course, member.Strand)
			if !ok {
				reason := fmt.Sprintf("no promotion rule for year level %q", member.YearLevel)
				if IsFinalYear(member.YearLevel, member.Course, member.Strand) {
					reason = "already final year"
				}
				results = append(results, dto.ManualActionItem{ID: id, Success: false, Reason: reason})
				continue
			}
			params.Status = models.StatusActive
			params.YearLevel = &nextLevel
			params.Entry.ToYearLevel = nextLevel
			params.Entry.Action = "promoted"
			delta.TotalPromoted++
		case dto.ManualGraduate:
			params.Status = models.StatusGraduated
			params.Role = &graduateRole
			params.GraduationYear = &graduationYear
			params.Entry.Action = "graduated"
			delta.TotalGraduated++
		case dto.ManualFail:
			params.Status = models.StatusFailed
			params.Entry.Action = "failed"
			delta.TotalFailed++
		case dto.ManualDrop:
			params.Status = models.StatusDropped
			params.Entry.Action = "dropped"
			delta.TotalDropped++
		case dto.ManualOnLeave:
			params.Status = models.StatusOnLeave
			params.Entry.Action = "on_leave"
			delta.TotalOnLeave++
		case dto.ManualIrregular:
			if nextLabelErr != nil {
				results = append(results, dto.ManualActionItem{ID: id, Success: false,
					Reason: fmt.Sprintf("cannot derive next academic year from %q", current.Year)})
				continue
			}
			params.Status = models.StatusIrregular
			params.AcademicYear = nextLabel
			params.Entry.ToYear = nextLabel
			params.Entry.Action = "irregular"
			delta.TotalIrregular++
		}

		if err := s.members.ApplyTransition(ctx, params); err != nil {
			reason := "failed to persist action"
			if errors.Is(err, sql.ErrNoRows) {
				reason = "member not found"
			} else {
				s.logger.Warn("manual action persist failed", zap.String("member_id", id), zap.Error(err))
			}
			results = append(results, dto.ManualActionItem{ID: id, Success: false, Reason: reason})
			continue
		}

		results = append(results, dto.ManualActionItem{
			ID:        id,
			Success:   true,
			Action:    req.Action,
			NewStatus: params.Status,
		})
	}

	if delta != (models.YearEndSummary{}) {
		if err := s.years.IncrementSummary(ctx, current.ID, delta); err != nil {
			s.logger.Warn("failed to update year summary after manual actions", zap.Error(err))
		}
	}

	s.invalidateReview(ctx)
	s.emitAudit(ctx, processedBy, models.AuditActionManualAction, current.Year, map[string]interface{}{
		"action":  req.Action,
		"targets": len(req.StudentIDs),
	})

	return &dto.ManualActionResult{
		Message: fmt.Sprintf("processed %d member(s)", len(results)),
		Results: results,
	}, nil
}

// Review buckets the active cohort into final-year and non-final-year
// members ahead of a run. It is a point-in-time snapshot and may be served
// from cache.
func (s *YearEndService) Review(ctx context.Context) (*dto.ReviewResult, error) {
	if s.cache != nil {
		var cached dto.ReviewResult
		if hit, err := s.cache.Get(ctx, reviewCacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	current, err := s.years.FindCurrent(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active academic year; create one first")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current academic year")
	}

	cohort, err := s.members.ListCohort(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active members")
	}

	result := &dto.ReviewResult{
		FinalYear:   []dto.ReviewMember{},
		NonFinal:    []dto.ReviewMember{},
		CurrentYear: current.Year,
	}
	for i := range cohort {
		member := &cohort[i]
		projection := dto.ReviewMember{
			ID:           member.ID,
			StudentNo:    member.StudentNo,
			FullName:     member.FullName,
			Role:         member.Role,
			YearLevel:    member.YearLevel,
			Course:       member.Course,
			Strand:       member.Strand,
			Status:       member.Status,
			AcademicYear: member.AcademicYear,
		}
		if IsFinalYear(member.YearLevel, member.Course, member.Strand) {
			result.FinalYear = append(result.FinalYear, projection)
		} else {
			result.NonFinal = append(result.NonFinal, projection)
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, reviewCacheKey, result, s.reviewTTL); err != nil {
			s.logger.Warn("failed to cache year-end review", zap.Error(err))
		}
	}

	return result, nil
}

// ExportSummary renders the most recently processed year's summary as a
// tabular report.
func (s *YearEndService) ExportSummary(ctx context.Context, format string) ([]byte, string, error) {
	years, err := s.years.List(ctx)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list academic years")
	}

	var latest *models.AcademicYear
	for i := range years {
		year := &years[i]
		if year.Summary.ProcessedAt == nil {
			continue
		}
		if latest == nil || year.Summary.ProcessedAt.After(*latest.Summary.ProcessedAt) {
			latest = year
		}
	}
	if latest == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "no processed year-end run to export")
	}

	dataset := export.Dataset{
		Headers: []string{"Academic Year", "Outcome", "Count"},
		Rows: []map[string]string{
			{"Academic Year": latest.Year, "Outcome": "promoted", "Count": fmt.Sprintf("%d", latest.Summary.TotalPromoted)},
			{"Academic Year": latest.Year, "Outcome": "graduated", "Count": fmt.Sprintf("%d", latest.Summary.TotalGraduated)},
			{"Academic Year": latest.Year, "Outcome": "failed", "Count": fmt.Sprintf("%d", latest.Summary.TotalFailed)},
			{"Academic Year": latest.Year, "Outcome": "dropped", "Count": fmt.Sprintf("%d", latest.Summary.TotalDropped)},
			{"Academic Year": latest.Year, "Outcome": "irregular", "Count": fmt.Sprintf("%d", latest.Summary.TotalIrregular)},
			{"Academic Year": latest.Year, "Outcome": "on_leave", "Count": fmt.Sprintf("%d", latest.Summary.TotalOnLeave)},
			{"Academic Year": latest.Year, "Outcome": "skipped", "Count": fmt.Sprintf("%d", latest.Summary.TotalSkipped)},
		},
	}

	switch format {
	case "pdf":
		payload, err := s.pdf.Render(dataset, fmt.Sprintf("Year-End Summary %s", latest.Year))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	case "", "csv":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (s *YearEndService) invalidateReview(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "yearend:*"); err != nil {
		s.logger.Warn("failed to invalidate review cache", zap.Error(err))
	}
}

func (s *YearEndService) emitAudit(ctx context.Context, actor, action, resourceID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	log := &models.AuditLog{
		UserID:     &actor,
		Action:     action,
		Resource:   "year_end",
		ResourceID: &resourceID,
		NewValues:  raw,
		IPAddress:  "system",
		UserAgent:  "yearend-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
