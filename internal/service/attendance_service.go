package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jdcruz-dev/sc-portal-api/internal/models"
	appErrors "github.com/jdcruz-dev/sc-portal-api/pkg/errors"
	"github.com/jdcruz-dev/sc-portal-api/pkg/export"
)

type attendanceRepository interface {
	FindOpen(ctx context.Context, eventID, memberID string) (*models.AttendanceRecord, error)
	ExistsForEvent(ctx context.Context, eventID, memberID string) (bool, error)
	Create(ctx context.Context, record *models.AttendanceRecord) error
	SetCheckOut(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceDetail, int, error)
}

type attendanceEventStore interface {
	FindByID(ctx context.Context, id string) (*models.Event, error)
}

// CheckInRequest records a member's arrival at an event.
type CheckInRequest struct {
	EventID  string `json:"event_id" validate:"required"`
	MemberID string `json:"member_id" validate:"required"`
}

// CheckOutRequest closes a member's open attendance record.
type CheckOutRequest struct {
	EventID  string `json:"event_id" validate:"required"`
	MemberID string `json:"member_id" validate:"required"`
}

// AttendanceService handles event check-in and check-out flows.
type AttendanceService struct {
	repo      attendanceRepository
	events    attendanceEventStore
	validator *validator.Validate
	logger    *zap.Logger
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, events attendanceEventStore, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		repo:      repo,
		events:    events,
		validator: validate,
		logger:    logger,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
	}
}

// CheckIn records a member's presence at an event. A member may check in to
// an event at most once.
func (s *AttendanceService) CheckIn(ctx context.Context, recordedBy string, req CheckInRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-in payload")
	}

	event, err := s.events.FindByID(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	if event.Status == models.EventStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "event is cancelled")
	}

	exists, err := s.repo.ExistsForEvent(ctx, req.EventID, req.MemberID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "member already checked in to this event")
	}

	record := &models.AttendanceRecord{
		EventID:    req.EventID,
		MemberID:   req.MemberID,
		CheckInAt:  time.Now().UTC(),
		RecordedBy: recordedBy,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record check-in")
	}
	return record, nil
}

// CheckOut closes the member's open attendance record for the event.
func (s *AttendanceService) CheckOut(ctx context.Context, req CheckOutRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-out payload")
	}

	record, err := s.repo.FindOpen(ctx, req.EventID, req.MemberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no open check-in for this event")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance record")
	}

	now := time.Now().UTC()
	if err := s.repo.SetCheckOut(ctx, record.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "record already checked out")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record check-out")
	}
	record.CheckOutAt = &now
	return record, nil
}

// List returns attendance records matching the filter.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceDetail, *models.Pagination, error) {
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return records, pagination, nil
}

// ExportSheet renders the attendance sheet for a single event.
func (s *AttendanceService) ExportSheet(ctx context.Context, eventID, format string) ([]byte, string, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}

	var records []models.AttendanceDetail
	for page := 1; ; page++ {
		batch, total, err := s.repo.List(ctx, models.AttendanceFilter{EventID: eventID, Page: page, PageSize: 200})
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
		}
		records = append(records, batch...)
		if len(batch) == 0 || len(records) >= total {
			break
		}
	}

	dataset := export.Dataset{
		Headers: []string{"Student No", "Name", "Year Level", "Check In", "Check Out"},
	}
	for _, record := range records {
		checkOut := ""
		if record.CheckOutAt != nil {
			checkOut = record.CheckOutAt.Format(time.RFC3339)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student No": record.StudentNo,
			"Name":       record.MemberName,
			"Year Level": record.YearLevel,
			"Check In":   record.CheckInAt.Format(time.RFC3339),
			"Check Out":  checkOut,
		})
	}

	switch format {
	case "pdf":
		payload, err := s.pdf.Render(dataset, fmt.Sprintf("Attendance Sheet - %s", event.Title))
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
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
