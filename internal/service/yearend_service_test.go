package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdcruz-dev/sc-portal-api/internal/dto"
	"github.com/jdcruz-dev/sc-portal-api/internal/models"
	"github.com/jdcruz-dev/sc-portal-api/internal/repository"
	appErrors "github.com/jdcruz-dev/sc-portal-api/pkg/errors"
)

type fakeYearStore struct {
	years      []*models.AcademicYear
	summaries  map[string]models.YearEndSummary
	increments []models.YearEndSummary
	closeErr   error
}

func newFakeYearStore(years ...*models.AcademicYear) *fakeYearStore {
	return &fakeYearStore{years: years, summaries: map[string]models.YearEndSummary{}}
}

func (f *fakeYearStore) List(ctx context.Context) ([]models.AcademicYear, error) {
	out := make([]models.AcademicYear, 0, len(f.years))
	for _, y := range f.years {
		copy := *y
		if s, ok := f.summaries[y.ID]; ok {
			copy.Summary = s
		}
		out = append(out, copy)
	}
	return out, nil
}

func (f *fakeYearStore) FindCurrent(ctx context.Context) (*models.AcademicYear, error) {
	for _, y := range f.years {
		if y.IsCurrent {
			copy := *y
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeYearStore) FindByYear(ctx context.Context, label string) (*models.AcademicYear, error) {
	for _, y := range f.years {
		if y.Year == label {
			copy := *y
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeYearStore) Create(ctx context.Context, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = fmt.Sprintf("year-%d", len(f.years)+1)
	}
	copy := *year
	f.years = append(f.years, &copy)
	return nil
}

func (f *fakeYearStore) SetCurrentClosed(ctx context.Context, id string) error {
	for _, y := range f.years {
		if y.ID == id {
			y.IsCurrent = true
			y.IsClosed = true
		} else {
			y.IsCurrent = false
		}
	}
	return nil
}

func (f *fakeYearStore) Close(ctx context.Context, id string) (bool, error) {
	if f.closeErr != nil {
		return false, f.closeErr
	}
	for _, y := range f.years {
		if y.ID == id {
			if y.IsClosed {
				return false, nil
			}
			y.IsClosed = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeYearStore) WriteSummary(ctx context.Context, id string, summary models.YearEndSummary) error {
	f.summaries[id] = summary
	return nil
}

func (f *fakeYearStore) IncrementSummary(ctx context.Context, id string, delta models.YearEndSummary) error {
	f.increments = append(f.increments, delta)
	return nil
}

type fakeMemberStore struct {
	members     map[string]*models.Member
	order       []string
	applyErrFor map[string]error
	transitions []repository.TransitionParams
}

func newFakeMemberStore(members ...*models.Member) *fakeMemberStore {
	f := &fakeMemberStore{members: map[string]*models.Member{}}
	for _, m := range members {
		f.members[m.ID] = m
		f.order = append(f.order, m.ID)
	}
	return f
}

func (f *fakeMemberStore) ListCohort(ctx context.Context) ([]models.Member, error) {
	var out []models.Member
	for _, id := range f.order {
		m := f.members[id]
		if m.Role.IsCohortRole() && m.Status.IsActiveOrUnset() {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMemberStore) FindByID(ctx context.Context, id string) (*models.Member, error) {
	m, ok := f.members[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *m
	return &copy, nil
}

func (f *fakeMemberStore) ApplyTransition(ctx context.Context, params repository.TransitionParams) error {
	if err, ok := f.applyErrFor[params.MemberID]; ok {
		return err
	}
	m, ok := f.members[params.MemberID]
	if !ok {
		return sql.ErrNoRows
	}
	f.transitions = append(f.transitions, params)
	m.Status = params.Status
	m.AcademicYear = params.AcademicYear
	if params.YearLevel != nil {
		m.YearLevel = *params.YearLevel
	}
	if params.Role != nil {
		m.Role = *params.Role
	}
	if params.GraduationYear != nil {
		m.GraduationYear = params.GraduationYear
	}
	if params.YearEndRemarks != nil {
		m.YearEndRemarks = params.YearEndRemarks
	}
	m.PromotionHistory = append(m.PromotionHistory, params.Entry)
	return nil
}

type fakeAudit struct {
	logs []*models.AuditLog
}

func (f *fakeAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.logs = append(f.logs, log)
	return nil
}

func cohortMember(id, yearLevel, course, strand string) *models.Member {
	return &models.Member{
		ID:           id,
		FullName:     "Member " + id,
		Role:         models.RoleStudent,
		YearLevel:    yearLevel,
		Course:       course,
		Strand:       strand,
		Status:       models.StatusActive,
		AcademicYear: "2024-2025",
	}
}

func TestYearEndRunPromotesAndGraduates(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	members := newFakeMemberStore(
		cohortMember("m1", "1st Year", "BSIT", ""),
		cohortMember("m2", "4th Year", "BSIT", ""),
		cohortMember("m3", "Grade 11", "", "STEM"),
		cohortMember("m4", "Grade 12", "", "STEM"),
		cohortMember("m5", "Special Program", "BSIT", ""),
	)
	audit := &fakeAudit{}

	svc := NewYearEndService(members, years, audit, nil, nil, nil, time.Second)
	result, err := svc.Run(context.Background(), "admin-1")
	require.NoError(t, err)

	assert.Equal(t, "2024-2025", result.PreviousYear)
	assert.Equal(t, "2025-2026", result.NextAcademicYear)
	assert.Equal(t, 2, result.Results.Promoted)
	assert.Equal(t, 2, result.Results.Graduated)
	assert.Equal(t, 1, result.Results.Skipped)

	// the old year is closed; the new one is current but stays closed until
	// an operator reopens it
	old, err := years.FindByYear(context.Background(), "2024-2025")
	require.NoError(t, err)
	assert.True(t, old.IsClosed)
	assert.False(t, old.IsCurrent)
	next, err := years.FindCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-2026", next.Year)
	assert.True(t, next.IsClosed)

	// promoted members advance a rung and follow the new year
	m1 := members.members["m1"]
	assert.Equal(t, "2nd Year", m1.YearLevel)
	assert.Equal(t, models.StatusActive, m1.Status)
	assert.Equal(t, "2025-2026", m1.AcademicYear)
	require.Len(t, m1.PromotionHistory, 1)
	assert.Equal(t, "promoted", m1.PromotionHistory[0].Action)
	assert.Equal(t, "admin-1", m1.PromotionHistory[0].ProcessedBy)

	// graduates flip role and status and stay on the closed year
	m2 := members.members["m2"]
	assert.Equal(t, models.StatusGraduated, m2.Status)
	assert.Equal(t, models.RoleGraduate, m2.Role)
	assert.Equal(t, "2024-2025", m2.AcademicYear)
	require.NotNil(t, m2.GraduationYear)
	assert.Equal(t, time.Now().UTC().Year(), *m2.GraduationYear)

	m4 := members.members["m4"]
	assert.Equal(t, models.StatusGraduated, m4.Status)

	// the unrecognised label was skipped untouched
	m5 := members.members["m5"]
	assert.Equal(t, models.StatusActive, m5.Status)
	assert.Equal(t, "Special Program", m5.YearLevel)
	assert.Empty(t, m5.PromotionHistory)

	// the summary lands on the closed year, not the new one
	summary, ok := years.summaries["y1"]
	require.True(t, ok)
	assert.Equal(t, 2, summary.TotalPromoted)
	assert.Equal(t, 2, summary.TotalGraduated)
	assert.Equal(t, 1, summary.TotalSkipped)
	assert.Equal(t, "admin-1", summary.ProcessedBy)
	require.NotNil(t, summary.ProcessedAt)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionYearEndRun, audit.logs[0].Action)
}

func TestYearEndRunWithoutCurrentYear(t *testing.T) {
	years := newFakeYearStore()
	members := newFakeMemberStore(cohortMember("m1", "1st Year", "BSIT", ""))

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	_, err := svc.Run(context.Background(), "admin-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
	assert.Empty(t, members.transitions)
}

func TestYearEndRunAlreadyClosed(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true, IsClosed: true})
	members := newFakeMemberStore(cohortMember("m1", "1st Year", "BSIT", ""))

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	_, err := svc.Run(context.Background(), "admin-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)

	// the cohort is untouched
	assert.Empty(t, members.transitions)
	m1 := members.members["m1"]
	assert.Equal(t, "1st Year", m1.YearLevel)
	assert.Empty(t, m1.PromotionHistory)
}

func TestYearEndRerunFailsClosed(t *testing.T) {
	// a completed run leaves the newly current year closed, so running again
	// without an operator reopening it changes nothing
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	members := newFakeMemberStore(
		cohortMember("m1", "1st Year", "BSIT", ""),
		cohortMember("m2", "4th Year", "BSIT", ""),
	)

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	_, err := svc.Run(context.Background(), "admin-1")
	require.NoError(t, err)
	require.Len(t, members.transitions, 2)

	_, err = svc.Run(context.Background(), "admin-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "already closed")

	// nothing moved a second time
	assert.Len(t, members.transitions, 2)
	m1 := members.members["m1"]
	assert.Equal(t, "2nd Year", m1.YearLevel)
	require.Len(t, m1.PromotionHistory, 1)
	m2 := members.members["m2"]
	assert.Equal(t, models.StatusGraduated, m2.Status)
	require.Len(t, m2.PromotionHistory, 1)
	require.Len(t, years.summaries, 1)
}

func TestYearEndRunLosesCloseRace(t *testing.T) {
	// FindCurrent saw an open year but another run closed it first: the
	// compare-and-swap fails and nothing is mutated.
	store := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	store.years[0].IsClosed = true // raced between read and close
	members := newFakeMemberStore(cohortMember("m1", "1st Year", "BSIT", ""))

	svc := NewYearEndService(members, &racingYearStore{fakeYearStore: store}, nil, nil, nil, nil, time.Second)
	_, err := svc.Run(context.Background(), "admin-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Empty(t, members.transitions)
}

// racingYearStore reports the year as open on read so the close CAS is what
// detects the conflict.
type racingYearStore struct {
	*fakeYearStore
}

func (r *racingYearStore) FindCurrent(ctx context.Context) (*models.AcademicYear, error) {
	year, err := r.fakeYearStore.FindCurrent(ctx)
	if err != nil {
		return nil, err
	}
	year.IsClosed = false
	return year, nil
}

func TestYearEndRunRejectsMalformedYearLabel(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "SY 2024", IsCurrent: true})
	members := newFakeMemberStore(cohortMember("m1", "1st Year", "BSIT", ""))

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	_, err := svc.Run(context.Background(), "admin-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	// label validation happens before the close, so the year stays open
	current, err := years.FindCurrent(context.Background())
	require.NoError(t, err)
	assert.False(t, current.IsClosed)
}

func TestManualActionGraduatesBatch(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	members := newFakeMemberStore(
		cohortMember("m1", "4th Year", "BSIT", ""),
		cohortMember("m2", "Grade 12", "", "STEM"),
	)
	audit := &fakeAudit{}

	svc := NewYearEndService(members, years, audit, nil, nil, nil, time.Second)
	result, err := svc.ApplyManualAction(context.Background(), dto.ManualActionRequest{
		StudentIDs: []string{"m1", "m2", "missing"},
		Action:     dto.ManualGraduate,
		Remarks:    "board approved",
	}, "admin-1")
	require.NoError(t, err)
	require.Len(t, result.Results, 3)

	assert.True(t, result.Results[0].Success)
	assert.Equal(t, models.StatusGraduated, result.Results[0].NewStatus)
	assert.True(t, result.Results[1].Success)
	assert.False(t, result.Results[2].Success)
	assert.Equal(t, "member not found", result.Results[2].Reason)

	m1 := members.members["m1"]
	assert.Equal(t, models.RoleGraduate, m1.Role)
	require.NotNil(t, m1.YearEndRemarks)
	assert.Equal(t, "board approved", *m1.YearEndRemarks)
	require.Len(t, m1.PromotionHistory, 1)
	assert.Equal(t, "graduated", m1.PromotionHistory[0].Action)

	// the failed lookup does not poison the batch counters
	require.Len(t, years.increments, 1)
	assert.Equal(t, 2, years.increments[0].TotalGraduated)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionManualAction, audit.logs[0].Action)
}

func TestManualPromoteRefusesFinalYear(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	members := newFakeMemberStore(cohortMember("m1", "4th Year", "BSIT", ""))

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	result, err := svc.ApplyManualAction(context.Background(), dto.ManualActionRequest{
		StudentIDs: []string{"m1"},
		Action:     dto.ManualPromote,
	}, "admin-1")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.False(t, result.Results[0].Success)
	assert.Equal(t, "already final year", result.Results[0].Reason)
	assert.Empty(t, members.transitions)
}

func TestManualIrregularAnchorsNextYear(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	members := newFakeMemberStore(cohortMember("m1", "2nd Year", "BSIT", ""))

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	result, err := svc.ApplyManualAction(context.Background(), dto.ManualActionRequest{
		StudentIDs: []string{"m1"},
		Action:     dto.ManualIrregular,
	}, "admin-1")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Success)

	m1 := members.members["m1"]
	assert.Equal(t, models.StatusIrregular, m1.Status)
	assert.Equal(t, "2025-2026", m1.AcademicYear)
	assert.Equal(t, "2nd Year", m1.YearLevel)
}

func TestManualActionRejectsUnknownVerb(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	members := newFakeMemberStore(cohortMember("m1", "2nd Year", "BSIT", ""))

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	_, err := svc.ApplyManualAction(context.Background(), dto.ManualActionRequest{
		StudentIDs: []string{"m1"},
		Action:     dto.ManualAction("expel"),
	}, "admin-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestReviewBucketsCohort(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	members := newFakeMemberStore(
		cohortMember("m1", "4th Year", "BSIT", ""),
		cohortMember("m2", "1st Year", "BSIT", ""),
		cohortMember("m3", "Grade 12", "", "STEM"),
	)

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	result, err := svc.Review(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2024-2025", result.CurrentYear)
	require.Len(t, result.FinalYear, 2)
	require.Len(t, result.NonFinal, 1)
	assert.Equal(t, "m2", result.NonFinal[0].ID)
}

func TestReviewExcludesProcessedMembers(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	graduated := cohortMember("m1", "4th Year", "BSIT", "")
	graduated.Status = models.StatusGraduated
	graduated.Role = models.RoleGraduate
	members := newFakeMemberStore(
		graduated,
		cohortMember("m2", "3rd Year", "BSIT", ""),
	)

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	result, err := svc.Review(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.FinalYear)
	require.Len(t, result.NonFinal, 1)
	assert.Equal(t, "m2", result.NonFinal[0].ID)
}

func TestExportSummaryCSV(t *testing.T) {
	processed := time.Now().UTC()
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsClosed: true})
	years.summaries["y1"] = models.YearEndSummary{
		TotalPromoted:  10,
		TotalGraduated: 4,
		ProcessedAt:    &processed,
		ProcessedBy:    "admin-1",
	}
	members := newFakeMemberStore()

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	payload, contentType, err := svc.ExportSummary(context.Background(), "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Contains(t, string(payload), "promoted")
	assert.Contains(t, string(payload), "10")
}

func TestExportSummaryWithoutRuns(t *testing.T) {
	years := newFakeYearStore(&models.AcademicYear{ID: "y1", Year: "2024-2025", IsCurrent: true})
	members := newFakeMemberStore()

	svc := NewYearEndService(members, years, nil, nil, nil, nil, time.Second)
	_, _, err := svc.ExportSummary(context.Background(), "csv")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
