package dto

import "github.com/jdcruz-dev/sc-portal-api/internal/models"

// ManualAction enumerates the operator-applied year-end actions.
type ManualAction string

const (
	ManualPromote   ManualAction = "promote"
	ManualGraduate  ManualAction = "graduate"
	ManualFail      ManualAction = "fail"
	ManualDrop      ManualAction = "drop"
	ManualIrregular ManualAction = "irregular"
	ManualOnLeave   ManualAction = "on_leave"
)

// Valid reports whether the action is one of the supported verbs.
func (a ManualAction) Valid() bool {
	switch a {
	case ManualPromote, ManualGraduate, ManualFail, ManualDrop, ManualIrregular, ManualOnLeave:
		return true
	}
	return false
}

// RunCounts tallies full-cohort outcomes.
type RunCounts struct {
	Promoted  int `json:"promoted"`
	Graduated int `json:"graduated"`
	Skipped   int `json:"skipped"`
}

// RunYearEndResult is returned by the full-cohort run.
type RunYearEndResult struct {
	Message          string    `json:"message"`
	PreviousYear     string    `json:"previous_year"`
	NextAcademicYear string    `json:"next_academic_year"`
	Results          RunCounts `json:"results"`
}

// ManualActionRequest applies an action to an explicit member list.
type ManualActionRequest struct {
	StudentIDs []string     `json:"student_ids" validate:"required,min=1"`
	Action     ManualAction `json:"action" validate:"required"`
	Remarks    string       `json:"remarks"`
}

// ManualActionItem is the per-member outcome inside a batch.
type ManualActionItem struct {
	ID        string                `json:"id"`
	Success   bool                  `json:"success"`
	Action    ManualAction          `json:"action,omitempty"`
	NewStatus models.AcademicStatus `json:"new_status,omitempty"`
	Reason    string                `json:"reason,omitempty"`
}

// ManualActionResult wraps the batch outcome.
type ManualActionResult struct {
	Message string             `json:"message"`
	Results []ManualActionItem `json:"results"`
}

// ReviewMember is the projection shown in the pre-run review.
type ReviewMember struct {
	ID           string                `json:"id"`
	StudentNo    string                `json:"student_no,omitempty"`
	FullName     string                `json:"full_name"`
	Role         models.UserRole       `json:"role"`
	YearLevel    string                `json:"year_level"`
	Course       string                `json:"course,omitempty"`
	Strand       string                `json:"strand,omitempty"`
	Status       models.AcademicStatus `json:"status"`
	AcademicYear string                `json:"academic_year,omitempty"`
}

// ReviewResult buckets the active cohort ahead of a run.
type ReviewResult struct {
	FinalYear   []ReviewMember `json:"final_year"`
	NonFinal    []ReviewMember `json:"non_final"`
	CurrentYear string         `json:"current_year"`
}

// CreateAcademicYearRequest creates a year registry entry.
type CreateAcademicYearRequest struct {
	Year         string  `json:"year" validate:"required"`
	SetAsCurrent bool    `json:"set_as_current"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
}

// UpdateAcademicYearRequest patches a year registry entry.
type UpdateAcademicYearRequest struct {
	Year      *string `json:"year"`
	IsCurrent *bool   `json:"is_current"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
}

// MigrateRequest bulk-defaults legacy member records.
type MigrateRequest struct {
	DefaultAcademicYear string `json:"default_academic_year" validate:"required"`
}

// MigrateResult reports how many records were touched.
type MigrateResult struct {
	MigratedCount int `json:"migrated_count"`
}
