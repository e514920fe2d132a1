package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleOfficer    UserRole = "OFFICER"
	RoleStudent    UserRole = "STUDENT"
	RoleGraduate   UserRole = "GRADUATE"
)

// Valid reports whether the role is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleOfficer, RoleStudent, RoleGraduate:
		return true
	}
	return false
}

// IsCohortRole reports whether the role participates in year-end processing.
func (r UserRole) IsCohortRole() bool {
	return r == RoleStudent || r == RoleOfficer
}

// AcademicStatus captures a member's standing within the academic year.
type AcademicStatus string

const (
	StatusActive    AcademicStatus = "active"
	StatusGraduated AcademicStatus = "graduated"
	StatusFailed    AcademicStatus = "failed"
	StatusDropped   AcademicStatus = "dropped"
	StatusIrregular AcademicStatus = "irregular"
	StatusOnLeave   AcademicStatus = "on_leave"
)

// IsActiveOrUnset treats an empty status as active; legacy records predate the column.
func (s AcademicStatus) IsActiveOrUnset() bool {
	return s == StatusActive || s == ""
}

// PromotionEntry records a single year-end transition for a member.
type PromotionEntry struct {
	FromYear      string    `json:"from_year"`
	FromYearLevel string    `json:"from_year_level"`
	ToYear        string    `json:"to_year"`
	ToYearLevel   string    `json:"to_year_level"`
	Action        string    `json:"action"`
	ProcessedAt   time.Time `json:"processed_at"`
	ProcessedBy   string    `json:"processed_by"`
	Remarks       string    `json:"remarks,omitempty"`
}

// PromotionHistory is the append-only transition log stored as JSONB.
type PromotionHistory []PromotionEntry

// Value implements driver.Valuer.
func (h PromotionHistory) Value() (driver.Value, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner.
func (h *PromotionHistory) Scan(src interface{}) error {
	if src == nil {
		*h = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported promotion history type %T", src)
	}
	if len(raw) == 0 {
		*h = nil
		return nil
	}
	return json.Unmarshal(raw, h)
}

// Member represents a registered member of the organization: a student,
// a student-council officer, office staff, or a graduate.
type Member struct {
	ID           string   `db:"id" json:"id"`
	StudentNo    string   `db:"student_no" json:"student_no,omitempty"`
	Email        string   `db:"email" json:"email"`
	PasswordHash string   `db:"password_hash" json:"-"`
	FullName     string   `db:"full_name" json:"full_name"`
	Role         UserRole `db:"role" json:"role"`

	YearLevel string `db:"year_level" json:"year_level,omitempty"`
	Course    string `db:"course" json:"course,omitempty"`
	Strand    string `db:"strand" json:"strand,omitempty"`

	Status           AcademicStatus   `db:"status" json:"status"`
	AcademicYear     string           `db:"academic_year" json:"academic_year,omitempty"`
	GraduationYear   *int             `db:"graduation_year" json:"graduation_year,omitempty"`
	YearEndRemarks   *string          `db:"year_end_remarks" json:"year_end_remarks,omitempty"`
	PromotionHistory PromotionHistory `db:"promotion_history" json:"promotion_history,omitempty"`

	Active    bool       `db:"active" json:"active"`
	LastLogin *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// MemberFilter captures filtering criteria for listing members.
type MemberFilter struct {
	Search       string
	Role         *UserRole
	Status       AcademicStatus
	AcademicYear string
	Active       *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
