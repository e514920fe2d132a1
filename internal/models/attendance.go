package models

import "time"

// AttendanceRecord captures a member's presence at an event.
type AttendanceRecord struct {
	ID         string     `db:"id" json:"id"`
	EventID    string     `db:"event_id" json:"event_id"`
	MemberID   string     `db:"member_id" json:"member_id"`
	CheckInAt  time.Time  `db:"check_in_at" json:"check_in_at"`
	CheckOutAt *time.Time `db:"check_out_at" json:"check_out_at,omitempty"`
	RecordedBy string     `db:"recorded_by" json:"recorded_by"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// AttendanceDetail joins the record with member identity for listings.
type AttendanceDetail struct {
	AttendanceRecord
	MemberName string `db:"member_name" json:"member_name"`
	StudentNo  string `db:"student_no" json:"student_no,omitempty"`
	YearLevel  string `db:"year_level" json:"year_level,omitempty"`
}

// AttendanceFilter scopes attendance listings.
type AttendanceFilter struct {
	EventID  string
	MemberID string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
