package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// YearEndSummary aggregates the outcomes of a year-end run. It is written
// once after a full run and incremented by manual actions; it is never read
// back into decision logic.
type YearEndSummary struct {
	TotalPromoted  int        `json:"total_promoted"`
	TotalGraduated int        `json:"total_graduated"`
	TotalFailed    int        `json:"total_failed"`
	TotalDropped   int        `json:"total_dropped"`
	TotalIrregular int        `json:"total_irregular"`
	TotalOnLeave   int        `json:"total_on_leave"`
	TotalSkipped   int        `json:"total_skipped"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	ProcessedBy    string     `json:"processed_by,omitempty"`
}

// Value implements driver.Valuer.
func (s YearEndSummary) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *YearEndSummary) Scan(src interface{}) error {
	if src == nil {
		*s = YearEndSummary{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported summary type %T", src)
	}
	if len(raw) == 0 {
		*s = YearEndSummary{}
		return nil
	}
	return json.Unmarshal(raw, s)
}

// AcademicYear models a school year in the registry. At most one record is
// current at any time; a closed year cannot run year-end again.
type AcademicYear struct {
	ID        string         `db:"id" json:"id"`
	Year      string         `db:"year" json:"year"`
	IsCurrent bool           `db:"is_current" json:"is_current"`
	IsClosed  bool           `db:"is_closed" json:"is_closed"`
	StartDate *time.Time     `db:"start_date" json:"start_date,omitempty"`
	EndDate   *time.Time     `db:"end_date" json:"end_date,omitempty"`
	Summary   YearEndSummary `db:"summary" json:"summary"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}
