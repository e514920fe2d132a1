package models

import "time"

// EventStatus marks the lifecycle of an organization event.
type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "upcoming"
	EventStatusOngoing   EventStatus = "ongoing"
	EventStatusCompleted EventStatus = "completed"
	EventStatusCancelled EventStatus = "cancelled"
)

// Event represents an organization activity members check in to.
type Event struct {
	ID           string      `db:"id" json:"id"`
	Title        string      `db:"title" json:"title"`
	Description  string      `db:"description" json:"description,omitempty"`
	Location     string      `db:"location" json:"location,omitempty"`
	StartsAt     time.Time   `db:"starts_at" json:"starts_at"`
	EndsAt       time.Time   `db:"ends_at" json:"ends_at"`
	AcademicYear string      `db:"academic_year" json:"academic_year,omitempty"`
	Status       EventStatus `db:"status" json:"status"`
	CreatedBy    string      `db:"created_by" json:"created_by"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// EventFilter defines filters supported by event list endpoints.
type EventFilter struct {
	Search       string
	Status       EventStatus
	AcademicYear string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
