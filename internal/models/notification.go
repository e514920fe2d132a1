package models

import "time"

// NotificationAudience selects who a notification fans out to.
type NotificationAudience string

const (
	AudienceAll      NotificationAudience = "ALL"
	AudienceStudents NotificationAudience = "STUDENTS"
	AudienceOfficers NotificationAudience = "OFFICERS"
	AudienceMember   NotificationAudience = "MEMBER"
)

// Notification is a message delivered to member inboxes.
type Notification struct {
	ID          string               `db:"id" json:"id"`
	RecipientID string               `db:"recipient_id" json:"recipient_id"`
	Title       string               `db:"title" json:"title"`
	Body        string               `db:"body" json:"body"`
	Audience    NotificationAudience `db:"audience" json:"audience"`
	Read        bool                 `db:"read" json:"read"`
	CreatedBy   string               `db:"created_by" json:"created_by"`
	CreatedAt   time.Time            `db:"created_at" json:"created_at"`
}

// NotificationFilter scopes inbox listings.
type NotificationFilter struct {
	RecipientID string
	Unread      *bool
	Page        int
	PageSize    int
}
