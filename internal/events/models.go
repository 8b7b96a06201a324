package events

import (
	"time"

	"gorm.io/datatypes"
)

// EventType is the kind of interaction recorded.
type EventType string

const (
	TypePageView         EventType = "page_view"
	TypeContactForm      EventType = "contact_form"
	TypeGalleryView      EventType = "gallery_view"
	TypeReviewSubmission EventType = "review_submission"
	TypeAdminLogin       EventType = "admin_login"
)

// AllTypes lists every known event type in display order.
var AllTypes = []EventType{TypePageView, TypeContactForm, TypeGalleryView, TypeReviewSubmission, TypeAdminLogin}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is one raw interaction. Rows are append-only.
type Event struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      EventType      `gorm:"size:32;not null;index:idx_events_type_timestamp,priority:1" json:"type"`
	Page      string         `gorm:"index" json:"page,omitempty"`
	IPAddress string         `gorm:"index" json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	SessionID string         `gorm:"index" json:"sessionId,omitempty"`
	Referrer  string         `json:"referrer,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	Timestamp time.Time      `gorm:"not null;index:idx_events_type_timestamp,priority:2;index:idx_events_timestamp" json:"timestamp"`
	CreatedAt time.Time      `json:"createdAt"`
}
