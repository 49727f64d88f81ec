package models

import (
	"time"

	"github.com/google/uuid"
)

// Attendee is a participant of a meeting-like event.
type Attendee struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// WebhookEvent is a provider payload normalized into one canonical shape.
// It is transient and never persisted on its own.
type WebhookEvent struct {
	ProviderID string     `json:"provider_id"`
	OrgID      uuid.UUID  `json:"org_id"`
	Kind       string     `json:"kind"`
	Title      string     `json:"title,omitempty"`
	StartAt    *time.Time `json:"start_at,omitempty"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	Attendees  []Attendee `json:"attendees,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	MeetingURL string     `json:"meeting_url,omitempty"`
	// Ignored is set for event kinds the platform does not act on.
	Ignored bool `json:"ignored"`
}
