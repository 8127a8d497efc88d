package models

import "time"

const (
	WebhookEventStatusProcessing = "processing"
	WebhookEventStatusSuccess    = "success"
	WebhookEventStatusFailed     = "failed"
	WebhookEventStatusSkipped    = "skipped"
	WebhookEventStatusError      = "error"
)

// WebhookEvent stores one inbound push event together with its processing
// record. A row is created when the event is acknowledged and updated exactly
// once more when background processing reaches a terminal status.
type WebhookEvent struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Type       string     `gorm:"type:varchar(100);not null;index" json:"type"`
	AthleteID  int64      `gorm:"index" json:"athlete_id"`
	Payload    string     `gorm:"type:longtext;not null" json:"payload"`
	Status     string     `gorm:"type:varchar(20);not null;index" json:"status"`
	StartedAt  time.Time  `gorm:"type:timestamp" json:"started_at"`
	EndedAt    *time.Time `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	Metadata   string     `gorm:"type:longtext" json:"metadata"`
	ReceivedAt time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the event has reached a final processing status.
func (e *WebhookEvent) IsTerminal() bool {
	switch e.Status {
	case WebhookEventStatusSuccess, WebhookEventStatusFailed,
		WebhookEventStatusSkipped, WebhookEventStatusError:
		return true
	default:
		return false
	}
}
