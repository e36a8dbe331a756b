package datastore

import (
	"strings"
	"time"
)

// EventType is the stored classification of a detection event.
type EventType string

const (
	EventCough   EventType = "COUGH"
	EventSnoring EventType = "SNORING"
	EventUnknown EventType = "UNKNOWN"
)

// ParseEventType maps a classifier kind or stored value to an EventType.
// Anything unrecognised becomes EventUnknown.
func ParseEventType(s string) EventType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COUGH":
		return EventCough
	case "SNORING", "SNORE":
		return EventSnoring
	default:
		return EventUnknown
	}
}

// EventRecord is one persisted detection event.
type EventRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Timestamp     time.Time `gorm:"index;not null" json:"timestamp"`
	AudioFilePath string    `gorm:"size:512;index" json:"audioFilePath"`
	DurationMs    int64     `json:"durationMs"`
	Confidence    float64   `gorm:"index" json:"confidence"`
	Amplitude     float64   `json:"amplitude"`
	EventType     EventType `gorm:"size:16;index;default:UNKNOWN" json:"eventType"`
	Extensions    string    `gorm:"type:text" json:"extensions"` // JSON object, "{}" when empty
	CreatedAt     time.Time `json:"createdAt"`
}

// TableName sets the table name used by gorm
func (EventRecord) TableName() string {
	return "cough_records"
}

// Duration returns the event duration
func (r *EventRecord) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// HasAudio reports whether a clip was written for the event
func (r *EventRecord) HasAudio() bool {
	return r.AudioFilePath != ""
}

// Stats summarises the stored records.
type Stats struct {
	Count             int64    `json:"count"`
	AverageConfidence *float64 `json:"averageConfidence"`
	MaxConfidence     *float64 `json:"maxConfidence"`
}
