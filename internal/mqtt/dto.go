package mqtt

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/tphakala/coughdetect/internal/datastore"
)

// EventDTO is the JSON payload published for every persisted record.
//
// Field names are part of the published API; add fields, do not rename.
type EventDTO struct {
	ID         uint            `json:"id"`
	Timestamp  string          `json:"timestamp"` // RFC 3339 with milliseconds
	EventType  string          `json:"eventType"` // COUGH, SNORING or UNKNOWN
	Confidence float64         `json:"confidence"`
	Amplitude  float64         `json:"amplitude"`
	DurationMs int64           `json:"durationMs"`
	ClipName   string          `json:"clipName,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Extensions json.RawMessage `json:"extensions,omitempty"`
}

// NewEventDTO creates an EventDTO from a stored record.
func NewEventDTO(r *datastore.EventRecord, sessionID string) *EventDTO {
	dto := &EventDTO{
		ID:         r.ID,
		Timestamp:  r.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		EventType:  string(r.EventType),
		Confidence: r.Confidence,
		Amplitude:  r.Amplitude,
		DurationMs: r.DurationMs,
		SessionID:  sessionID,
	}
	if r.AudioFilePath != "" {
		dto.ClipName = filepath.Base(r.AudioFilePath)
	}
	// extensions are embedded as an object, invalid payloads are dropped
	if r.Extensions != "" && r.Extensions != "{}" && json.Valid([]byte(r.Extensions)) {
		dto.Extensions = json.RawMessage(r.Extensions)
	}
	return dto
}

// Time parses the DTO timestamp.
func (d *EventDTO) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, d.Timestamp)
}
