package webhook

import (
	"encoding/json"
	"fmt"
)

// PushEvent is the inbound webhook body as the provider sends it.
type PushEvent struct {
	ObjectType string            `json:"object_type"`
	ObjectID   int64             `json:"object_id"`
	AspectType string            `json:"aspect_type"`
	OwnerID    int64             `json:"owner_id"`
	EventTime  int64             `json:"event_time"`
	Updates    map[string]string `json:"updates,omitempty"`
}

// EventKind is the closed set of event shapes the processor handles. Unknown
// (object_type, aspect_type) combinations map to KindUnhandled and terminate
// as skipped rather than failing.
type EventKind string

const (
	KindActivityCreate     EventKind = "activity_create"
	KindActivityUpdate     EventKind = "activity_update"
	KindActivityDelete     EventKind = "activity_delete"
	KindAthleteDeauthorize EventKind = "athlete_deauthorize"
	KindUnhandled          EventKind = "unhandled"
)

// Classify maps the loosely-typed payload onto an EventKind.
func Classify(e PushEvent) EventKind {
	switch e.ObjectType {
	case "activity":
		switch e.AspectType {
		case "create":
			return KindActivityCreate
		case "update":
			return KindActivityUpdate
		case "delete":
			return KindActivityDelete
		}
	case "athlete":
		// Deauthorization arrives as an athlete update carrying
		// updates.authorized=false; a bare athlete update is treated the
		// same way, matching the provider's documented behavior.
		if e.AspectType == "update" {
			if authorized, ok := e.Updates["authorized"]; !ok || authorized == "false" {
				return KindAthleteDeauthorize
			}
		}
	}
	return KindUnhandled
}

// ParsePushEvent decodes and minimally validates an inbound payload.
func ParsePushEvent(payload []byte) (PushEvent, error) {
	var event PushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return PushEvent{}, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if event.ObjectType == "" || event.AspectType == "" {
		return PushEvent{}, fmt.Errorf("webhook payload missing object_type or aspect_type")
	}
	return event, nil
}
