package ws

import (
	"strings"
	"time"
)

type EventType string

const (
	EventIdentityEnrolled   EventType = "identity.enrolled"
	EventAttendanceRecorded EventType = "attendance.recorded"
)

type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParseFilter turns a comma separated ?events= value into a subscription
// filter. An empty value subscribes to everything.
func ParseFilter(raw string) map[EventType]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	filter := make(map[EventType]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			filter[EventType(part)] = true
		}
	}
	return filter
}
