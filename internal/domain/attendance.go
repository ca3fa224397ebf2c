package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the type of an attendance event
type EventKind string

const (
	EventCheckIn  EventKind = "CHECK_IN"
	EventCheckOut EventKind = "CHECK_OUT"
)

// Status returns the human readable form used in API responses
func (k EventKind) Status() string {
	switch k {
	case EventCheckIn:
		return "checked in"
	case EventCheckOut:
		return "checked out"
	default:
		return string(k)
	}
}

// Valid reports whether k is a known event kind
func (k EventKind) Valid() bool {
	return k == EventCheckIn || k == EventCheckOut
}

// AttendanceState is the per-identity, per-day position in the
// NONE -> CHECKED_IN -> CHECKED_OUT machine.
type AttendanceState string

const (
	StateNone       AttendanceState = "NONE"
	StateCheckedIn  AttendanceState = "CHECKED_IN"
	StateCheckedOut AttendanceState = "CHECKED_OUT"
)

// StateAfter returns the day state reached once latest has been recorded.
// A nil latest means nothing was recorded that day.
func StateAfter(latest *AttendanceEvent) AttendanceState {
	if latest == nil {
		return StateNone
	}
	if latest.Kind == EventCheckIn {
		return StateCheckedIn
	}
	return StateCheckedOut
}

// AttendanceEvent is one append-only ledger entry
type AttendanceEvent struct {
	ID          uuid.UUID `json:"id"`
	IdentityKey string    `json:"identity_key"`
	DisplayName string    `json:"display_name,omitempty"`
	Kind        EventKind `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	Day         time.Time `json:"-"`
	// Repeated is set on a transition another writer recorded first. It is
	// never persisted.
	Repeated bool `json:"-"`
}

// AttendanceFilter narrows attendance listings
type AttendanceFilter struct {
	// Day, when set, is a calendar day as returned by CalendarDay
	Day   *time.Time
	Limit int
}

// CheckResult is the outcome of a successful recognition check
type CheckResult struct {
	IdentityKey string    `json:"identity_key"`
	DisplayName string    `json:"display_name"`
	Kind        EventKind `json:"kind"`
	Score       float64   `json:"score"`
	Timestamp   time.Time `json:"timestamp"`
	Repeated    bool      `json:"repeated"`
}

// CalendarDay maps an instant to its calendar day in loc. The day is
// returned as midnight UTC of that date, which is how DATE columns
// round-trip through pgx.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
