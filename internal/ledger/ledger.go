// Package ledger derives attendance transitions from the append-only event
// log. Per identity and calendar day the state moves NONE -> CHECKED_IN ->
// CHECKED_OUT; CHECKED_OUT is terminal until the next day.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
)

// Store is the persisted event log
type Store interface {
	// LatestForDay returns the most recent event of identityKey on day, or
	// nil when there is none
	LatestForDay(ctx context.Context, identityKey string, day time.Time) (*domain.AttendanceEvent, error)
	// Append persists event. A write that collides with an existing event of
	// the same kind on the same day returns domain.ErrConcurrencyConflict.
	Append(ctx context.Context, event *domain.AttendanceEvent) error
	List(ctx context.Context, filter domain.AttendanceFilter) ([]domain.AttendanceEvent, error)
}

type Config struct {
	Location *time.Location
	Retries  int
	Metrics  *metrics.Metrics
}

type Ledger struct {
	store    Store
	locks    *KeyedMutex
	location *time.Location
	retries  int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(store Store, config Config, logger *slog.Logger) *Ledger {
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}
	retries := config.Retries
	if retries < 0 {
		retries = 0
	}

	return &Ledger{
		store:    store,
		locks:    NewKeyedMutex(),
		location: loc,
		retries:  retries,
		metrics:  config.Metrics,
		logger:   logger,
	}
}

// NextKind returns the event that follows latest on the same day
func NextKind(latest *domain.AttendanceEvent) (domain.EventKind, error) {
	switch domain.StateAfter(latest) {
	case domain.StateNone:
		return domain.EventCheckIn, nil
	case domain.StateCheckedIn:
		return domain.EventCheckOut, nil
	default:
		return "", domain.ErrAlreadyCheckedOut
	}
}

// Record appends the next transition for identityKey at the given instant.
// Calls for the same identity are serialized; a unique violation from a
// writer outside this process is resolved with a fresh read. When that
// writer recorded the very transition we attempted, its event is returned
// with Repeated set instead of advancing the day again.
func (l *Ledger) Record(ctx context.Context, identityKey string, at time.Time) (*domain.AttendanceEvent, error) {
	unlock, err := l.locks.Lock(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("acquire attendance lock: %w", err)
	}
	defer unlock()

	at = at.UTC()
	day := domain.CalendarDay(at, l.location)

	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		attempted, err := l.transition(ctx, identityKey, at, day)
		if err == nil {
			return attempted, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, err
		}

		lastErr = err
		l.metrics.IncrementConflict()

		winner, readErr := l.store.LatestForDay(ctx, identityKey, day)
		if readErr != nil {
			return nil, fmt.Errorf("read latest event: %w", readErr)
		}
		if winner != nil && winner.Kind == attempted.Kind {
			l.logger.Info("attendance transition already recorded by another writer",
				"identity_key", identityKey,
				"kind", string(winner.Kind),
			)
			replay := *winner
			replay.Repeated = true
			return &replay, nil
		}

		l.logger.Warn("attendance write conflicted, retrying",
			"identity_key", identityKey,
			"attempt", attempt+1,
			"error", err,
		)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}

	return nil, lastErr
}

func (l *Ledger) transition(ctx context.Context, identityKey string, at, day time.Time) (*domain.AttendanceEvent, error) {
	latest, err := l.store.LatestForDay(ctx, identityKey, day)
	if err != nil {
		return nil, fmt.Errorf("read latest event: %w", err)
	}

	kind, err := NextKind(latest)
	if err != nil {
		return nil, err
	}

	// timestamps never go backwards within a day
	if latest != nil && at.Before(latest.Timestamp) {
		at = latest.Timestamp
	}

	event := &domain.AttendanceEvent{
		ID:          uuid.New(),
		IdentityKey: identityKey,
		Kind:        kind,
		Timestamp:   at,
		Day:         day,
	}

	// the attempted event goes back on failure too so Record can compare it
	// against whatever won the write
	if err := l.store.Append(ctx, event); err != nil {
		return event, err
	}

	return event, nil
}

// State reports where identityKey stands on at's calendar day
func (l *Ledger) State(ctx context.Context, identityKey string, at time.Time) (domain.AttendanceState, error) {
	latest, err := l.store.LatestForDay(ctx, identityKey, domain.CalendarDay(at, l.location))
	if err != nil {
		return "", fmt.Errorf("read latest event: %w", err)
	}
	return domain.StateAfter(latest), nil
}

// Day returns the calendar day of t under the deployment time zone
func (l *Ledger) Day(t time.Time) time.Time {
	return domain.CalendarDay(t, l.location)
}

func (l *Ledger) List(ctx context.Context, filter domain.AttendanceFilter) ([]domain.AttendanceEvent, error) {
	events, err := l.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return events, nil
}
