package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

// DefaultAttendanceLimit caps attendance listings when no limit is given
const DefaultAttendanceLimit = 100

type AttendanceRepository struct {
	pool PgxPool
}

func NewAttendanceRepository(pool PgxPool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// LatestForDay returns the newest event of identityKey on day, or nil.
// CHECK_OUT sorts ahead of CHECK_IN when both share a clamped timestamp.
func (r *AttendanceRepository) LatestForDay(ctx context.Context, identityKey string, day time.Time) (*domain.AttendanceEvent, error) {
	query := `
		SELECT id, identity_key, kind, occurred_at, attendance_day
		FROM attendance_events
		WHERE identity_key = $1 AND attendance_day = $2
		ORDER BY occurred_at DESC, kind DESC
		LIMIT 1
	`

	var event domain.AttendanceEvent
	err := r.pool.QueryRow(ctx, query, identityKey, day).Scan(
		&event.ID,
		&event.IdentityKey,
		&event.Kind,
		&event.Timestamp,
		&event.Day,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest attendance event: %w", err)
	}

	event.Timestamp = event.Timestamp.UTC()
	return &event, nil
}

// Append inserts an event. A collision on the per-day unique index means
// another writer recorded the same transition first.
func (r *AttendanceRepository) Append(ctx context.Context, event *domain.AttendanceEvent) error {
	query := `
		INSERT INTO attendance_events (id, identity_key, kind, occurred_at, attendance_day, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.IdentityKey,
		event.Kind,
		event.Timestamp,
		event.Day,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConcurrencyConflict.WithError(err)
		}
		return fmt.Errorf("append attendance event: %w", err)
	}

	return nil
}

// List returns events newest first joined with display names
func (r *AttendanceRepository) List(ctx context.Context, filter domain.AttendanceFilter) ([]domain.AttendanceEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAttendanceLimit
	}

	query := `
		SELECT e.id, e.identity_key, i.display_name, e.kind, e.occurred_at, e.attendance_day
		FROM attendance_events e
		INNER JOIN identities i ON i.identity_key = e.identity_key
		WHERE ($1::date IS NULL OR e.attendance_day = $1::date)
		ORDER BY e.occurred_at DESC, e.kind DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, filter.Day, limit)
	if err != nil {
		return nil, fmt.Errorf("list attendance events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.AttendanceEvent, 0)
	for rows.Next() {
		var e domain.AttendanceEvent
		if err := rows.Scan(&e.ID, &e.IdentityKey, &e.DisplayName, &e.Kind, &e.Timestamp, &e.Day); err != nil {
			return nil, fmt.Errorf("scan attendance event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attendance events: %w", err)
	}

	return events, nil
}
