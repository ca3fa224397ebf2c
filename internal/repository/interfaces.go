package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

// PgxPool is the subset of *pgxpool.Pool the repositories use. pgxmock's
// PgxPoolIface satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdentityRepositoryInterface defines operations for enrolled identities
type IdentityRepositoryInterface interface {
	Create(ctx context.Context, identity *domain.Identity) error
	GetByKey(ctx context.Context, identityKey string) (*domain.Identity, error)
	Exists(ctx context.Context, identityKey string) (bool, error)
	List(ctx context.Context) ([]domain.IdentitySummary, error)
	All(ctx context.Context) ([]domain.Identity, error)
	Nearest(ctx context.Context, query []float64, limit int) ([]*domain.Identity, error)
}

// AttendanceRepositoryInterface defines operations for the attendance log
type AttendanceRepositoryInterface interface {
	LatestForDay(ctx context.Context, identityKey string, day time.Time) (*domain.AttendanceEvent, error)
	Append(ctx context.Context, event *domain.AttendanceEvent) error
	List(ctx context.Context, filter domain.AttendanceFilter) ([]domain.AttendanceEvent, error)
}
