package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

type IdentityRepository struct {
	pool PgxPool
}

func NewIdentityRepository(pool PgxPool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Create inserts a new identity. The unique constraint on identity_key
// makes concurrent registrations of one key resolve to a single winner.
func (r *IdentityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	query := `
		INSERT INTO identities (id, identity_key, display_name, embedding, sample_count, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`

	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		identity.ID,
		identity.IdentityKey,
		identity.DisplayName,
		toVector(identity.Embedding),
		identity.SampleCount,
	).Scan(&identity.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdentityExists.WithError(err)
		}
		return fmt.Errorf("create identity: %w", err)
	}

	return nil
}

func (r *IdentityRepository) GetByKey(ctx context.Context, identityKey string) (*domain.Identity, error) {
	query := `
		SELECT id, identity_key, display_name, embedding, sample_count, created_at
		FROM identities
		WHERE identity_key = $1
	`

	identity, err := scanIdentity(r.pool.QueryRow(ctx, query, identityKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity by key: %w", err)
	}

	return identity, nil
}

func (r *IdentityRepository) Exists(ctx context.Context, identityKey string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM identities WHERE identity_key = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, identityKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("check identity exists: %w", err)
	}
	return exists, nil
}

// List returns every identity ordered by identity_key, without embeddings
func (r *IdentityRepository) List(ctx context.Context) ([]domain.IdentitySummary, error) {
	query := `
		SELECT identity_key, display_name, created_at
		FROM identities
		ORDER BY identity_key
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	summaries := make([]domain.IdentitySummary, 0)
	for rows.Next() {
		var s domain.IdentitySummary
		if err := rows.Scan(&s.IdentityKey, &s.DisplayName, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}

	return summaries, nil
}

// All returns every identity with its embedding, used to build the
// in-memory matcher catalog at startup
func (r *IdentityRepository) All(ctx context.Context) ([]domain.Identity, error) {
	query := `
		SELECT id, identity_key, display_name, embedding, sample_count, created_at
		FROM identities
		ORDER BY identity_key
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer rows.Close()

	identities := make([]domain.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}

	return identities, nil
}

// Nearest returns up to limit identities ordered by cosine distance to query
func (r *IdentityRepository) Nearest(ctx context.Context, query []float64, limit int) ([]*domain.Identity, error) {
	sql := `
		SELECT id, identity_key, display_name, embedding, sample_count, created_at
		FROM identities
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, sql, toVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest identities: %w", err)
	}
	defer rows.Close()

	identities := make([]*domain.Identity, 0, limit)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query nearest identities: %w", err)
	}

	return identities, nil
}

func scanIdentity(row pgx.Row) (*domain.Identity, error) {
	var identity domain.Identity
	var vec *pgvector.Vector

	err := row.Scan(
		&identity.ID,
		&identity.IdentityKey,
		&identity.DisplayName,
		&vec,
		&identity.SampleCount,
		&identity.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	identity.Embedding = fromVector(vec)
	return &identity, nil
}
