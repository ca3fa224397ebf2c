package matcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

// NearestFinder returns the identities whose stored embeddings are closest
// to query by cosine distance
type NearestFinder interface {
	Nearest(ctx context.Context, query []float64, limit int) ([]*domain.Identity, error)
}

// PgvectorIndex delegates candidate selection to Postgres. Rows are written
// by the identity repository, Add only tracks the catalog size.
type PgvectorIndex struct {
	finder NearestFinder
	k      int
	count  atomic.Int64
}

func NewPgvectorIndex(finder NearestFinder, k int) *PgvectorIndex {
	if k < 2 {
		k = 2
	}
	return &PgvectorIndex{
		finder: finder,
		k:      k,
	}
}

func (p *PgvectorIndex) Candidates(ctx context.Context, query []float64) ([]Entry, error) {
	identities, err := p.finder.Nearest(ctx, query, p.k)
	if err != nil {
		return nil, fmt.Errorf("pgvector nearest: %w", err)
	}

	candidates := make([]Entry, 0, len(identities))
	for _, identity := range identities {
		candidates = append(candidates, Entry{
			IdentityKey: identity.IdentityKey,
			DisplayName: identity.DisplayName,
			Embedding:   identity.Embedding,
		})
	}
	return candidates, nil
}

func (p *PgvectorIndex) Add(_ Entry) error {
	p.count.Add(1)
	return nil
}

func (p *PgvectorIndex) Len() int {
	return int(p.count.Load())
}
