// Package matcher finds the enrolled identity closest to a live embedding.
//
// An Index narrows the catalog to candidates; the Matcher always re-scores
// candidates exactly, so every index honours the same threshold and
// tie-break contract.
package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/embedding"
)

// ErrAmbiguousMatch is the cause attached to NoMatch when the best two
// identities score the same
var ErrAmbiguousMatch = errors.New("top candidates tied")

// ErrEmptyCatalog is the cause attached to NoMatch when nobody is enrolled
var ErrEmptyCatalog = errors.New("no enrolled identities")

// Entry is one enrolled identity as seen by an index
type Entry struct {
	IdentityKey string
	DisplayName string
	Embedding   []float64
}

// Result is the best match for a query
type Result struct {
	IdentityKey string  `json:"identity_key"`
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
}

// Index supplies match candidates. Implementations must be safe for
// concurrent use.
type Index interface {
	Candidates(ctx context.Context, query []float64) ([]Entry, error)
	Add(entry Entry) error
	Len() int
}

type Config struct {
	Dimension    int
	Threshold    float64
	TieTolerance float64
}

type Matcher struct {
	index  Index
	config Config
}

func New(index Index, config Config) *Matcher {
	return &Matcher{
		index:  index,
		config: config,
	}
}

// Match returns the identity with the highest cosine similarity to query.
// query must be unit-norm. Scores below the threshold and ties within the
// tolerance yield domain.ErrNoMatch.
func (m *Matcher) Match(ctx context.Context, query []float64) (*Result, error) {
	if err := embedding.CheckDimension(query, m.config.Dimension); err != nil {
		return nil, err
	}

	candidates, err := m.index.Candidates(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("match candidates: %w", err)
	}

	var best *Entry
	bestScore, secondScore := -2.0, -2.0

	for i := range candidates {
		c := &candidates[i]
		if len(c.Embedding) != len(query) {
			return nil, domain.ErrDimensionMismatch.WithError(
				fmt.Errorf("identity %q has %d components, query has %d", c.IdentityKey, len(c.Embedding), len(query)))
		}

		score := embedding.Dot(query, c.Embedding)
		switch {
		case score > bestScore:
			secondScore = bestScore
			bestScore = score
			best = c
		case score > secondScore:
			secondScore = score
		}
	}

	if best == nil {
		return nil, domain.ErrNoMatch.WithError(ErrEmptyCatalog)
	}

	if bestScore < m.config.Threshold {
		return nil, domain.ErrNoMatch.WithError(
			fmt.Errorf("best score %.4f below threshold %.4f", bestScore, m.config.Threshold))
	}

	if bestScore-secondScore <= m.config.TieTolerance {
		return nil, domain.ErrNoMatch.WithError(ErrAmbiguousMatch)
	}

	return &Result{
		IdentityKey: best.IdentityKey,
		DisplayName: best.DisplayName,
		Score:       bestScore,
	}, nil
}

// Add validates and indexes a newly enrolled identity
func (m *Matcher) Add(entry Entry) error {
	if err := embedding.CheckStored(entry.Embedding, m.config.Dimension); err != nil {
		return fmt.Errorf("index %q: %w", entry.IdentityKey, err)
	}
	return m.index.Add(entry)
}

// Load indexes the stored catalog. Any invalid vector aborts the load.
func (m *Matcher) Load(entries []Entry) error {
	for _, entry := range entries {
		if err := m.Add(entry); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of indexed identities
func (m *Matcher) Len() int {
	return m.index.Len()
}
