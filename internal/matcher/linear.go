package matcher

import (
	"context"
	"sync"
)

// LinearIndex keeps the whole catalog in memory and offers every entry as
// a candidate. Suited to single-site catalogs of up to a few thousand
// identities.
type LinearIndex struct {
	mu      sync.RWMutex
	entries []Entry
	byKey   map[string]int
}

func NewLinearIndex() *LinearIndex {
	return &LinearIndex{
		byKey: make(map[string]int),
	}
}

func (l *LinearIndex) Candidates(_ context.Context, _ []float64) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// entries are never mutated in place, a shallow copy is a safe snapshot
	snapshot := make([]Entry, len(l.entries))
	copy(snapshot, l.entries)
	return snapshot, nil
}

func (l *LinearIndex) Add(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.byKey[entry.IdentityKey]; ok {
		l.entries[i] = entry
		return nil
	}

	l.byKey[entry.IdentityKey] = len(l.entries)
	l.entries = append(l.entries, entry)
	return nil
}

func (l *LinearIndex) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
