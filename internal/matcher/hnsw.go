package matcher

import (
	"context"
	"sync"

	"github.com/coder/hnsw"

	"github.com/saturnino-fabrica-de-software/presenca/internal/embedding"
)

const (
	hnswMaxNeighbors = 16
	hnswMinEfSearch  = 32
)

// HNSWIndex serves candidates from an in-memory HNSW graph. The graph is
// approximate, the Matcher re-scores what it returns.
type HNSWIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	entries map[string]Entry
	k       int
}

// NewHNSWIndex creates an index returning up to k candidates per query
func NewHNSWIndex(k int) *HNSWIndex {
	if k < 2 {
		// two candidates are needed to detect a tie
		k = 2
	}

	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	g.EfSearch = max(hnswMinEfSearch, k*4)

	return &HNSWIndex{
		graph:   g,
		entries: make(map[string]Entry),
		k:       k,
	}
}

func (h *HNSWIndex) Candidates(_ context.Context, query []float64) ([]Entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return nil, nil
	}

	nodes := h.graph.Search(embedding.ToFloat32(query), h.k)

	candidates := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		if entry, ok := h.entries[n.Key]; ok {
			candidates = append(candidates, entry)
		}
	}
	return candidates, nil
}

func (h *HNSWIndex) Add(entry Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.entries[entry.IdentityKey]; ok {
		h.graph.Delete(entry.IdentityKey)
	}

	h.graph.Add(hnsw.MakeNode(entry.IdentityKey, embedding.ToFloat32(entry.Embedding)))
	h.entries[entry.IdentityKey] = entry
	return nil
}

func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
