package matcher

import "fmt"

const (
	IndexLinear   = "linear"
	IndexHNSW     = "hnsw"
	IndexPgvector = "pgvector"
)

// NewIndex builds the index named by kind. finder is only used by the
// pgvector index.
func NewIndex(kind string, candidates int, finder NearestFinder) (Index, error) {
	switch kind {
	case IndexLinear, "":
		return NewLinearIndex(), nil
	case IndexHNSW:
		return NewHNSWIndex(candidates), nil
	case IndexPgvector:
		if finder == nil {
			return nil, fmt.Errorf("pgvector index requires a nearest finder")
		}
		return NewPgvectorIndex(finder, candidates), nil
	default:
		return nil, fmt.Errorf("unknown matcher index: %s", kind)
	}
}
