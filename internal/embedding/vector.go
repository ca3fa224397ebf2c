// Package embedding holds the vector math shared by enrollment and
// recognition. Every embedding that is stored or compared is unit-norm, so
// cosine similarity reduces to a dot product.
package embedding

import (
	"errors"
	"fmt"
	"math"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

// UnitTolerance is the accepted deviation of a stored vector's norm from 1
const UnitTolerance = 1e-5

// minNorm guards against normalizing vectors that are numerically zero
const minNorm = 1e-9

// ErrZeroVector is returned when a vector has no direction to normalize
var ErrZeroVector = errors.New("zero-norm embedding")

// Norm returns the Euclidean length of v
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v
func Normalize(v []float64) ([]float64, error) {
	norm := Norm(v)
	if len(v) == 0 || norm < minNorm {
		return nil, ErrZeroVector
	}

	normalized := make([]float64, len(v))
	for i, x := range v {
		normalized[i] = x / norm
	}
	return normalized, nil
}

// IsUnit reports whether v has unit norm within UnitTolerance
func IsUnit(v []float64) bool {
	return math.Abs(Norm(v)-1) < UnitTolerance
}

// Dot returns the dot product of two vectors of equal length. For unit
// vectors this is the cosine similarity; the result is clamped to [-1, 1]
// to absorb rounding.
func Dot(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	if dot > 1 {
		return 1
	}
	if dot < -1 {
		return -1
	}
	return dot
}

// CosineSimilarity calculates the cosine similarity between two arbitrary
// vectors. Returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CheckDimension fails with domain.ErrDimensionMismatch when v does not
// have exactly dim components
func CheckDimension(v []float64, dim int) error {
	if len(v) != dim {
		return domain.ErrDimensionMismatch.WithError(fmt.Errorf("got %d components, want %d", len(v), dim))
	}
	return nil
}

// CheckStored validates a vector read back from storage
func CheckStored(v []float64, dim int) error {
	if err := CheckDimension(v, dim); err != nil {
		return err
	}
	if !IsUnit(v) {
		return domain.ErrNonUnitEmbedding.WithError(fmt.Errorf("norm %.8f", Norm(v)))
	}
	return nil
}

// ToFloat32 converts v for pgvector and hnsw, which store float32
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// FromFloat32 widens a stored float32 vector
func FromFloat32(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
