package embedding

import (
	"errors"
	"fmt"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

// Aggregator turns the per-frame embeddings captured during enrollment
// into one representative vector: the re-normalized component-wise mean.
type Aggregator struct {
	dimension  int
	minSamples int
}

// NewAggregator creates an aggregator for vectors of the given dimension
// that needs at least minSamples valid frames
func NewAggregator(dimension, minSamples int) *Aggregator {
	if minSamples < 1 {
		minSamples = 1
	}
	return &Aggregator{
		dimension:  dimension,
		minSamples: minSamples,
	}
}

// MinSamples returns the number of valid frames needed to enroll
func (a *Aggregator) MinSamples() int {
	return a.minSamples
}

// Dimension returns the expected embedding dimension
func (a *Aggregator) Dimension() int {
	return a.dimension
}

// Aggregate averages samples and re-normalizes the mean. Zero vectors are
// skipped and do not count toward the minimum. A sample with the wrong
// dimension aborts aggregation.
func (a *Aggregator) Aggregate(samples [][]float64) ([]float64, error) {
	sum := make([]float64, a.dimension)
	valid := 0

	for _, sample := range samples {
		if err := CheckDimension(sample, a.dimension); err != nil {
			return nil, err
		}

		unit, err := Normalize(sample)
		if errors.Is(err, ErrZeroVector) {
			continue
		}

		for i, x := range unit {
			sum[i] += x
		}
		valid++
	}

	if valid < a.minSamples {
		return nil, domain.ErrInsufficientSamples.WithError(
			fmt.Errorf("%d valid frames, need %d", valid, a.minSamples))
	}

	mean := make([]float64, a.dimension)
	for i, x := range sum {
		mean[i] = x / float64(valid)
	}

	representative, err := Normalize(mean)
	if err != nil {
		// opposing samples cancelled out
		return nil, domain.ErrInsufficientSamples.WithError(fmt.Errorf("degenerate mean: %w", err))
	}

	return representative, nil
}
