package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identity is an enrolled person and the representative embedding
// aggregated from the enrollment frames.
type Identity struct {
	ID          uuid.UUID `json:"id"`
	IdentityKey string    `json:"identity_key"`
	DisplayName string    `json:"display_name"`
	Embedding   []float64 `json:"-"`
	SampleCount int       `json:"sample_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// IdentitySummary is the public listing view of an identity
type IdentitySummary struct {
	IdentityKey string    `json:"identity_key"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary strips the embedding from an identity
func (i *Identity) Summary() IdentitySummary {
	return IdentitySummary{
		IdentityKey: i.IdentityKey,
		DisplayName: i.DisplayName,
		CreatedAt:   i.CreatedAt,
	}
}
