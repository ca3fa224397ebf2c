package provider

import "context"

// Extractor turns an image into the faces found in it. Implementations are
// stateless from the caller's point of view and safe for concurrent use.
type Extractor interface {
	// DetectAndEmbed detects every face in image and returns one Detection
	// per face. An image with no faces yields an empty slice and a nil error.
	// Undecodable input returns domain.ErrInvalidImage; an unreachable or
	// failing backend returns domain.ErrExtractorFailure or
	// domain.ErrExtractorTimeout.
	DetectAndEmbed(ctx context.Context, image []byte) ([]Detection, error)
}

// Detection is a single face found by an Extractor
type Detection struct {
	BoundingBox BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
	// Embedding is the raw vector reported by the backend. It is not
	// guaranteed to be normalized.
	Embedding []float64 `json:"-"`
}

// BoundingBox represents face location in the image
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area in the extractor's units
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// MinSide returns the shorter side of the box
func (b BoundingBox) MinSide() float64 {
	return min(b.Width, b.Height)
}
