package deepface

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"net"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
)

const (
	// minFaceArea is the minimum face area (in pixels²) for reliable detection
	minFaceArea = 2500 // 50x50 pixels
	// maxFaceArea is used for confidence scaling
	maxFaceArea = 250000 // 500x500 pixels
)

// Provider implements provider.Extractor using DeepFace API
type Provider struct {
	client *Client
}

// NewProvider creates a new DeepFace provider
func NewProvider(config Config) *Provider {
	return &Provider{
		client: NewClient(config),
	}
}

// DetectAndEmbed sends the image to /represent and returns one detection
// per face DeepFace reports.
func (p *Provider) DetectAndEmbed(ctx context.Context, image []byte) ([]provider.Detection, error) {
	if len(image) == 0 {
		return nil, domain.ErrInvalidImage
	}

	resp, err := p.client.Represent(ctx, base64.StdEncoding.EncodeToString(image))
	if err != nil {
		return mapError(err)
	}

	detections := make([]provider.Detection, 0, len(resp.Results))
	for _, result := range resp.Results {
		if len(result.Embedding) == 0 {
			return nil, domain.ErrExtractorFailure.WithError(ErrInvalidResponse)
		}

		confidence := result.FaceConfidence
		if confidence <= 0 {
			confidence = calculateConfidence(float64(result.FacialArea.W * result.FacialArea.H))
		}

		detections = append(detections, provider.Detection{
			BoundingBox: provider.BoundingBox{
				X:      float64(result.FacialArea.X),
				Y:      float64(result.FacialArea.Y),
				Width:  float64(result.FacialArea.W),
				Height: float64(result.FacialArea.H),
			},
			Confidence: confidence,
			Embedding:  result.Embedding,
		})
	}

	return detections, nil
}

// mapError translates client failures into the domain catalogue. A
// "no face" rejection is not a failure: it is an empty detection list.
func mapError(err error) ([]provider.Detection, error) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.ClientError() {
		if statusErr.NoFace() {
			return []provider.Detection{}, nil
		}
		return nil, domain.ErrInvalidImage.WithError(err)
	}

	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil, domain.ErrExtractorTimeout.WithError(err)
	}

	return nil, domain.ErrExtractorFailure.WithError(err)
}

// calculateConfidence estimates confidence based on face area for
// detectors that don't report one. Larger faces are more likely to be
// accurately detected.
func calculateConfidence(faceArea float64) float64 {
	if faceArea < minFaceArea {
		return 0.5 // Low confidence for very small faces
	}
	// Scale from 0.7 to 0.99 based on face area
	normalized := math.Min(1.0, (faceArea-minFaceArea)/(maxFaceArea-minFaceArea))
	return 0.7 + (normalized * 0.29)
}

var _ provider.Extractor = (*Provider)(nil)
