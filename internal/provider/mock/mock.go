package mock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/embedding"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
)

const (
	// DefaultDimension matches the default embedding dimension of the service
	DefaultDimension = 512

	// framePrefix marks synthetic frames built by Frame
	framePrefix = "mockface:"

	// minImageSize is the smallest arbitrary payload treated as a photo
	minImageSize = 1000

	// variantWeight scales the per-frame jitter added to a subject embedding
	variantWeight = 0.1
)

// Provider implements provider.Extractor for tests and local development.
//
// Frames built with Frame carry the subjects they show: every frame of the
// same subject yields a nearby embedding, different subjects yield
// near-orthogonal ones. Any other payload is handled like a photo: a run of
// identical bytes is an empty frame, anything shorter than 1000 bytes is
// undecodable, and everything else is one face embedded from its hash.
type Provider struct {
	dimension int
}

// New cria uma nova instância do MockProvider
func New(dimension int) *Provider {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Provider{dimension: dimension}
}

// Frame builds a synthetic frame showing the given subjects. variant
// distinguishes shots of the same scene. No subjects means an empty room.
func Frame(variant int, subjects ...string) []byte {
	return []byte(framePrefix + strings.Join(subjects, ",") + "#" + strconv.Itoa(variant))
}

// DetectAndEmbed simula detecção de faces
func (p *Provider) DetectAndEmbed(ctx context.Context, image []byte) ([]provider.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, domain.ErrInvalidImage
	}

	if bytes.HasPrefix(image, []byte(framePrefix)) {
		return p.syntheticFaces(image[len(framePrefix):])
	}

	if blank(image) {
		return []provider.Detection{}, nil
	}
	if len(image) < minImageSize {
		return nil, domain.ErrInvalidImage
	}

	return []provider.Detection{p.detection(0, hashVector(image, p.dimension))}, nil
}

func (p *Provider) syntheticFaces(payload []byte) ([]provider.Detection, error) {
	body, variant, ok := strings.Cut(string(payload), "#")
	if !ok {
		return nil, domain.ErrInvalidImage
	}
	if body == "" {
		return []provider.Detection{}, nil
	}

	subjects := strings.Split(body, ",")
	faces := make([]provider.Detection, 0, len(subjects))
	for i, subject := range subjects {
		faces = append(faces, p.detection(i, SubjectEmbedding(subject, variant, p.dimension)))
	}
	return faces, nil
}

func (p *Provider) detection(i int, vec []float64) provider.Detection {
	return provider.Detection{
		BoundingBox: provider.BoundingBox{
			X:      float64(10 + i*120),
			Y:      10,
			Width:  100,
			Height: 100,
		},
		Confidence: 0.99,
		Embedding:  vec,
	}
}

// SubjectEmbedding returns the unit embedding the mock reports for subject
// in the given frame variant.
func SubjectEmbedding(subject, variant string, dimension int) []float64 {
	base := hashVector([]byte(subject), dimension)
	jitter := hashVector([]byte(subject+"#"+variant), dimension)
	for i := range base {
		base[i] += variantWeight * jitter[i]
	}
	// both terms are unit vectors so the sum is never zero
	unit, _ := embedding.Normalize(base)
	return unit
}

// hashVector gera embedding determinístico expandindo o sha256 da semente
// em blocos até preencher a dimensão
func hashVector(seed []byte, dimension int) []float64 {
	vec := make([]float64, dimension)
	var block [sha256.Size]byte
	counter := make([]byte, 4)

	for i := range vec {
		if i%sha256.Size == 0 {
			binary.BigEndian.PutUint32(counter, uint32(i/sha256.Size))
			block = sha256.Sum256(append(append([]byte{}, seed...), counter...))
		}
		vec[i] = (float64(block[i%sha256.Size])/255.0)*2 - 1
	}

	// components are never zero, so neither is the norm
	unit, _ := embedding.Normalize(vec)
	return unit
}

func blank(image []byte) bool {
	for _, b := range image[1:] {
		if b != image[0] {
			return false
		}
	}
	return true
}

var _ provider.Extractor = (*Provider)(nil)
