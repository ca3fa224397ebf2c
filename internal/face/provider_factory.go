package face

import (
	"fmt"

	"github.com/saturnino-fabrica-de-software/presenca/internal/config"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider/deepface"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider/mock"
)

// ProviderType defines supported embedding extractor types
type ProviderType string

const (
	// ProviderTypeDeepFace is the DeepFace HTTP extractor
	ProviderTypeDeepFace ProviderType = "deepface"
	// ProviderTypeMock is the deterministic in-process extractor for dev/test
	ProviderTypeMock ProviderType = "mock"
)

// NewExtractor creates an Extractor based on configuration
//
// Environment variables:
//   - PROVIDER_TYPE: "deepface" or "mock" (default: "deepface")
//   - DEEPFACE_URL, DEEPFACE_MODEL, DEEPFACE_DETECTOR: DeepFace API settings
//   - EXTRACTOR_RETRIES, EXTRACTOR_BACKOFF: retry policy for DeepFace calls
//   - EMBEDDING_DIMENSION: vector size produced by the mock extractor
func NewExtractor(cfg *config.Config) (provider.Extractor, error) {
	switch ProviderType(cfg.ProviderType) {
	case ProviderTypeDeepFace, "":
		return createDeepFaceProvider(cfg), nil

	case ProviderTypeMock:
		return mock.New(cfg.EmbeddingDimension), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s, %s)",
			cfg.ProviderType, ProviderTypeDeepFace, ProviderTypeMock)
	}
}

// createDeepFaceProvider creates a DeepFace provider instance
func createDeepFaceProvider(cfg *config.Config) *deepface.Provider {
	deepfaceConfig := deepface.DefaultConfig()

	if cfg.DeepFaceURL != "" {
		deepfaceConfig.BaseURL = cfg.DeepFaceURL
	}
	if cfg.DeepFaceModel != "" {
		deepfaceConfig.Model = cfg.DeepFaceModel
	}
	if cfg.DeepFaceDetector != "" {
		deepfaceConfig.Detector = cfg.DeepFaceDetector
	}
	if cfg.ExtractorBackoff > 0 {
		deepfaceConfig.RetryBackoff = cfg.ExtractorBackoff
	}
	// EXTRACTOR_TIMEOUT bounds the whole call including retries; the
	// per-request client timeout only has to stay within it
	if cfg.ExtractorTimeout > 0 {
		deepfaceConfig.Timeout = cfg.ExtractorTimeout
	}
	deepfaceConfig.RetryCount = max(cfg.ExtractorRetries, 0)

	return deepface.NewProvider(deepfaceConfig)
}
