package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/saturnino-fabrica-de-software/presenca/internal/audit"
	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/matcher"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

// maxFieldLength matches the VARCHAR(255) identity columns
const maxFieldLength = 255

// Discard reasons for enrollment frames
const (
	discardNoFace   = "no_face"
	discardMultiple = "multiple_faces"
	discardInvalid  = "invalid_image"
)

// RegisterInput is an enrollment request. Frames are raw image bytes;
// undecodable entries are discarded like frames without a usable face.
type RegisterInput struct {
	IdentityKey string
	DisplayName string
	Frames      [][]byte
}

// Register enrolls a new identity from several frames of the same person
func (s *AttendanceService) Register(ctx context.Context, input RegisterInput) (*domain.Identity, error) {
	identity, err := s.register(ctx, input)
	if err != nil {
		s.metrics.IncrementEnrollment(errorCode(err))
		s.logAudit(ctx, audit.Event{
			EventType:   audit.EventEnrollmentRejected,
			IdentityKey: strings.TrimSpace(input.IdentityKey),
			Error:       err.Error(),
		})
		return nil, err
	}

	s.metrics.IncrementEnrollment("enrolled")
	s.metrics.SetCatalogSize(s.matcher.Len())
	s.logAudit(ctx, audit.Event{
		EventType:   audit.EventIdentityEnrolled,
		IdentityKey: identity.IdentityKey,
		Success:     true,
		Metadata:    map[string]string{"sample_count": strconv.Itoa(identity.SampleCount)},
	})
	s.broadcast(ws.EventIdentityEnrolled, identity.Summary())
	s.logger.InfoContext(ctx, "identity enrolled",
		slog.String("identity_key", identity.IdentityKey),
		slog.Int("sample_count", identity.SampleCount),
		slog.Int("frames", len(input.Frames)),
	)

	return identity, nil
}

func (s *AttendanceService) register(ctx context.Context, input RegisterInput) (*domain.Identity, error) {
	key := strings.TrimSpace(input.IdentityKey)
	name := strings.TrimSpace(input.DisplayName)

	if err := s.validateRegistration(key, name, input.Frames); err != nil {
		return nil, err
	}

	// cheap rejection before extraction; the unique constraint still decides
	exists, err := s.identities.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check identity %q: %w", key, err)
	}
	if exists {
		return nil, domain.ErrIdentityExists
	}

	samples, err := s.extractSamples(ctx, input.Frames)
	if err != nil {
		return nil, err
	}

	vec, err := s.aggregator.Aggregate(samples)
	if err != nil {
		if errors.Is(err, domain.ErrDimensionMismatch) {
			s.logger.ErrorContext(ctx, "extractor returned wrong embedding dimension",
				slog.String("identity_key", key),
				slog.Any("error", err),
			)
		}
		return nil, err
	}

	identity := &domain.Identity{
		ID:          uuid.New(),
		IdentityKey: key,
		DisplayName: name,
		Embedding:   vec,
		SampleCount: len(samples),
	}

	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, err
	}

	if err := s.matcher.Add(matcher.Entry{
		IdentityKey: identity.IdentityKey,
		DisplayName: identity.DisplayName,
		Embedding:   identity.Embedding,
	}); err != nil {
		s.logger.ErrorContext(ctx, "stored identity could not be indexed",
			slog.String("identity_key", key),
			slog.Any("error", err),
		)
		return nil, err
	}

	return identity, nil
}

func (s *AttendanceService) validateRegistration(key, name string, frames [][]byte) error {
	switch {
	case key == "":
		return domain.ErrValidationFailed.WithError(errors.New("identity_key is required"))
	case utf8.RuneCountInString(key) > maxFieldLength:
		return domain.ErrValidationFailed.WithError(fmt.Errorf("identity_key exceeds %d characters", maxFieldLength))
	case name == "":
		return domain.ErrValidationFailed.WithError(errors.New("display_name is required"))
	case utf8.RuneCountInString(name) > maxFieldLength:
		return domain.ErrValidationFailed.WithError(fmt.Errorf("display_name exceeds %d characters", maxFieldLength))
	case len(frames) == 0:
		return domain.ErrValidationFailed.WithError(errors.New("at least one frame is required"))
	case len(frames) > s.config.MaxEnrollmentFrames:
		return domain.ErrValidationFailed.WithError(
			fmt.Errorf("%d frames exceeds the limit of %d", len(frames), s.config.MaxEnrollmentFrames))
	}
	return nil
}

// extractSamples runs the extractor over every frame with bounded
// concurrency and returns the embeddings of frames showing exactly one
// face, in frame order.
func (s *AttendanceService) extractSamples(ctx context.Context, frames [][]byte) ([][]float64, error) {
	perFrame := make([][]float64, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.ExtractorConcurrency)

	for i, frame := range frames {
		g.Go(func() error {
			if len(frame) == 0 {
				s.metrics.IncrementDiscarded(discardInvalid)
				return nil
			}

			faces, err := s.extract(gctx, "register", frame)
			switch {
			case errors.Is(err, domain.ErrInvalidImage):
				s.metrics.IncrementDiscarded(discardInvalid)
				return nil
			case err != nil:
				return fmt.Errorf("frame %d: %w", i, err)
			}

			face, err := s.singleFace(faces)
			switch {
			case errors.Is(err, domain.ErrAmbiguousFace):
				s.metrics.IncrementDiscarded(discardMultiple)
				return nil
			case err != nil:
				s.metrics.IncrementDiscarded(discardNoFace)
				return nil
			}

			perFrame[i] = face.Embedding
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	samples := make([][]float64, 0, len(frames))
	for _, sample := range perFrame {
		if sample != nil {
			samples = append(samples, sample)
		}
	}
	return samples, nil
}

// extract calls the extractor under EXTRACTOR_TIMEOUT. Every detection is
// returned, however small.
func (s *AttendanceService) extract(ctx context.Context, operation string, image []byte) ([]provider.Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ExtractorTimeout)
	defer cancel()

	start := time.Now()
	faces, err := s.extractor.DetectAndEmbed(ctx, image)
	if err != nil {
		err = classifyExtractorError(err)
		s.metrics.ObserveExtractor(operation, errorCode(err), time.Since(start))
		return nil, err
	}
	s.metrics.ObserveExtractor(operation, "ok", time.Since(start))
	return faces, nil
}

// singleFace picks the one face a frame must show. Faces are counted before
// MinFaceSize applies, so a small second person still makes the frame
// ambiguous; a lone face below MinFaceSize counts as no face.
func (s *AttendanceService) singleFace(faces []provider.Detection) (provider.Detection, error) {
	switch {
	case len(faces) == 0:
		return provider.Detection{}, domain.ErrNoFaceDetected
	case len(faces) > 1:
		return provider.Detection{}, domain.ErrAmbiguousFace.WithError(fmt.Errorf("%d faces in frame", len(faces)))
	}

	face := faces[0]
	if s.config.MinFaceSize > 0 && face.BoundingBox.MinSide() < s.config.MinFaceSize {
		return provider.Detection{}, domain.ErrNoFaceDetected.WithError(
			fmt.Errorf("face is %.0fpx, below the %.0fpx minimum", face.BoundingBox.MinSide(), s.config.MinFaceSize))
	}
	return face, nil
}

func classifyExtractorError(err error) error {
	var appErr *domain.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrExtractorTimeout.WithError(err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return domain.ErrExtractorFailure.WithError(err)
	}
}

// ListIdentities returns every enrolled identity ordered by identity_key
func (s *AttendanceService) ListIdentities(ctx context.Context) ([]domain.IdentitySummary, error) {
	identities, err := s.identities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return identities, nil
}

// LoadCatalog indexes every stored identity. It fails on the first stored
// vector that is not a unit vector of the configured dimension.
func (s *AttendanceService) LoadCatalog(ctx context.Context) (int, error) {
	identities, err := s.identities.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}

	entries := make([]matcher.Entry, 0, len(identities))
	for _, identity := range identities {
		entries = append(entries, matcher.Entry{
			IdentityKey: identity.IdentityKey,
			DisplayName: identity.DisplayName,
			Embedding:   identity.Embedding,
		})
	}

	if err := s.matcher.Load(entries); err != nil {
		s.logger.ErrorContext(ctx, "catalog contains an invalid embedding", slog.Any("error", err))
		return 0, fmt.Errorf("load catalog: %w", err)
	}

	s.metrics.SetCatalogSize(s.matcher.Len())
	return len(entries), nil
}

// CatalogSize returns the number of identities the matcher can recognize
func (s *AttendanceService) CatalogSize() int {
	return s.matcher.Len()
}
