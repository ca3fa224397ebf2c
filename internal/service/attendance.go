package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/saturnino-fabrica-de-software/presenca/internal/audit"
	"github.com/saturnino-fabrica-de-software/presenca/internal/cache"
	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/embedding"
	"github.com/saturnino-fabrica-de-software/presenca/internal/matcher"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

// IdentityStore is the persisted identity catalog
type IdentityStore interface {
	Create(ctx context.Context, identity *domain.Identity) error
	Exists(ctx context.Context, identityKey string) (bool, error)
	List(ctx context.Context) ([]domain.IdentitySummary, error)
	All(ctx context.Context) ([]domain.Identity, error)
}

// AttendanceLedger records check-in/check-out transitions
type AttendanceLedger interface {
	Record(ctx context.Context, identityKey string, at time.Time) (*domain.AttendanceEvent, error)
	List(ctx context.Context, filter domain.AttendanceFilter) ([]domain.AttendanceEvent, error)
}

// Feed receives live attendance notifications
type Feed interface {
	Broadcast(eventType ws.EventType, data interface{})
}

type Config struct {
	ExtractorTimeout     time.Duration
	ExtractorConcurrency int
	MaxEnrollmentFrames  int
	// MinFaceSize discards detections whose shorter side is below it. Zero
	// keeps every detection.
	MinFaceSize   float64
	CheckCooldown time.Duration
	// ProviderName is recorded in audit events
	ProviderName string
}

// AttendanceService orchestrates enrollment and recognition checks
type AttendanceService struct {
	identities IdentityStore
	extractor  provider.Extractor
	aggregator *embedding.Aggregator
	matcher    *matcher.Matcher
	ledger     AttendanceLedger
	config     Config

	cooldown *cache.JSONCache
	flight   singleflight.Group

	logger  *slog.Logger
	audit   audit.Logger
	feeds   []Feed
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures optional collaborators of AttendanceService
type Option func(*AttendanceService)

// WithCooldown sets the store used to remember recent check results.
// Without one every check reaches the ledger.
func WithCooldown(store cache.Store) Option {
	return func(s *AttendanceService) {
		s.cooldown = cache.NewJSONCache(store)
	}
}

func WithAuditLogger(logger audit.Logger) Option {
	return func(s *AttendanceService) {
		s.audit = logger
	}
}

// WithFeed adds a receiver of live events. It may be given more than once.
func WithFeed(feed Feed) Option {
	return func(s *AttendanceService) {
		s.feeds = append(s.feeds, feed)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AttendanceService) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *AttendanceService) {
		s.logger = logger
	}
}

// WithClock overrides the time source used to stamp attendance events
func WithClock(now func() time.Time) Option {
	return func(s *AttendanceService) {
		s.now = now
	}
}

func NewAttendanceService(
	identities IdentityStore,
	extractor provider.Extractor,
	aggregator *embedding.Aggregator,
	m *matcher.Matcher,
	ledger AttendanceLedger,
	config Config,
	opts ...Option,
) *AttendanceService {
	if config.ExtractorConcurrency < 1 {
		config.ExtractorConcurrency = 1
	}
	if config.ExtractorTimeout <= 0 {
		config.ExtractorTimeout = 10 * time.Second
	}
	if config.MaxEnrollmentFrames < 1 {
		config.MaxEnrollmentFrames = 32
	}

	s := &AttendanceService{
		identities: identities,
		extractor:  extractor,
		aggregator: aggregator,
		matcher:    m,
		ledger:     ledger,
		config:     config,
		logger:     slog.Default(),
		audit:      &audit.NoOpLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check recognizes the single face in image and records the next
// attendance transition for that identity.
func (s *AttendanceService) Check(ctx context.Context, image []byte) (*domain.CheckResult, error) {
	result, err := s.check(ctx, image)
	if err != nil {
		s.metrics.IncrementCheck(errorCode(err))
		return nil, err
	}

	if result.Repeated {
		s.metrics.IncrementCheck("repeated")
	} else {
		s.metrics.IncrementCheck(string(result.Kind))
	}
	return result, nil
}

func (s *AttendanceService) check(ctx context.Context, image []byte) (*domain.CheckResult, error) {
	if len(image) == 0 {
		return nil, domain.ErrValidationFailed.WithError(errors.New("frame is required"))
	}

	faces, err := s.extract(ctx, "check", image)
	if err != nil {
		return nil, err
	}

	face, err := s.singleFace(faces)
	if err != nil {
		return nil, err
	}

	query, err := embedding.Normalize(face.Embedding)
	if err != nil {
		return nil, domain.ErrExtractorFailure.WithError(err)
	}

	match, err := s.matcher.Match(ctx, query)
	if err != nil {
		s.recordMatchFailure(ctx, err)
		return nil, err
	}
	s.metrics.IncrementMatch("matched")
	s.metrics.ObserveScore(match.Score)

	// one ledger call per identity at a time; the write itself must not be
	// abandoned halfway because the first caller went away
	ch := s.flight.DoChan(match.IdentityKey, func() (interface{}, error) {
		return s.record(context.WithoutCancel(ctx), match)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := *res.Val.(*domain.CheckResult)
		// a replay answers with the score of the call it repeats
		if !shared.Repeated {
			shared.Score = match.Score
		}
		return &shared, nil
	}
}

func (s *AttendanceService) record(ctx context.Context, match *matcher.Result) (*domain.CheckResult, error) {
	key := cooldownKey(match.IdentityKey)

	if s.cooldown != nil && s.config.CheckCooldown > 0 {
		var prior domain.CheckResult
		err := s.cooldown.Get(ctx, key, &prior)
		switch {
		case err == nil:
			// the store TTL runs on wall time, the window on the service clock
			if s.now().Sub(prior.Timestamp) < s.config.CheckCooldown {
				prior.Repeated = true
				return &prior, nil
			}
		case errors.Is(err, cache.ErrCacheMiss), errors.Is(err, cache.ErrCacheExpired):
		default:
			s.logger.WarnContext(ctx, "cooldown lookup failed",
				slog.String("identity_key", match.IdentityKey),
				slog.Any("error", err),
			)
		}
	}

	event, err := s.ledger.Record(ctx, match.IdentityKey, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyCheckedOut) {
			s.logAudit(ctx, audit.Event{
				EventType:   audit.EventRecognitionFailed,
				IdentityKey: match.IdentityKey,
				Error:       err.Error(),
			})
		}
		return nil, err
	}

	result := &domain.CheckResult{
		IdentityKey: match.IdentityKey,
		DisplayName: match.DisplayName,
		Kind:        event.Kind,
		Score:       match.Score,
		Timestamp:   event.Timestamp,
		Repeated:    event.Repeated,
	}

	if s.cooldown != nil && s.config.CheckCooldown > 0 {
		if err := s.cooldown.Set(ctx, key, result, s.config.CheckCooldown); err != nil {
			s.logger.WarnContext(ctx, "cooldown store failed",
				slog.String("identity_key", match.IdentityKey),
				slog.Any("error", err),
			)
		}
	}

	// another replica recorded and announced this transition
	if event.Repeated {
		s.logger.InfoContext(ctx, "attendance already recorded",
			slog.String("identity_key", match.IdentityKey),
			slog.String("kind", string(event.Kind)),
		)
		return result, nil
	}

	s.logAudit(ctx, audit.Event{
		EventType:   audit.EventAttendanceRecorded,
		IdentityKey: match.IdentityKey,
		Kind:        string(event.Kind),
		Success:     true,
		Metadata:    map[string]string{"score": fmt.Sprintf("%.4f", match.Score)},
	})

	s.broadcast(ws.EventAttendanceRecorded, AttendanceEntry{
		IdentityKey: event.IdentityKey,
		DisplayName: match.DisplayName,
		Kind:        event.Kind,
		Status:      event.Kind.Status(),
		Timestamp:   event.Timestamp,
	})

	s.logger.InfoContext(ctx, "attendance recorded",
		slog.String("identity_key", match.IdentityKey),
		slog.String("kind", string(event.Kind)),
		slog.Float64("score", match.Score),
	)

	return result, nil
}

func (s *AttendanceService) recordMatchFailure(ctx context.Context, err error) {
	outcome := "no_match"
	switch {
	case errors.Is(err, matcher.ErrEmptyCatalog):
		outcome = "empty_catalog"
	case errors.Is(err, matcher.ErrAmbiguousMatch):
		outcome = "ambiguous"
	case !errors.Is(err, domain.ErrNoMatch):
		outcome = "error"
		s.logger.ErrorContext(ctx, "matcher failed", slog.Any("error", err))
	}
	s.metrics.IncrementMatch(outcome)

	s.logAudit(ctx, audit.Event{
		EventType: audit.EventRecognitionFailed,
		Error:     err.Error(),
		Metadata:  map[string]string{"outcome": outcome},
	})
}

// AttendanceEntry is one row of the attendance log
type AttendanceEntry struct {
	IdentityKey string           `json:"identity_key"`
	DisplayName string           `json:"display_name"`
	Kind        domain.EventKind `json:"kind"`
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
}

// ListAttendance returns the attendance log newest first. day, when set,
// restricts the log to one calendar day.
func (s *AttendanceService) ListAttendance(ctx context.Context, day *time.Time, limit int) ([]AttendanceEntry, error) {
	events, err := s.ledger.List(ctx, domain.AttendanceFilter{Day: day, Limit: limit})
	if err != nil {
		return nil, err
	}

	entries := make([]AttendanceEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, AttendanceEntry{
			IdentityKey: e.IdentityKey,
			DisplayName: e.DisplayName,
			Kind:        e.Kind,
			Status:      e.Kind.Status(),
			Timestamp:   e.Timestamp,
		})
	}
	return entries, nil
}

func (s *AttendanceService) logAudit(ctx context.Context, event audit.Event) {
	event.Provider = s.config.ProviderName
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.Any("error", err))
	}
}

func (s *AttendanceService) broadcast(eventType ws.EventType, data interface{}) {
	for _, feed := range s.feeds {
		feed.Broadcast(eventType, data)
	}
}

func cooldownKey(identityKey string) string {
	return "cooldown:" + identityKey
}

func errorCode(err error) string {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return "CANCELED"
	}
	return domain.ErrInternal.Code
}
