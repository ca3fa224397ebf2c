package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/presenca/internal/audit"
	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/embedding"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ledger"
	"github.com/saturnino-fabrica-de-software/presenca/internal/matcher"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

const testDimension = 4

var (
	aliceVec = []float64{1, 0, 0, 0}
	bobVec   = []float64{0, 1, 0, 0}
)

// MockIdentityStore is a mock implementation of IdentityStore
type MockIdentityStore struct {
	mock.Mock
}

func (m *MockIdentityStore) Create(ctx context.Context, identity *domain.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *MockIdentityStore) Exists(ctx context.Context, identityKey string) (bool, error) {
	args := m.Called(ctx, identityKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdentityStore) List(ctx context.Context) ([]domain.IdentitySummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.IdentitySummary), args.Error(1)
}

func (m *MockIdentityStore) All(ctx context.Context) ([]domain.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Identity), args.Error(1)
}

// MockExtractor is a mock implementation of provider.Extractor
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) DetectAndEmbed(ctx context.Context, image []byte) ([]provider.Detection, error) {
	args := m.Called(ctx, image)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.Detection), args.Error(1)
}

// memStore keeps ledger events in memory and enforces the per-day
// uniqueness the database index provides
type memStore struct {
	mu     sync.Mutex
	events []domain.AttendanceEvent

	// beforeAppend runs inside Append ahead of the uniqueness check
	beforeAppend func(s *memStore, event *domain.AttendanceEvent)
}

func (s *memStore) LatestForDay(_ context.Context, key string, day time.Time) (*domain.AttendanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.AttendanceEvent
	for i := range s.events {
		e := s.events[i]
		if e.IdentityKey == key && e.Day.Equal(day) {
			if latest == nil || !e.Timestamp.Before(latest.Timestamp) {
				latest = &e
			}
		}
	}
	return latest, nil
}

func (s *memStore) Append(_ context.Context, event *domain.AttendanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hook := s.beforeAppend; hook != nil {
		s.beforeAppend = nil
		hook(s, event)
	}

	for _, e := range s.events {
		if e.IdentityKey == event.IdentityKey && e.Day.Equal(event.Day) && e.Kind == event.Kind {
			return domain.ErrConcurrencyConflict
		}
	}
	s.events = append(s.events, *event)
	return nil
}

func (s *memStore) List(_ context.Context, filter domain.AttendanceFilter) ([]domain.AttendanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AttendanceEvent, 0, len(s.events))
	for _, e := range s.events {
		if filter.Day == nil || e.Day.Equal(*filter.Day) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type feedEvent struct {
	Type ws.EventType
	Data interface{}
}

type recordingFeed struct {
	mu     sync.Mutex
	events []feedEvent
}

func (f *recordingFeed) Broadcast(eventType ws.EventType, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, feedEvent{Type: eventType, Data: data})
}

func (f *recordingFeed) ofType(eventType ws.EventType) []feedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []feedEvent
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Log(_ context.Context, event audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) types() []audit.EventType {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]audit.EventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	service    *AttendanceService
	identities *MockIdentityStore
	extractor  *MockExtractor
	matcher    *matcher.Matcher
	store      *memStore
	feed       *recordingFeed
	clock      *testClock
}

func newFixture(t *testing.T, config Config, opts ...Option) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		identities: new(MockIdentityStore),
		extractor:  new(MockExtractor),
		matcher: matcher.New(matcher.NewLinearIndex(), matcher.Config{
			Dimension:    testDimension,
			Threshold:    0.6,
			TieTolerance: 1e-6,
		}),
		store: &memStore{},
		feed:  &recordingFeed{},
		clock: &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	l := ledger.New(f.store, ledger.Config{Location: time.UTC, Retries: 2}, logger)

	opts = append([]Option{
		WithFeed(f.feed),
		WithLogger(logger),
		WithClock(f.clock.Now),
	}, opts...)

	f.service = NewAttendanceService(
		f.identities,
		f.extractor,
		embedding.NewAggregator(testDimension, 3),
		f.matcher,
		l,
		config,
		opts...,
	)
	return f
}

func (f *fixture) enroll(t *testing.T, key, name string, vec []float64) {
	t.Helper()
	require.NoError(t, f.matcher.Add(matcher.Entry{IdentityKey: key, DisplayName: name, Embedding: vec}))
}

func face(vec ...float64) provider.Detection {
	return provider.Detection{
		BoundingBox: provider.BoundingBox{X: 10, Y: 10, Width: 100, Height: 100},
		Confidence:  0.99,
		Embedding:   vec,
	}
}

// smallFace is a detection whose box is 20px on each side
func smallFace(vec ...float64) provider.Detection {
	d := face(vec...)
	d.BoundingBox.Width, d.BoundingBox.Height = 20, 20
	return d
}

func faces(d ...provider.Detection) []provider.Detection {
	return d
}
