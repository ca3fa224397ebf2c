package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/presenca/internal/audit"
	"github.com/saturnino-fabrica-de-software/presenca/internal/cache"
	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/matcher"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

var frame = []byte("frame")

func TestAttendanceService_Check_DayCycle(t *testing.T) {
	auditLog := &recordingAudit{}
	f := newFixture(t, Config{ProviderName: "mock"}, WithAuditLogger(auditLog))
	f.enroll(t, "alice", "Alice", aliceVec)
	f.enroll(t, "bob", "Bob", bobVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).
		Return(faces(face(0.9, 0.1, 0, 0)), nil)

	ctx := context.Background()

	first, err := f.service.Check(ctx, frame)
	require.NoError(t, err)
	assert.Equal(t, "alice", first.IdentityKey)
	assert.Equal(t, "Alice", first.DisplayName)
	assert.Equal(t, domain.EventCheckIn, first.Kind)
	assert.Greater(t, first.Score, 0.9)
	assert.False(t, first.Repeated)

	f.clock.Advance(8 * time.Hour)
	second, err := f.service.Check(ctx, frame)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCheckOut, second.Kind)
	assert.True(t, second.Timestamp.After(first.Timestamp))

	f.clock.Advance(time.Hour)
	_, err = f.service.Check(ctx, frame)
	assert.ErrorIs(t, err, domain.ErrAlreadyCheckedOut)

	f.clock.Advance(24 * time.Hour)
	nextDay, err := f.service.Check(ctx, frame)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCheckIn, nextDay.Kind)

	assert.Equal(t, 3, f.store.len())

	recorded := f.feed.ofType(ws.EventAttendanceRecorded)
	require.Len(t, recorded, 3)
	entry, ok := recorded[0].Data.(AttendanceEntry)
	require.True(t, ok)
	assert.Equal(t, "alice", entry.IdentityKey)
	assert.Equal(t, "checked in", entry.Status)

	assert.Equal(t, []audit.EventType{
		audit.EventAttendanceRecorded,
		audit.EventAttendanceRecorded,
		audit.EventRecognitionFailed,
		audit.EventAttendanceRecorded,
	}, auditLog.types())
	assert.Equal(t, "mock", auditLog.events[0].Provider)
}

func TestAttendanceService_Check_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		image      []byte
		config     Config
		catalog    bool
		setupMocks func(*MockExtractor)
		wantErr    error
	}{
		{
			name:    "empty frame",
			image:   nil,
			catalog: true,
			wantErr: domain.ErrValidationFailed,
		},
		{
			name:    "no face",
			image:   frame,
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return([]provider.Detection{}, nil)
			},
			wantErr: domain.ErrNoFaceDetected,
		},
		{
			name:    "two faces",
			image:   frame,
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).
					Return(faces(face(aliceVec...), face(bobVec...)), nil)
			},
			wantErr: domain.ErrAmbiguousFace,
		},
		{
			name:    "unknown face",
			image:   frame,
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(0, 0, 1, 0)), nil)
			},
			wantErr: domain.ErrNoMatch,
		},
		{
			name:    "tie between identities",
			image:   frame,
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(1, 1, 0, 0)), nil)
			},
			wantErr: matcher.ErrAmbiguousMatch,
		},
		{
			name:  "empty catalog",
			image: frame,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(aliceVec...)), nil)
			},
			wantErr: domain.ErrNoMatch,
		},
		{
			name:    "face below minimum size",
			image:   frame,
			config:  Config{MinFaceSize: 150},
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(aliceVec...)), nil)
			},
			wantErr: domain.ErrNoFaceDetected,
		},
		{
			name:    "small second face",
			image:   frame,
			config:  Config{MinFaceSize: 50},
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).
					Return(faces(face(aliceVec...), smallFace(bobVec...)), nil)
			},
			wantErr: domain.ErrAmbiguousFace,
		},
		{
			name:    "zero embedding",
			image:   frame,
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(0, 0, 0, 0)), nil)
			},
			wantErr: domain.ErrExtractorFailure,
		},
		{
			name:    "wrong dimension",
			image:   frame,
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(1, 0)), nil)
			},
			wantErr: domain.ErrDimensionMismatch,
		},
		{
			name:    "undecodable frame",
			image:   frame,
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return(nil, domain.ErrInvalidImage)
			},
			wantErr: domain.ErrInvalidImage,
		},
		{
			name:    "extractor down",
			image:   frame,
			catalog: true,
			setupMocks: func(e *MockExtractor) {
				e.On("DetectAndEmbed", mock.Anything, frame).Return(nil, assert.AnError)
			},
			wantErr: domain.ErrExtractorFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.config)
			if tt.catalog {
				f.enroll(t, "alice", "Alice", aliceVec)
				f.enroll(t, "bob", "Bob", bobVec)
			}
			if tt.setupMocks != nil {
				tt.setupMocks(f.extractor)
			}

			result, err := f.service.Check(context.Background(), tt.image)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.store.len())
			assert.Empty(t, f.feed.ofType(ws.EventAttendanceRecorded))
			f.extractor.AssertExpectations(t)
		})
	}
}

func TestAttendanceService_Check_ExtractorTimeout(t *testing.T) {
	f := newFixture(t, Config{ExtractorTimeout: 20 * time.Millisecond})
	f.enroll(t, "alice", "Alice", aliceVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	start := time.Now()
	_, err := f.service.Check(context.Background(), frame)

	assert.ErrorIs(t, err, domain.ErrExtractorTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, f.store.len())
}

func TestAttendanceService_Check_Cooldown(t *testing.T) {
	f := newFixture(t, Config{CheckCooldown: time.Minute}, WithCooldown(cache.NewMemoryCache()))
	f.enroll(t, "alice", "Alice", aliceVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(aliceVec...)), nil)

	ctx := context.Background()

	first, err := f.service.Check(ctx, frame)
	require.NoError(t, err)
	assert.False(t, first.Repeated)

	f.clock.Advance(2 * time.Second)
	repeat, err := f.service.Check(ctx, frame)
	require.NoError(t, err)

	assert.True(t, repeat.Repeated)
	assert.Equal(t, domain.EventCheckIn, repeat.Kind)
	assert.True(t, repeat.Timestamp.Equal(first.Timestamp))
	assert.Equal(t, 1, f.store.len())
	assert.Len(t, f.feed.ofType(ws.EventAttendanceRecorded), 1)

	// the cached entry is still held by the store, but the window has passed
	f.clock.Advance(2 * time.Minute)
	out, err := f.service.Check(ctx, frame)
	require.NoError(t, err)
	assert.False(t, out.Repeated)
	assert.Equal(t, domain.EventCheckOut, out.Kind)
	assert.Equal(t, 2, f.store.len())
}

func TestAttendanceService_Check_CooldownReplaysPriorScore(t *testing.T) {
	f := newFixture(t, Config{CheckCooldown: time.Minute}, WithCooldown(cache.NewMemoryCache()))
	f.enroll(t, "alice", "Alice", aliceVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(aliceVec...)), nil).Once()
	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(0.9, 0.3, 0, 0)), nil).Once()

	first, err := f.service.Check(context.Background(), frame)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, first.Score, 1e-9)

	f.clock.Advance(time.Second)
	repeat, err := f.service.Check(context.Background(), frame)
	require.NoError(t, err)
	assert.True(t, repeat.Repeated)
	assert.Equal(t, first.Score, repeat.Score)
	assert.Equal(t, first.Kind, repeat.Kind)
	assert.True(t, repeat.Timestamp.Equal(first.Timestamp))
}

// expiredStore reports every entry as expired
type expiredStore struct {
	cache.Store
	sets int
}

func (s *expiredStore) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, cache.ErrCacheExpired
}

func (s *expiredStore) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	s.sets++
	return nil
}

func TestAttendanceService_Check_ExpiredCooldownIsQuiet(t *testing.T) {
	var logs bytes.Buffer
	store := &expiredStore{}
	f := newFixture(t, Config{CheckCooldown: time.Minute},
		WithCooldown(store),
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))),
	)
	f.enroll(t, "alice", "Alice", aliceVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(aliceVec...)), nil)

	result, err := f.service.Check(context.Background(), frame)
	require.NoError(t, err)
	assert.False(t, result.Repeated)
	assert.Equal(t, domain.EventCheckIn, result.Kind)
	assert.Equal(t, 1, store.sets)
	assert.Empty(t, logs.String())
}

func TestAttendanceService_Check_OtherReplicaWins(t *testing.T) {
	f := newFixture(t, Config{CheckCooldown: time.Minute}, WithCooldown(cache.NewMemoryCache()))
	f.enroll(t, "alice", "Alice", aliceVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(aliceVec...)), nil)

	// a second API process records the same CHECK_IN between our read and write
	elsewhere := f.clock.Now().Add(-time.Second)
	f.store.beforeAppend = func(s *memStore, event *domain.AttendanceEvent) {
		s.events = append(s.events, domain.AttendanceEvent{
			IdentityKey: event.IdentityKey,
			Kind:        domain.EventCheckIn,
			Timestamp:   elsewhere,
			Day:         event.Day,
		})
	}

	result, err := f.service.Check(context.Background(), frame)
	require.NoError(t, err)
	assert.True(t, result.Repeated)
	assert.Equal(t, domain.EventCheckIn, result.Kind)
	assert.True(t, result.Timestamp.Equal(elsewhere))
	assert.Equal(t, 1, f.store.len())
	assert.Empty(t, f.feed.ofType(ws.EventAttendanceRecorded))

	// the replay is cached like any recorded result
	f.clock.Advance(5 * time.Second)
	again, err := f.service.Check(context.Background(), frame)
	require.NoError(t, err)
	assert.True(t, again.Repeated)
	assert.Equal(t, domain.EventCheckIn, again.Kind)
	assert.Equal(t, 1, f.store.len())
}

func TestAttendanceService_Check_ConcurrentSameIdentity(t *testing.T) {
	f := newFixture(t, Config{CheckCooldown: time.Minute}, WithCooldown(cache.NewMemoryCache()))
	f.enroll(t, "alice", "Alice", aliceVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(aliceVec...)), nil)

	const callers = 16
	results := make([]*domain.CheckResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.service.Check(context.Background(), frame)
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.EventCheckIn, results[i].Kind)
	}
	assert.Equal(t, 1, f.store.len())
}

func TestAttendanceService_Check_CanceledCaller(t *testing.T) {
	f := newFixture(t, Config{})
	f.enroll(t, "alice", "Alice", aliceVec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return(nil, context.Canceled)

	_, err := f.service.Check(ctx, frame)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "CANCELED", errorCode(err))
}

func TestAttendanceService_Check_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, Config{}, WithMetrics(metrics.New(reg)))
	f.enroll(t, "alice", "Alice", aliceVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return(faces(face(aliceVec...)), nil).Once()
	f.extractor.On("DetectAndEmbed", mock.Anything, frame).Return([]provider.Detection{}, nil).Once()

	_, err := f.service.Check(context.Background(), frame)
	require.NoError(t, err)
	_, err = f.service.Check(context.Background(), frame)
	require.ErrorIs(t, err, domain.ErrNoFaceDetected)

	families, err := reg.Gather()
	require.NoError(t, err)

	checks := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "presenca_attendance_checks_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			checks[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{
		string(domain.EventCheckIn):  1,
		domain.ErrNoFaceDetected.Code: 1,
	}, checks)
}

func TestAttendanceService_ListAttendance(t *testing.T) {
	f := newFixture(t, Config{})
	f.enroll(t, "alice", "Alice", aliceVec)
	f.enroll(t, "bob", "Bob", bobVec)

	f.extractor.On("DetectAndEmbed", mock.Anything, []byte("alice")).Return(faces(face(aliceVec...)), nil)
	f.extractor.On("DetectAndEmbed", mock.Anything, []byte("bob")).Return(faces(face(bobVec...)), nil)

	ctx := context.Background()
	_, err := f.service.Check(ctx, []byte("alice"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.service.Check(ctx, []byte("bob"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.service.Check(ctx, []byte("alice"))
	require.NoError(t, err)

	entries, err := f.service.ListAttendance(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "alice", entries[0].IdentityKey)
	assert.Equal(t, domain.EventCheckOut, entries[0].Kind)
	assert.Equal(t, "checked out", entries[0].Status)
	assert.Equal(t, "bob", entries[1].IdentityKey)
	assert.Equal(t, "checked in", entries[1].Status)

	limited, err := f.service.ListAttendance(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	otherDay := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	none, err := f.service.ListAttendance(ctx, &otherDay, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
