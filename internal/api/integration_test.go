//go:build integration

package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saturnino-fabrica-de-software/presenca/internal/cache"
	"github.com/saturnino-fabrica-de-software/presenca/internal/database"
	"github.com/saturnino-fabrica-de-software/presenca/internal/embedding"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ledger"
	"github.com/saturnino-fabrica-de-software/presenca/internal/matcher"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ratelimit"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(runWithDatabase(m))
}

func runWithDatabase(m *testing.M) int {
	ctx := context.Background()

	// Start PostgreSQL container with pgvector
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "presenca_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Printf("Failed to start container: %v\n", err)
		return 1
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate container: %v\n", err)
		}
	}()

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/presenca_test?sslmode=disable", host, port.Port())

	if err := database.MigrateUp(ctx, dsn); err != nil {
		fmt.Printf("Failed to run migrations: %v\n", err)
		return 1
	}

	testDB, err = database.NewPool(ctx, database.DefaultPoolConfig(dsn))
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		return 1
	}
	defer testDB.Close()

	return m.Run()
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`TRUNCATE attendance_events, identities, cache_entries, rate_limit_counters`)
	require.NoError(t, err)
}

// newStack wires the API against Postgres the way cmd/api does, with the
// mock extractor and a pgvector matcher index
func newStack(t *testing.T, now func() time.Time, rateLimit int) *Router {
	t.Helper()
	resetTables(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	identities := repository.NewIdentityRepository(testDB)
	events := repository.NewAttendanceRepository(testDB)

	index, err := matcher.NewIndex(matcher.IndexPgvector, 8, identities)
	require.NoError(t, err)
	faceMatcher := matcher.New(index, matcher.Config{
		Dimension:    mock.DefaultDimension,
		Threshold:    0.6,
		TieTolerance: 1e-6,
	})

	svc := service.NewAttendanceService(
		identities,
		mock.New(mock.DefaultDimension),
		embedding.NewAggregator(mock.DefaultDimension, 3),
		faceMatcher,
		ledger.New(events, ledger.Config{Location: time.UTC, Retries: 3, Metrics: m}, logger),
		service.Config{
			ExtractorTimeout:     5 * time.Second,
			ExtractorConcurrency: 2,
			MaxEnrollmentFrames:  8,
			CheckCooldown:        time.Minute,
			ProviderName:         "mock",
		},
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithCooldown(cache.NewPGCache(testDB, "presenca")),
		service.WithClock(now),
	)
	_, err = svc.LoadCatalog(context.Background())
	require.NoError(t, err)

	router := NewRouter(logger, &Dependencies{
		Service:          svc,
		Hub:              ws.NewHub(),
		DB:               testDB,
		Metrics:          m,
		Gatherer:         reg,
		RateLimitMax:     rateLimit,
		RateLimitWindow:  time.Minute,
		RateLimitCounter: ratelimit.NewPGCounter(testDB, time.Minute, "presenca"),
	})
	router.Setup()
	t.Cleanup(func() { _ = router.Shutdown(time.Second) })

	return router
}

func frame(variant int, subjects ...string) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(mock.Frame(variant, subjects...))
}

func send(t *testing.T, router *Router, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := router.App().Test(req, -1)
	require.NoError(t, err)

	raw, _ := io.ReadAll(resp.Body)
	var decoded interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	switch v := decoded.(type) {
	case map[string]interface{}:
		return resp.StatusCode, v
	case []interface{}:
		return resp.StatusCode, map[string]interface{}{"items": v}
	default:
		return resp.StatusCode, nil
	}
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func TestIntegration_AttendanceFlow(t *testing.T) {
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	router := newStack(t, func() time.Time { return clock }, 0)

	status, body := send(t, router, http.MethodPost, "/v1/identities", map[string]interface{}{
		"identity_key": "emp-0042",
		"display_name": "Ana Souza",
		"frames": []string{
			frame(1, "ana"), frame(2, "ana"), frame(3),
			frame(4, "ana", "bruno"), "%%%", frame(5, "ana"),
		},
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, float64(3), body["sample_count"])

	status, body = send(t, router, http.MethodPost, "/v1/identities", map[string]interface{}{
		"identity_key": "emp-0007",
		"display_name": "Bruno Lima",
		"frames":       []string{frame(1, "bruno"), frame(2, "bruno"), frame(3, "bruno")},
	})
	require.Equal(t, http.StatusCreated, status, body)

	t.Run("duplicate enrollment rejected", func(t *testing.T) {
		status, body := send(t, router, http.MethodPost, "/v1/identities", map[string]interface{}{
			"identity_key": "emp-0042",
			"display_name": "Ana Again",
			"frames":       []string{frame(7, "ana"), frame(8, "ana"), frame(9, "ana")},
		})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "IDENTITY_ALREADY_EXISTS", errorCode(body))
	})

	t.Run("identities listed by key", func(t *testing.T) {
		status, body := send(t, router, http.MethodGet, "/v1/identities", nil)
		require.Equal(t, http.StatusOK, status)
		items := body["items"].([]interface{})
		require.Len(t, items, 2)
		assert.Equal(t, "emp-0007", items[0].(map[string]interface{})["identity_key"])
	})

	t.Run("check in", func(t *testing.T) {
		status, body := send(t, router, http.MethodPost, "/v1/attendance/check", map[string]string{"frame": frame(10, "ana")})
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, "emp-0042", body["identity_key"])
		assert.Equal(t, "CHECK_IN", body["kind"])
		assert.Equal(t, "checked in", body["status"])
		assert.Equal(t, false, body["repeated"])
		assert.Greater(t, body["score"].(float64), 0.6)
	})

	t.Run("repeat within cooldown", func(t *testing.T) {
		status, body := send(t, router, http.MethodPost, "/v1/attendance/check", map[string]string{"frame": frame(11, "ana")})
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, "CHECK_IN", body["kind"])
		assert.Equal(t, true, body["repeated"])
	})

	t.Run("check out after cooldown", func(t *testing.T) {
		clock = clock.Add(8 * time.Hour)
		status, body := send(t, router, http.MethodPost, "/v1/attendance/check", map[string]string{"frame": frame(12, "ana")})
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, "CHECK_OUT", body["kind"])
		assert.Equal(t, "checked out", body["status"])
	})

	t.Run("third recognition of the day", func(t *testing.T) {
		clock = clock.Add(2 * time.Minute)
		status, body := send(t, router, http.MethodPost, "/v1/attendance/check", map[string]string{"frame": frame(13, "ana")})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "ALREADY_CHECKED_OUT", errorCode(body))
	})

	t.Run("stranger is not matched", func(t *testing.T) {
		status, body := send(t, router, http.MethodPost, "/v1/attendance/check", map[string]string{"frame": frame(1, "carla")})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "NO_MATCH", errorCode(body))
	})

	t.Run("group frame rejected", func(t *testing.T) {
		status, body := send(t, router, http.MethodPost, "/v1/attendance/check", map[string]string{"frame": frame(1, "ana", "bruno")})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "AMBIGUOUS_FACE", errorCode(body))
	})

	t.Run("attendance log newest first", func(t *testing.T) {
		status, body := send(t, router, http.MethodGet, "/v1/attendance?date=2024-03-01", nil)
		require.Equal(t, http.StatusOK, status)
		items := body["items"].([]interface{})
		require.Len(t, items, 2)
		assert.Equal(t, "CHECK_OUT", items[0].(map[string]interface{})["kind"])
		assert.Equal(t, "Ana Souza", items[1].(map[string]interface{})["display_name"])

		status, body = send(t, router, http.MethodGet, "/v1/attendance?date=2024-03-02", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Empty(t, body["items"])
	})

	t.Run("next day checks in again", func(t *testing.T) {
		clock = clock.Add(24 * time.Hour)
		status, body := send(t, router, http.MethodPost, "/v1/attendance/check", map[string]string{"frame": frame(14, "ana")})
		require.Equal(t, http.StatusOK, status, body)
		assert.Equal(t, "CHECK_IN", body["kind"])
	})
}

func TestIntegration_SharedRateLimit(t *testing.T) {
	router := newStack(t, time.Now, 2)

	for i := 0; i < 2; i++ {
		status, _ := send(t, router, http.MethodGet, "/v1/identities", nil)
		assert.Equal(t, http.StatusOK, status)
	}

	status, body := send(t, router, http.MethodGet, "/v1/identities", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(body))

	// probes are outside the limited group
	status, _ = send(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestIntegration_ReadyEndpoint(t *testing.T) {
	router := newStack(t, time.Now, 0)

	status, body := send(t, router, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, float64(0), body["identities"])
}

func TestIntegration_NotFoundReturns404(t *testing.T) {
	router := newStack(t, time.Now, 0)

	status, _ := send(t, router, http.MethodGet, "/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
