package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
	_ "time/tzdata" // ATTENDANCE_TIMEZONE must resolve on images without zoneinfo

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`
	// LogLevel overrides the environment's default level when set
	LogLevel string `envconfig:"LOG_LEVEL"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"false"`

	// Provider
	ProviderType     string `envconfig:"PROVIDER_TYPE" default:"deepface"`
	DeepFaceURL      string `envconfig:"DEEPFACE_URL" default:"http://localhost:5005"`
	DeepFaceModel    string `envconfig:"DEEPFACE_MODEL" default:"Facenet512"`
	DeepFaceDetector string `envconfig:"DEEPFACE_DETECTOR" default:"retinaface"`

	// Extractor calls
	ExtractorTimeout     time.Duration `envconfig:"EXTRACTOR_TIMEOUT" default:"10s"`
	ExtractorRetries     int           `envconfig:"EXTRACTOR_RETRIES" default:"2"`
	ExtractorBackoff     time.Duration `envconfig:"EXTRACTOR_BACKOFF" default:"200ms"`
	ExtractorConcurrency int           `envconfig:"EXTRACTOR_CONCURRENCY" default:"4"`

	// Recognition
	EmbeddingDimension  int     `envconfig:"EMBEDDING_DIMENSION" default:"512"`
	MatchThreshold      float64 `envconfig:"MATCH_THRESHOLD" default:"0.6"`
	MatchTieTolerance   float64 `envconfig:"MATCH_TIE_TOLERANCE" default:"0.000001"`
	MatcherIndex        string  `envconfig:"MATCHER_INDEX" default:"linear"`
	MatcherCandidates   int     `envconfig:"MATCHER_CANDIDATES" default:"8"`
	MinFaceSize         float64 `envconfig:"MIN_FACE_SIZE" default:"0"`
	MinEnrollmentFrames int     `envconfig:"MIN_ENROLLMENT_FRAMES" default:"3"`
	MaxEnrollmentFrames int     `envconfig:"MAX_ENROLLMENT_FRAMES" default:"32"`

	// Attendance
	CheckCooldown      time.Duration `envconfig:"CHECK_COOLDOWN" default:"5s"`
	CooldownBackend    string        `envconfig:"COOLDOWN_BACKEND" default:"memory"`
	LedgerRetries      int           `envconfig:"LEDGER_RETRIES" default:"3"`
	AttendanceTimezone string        `envconfig:"ATTENDANCE_TIMEZONE" default:"UTC"`

	// Rate limiting
	RateLimitMax     int           `envconfig:"RATE_LIMIT_MAX" default:"120"`
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitBackend string        `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`

	// Webhook. An empty URL disables delivery.
	WebhookURL         string        `envconfig:"WEBHOOK_URL"`
	WebhookSecret      string        `envconfig:"WEBHOOK_SECRET"`
	WebhookMaxAttempts int           `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"5"`
	WebhookBackoff     time.Duration `envconfig:"WEBHOOK_BACKOFF" default:"1s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}
	switch c.ProviderType {
	case "deepface", "mock":
	default:
		errs = append(errs, fmt.Errorf("PROVIDER_TYPE must be deepface or mock, got %q", c.ProviderType))
	}
	if c.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension))
	}
	if c.MatchThreshold < -1 || c.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be within [-1, 1], got %v", c.MatchThreshold))
	}
	if c.MatchTieTolerance < 0 {
		errs = append(errs, fmt.Errorf("MATCH_TIE_TOLERANCE must not be negative, got %v", c.MatchTieTolerance))
	}
	switch c.MatcherIndex {
	case "linear", "hnsw", "pgvector":
	default:
		errs = append(errs, fmt.Errorf("MATCHER_INDEX must be linear, hnsw or pgvector, got %q", c.MatcherIndex))
	}
	if c.MatcherCandidates < 2 {
		errs = append(errs, fmt.Errorf("MATCHER_CANDIDATES must be at least 2, got %d", c.MatcherCandidates))
	}
	if c.MinFaceSize < 0 {
		errs = append(errs, fmt.Errorf("MIN_FACE_SIZE must not be negative, got %v", c.MinFaceSize))
	}
	if c.MinEnrollmentFrames < 1 {
		errs = append(errs, fmt.Errorf("MIN_ENROLLMENT_FRAMES must be at least 1, got %d", c.MinEnrollmentFrames))
	}
	if c.MaxEnrollmentFrames < c.MinEnrollmentFrames {
		errs = append(errs, fmt.Errorf("MAX_ENROLLMENT_FRAMES (%d) must not be below MIN_ENROLLMENT_FRAMES (%d)",
			c.MaxEnrollmentFrames, c.MinEnrollmentFrames))
	}
	if c.ExtractorTimeout <= 0 {
		errs = append(errs, fmt.Errorf("EXTRACTOR_TIMEOUT must be positive, got %s", c.ExtractorTimeout))
	}
	if c.ExtractorRetries < 0 {
		errs = append(errs, fmt.Errorf("EXTRACTOR_RETRIES must not be negative, got %d", c.ExtractorRetries))
	}
	if c.ExtractorConcurrency < 1 {
		errs = append(errs, fmt.Errorf("EXTRACTOR_CONCURRENCY must be at least 1, got %d", c.ExtractorConcurrency))
	}
	if c.CheckCooldown < 0 {
		errs = append(errs, fmt.Errorf("CHECK_COOLDOWN must not be negative, got %s", c.CheckCooldown))
	}
	switch c.CooldownBackend {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("COOLDOWN_BACKEND must be memory or postgres, got %q", c.CooldownBackend))
	}
	if c.LedgerRetries < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_RETRIES must not be negative, got %d", c.LedgerRetries))
	}
	if _, err := time.LoadLocation(c.AttendanceTimezone); err != nil {
		errs = append(errs, fmt.Errorf("ATTENDANCE_TIMEZONE: %w", err))
	}
	if c.RateLimitMax < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MAX must not be negative, got %d", c.RateLimitMax))
	}
	if c.RateLimitMax > 0 && c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow))
	}

	switch c.RateLimitBackend {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or postgres, got %q", c.RateLimitBackend))
	}

	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("WEBHOOK_URL must be an absolute http(s) URL, got %q", c.WebhookURL))
		}
		if c.WebhookMaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1, got %d", c.WebhookMaxAttempts))
		}
	}

	return errors.Join(errs...)
}

// Location resolves ATTENDANCE_TIMEZONE, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.AttendanceTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
