package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// RegisterIdentityRequest is the enrollment payload
type RegisterIdentityRequest struct {
	IdentityKey string   `json:"identity_key" example:"emp-0042"`
	DisplayName string   `json:"display_name" example:"Ana Souza"`
	Frames      []string `json:"frames" example:"data:image/jpeg;base64,/9j/4AAQ..."`
}

// RegisterIdentityResponse represents a successful enrollment
type RegisterIdentityResponse struct {
	IdentityKey string `json:"identity_key" example:"emp-0042"`
	DisplayName string `json:"display_name" example:"Ana Souza"`
	SampleCount int    `json:"sample_count" example:"5"`
	CreatedAt   string `json:"created_at" example:"2024-03-01T09:00:00Z"`
}

// IdentitySummary is one entry of the identity listing
type IdentitySummary struct {
	IdentityKey string `json:"identity_key" example:"emp-0042"`
	DisplayName string `json:"display_name" example:"Ana Souza"`
	CreatedAt   string `json:"created_at" example:"2024-03-01T09:00:00Z"`
}

// CheckRequest carries one live frame
type CheckRequest struct {
	Frame string `json:"frame" example:"data:image/jpeg;base64,/9j/4AAQ..."`
}

// CheckResponse represents a recorded attendance transition
type CheckResponse struct {
	IdentityKey string  `json:"identity_key" example:"emp-0042"`
	DisplayName string  `json:"display_name" example:"Ana Souza"`
	Status      string  `json:"status" example:"checked in"`
	Kind        string  `json:"kind" example:"CHECK_IN"`
	Score       float64 `json:"score" example:"0.87"`
	Timestamp   string  `json:"timestamp" example:"2024-03-01T09:00:00Z"`
	Repeated    bool    `json:"repeated" example:"false"`
	Message     string  `json:"message" example:"Ana Souza checked in"`
}

// AttendanceEntry is one row of the attendance log
type AttendanceEntry struct {
	IdentityKey string `json:"identity_key" example:"emp-0042"`
	DisplayName string `json:"display_name" example:"Ana Souza"`
	Kind        string `json:"kind" example:"CHECK_OUT"`
	Status      string `json:"status" example:"checked out"`
	Timestamp   string `json:"timestamp" example:"2024-03-01T17:30:00Z"`
}

// HealthResponse is returned by the probes
type HealthResponse struct {
	Status      string `json:"status" example:"ready"`
	Version     string `json:"version,omitempty" example:"0.1.0"`
	Identities  int    `json:"identities,omitempty" example:"120"`
	FeedClients int    `json:"feed_clients,omitempty" example:"2"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code      string `json:"code" example:"VALIDATION_FAILED"`
	Message   string `json:"message" example:"Request validation failed"`
	Retryable bool   `json:"retryable,omitempty" example:"false"`
}

var (
	errValidation   = response.New(ErrorResponse{Code: "VALIDATION_FAILED", Message: "Request validation failed"}, "422", "Unprocessable Entity")
	errRateLimit    = response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Rate limit exceeded, please try again later", Retryable: true}, "429", "Too Many Requests")
	errInternal     = response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
	errUnavailable  = response.New(ErrorResponse{Code: "EXTRACTOR_UNAVAILABLE", Message: "Face extractor is unavailable", Retryable: true}, "503", "Service Unavailable")
	errExtractorDue = response.New(ErrorResponse{Code: "EXTRACTOR_TIMEOUT", Message: "Face extractor did not respond in time", Retryable: true}, "504", "Gateway Timeout")
)

// NewSwagger creates and configures the Swagger documentation
func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Presenca Attendance API",
		Version:     "v1.0.0",
		Description: "Face-recognition enrollment and daily check-in/check-out attendance",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		// POST /v1/identities - Enroll identity
		endpoint.New(
			endpoint.POST,
			"/identities",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("Enroll a new identity"),
			endpoint.WithDescription("Aggregates the embeddings of several frames of one person into a single identity. Frames without exactly one face are discarded; at least MIN_ENROLLMENT_FRAMES must remain."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithBody(RegisterIdentityRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(RegisterIdentityResponse{}, "201", "Identity enrolled"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "IDENTITY_ALREADY_EXISTS", Message: "Identity already registered for this identity_key"}, "409", "Conflict"),
				response.New(ErrorResponse{Code: "INSUFFICIENT_SAMPLES", Message: "Not enough frames with exactly one face to enroll identity"}, "422", "Unprocessable Entity"),
				errValidation,
				errRateLimit,
				errInternal,
				errUnavailable,
				errExtractorDue,
			}),
		),

		// GET /v1/identities - List identities
		endpoint.New(
			endpoint.GET,
			"/identities",
			endpoint.WithTags("Identities"),
			endpoint.WithSummary("List enrolled identities"),
			endpoint.WithDescription("Returns every enrolled identity ordered by identity_key"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New([]IdentitySummary{}, "200", "Identities"),
			}),
			endpoint.WithErrors([]response.Response{errRateLimit, errInternal}),
		),

		// POST /v1/attendance/check - Recognize and record
		endpoint.New(
			endpoint.POST,
			"/attendance/check",
			endpoint.WithTags("Attendance"),
			endpoint.WithSummary("Recognize a face and record attendance"),
			endpoint.WithDescription("Matches the single face in the frame against enrolled identities. The first recognition of the day checks the identity in, the second checks it out. A repeat within CHECK_COOLDOWN returns the previous result with repeated=true."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithBody(CheckRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(CheckResponse{}, "200", "Attendance recorded"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "NO_MATCH", Message: "Face not recognized"}, "404", "Not Found"),
				response.New(ErrorResponse{Code: "ALREADY_CHECKED_OUT", Message: "Already checked out today"}, "409", "Conflict"),
				response.New(ErrorResponse{Code: "NO_FACE_DETECTED", Message: "No face detected in the image", Retryable: true}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "AMBIGUOUS_FACE", Message: "Multiple faces detected, please provide image with single face", Retryable: true}, "422", "Unprocessable Entity"),
				errValidation,
				errRateLimit,
				errInternal,
				errUnavailable,
				errExtractorDue,
			}),
		),

		// GET /v1/attendance - Attendance log
		endpoint.New(
			endpoint.GET,
			"/attendance",
			endpoint.WithTags("Attendance"),
			endpoint.WithSummary("List attendance events"),
			endpoint.WithDescription("Returns attendance events newest first"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("date", parameter.Query, parameter.WithDescription("Calendar day (YYYY-MM-DD) in ATTENDANCE_TIMEZONE")),
				parameter.IntParam("limit", parameter.Query, parameter.WithDescription("Maximum number of events (1-1000, default: 100)")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New([]AttendanceEntry{}, "200", "Attendance events"),
			}),
			endpoint.WithErrors([]response.Response{errValidation, errRateLimit, errInternal}),
		),

		// GET /v1/attendance/stream - Live feed
		endpoint.New(
			endpoint.GET,
			"/attendance/stream",
			endpoint.WithTags("Attendance"),
			endpoint.WithSummary("Live attendance feed (WebSocket)"),
			endpoint.WithDescription("Upgrades to a WebSocket that receives attendance.recorded and identity.enrolled events"),
			endpoint.WithParams(
				parameter.StrParam("events", parameter.Query, parameter.WithDescription("Comma separated event types to receive (default: all)")),
			),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "HTTP_ERROR", Message: "Upgrade Required"}, "426", "Upgrade Required"),
			}),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
