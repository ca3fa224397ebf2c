package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
)

const (
	defaultAttendanceLimit = 100
	maxAttendanceLimit     = 1000
	dateLayout             = "2006-01-02"
)

// AttendanceService is the recognition side of the attendance service
type AttendanceService interface {
	Check(ctx context.Context, image []byte) (*domain.CheckResult, error)
	ListAttendance(ctx context.Context, day *time.Time, limit int) ([]service.AttendanceEntry, error)
}

// AttendanceHandler handles recognition checks and the attendance log
type AttendanceHandler struct {
	service AttendanceService
	logger  *slog.Logger
}

func NewAttendanceHandler(service AttendanceService, logger *slog.Logger) *AttendanceHandler {
	return &AttendanceHandler{
		service: service,
		logger:  logger,
	}
}

// CheckRequest body for POST /v1/attendance/check
type CheckRequest struct {
	Frame string `json:"frame"`
}

// CheckResponse response for POST /v1/attendance/check
type CheckResponse struct {
	IdentityKey string           `json:"identity_key"`
	DisplayName string           `json:"display_name"`
	Status      string           `json:"status"`
	Kind        domain.EventKind `json:"kind"`
	Score       float64          `json:"score"`
	Timestamp   time.Time        `json:"timestamp"`
	Repeated    bool             `json:"repeated"`
	Message     string           `json:"message"`
}

// Check POST /v1/attendance/check - recognize a face and record attendance
func (h *AttendanceHandler) Check(c *fiber.Ctx) error {
	var req CheckRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}
	if req.Frame == "" {
		return domain.ErrValidationFailed.WithError(errors.New("frame is required"))
	}

	image, err := decodeFrame(req.Frame)
	if err != nil {
		return err
	}

	result, err := h.service.Check(c.UserContext(), image)
	if err != nil {
		return err
	}

	return c.JSON(CheckResponse{
		IdentityKey: result.IdentityKey,
		DisplayName: result.DisplayName,
		Status:      result.Kind.Status(),
		Kind:        result.Kind,
		Score:       result.Score,
		Timestamp:   result.Timestamp,
		Repeated:    result.Repeated,
		Message:     checkMessage(result),
	})
}

func checkMessage(result *domain.CheckResult) string {
	if result.Repeated {
		return fmt.Sprintf("%s already %s", result.DisplayName, result.Kind.Status())
	}
	return fmt.Sprintf("%s %s", result.DisplayName, result.Kind.Status())
}

// List GET /v1/attendance?date=YYYY-MM-DD&limit=N - attendance log, newest first
func (h *AttendanceHandler) List(c *fiber.Ctx) error {
	var day *time.Time
	if raw := c.Query("date"); raw != "" {
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return domain.ErrValidationFailed.WithError(fmt.Errorf("date must be YYYY-MM-DD: %w", err))
		}
		day = &d
	}

	limit := defaultAttendanceLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAttendanceLimit {
			return domain.ErrValidationFailed.WithError(
				fmt.Errorf("limit must be between 1 and %d", maxAttendanceLimit))
		}
		limit = n
	}

	entries, err := h.service.ListAttendance(c.UserContext(), day, limit)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}
