package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
)

// IdentityService is the enrollment side of the attendance service
type IdentityService interface {
	Register(ctx context.Context, input service.RegisterInput) (*domain.Identity, error)
	ListIdentities(ctx context.Context) ([]domain.IdentitySummary, error)
}

// IdentityHandler handles enrollment requests
type IdentityHandler struct {
	service IdentityService
	logger  *slog.Logger
}

func NewIdentityHandler(service IdentityService, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRequest body for POST /v1/identities
type RegisterRequest struct {
	IdentityKey string   `json:"identity_key"`
	DisplayName string   `json:"display_name"`
	Frames      []string `json:"frames"`
}

// RegisterResponse response for POST /v1/identities
type RegisterResponse struct {
	IdentityKey string    `json:"identity_key"`
	DisplayName string    `json:"display_name"`
	SampleCount int       `json:"sample_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Register POST /v1/identities - enroll a new identity
func (h *IdentityHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}
	if len(req.Frames) == 0 {
		return domain.ErrValidationFailed.WithError(errors.New("frames is required"))
	}

	// undecodable frames are kept as empty entries so the service counts
	// them as discarded
	frames := make([][]byte, len(req.Frames))
	skipped := 0
	for i, encoded := range req.Frames {
		data, err := decodeFrame(encoded)
		if err != nil {
			skipped++
			continue
		}
		frames[i] = data
	}
	if skipped > 0 {
		h.logger.Debug("skipped undecodable enrollment frames",
			slog.String("identity_key", req.IdentityKey),
			slog.Int("skipped", skipped),
		)
	}

	identity, err := h.service.Register(c.UserContext(), service.RegisterInput{
		IdentityKey: req.IdentityKey,
		DisplayName: req.DisplayName,
		Frames:      frames,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(RegisterResponse{
		IdentityKey: identity.IdentityKey,
		DisplayName: identity.DisplayName,
		SampleCount: identity.SampleCount,
		CreatedAt:   identity.CreatedAt,
	})
}

// List GET /v1/identities - list enrolled identities
func (h *IdentityHandler) List(c *fiber.Ctx) error {
	identities, err := h.service.ListIdentities(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(identities)
}
