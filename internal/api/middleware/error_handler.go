package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/presenca/internal/domain"
)

// ErrorBody is the payload of every error response
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(errorResponse{Error: ErrorBody{
				Code:    "HTTP_ERROR",
				Message: fiberErr.Message,
			}})
		}

		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			if appErr.StatusCode >= 500 {
				logger.Error("request failed",
					slog.String("code", appErr.Code),
					slog.String("path", c.Path()),
					slog.Any("error", err),
				)
			}

			return c.Status(appErr.StatusCode).JSON(errorResponse{Error: ErrorBody{
				Code:      appErr.Code,
				Message:   appErr.Message,
				Retryable: appErr.Retryable,
			}})
		}

		// the caller went away or the server is shutting down
		if errors.Is(err, context.Canceled) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: ErrorBody{
				Code:      "CANCELED",
				Message:   "Request canceled",
				Retryable: true,
			}})
		}

		logger.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Path()),
		)

		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: ErrorBody{
			Code:    domain.ErrInternal.Code,
			Message: domain.ErrInternal.Message,
		}})
	}
}
