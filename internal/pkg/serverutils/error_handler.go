package serverutils

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"image-labeler-be/pkg/feedback"
	"image-labeler-be/pkg/imageio"
	"image-labeler-be/pkg/labels"
	"image-labeler-be/pkg/oracle"
	"image-labeler-be/pkg/store"
)

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, labels.ErrEmptyLabelSet),
		errors.Is(err, labels.ErrEmptyLabel),
		errors.Is(err, oracle.ErrEmptyLabelSet),
		errors.Is(err, labels.ErrUnknownPreset),
		errors.Is(err, feedback.ErrInvalidDirection):
		return fiber.StatusBadRequest
	case errors.Is(err, imageio.ErrUnsupportedFormat):
		return fiber.StatusUnsupportedMediaType
	case errors.Is(err, imageio.ErrImageDecode),
		errors.Is(err, imageio.ErrImageTooLarge):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, store.ErrSessionBusy):
		return fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, oracle.ErrOracleUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, oracle.ErrOracleFailure):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware recovers panics and renders returned errors with
// the standard error envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = ctx.Status(fiber.StatusInternalServerError).
					JSON(ErrorResponse(fiber.StatusInternalServerError, fmt.Sprintf("internal error: %v", r)))
			}
		}()

		if err := ctx.Next(); err != nil {
			code := StatusFor(err)
			return ctx.Status(code).JSON(ErrorResponse(code, err.Error()))
		}
		return nil
	}
}
