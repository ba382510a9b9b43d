package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/querygate/gateway/internal/apperrors"
)

// Envelope is the wire shape for every JSON response, success or failure.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ok writes a {success:true, data:...} envelope.
func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Data: data})
}

// WithError maps a domain error to an HTTP status and writes the
// {success:false, error:...} envelope, mirroring the teacher's type-switch
// error dispatcher.
func WithError(c *fiber.Ctx, err error) error {
	var ge *apperrors.GatewayError
	if !errors.As(err, &ge) {
		return c.Status(fiber.StatusInternalServerError).JSON(Envelope{
			Success: false,
			Error:   "internal server error",
		})
	}

	status := statusFor(ge.Kind)

	return c.Status(status).JSON(Envelope{Success: false, Error: ge.Error()})
}

func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindClientInput:
		return fiber.StatusBadRequest
	case apperrors.KindValidation:
		return fiber.StatusBadRequest
	case apperrors.KindExecution:
		return fiber.StatusBadRequest
	case apperrors.KindAuthN:
		return fiber.StatusUnauthorized
	case apperrors.KindForbidden:
		return fiber.StatusForbidden
	case apperrors.KindNotFound:
		return fiber.StatusNotFound
	case apperrors.KindRate:
		return fiber.StatusTooManyRequests
	case apperrors.KindUnavailable:
		return fiber.StatusServiceUnavailable
	case apperrors.KindServer:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}
