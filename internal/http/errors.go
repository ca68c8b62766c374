package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/service"
)

type errorBody struct {
	Message string              `json:"message"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

// fail maps a service error to a response. Validation failures are 400
// with the offending fields. Anything else is logged and answered with
// the generic route message so store details never reach the client.
func (h *Handler) fail(c *fiber.Ctx, err error, message string) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Message: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, service.ErrExportDisabled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody{Message: "Readings export is not configured"})
	}
	h.log.Error().Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Str("request_id", requestID(c)).
		Msg(message)
	return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Message: message})
}

// errorHandler answers errors that escape a handler, including fiber's own
// routing errors and recovered panics.
func errorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			log.Error().Err(err).Str("path", c.Path()).Str("request_id", requestID(c)).Msg("unhandled error")
		}
		return c.Status(code).JSON(errorBody{Message: message})
	}
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
