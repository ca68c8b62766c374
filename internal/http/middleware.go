package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/auth"
)

const principalKey = "principal"

type authMode int

const (
	// pageMode sends unauthenticated browsers to the login page.
	pageMode authMode = iota
	// apiMode answers 401.
	apiMode
)

// LoginPath is where pages redirect when no valid session is present.
const LoginPath = "/login"

func accessLog(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		chainErr := c.Next()
		if chainErr != nil {
			// Resolve the status now so the line below reports it.
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		status := c.Response().StatusCode()

		ev := log.Info()
		if status >= fiber.StatusInternalServerError {
			ev = log.Error()
		} else if status >= fiber.StatusBadRequest {
			ev = log.Warn()
		}
		ev.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.IP()).
			Str("request_id", requestID(c)).
			Msg("request")
		return nil
	}
}

// requirePrincipal resolves the caller from a Bearer token or the session
// cookie and stores it in the request locals.
func requirePrincipal(v *auth.Verifier, cookie string, mode authMode) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if v == nil {
			c.Locals(principalKey, auth.Anonymous)
			return c.Next()
		}
		p, err := v.Verify(sessionToken(c, cookie))
		if err != nil {
			if mode == pageMode {
				return c.Redirect(LoginPath, fiber.StatusFound)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(errorBody{Message: "Authentication required"})
		}
		c.Locals(principalKey, p)
		return c.Next()
	}
}

func sessionToken(c *fiber.Ctx, cookie string) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie == "" {
		return ""
	}
	return c.Cookies(cookie)
}

func principal(c *fiber.Ctx) auth.Principal {
	if p, ok := c.Locals(principalKey).(auth.Principal); ok {
		return p
	}
	return auth.Anonymous
}
