package httpapi

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"

	"github.com/querygate/gateway/internal/apperrors"
	"github.com/querygate/gateway/internal/config"
	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/signing"
)

const headerCorrelationID = "X-Correlation-ID"

var timeNow = time.Now

// WithCORS enables permissive cross-origin access for the browser clients
// this gateway mediates for. Credentials are allowed only when the allowed
// origins are not the wildcard.
func WithCORS() fiber.Handler {
	origins := config.GetenvOrDefault("ACCESS_CONTROL_ALLOW_ORIGIN", "*")

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     config.GetenvOrDefault("ACCESS_CONTROL_ALLOW_METHODS", "POST, GET, OPTIONS"),
		AllowHeaders:     config.GetenvOrDefault("ACCESS_CONTROL_ALLOW_HEADERS", "Accept, Content-Type, x-timestamp, x-signature, x-request-code, x-admin-token"),
		AllowCredentials: origins != "*",
	})
}

// WithCorrelationID stamps every request/response pair with a correlation
// ID for cross-log tracing.
func WithCorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cid := c.Get(headerCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}

		c.Set(headerCorrelationID, cid)
		c.Request().Header.Add(headerCorrelationID, cid)

		return c.Next()
	}
}

// WithSecurityHeaders enforces the server-side security posture carried
// outside the core contract (section 6.1): CSP, HSTS, frame-ancestors,
// referrer policy.
func WithSecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Content-Security-Policy", "default-src 'none'")
		c.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "no-referrer")

		return c.Next()
	}
}

// RequestSignature returns middleware enforcing the x-timestamp/x-signature
// contract (section 4.7) against body for POST or the query-string map for
// GET.
func RequestSignature(signingKeyFor func(c *fiber.Ctx) (string, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		signingKey, err := signingKeyFor(c)
		if err != nil {
			return WithError(c, err)
		}

		payload := signaturePayload(c)

		timestamp := c.Get("x-timestamp")
		signature := c.Get("x-signature")

		if err := signing.Verify(signingKey, timestamp, signature, payload, timeNow()); err != nil {
			return WithError(c, apperrors.Wrap(apperrors.KindAuthN, "signature verification failed", err))
		}

		return c.Next()
	}
}

func signaturePayload(c *fiber.Ctx) any {
	if c.Method() == fiber.MethodGet {
		params := map[string]any{}

		c.Context().QueryArgs().VisitAll(func(key, value []byte) {
			params[string(key)] = string(value)
		})

		return params
	}

	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		return map[string]any{}
	}

	return payload
}

// ConstantTimeTokenEquals compares a submitted token against expected in
// constant time, used by the admin-cleanup and session-extend guards.
func ConstantTimeTokenEquals(submitted, expected string) bool {
	if expected == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(submitted), []byte(expected)) == 1
}

// WithAccessLog logs one line per request at info level: method, path,
// status, duration, client IP, correlation ID.
func WithAccessLog(logger mlog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := timeNow()

		err := c.Next()

		logger.Infof("%s %s -> %d (%s) ip=%s correlationId=%s",
			c.Method(), c.Path(), c.Response().StatusCode(), timeNow().Sub(start),
			clientIPHeader(c), c.Get(headerCorrelationID))

		return err
	}
}

// clientIPHeader mirrors the rate limiter's precedence for diagnostic
// logging: x-forwarded-for first, x-real-ip second.
func clientIPHeader(c *fiber.Ctx) string {
	if fwd := c.Get("x-forwarded-for"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}

		return strings.TrimSpace(fwd)
	}

	if real := c.Get("x-real-ip"); real != "" {
		return real
	}

	return c.IP()
}
