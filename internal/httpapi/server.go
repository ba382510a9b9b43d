// Package httpapi wires the gateway's HTTP surface (section 6.1 of the
// gateway specification): connection lifecycle, query execution and
// export, schema introspection, and the admin cleanup trigger.
package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/querygate/gateway/internal/config"
	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/ratelimit"
	"github.com/querygate/gateway/internal/scheduler"
	"github.com/querygate/gateway/internal/session"
)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	Config            *config.Config
	Logger            mlog.Logger
	Sessions          *session.Manager
	Scheduler         *scheduler.Scheduler
	QueryLimiter      *ratelimit.Limiter
	ConnectionLimiter *ratelimit.Limiter
}

// NewApp builds the fiber app with every middleware and route registered.
func NewApp(s *Server) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          fiberErrorHandler,
	})

	app.Use(WithCorrelationID())
	app.Use(WithSecurityHeaders())
	app.Use(WithCORS())
	app.Use(WithAccessLog(s.Logger))

	s.registerRoutes(app)

	return app
}

func fiberErrorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(Envelope{Success: false, Error: fe.Message})
	}

	return WithError(c, err)
}

func (s *Server) registerRoutes(app *fiber.App) {
	conn := app.Group("/connections")
	conn.Post("/test", s.ConnectionLimiter.Middleware(), s.handleConnectionTest)
	conn.Post("/connect", s.ConnectionLimiter.Middleware(), s.handleConnectionConnect)
	conn.Post("/disconnect", s.signed(), s.handleConnectionDisconnect)
	conn.Post("/keepalive", s.signed(), s.handleConnectionKeepalive)
	conn.Post("/session-extend", s.signed(), s.handleSessionExtend)

	q := app.Group("/query")
	q.Post("/execute", s.QueryLimiter.Middleware(), s.signed(), s.handleQueryExecute)
	q.Post("/export", s.QueryLimiter.Middleware(), s.signed(), s.handleQueryExport)

	app.Post("/transaction", s.signed(), s.handleTransaction)

	schema := app.Group("/schema")
	schema.Get("/databases", s.signed(), s.handleSchemaDatabases)
	schema.Get("/tables", s.signed(), s.handleSchemaTables)
	schema.Get("/columns", s.signed(), s.handleSchemaColumns)

	app.Get("/config/databases", s.handleConfigDatabases)

	app.Post("/admin/cleanup", s.handleAdminCleanup)
}

// signed wires RequestSignature against the session named by the request's
// sessionId (body field for POST, query param for GET).
func (s *Server) signed() fiber.Handler {
	return RequestSignature(func(c *fiber.Ctx) (string, error) {
		sess, err := s.sessionFromRequest(c)
		if err != nil {
			return "", err
		}

		return sess.SigningKey, nil
	})
}
