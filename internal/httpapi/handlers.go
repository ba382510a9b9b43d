package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/querygate/gateway/internal/adapter"
	"github.com/querygate/gateway/internal/apperrors"
	"github.com/querygate/gateway/internal/export"
	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/sanitize"
	"github.com/querygate/gateway/internal/session"
)

// sessionFromRequest resolves the session named by the request: the
// sessionId body field for POST, the sessionId query parameter for GET.
// Used both by the signature middleware (to find the signing key) and by
// handlers (to find the adapter).
func (s *Server) sessionFromRequest(c *fiber.Ctx) (*session.Session, error) {
	var id string

	if c.Method() == fiber.MethodGet {
		id = c.Query("sessionId")
	} else {
		var body sessionIDRequest
		if err := c.BodyParser(&body); err != nil {
			return nil, apperrors.Wrap(apperrors.KindClientInput, "malformed request body", err)
		}

		id = body.SessionID
	}

	if id == "" {
		return nil, apperrors.New(apperrors.KindClientInput, "sessionId is required")
	}

	sess := s.Sessions.GetSession(id)
	if sess == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "session not found")
	}

	return sess, nil
}

// handleConnectionTest briefly connects to report the server version
// without creating a session.
func (s *Server) handleConnectionTest(c *fiber.Ctx) error {
	var req connectionTestRequest
	if err := decodeAndValidate(c, &req); err != nil {
		return WithError(c, err)
	}

	ad, err := newProbeAdapter(adapter.Kind(req.Kind), s.Logger)
	if err != nil {
		return WithError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	if err := ad.Connect(ctx, req.ConnectionURL); err != nil {
		return WithError(c, apperrors.Wrap(apperrors.KindClientInput, "connection failed", err))
	}
	defer ad.Disconnect(ctx) //nolint:errcheck

	version, err := ad.GetServerVersion(ctx)
	if err != nil {
		return WithError(c, apperrors.Wrap(apperrors.KindExecution, "failed to read server version", err))
	}

	return ok(c, fiber.StatusOK, fiber.Map{"serverVersion": version})
}

func newProbeAdapter(kind adapter.Kind, logger mlog.Logger) (adapter.Adapter, error) {
	switch kind {
	case adapter.KindPostgreSQL:
		return adapter.NewPostgresAdapter(logger, false, false, 1000), nil
	case adapter.KindMySQL:
		return adapter.NewMySQLAdapter(logger, false, false, 1000), nil
	case adapter.KindMongoDB:
		return adapter.NewMongoAdapter(logger, false, false, 1000, 100, 30*time.Second), nil
	default:
		return nil, apperrors.Newf(apperrors.KindClientInput, "unsupported database kind %q", kind)
	}
}

func (s *Server) handleConnectionConnect(c *fiber.Ctx) error {
	var req connectionConnectRequest
	if err := decodeAndValidate(c, &req); err != nil {
		return WithError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
	defer cancel()

	result, err := s.Sessions.CreateSession(ctx, session.CreateParams{
		Kind:                adapter.Kind(req.Kind),
		ConnectionURL:       req.ConnectionURL,
		UserID:              req.UserID,
		IsIsolated:          req.IsIsolated,
		IsDefaultConnection: req.UseDefaultDatabase,
	})
	if err != nil {
		return WithError(c, err)
	}

	return ok(c, fiber.StatusOK, fiber.Map{
		"sessionId":     result.SessionID,
		"serverVersion": result.ServerVersion,
		"signingKey":    result.SigningKey,
		"userDatabase":  result.UserDatabase,
	})
}

func (s *Server) handleConnectionDisconnect(c *fiber.Ctx) error {
	var req sessionIDRequest
	if err := decodeAndValidate(c, &req); err != nil {
		return WithError(c, err)
	}

	if err := s.Sessions.CloseSession(c.Context(), req.SessionID); err != nil {
		s.Logger.Warnf("disconnect: %v", err)
	}

	return ok(c, fiber.StatusOK, fiber.Map{"closed": true})
}

func (s *Server) handleConnectionKeepalive(c *fiber.Ctx) error {
	var req keepaliveRequest
	if err := decodeAndValidate(c, &req); err != nil {
		return WithError(c, err)
	}

	sess := s.Sessions.GetSession(req.SessionID)
	if sess == nil {
		return WithError(c, apperrors.New(apperrors.KindNotFound, "session not found"))
	}

	return ok(c, fiber.StatusOK, fiber.Map{"alive": true})
}

func (s *Server) handleSessionExtend(c *fiber.Ctx) error {
	if s.Config.AppExtendCode == "" {
		return WithError(c, apperrors.New(apperrors.KindNotFound, "session-extend is not configured"))
	}

	if !ConstantTimeTokenEquals(c.Get("x-request-code"), s.Config.AppExtendCode) {
		return WithError(c, apperrors.New(apperrors.KindForbidden, "invalid request code"))
	}

	var req sessionIDRequest
	if err := decodeAndValidate(c, &req); err != nil {
		return WithError(c, err)
	}

	if err := s.Sessions.SetAllowDestructive(req.SessionID, true); err != nil {
		return WithError(c, err)
	}

	return ok(c, fiber.StatusOK, fiber.Map{"allowDestructive": true})
}

func (s *Server) handleQueryExecute(c *fiber.Ctx) error {
	var req queryExecuteRequest
	if err := decodeAndValidate(c, &req); err != nil {
		return WithError(c, err)
	}

	sess := s.Sessions.GetSession(req.SessionID)
	if sess == nil {
		return WithError(c, apperrors.New(apperrors.KindNotFound, "session not found"))
	}

	limits := sanitize.Limits{MaxLength: s.Config.MaxQueryLength, MaxDepth: s.Config.MaxNestedDepth}
	if err := sanitize.Validate(req.Query, sess.Kind, sess.IsDefaultConnection, limits); err != nil {
		return WithError(c, err)
	}

	database := req.Database
	if database == "" {
		database = sess.UserDatabase
	}

	if sess.IsIsolated {
		if err := checkIsolatedScope(sess, req.Query, database); err != nil {
			return WithError(c, err)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.queryTimeout())
	defer cancel()

	result, err := sess.Adapter.ExecuteQuery(ctx, req.Query, database, adapter.QueryOptions{
		Limit:            req.Limit,
		Offset:           req.Offset,
		Explain:          req.Explain,
		UserID:           sess.UserID,
		IsIsolated:       sess.IsIsolated,
		UserDatabase:     sess.UserDatabase,
		AllowDestructive: sess.AllowDestructive,
	})
	if err != nil {
		return WithError(c, err)
	}

	return ok(c, fiber.StatusOK, result)
}

func (s *Server) handleQueryExport(c *fiber.Ctx) error {
	var req queryExportRequest
	if err := decodeAndValidate(c, &req); err != nil {
		return WithError(c, err)
	}

	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return WithError(c, err)
	}

	sess := s.Sessions.GetSession(req.SessionID)
	if sess == nil {
		return WithError(c, apperrors.New(apperrors.KindNotFound, "session not found"))
	}

	limits := sanitize.Limits{MaxLength: s.Config.MaxQueryLength, MaxDepth: s.Config.MaxNestedDepth}
	if err := sanitize.Validate(req.Query, sess.Kind, sess.IsDefaultConnection, limits); err != nil {
		return WithError(c, err)
	}

	database := req.Database
	if database == "" {
		database = sess.UserDatabase
	}

	if sess.IsIsolated {
		if err := checkIsolatedScope(sess, req.Query, database); err != nil {
			return WithError(c, err)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.queryTimeout())
	defer cancel()

	result, err := sess.Adapter.ExecuteQuery(ctx, req.Query, database, adapter.QueryOptions{
		UserID:           sess.UserID,
		IsIsolated:       sess.IsIsolated,
		UserDatabase:     sess.UserDatabase,
		AllowDestructive: sess.AllowDestructive,
		NoDefaultLimit:   true,
	})
	if err != nil {
		return WithError(c, err)
	}

	contentType := "text/csv"
	filename := "export.csv"

	if format == export.FormatJSON {
		contentType = "application/json"
		filename = "export.json"
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)

	return export.Write(c.Response().BodyWriter(), result, format)
}

func checkIsolatedScope(sess *session.Session, query, selectedDatabase string) error {
	var referenced []string

	switch sess.Kind {
	case adapter.KindMongoDB:
	default:
		referenced = sanitize.ExtractSQLDatabaseReferences(query)
	}

	return sanitize.CheckIsolatedDatabaseScope(referenced, sess.UserDatabase, selectedDatabase)
}

func (s *Server) handleTransaction(c *fiber.Ctx) error {
	var req transactionRequest
	if err := decodeAndValidate(c, &req); err != nil {
		return WithError(c, err)
	}

	sess := s.Sessions.GetSession(req.SessionID)
	if sess == nil {
		return WithError(c, apperrors.New(apperrors.KindNotFound, "session not found"))
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.queryTimeout())
	defer cancel()

	var err error

	switch req.Action {
	case "begin":
		err = sess.Adapter.BeginTransaction(ctx)
	case "commit":
		err = sess.Adapter.CommitTransaction(ctx)
	case "rollback":
		err = sess.Adapter.RollbackTransaction(ctx)
	}

	if err != nil {
		return WithError(c, err)
	}

	return ok(c, fiber.StatusOK, fiber.Map{"action": req.Action, "active": sess.Adapter.IsTransactionActive()})
}

func (s *Server) handleSchemaDatabases(c *fiber.Ctx) error {
	sess, err := s.sessionFromRequest(c)
	if err != nil {
		return WithError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.queryTimeout())
	defer cancel()

	databases, err := sess.Adapter.GetDatabases(ctx)
	if err != nil {
		return WithError(c, err)
	}

	return ok(c, fiber.StatusOK, fiber.Map{"databases": databases})
}

func (s *Server) handleSchemaTables(c *fiber.Ctx) error {
	sess, err := s.sessionFromRequest(c)
	if err != nil {
		return WithError(c, err)
	}

	database := c.Query("database")
	if database == "" {
		database = sess.UserDatabase
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.queryTimeout())
	defer cancel()

	tables, err := sess.Adapter.GetTables(ctx, database)
	if err != nil {
		return WithError(c, err)
	}

	return ok(c, fiber.StatusOK, fiber.Map{"tables": tables})
}

func (s *Server) handleSchemaColumns(c *fiber.Ctx) error {
	sess, err := s.sessionFromRequest(c)
	if err != nil {
		return WithError(c, err)
	}

	database := c.Query("database")
	if database == "" {
		database = sess.UserDatabase
	}

	table := c.Query("table")
	if table == "" {
		return WithError(c, apperrors.New(apperrors.KindClientInput, "table is required"))
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.queryTimeout())
	defer cancel()

	columns, err := sess.Adapter.GetColumns(ctx, database, table)
	if err != nil {
		return WithError(c, err)
	}

	return ok(c, fiber.StatusOK, fiber.Map{"columns": columns})
}

func (s *Server) handleConfigDatabases(c *fiber.Ctx) error {
	type entry struct {
		Kind        adapter.Kind `json:"kind"`
		DisplayName string       `json:"displayName"`
	}

	out := make([]entry, 0, len(s.Config.Defaults))
	for _, d := range s.Config.Defaults {
		out = append(out, entry{Kind: d.Kind, DisplayName: d.DisplayName})
	}

	return ok(c, fiber.StatusOK, fiber.Map{"databases": out})
}

func (s *Server) handleAdminCleanup(c *fiber.Ctx) error {
	if s.Config.AdminCleanupToken == "" {
		return WithError(c, apperrors.New(apperrors.KindUnavailable, "admin cleanup is not configured"))
	}

	if !ConstantTimeTokenEquals(c.Get("x-admin-token"), s.Config.AdminCleanupToken) {
		return WithError(c, apperrors.New(apperrors.KindForbidden, "invalid admin token"))
	}

	s.Scheduler.RunCleanup(c.Context())

	return ok(c, fiber.StatusOK, fiber.Map{"triggered": true})
}

func (s *Server) queryTimeout() time.Duration {
	if s.Sessions.QueryTimeout > 0 {
		return s.Sessions.QueryTimeout
	}

	return adapter.DefaultQueryTimeout
}
