package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/gateway/internal/config"
	"github.com/querygate/gateway/internal/httpapi"
	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/ratelimit"
	"github.com/querygate/gateway/internal/scheduler"
	"github.com/querygate/gateway/internal/session"
)

func newTestServer(t *testing.T) *httpapi.Server {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		MaxQueryLength:    100000,
		MaxNestedDepth:    10,
		AppExtendCode:     "let-me-in",
		AdminCleanupToken: "admin-secret",
	}

	logger := &mlog.NoneLogger{}

	return &httpapi.Server{
		Config:    cfg,
		Logger:    logger,
		Sessions:  session.NewManager(logger, 30*time.Minute, 1000, 100, 30*time.Second),
		Scheduler: scheduler.New(logger, nil),
		QueryLimiter: &ratelimit.Limiter{
			RedisClient: client, Max: 100, Window: time.Minute, Prefix: "test:query", Logger: logger,
		},
		ConnectionLimiter: &ratelimit.Limiter{
			RedisClient: client, Max: 20, Window: time.Minute, Prefix: "test:conn", Logger: logger,
		},
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer

	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	return resp
}

func TestConfigDatabasesIsUnsigned(t *testing.T) {
	t.Parallel()

	app := httpapi.NewApp(newTestServer(t))

	resp := doJSON(t, app, http.MethodGet, "/config/databases", nil, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminCleanupRejectsMissingToken(t *testing.T) {
	t.Parallel()

	app := httpapi.NewApp(newTestServer(t))

	resp := doJSON(t, app, http.MethodPost, "/admin/cleanup", nil, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminCleanupAcceptsValidToken(t *testing.T) {
	t.Parallel()

	app := httpapi.NewApp(newTestServer(t))

	resp := doJSON(t, app, http.MethodPost, "/admin/cleanup", nil, map[string]string{
		"x-admin-token": "admin-secret",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueryExecuteRejectsUnknownSession(t *testing.T) {
	t.Parallel()

	app := httpapi.NewApp(newTestServer(t))

	resp := doJSON(t, app, http.MethodPost, "/query/execute", map[string]any{
		"sessionId": "missing",
		"query":     "SELECT 1",
	}, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionExtendRejectsUnknownSessionBeforeRequestCode(t *testing.T) {
	t.Parallel()

	app := httpapi.NewApp(newTestServer(t))

	resp := doJSON(t, app, http.MethodPost, "/connections/session-extend", map[string]any{
		"sessionId": "whatever",
	}, map[string]string{"x-request-code": "wrong"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
