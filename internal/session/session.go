// Package session implements the process-wide Session/Connection Manager
// (section 4.1 of the gateway specification): a single registry mapping
// sessionId to Session and userId to sessionId, with isolation-database
// provisioning and idle eviction.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querygate/gateway/internal/adapter"
	"github.com/querygate/gateway/internal/apperrors"
	"github.com/querygate/gateway/internal/mlog"
)

// Session is one live, exclusively-owned connection to a backing engine.
type Session struct {
	ID                  string
	Kind                adapter.Kind
	Adapter             adapter.Adapter
	UserID              string
	IsIsolated          bool
	IsDefaultConnection bool
	AllowDestructive    bool
	UserDatabase        string
	SigningKey          string
	ServerVersion       string
	CreatedAt           time.Time

	mu              sync.Mutex
	lastActivity    time.Time
	stopHealthCheck chan struct{}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return now.Sub(s.lastActivity)
}

// startHealthCheckLoop issues HealthCheck every HealthCheckInterval until
// stopHealthCheck is closed, per section 4.2's 60s health-check contract.
func (s *Session) startHealthCheckLoop() {
	ticker := time.NewTicker(adapter.HealthCheckInterval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-s.stopHealthCheck:
				return
			case <-ticker.C:
				s.Adapter.HealthCheck(context.Background())
			}
		}
	}()
}

// CreateParams carries the createSession input.
type CreateParams struct {
	Kind                adapter.Kind
	ConnectionURL       string
	UserID              string
	IsIsolated          bool
	IsDefaultConnection bool
}

// CreateResult carries the subset of Session state returned to the caller;
// the connection URL and other secrets never leave the manager.
type CreateResult struct {
	SessionID     string
	ServerVersion string
	SigningKey    string
	UserDatabase  string
}

// Manager is the single process-wide Session/Connection registry.
type Manager struct {
	Logger           mlog.Logger
	IdleTimeout      time.Duration
	DefaultLimit     int
	SchemaSampleSize int
	QueryTimeout     time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager constructs a Manager and starts its idle-eviction loop.
func NewManager(logger mlog.Logger, idleTimeout time.Duration, defaultLimit, schemaSampleSize int, queryTimeout time.Duration) *Manager {
	m := &Manager{
		Logger:           logger,
		IdleTimeout:      idleTimeout,
		DefaultLimit:     defaultLimit,
		SchemaSampleSize: schemaSampleSize,
		QueryTimeout:     queryTimeout,
		sessions:         make(map[string]*Session),
		byUser:           make(map[string]string),
		stopCh:           make(chan struct{}),
	}

	go m.evictionLoop()

	return m
}

// Stop ends the idle-eviction loop. It does not close live sessions.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) evictionLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	now := time.Now()

	m.mu.Lock()
	var stale []string

	for id, s := range m.sessions {
		if s.idleFor(now) > m.IdleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Logger.Infof("evicting idle session %s", id)
		_ = m.CloseSession(context.Background(), id)
	}
}

func newAdapterForKind(kind adapter.Kind, logger mlog.Logger, isDefaultConn, allowDestructive bool, defaultLimit, schemaSampleSize int, queryTimeout time.Duration) (adapter.Adapter, error) {
	switch kind {
	case adapter.KindPostgreSQL:
		return adapter.NewPostgresAdapter(logger, isDefaultConn, allowDestructive, defaultLimit), nil
	case adapter.KindMySQL:
		return adapter.NewMySQLAdapter(logger, isDefaultConn, allowDestructive, defaultLimit), nil
	case adapter.KindMongoDB:
		return adapter.NewMongoAdapter(logger, isDefaultConn, allowDestructive, defaultLimit, schemaSampleSize, queryTimeout), nil
	default:
		return nil, apperrors.Newf(apperrors.KindClientInput, "unsupported database kind %q", kind)
	}
}

// CreateSession implements createSession: if userId already owns a
// session, that session is closed first; isolation provisioning is
// attempted and downgraded to non-isolated on any failure.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if p.UserID != "" {
		m.mu.Lock()
		prevID, had := m.byUser[p.UserID]
		if had {
			delete(m.byUser, p.UserID)
		}
		m.mu.Unlock()

		if had {
			_ = m.CloseSession(ctx, prevID)
		}
	}

	ad, err := newAdapterForKind(p.Kind, m.Logger, p.IsDefaultConnection, false, m.DefaultLimit, m.SchemaSampleSize, m.QueryTimeout)
	if err != nil {
		return nil, err
	}

	userDatabase := ""
	isIsolated := p.IsIsolated && p.Kind != adapter.KindMongoDB

	if isIsolated && p.UserID != "" {
		userDatabase = isolationDatabaseName(p.UserID)

		effectiveURL, provisionErr := m.provisionIsolation(ctx, p.Kind, p.ConnectionURL, userDatabase)
		if provisionErr != nil {
			m.Logger.Warnf("isolation provisioning failed, downgrading to non-isolated: %v", provisionErr)

			isIsolated = false
			userDatabase = ""

			if err := ad.Connect(ctx, p.ConnectionURL); err != nil {
				return nil, err
			}
		} else if err := ad.Connect(ctx, effectiveURL); err != nil {
			return nil, err
		}
	} else {
		if err := ad.Connect(ctx, p.ConnectionURL); err != nil {
			return nil, err
		}
	}

	serverVersion, err := ad.GetServerVersion(ctx)
	if err != nil {
		_ = ad.Disconnect(ctx)
		return nil, err
	}

	signingKey, err := randomHex(32)
	if err != nil {
		_ = ad.Disconnect(ctx)
		return nil, apperrors.Wrap(apperrors.KindServer, "failed to generate signing key", err)
	}

	sess := &Session{
		ID:                  uuid.NewString(),
		Kind:                p.Kind,
		Adapter:             ad,
		UserID:              p.UserID,
		IsIsolated:          isIsolated,
		IsDefaultConnection: p.IsDefaultConnection,
		UserDatabase:        userDatabase,
		SigningKey:          signingKey,
		ServerVersion:       serverVersion,
		CreatedAt:           time.Now(),
		lastActivity:        time.Now(),
		stopHealthCheck:     make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	if p.UserID != "" {
		m.byUser[p.UserID] = sess.ID
	}
	m.mu.Unlock()

	sess.startHealthCheckLoop()

	return &CreateResult{
		SessionID:     sess.ID,
		ServerVersion: sess.ServerVersion,
		SigningKey:    sess.SigningKey,
		UserDatabase:  sess.UserDatabase,
	}, nil
}

// provisionIsolation opens a short-lived administrative adapter, ensures
// userDatabase exists, and returns the connection URL rewritten to target
// it. Mongo performs no provisioning and is never routed here by the
// caller's isIsolated check (no-op per 4.1).
func (m *Manager) provisionIsolation(ctx context.Context, kind adapter.Kind, connectionURL, userDatabase string) (string, error) {
	switch kind {
	case adapter.KindPostgreSQL:
		admin := adapter.NewPostgresAdapter(m.Logger, false, true, m.DefaultLimit)

		adminURL, err := withURLPath(connectionURL, "/postgres")
		if err != nil {
			return "", err
		}

		if err := admin.Connect(ctx, adminURL); err != nil {
			return "", err
		}
		defer admin.Disconnect(ctx) //nolint:errcheck

		if err := admin.ProvisionIsolationDatabase(ctx, userDatabase); err != nil {
			return "", err
		}

		return withURLPath(connectionURL, "/"+userDatabase)

	case adapter.KindMySQL:
		admin := adapter.NewMySQLAdapter(m.Logger, false, true, m.DefaultLimit)

		adminURL, err := withURLPath(connectionURL, "")
		if err != nil {
			return "", err
		}

		if err := admin.Connect(ctx, adminURL); err != nil {
			return "", err
		}
		defer admin.Disconnect(ctx) //nolint:errcheck

		if err := admin.ProvisionIsolationDatabase(ctx, userDatabase); err != nil {
			return "", err
		}

		return withURLPath(connectionURL, "/"+userDatabase)

	default:
		return connectionURL, nil
	}
}

func withURLPath(rawURL, path string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindClientInput, "invalid connection url", err)
	}

	u.Path = path

	return u.String(), nil
}

func isolationDatabaseName(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "u_" + hex.EncodeToString(sum[:])[:32]
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

// GetSession returns the session and updates lastActivity, or nil.
func (m *Manager) GetSession(id string) *Session {
	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()

	if sess == nil {
		return nil
	}

	sess.touch()

	return sess
}

// SetAllowDestructive succeeds only if the session exists and is a
// default connection, per 4.1.
func (m *Manager) SetAllowDestructive(id string, allow bool) error {
	m.mu.Lock()
	sess := m.sessions[id]
	m.mu.Unlock()

	if sess == nil {
		return apperrors.New(apperrors.KindNotFound, "session not found")
	}

	if !sess.IsDefaultConnection {
		return apperrors.New(apperrors.KindForbidden, "allowDestructive can only be set on a default connection")
	}

	sess.mu.Lock()
	sess.AllowDestructive = allow
	sess.mu.Unlock()

	return nil
}

// CloseSession best-effort disconnects the adapter and removes the
// session from both maps regardless of disconnect outcome.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	sess := m.sessions[id]
	delete(m.sessions, id)

	if sess != nil && m.byUser[sess.UserID] == id {
		delete(m.byUser, sess.UserID)
	}
	m.mu.Unlock()

	if sess == nil {
		return nil
	}

	close(sess.stopHealthCheck)

	if err := sess.Adapter.Disconnect(ctx); err != nil {
		m.Logger.Errorf("error disconnecting session %s: %v", id, err)
		return fmt.Errorf("disconnect error (session removed): %w", err)
	}

	return nil
}

// Count returns the number of live sessions, used for diagnostics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}
