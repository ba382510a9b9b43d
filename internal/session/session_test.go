package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/gateway/internal/mlog"
	"github.com/querygate/gateway/internal/session"
)

func TestSetAllowDestructiveRejectsUnknownSession(t *testing.T) {
	t.Parallel()

	m := session.NewManager(&mlog.NoneLogger{}, time.Hour, 1000, 100, 30*time.Second)
	defer m.Stop()

	err := m.SetAllowDestructive("missing", true)
	require.Error(t, err)
}

func TestGetSessionReturnsNilForUnknownID(t *testing.T) {
	t.Parallel()

	m := session.NewManager(&mlog.NoneLogger{}, time.Hour, 1000, 100, 30*time.Second)
	defer m.Stop()

	assert.Nil(t, m.GetSession("does-not-exist"))
}

func TestCloseSessionOnUnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	m := session.NewManager(&mlog.NoneLogger{}, time.Hour, 1000, 100, 30*time.Second)
	defer m.Stop()

	assert.NoError(t, m.CloseSession(context.Background(), "does-not-exist"))
}

func TestManagerCountStartsAtZero(t *testing.T) {
	t.Parallel()

	m := session.NewManager(&mlog.NoneLogger{}, time.Hour, 1000, 100, 30*time.Second)
	defer m.Stop()

	assert.Equal(t, 0, m.Count())
}

func TestCreateSessionRejectsUnsupportedKind(t *testing.T) {
	t.Parallel()

	m := session.NewManager(&mlog.NoneLogger{}, time.Hour, 1000, 100, 30*time.Second)
	defer m.Stop()

	_, err := m.CreateSession(context.Background(), session.CreateParams{
		Kind:          "oracle",
		ConnectionURL: "oracle://localhost",
	})
	require.Error(t, err)
	assert.Equal(t, 0, m.Count())
}
