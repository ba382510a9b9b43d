// Package scheduler runs the daily default-database cleanup sweep
// (section 4.9 of the gateway specification): a single process-wide cron
// trigger at 02:00 UTC, plus the on-demand path invoked by the admin HTTP
// endpoint.
package scheduler

import (
	"context"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/querygate/gateway/internal/adapter"
	"github.com/querygate/gateway/internal/apperrors"
	"github.com/querygate/gateway/internal/config"
	"github.com/querygate/gateway/internal/mlog"
)

// Scheduler owns the single process-wide cron instance that fires the
// cleanup sweep daily at 02:00 UTC.
type Scheduler struct {
	Logger   mlog.Logger
	Defaults []config.DefaultDatabaseConfig

	cron *cron.Cron
}

// New builds a Scheduler configured to run in UTC, matching the spec's
// "fires at 02:00 UTC daily" requirement regardless of host timezone.
func New(logger mlog.Logger, defaults []config.DefaultDatabaseConfig) *Scheduler {
	c := cron.New(cron.WithLocation(time.UTC))

	return &Scheduler{Logger: logger, Defaults: defaults, cron: c}
}

// Start registers the daily trigger and starts the cron runner. It does
// not block.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("0 2 * * *", func() {
		s.RunCleanup(context.Background())
	})
	if err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop ends the cron runner, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunCleanup is the routine fired by the daily trigger and by the
// authenticated admin HTTP endpoint: for each configured default
// database, connect a short-lived adapter against its administrative URL,
// call dropAllUserDatabases, and disconnect. Per-database errors are
// logged; the loop continues.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	for _, d := range s.Defaults {
		adminURL := administrativeURL(d)

		ad, err := newAdapterForKind(d.Kind, s.Logger)
		if err != nil {
			s.Logger.Errorf("cleanup: unsupported kind %q for %s: %v", d.Kind, d.DisplayName, err)
			continue
		}

		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)

		if err := ad.Connect(connectCtx, adminURL); err != nil {
			cancel()
			s.Logger.Errorf("cleanup: failed to connect to %s: %v", d.DisplayName, err)
			continue
		}

		cancel()

		if err := ad.DropAllUserDatabases(ctx); err != nil {
			s.Logger.Errorf("cleanup: dropAllUserDatabases failed for %s: %v", d.DisplayName, err)
		}

		if err := ad.Disconnect(ctx); err != nil {
			s.Logger.Errorf("cleanup: failed to disconnect from %s: %v", d.DisplayName, err)
		}
	}
}

func newAdapterForKind(kind adapter.Kind, logger mlog.Logger) (adapter.Adapter, error) {
	switch kind {
	case adapter.KindPostgreSQL:
		return adapter.NewPostgresAdapter(logger, false, true, 1000), nil
	case adapter.KindMySQL:
		return adapter.NewMySQLAdapter(logger, false, true, 1000), nil
	case adapter.KindMongoDB:
		return adapter.NewMongoAdapter(logger, false, true, 1000, 100, 30*time.Second), nil
	default:
		return nil, apperrors.Newf(apperrors.KindServer, "unsupported database kind %q", kind)
	}
}

// administrativeURL builds the connection URL used for the cleanup sweep:
// Postgres targets path=/postgres, MySQL targets an empty path (server
// root), Mongo uses the original URL unchanged, per 4.9.
func administrativeURL(d config.DefaultDatabaseConfig) string {
	switch d.Kind {
	case adapter.KindPostgreSQL:
		return rewritePath(d.URL, "/postgres")
	case adapter.KindMySQL:
		return rewritePath(d.URL, "")
	default:
		return d.URL
	}
}

func rewritePath(rawURL, path string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Path = path

	return u.String()
}
