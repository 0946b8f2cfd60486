package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ginjaninja78/tally-sync/internal/config"
	"github.com/ginjaninja78/tally-sync/internal/store"
	"github.com/ginjaninja78/tally-sync/internal/syncer"
	"github.com/ginjaninja78/tally-sync/internal/tally"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// appContext is what every command needs after configuration is loaded.
type appContext struct {
	cfg    *config.MainConfig
	logger *slog.Logger
	tables []types.TableSpec
}

// stores bundles the write and read sides of the target.
type stores struct {
	writer store.Writer
	meta   store.MetadataReader

	// sql is nil in remote mode.
	sql *store.SQLStore
}

func (s *stores) Close() error {
	if s.sql != nil {
		return s.sql.Close()
	}
	return nil
}

// newSource creates the source system client.
func (a *appContext) newSource() (*tally.Client, error) {
	enc, err := tally.ParseEncoding(a.cfg.Tally.Encoding)
	if err != nil {
		return nil, err
	}
	return tally.New(a.cfg.Tally.URL,
		tally.WithEncoding(enc),
		tally.WithTimeout(a.cfg.Tally.FullSyncTimeout),
		tally.WithLogger(a.logger),
	), nil
}

// openStores opens the local database, migrating it when configured, or the
// remote API when remote.api_base is set and local is false.
func (a *appContext) openStores(ctx context.Context, local bool) (*stores, error) {
	if a.cfg.Remote.Enabled() && !local {
		rs := store.NewRemoteStore(a.cfg.Remote.APIBase, a.cfg.Remote.Timeout)
		a.logger.Info("writing to remote store", "api_base", a.cfg.Remote.APIBase)
		return &stores{writer: rs, meta: rs}, nil
	}

	db, err := store.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if a.cfg.Database.ShouldMigrate() {
		if err := db.Migrate(ctx, a.tables); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return &stores{writer: db, meta: db, sql: db}, nil
}

// newEngine builds the batch engine for w from the sync settings.
func (a *appContext) newEngine(w store.Writer) *store.Engine {
	policy := store.DefaultRetryPolicy()
	policy.MaxAttempts = a.cfg.Sync.MaxAttempts
	policy.Backoff = a.cfg.Sync.RetryBackoff

	return store.NewEngine(w,
		store.WithBatchSize(a.cfg.Sync.BatchSize),
		store.WithRetryPolicy(policy),
		store.WithEngineLogger(a.logger),
	)
}

// newSyncer wires source, engine and metadata into a Syncer.
func (a *appContext) newSyncer(source *tally.Client, engine *store.Engine, meta store.MetadataReader) *syncer.Syncer {
	return syncer.New(source, engine, meta, a.tables, syncer.Config{
		Company:         a.cfg.Tally.Company,
		MaxConcurrency:  a.cfg.Sync.MaxConcurrency,
		Timeout:         a.cfg.Tally.Timeout,
		FullSyncTimeout: a.cfg.Tally.FullSyncTimeout,
		LegacyCursor:    a.cfg.Sync.LegacyChangeDetection,
	}, syncer.WithLogger(a.logger))
}

// tenant returns the configured tenant, which must be complete.
func (a *appContext) tenant() (types.Tenant, error) {
	t := a.cfg.Tenant.Tenant()
	if t.CompanyID == "" || t.DivisionID == "" {
		return t, errors.New("tenant.company_id and tenant.division_id are required (or TALLYSYNC_COMPANY_ID / TALLYSYNC_DIVISION_ID)")
	}
	return t, nil
}
