package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/tally-sync/internal/api"
)

var serveAddr string

// serveCmd starts the HTTP API over the local database.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serve the sync API: trigger syncs, read metadata, sync status, row counts
and records, and accept bulk uploads from other instances.

The API always serves the local database; remote.api_base is ignored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default server.addr)")
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := app.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()
	if st.sql == nil {
		return errors.New("serve requires a local database")
	}

	source, err := app.newSource()
	if err != nil {
		return err
	}
	engine := app.newEngine(st.sql)
	runner := app.newSyncer(source, engine, st.sql)

	addr := app.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := api.New(runner, st.sql, engine,
		api.WithLogger(app.logger),
		api.WithVersion(Version),
	)
	return srv.ListenAndServe(ctx, addr)
}
