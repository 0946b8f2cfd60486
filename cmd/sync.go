// =============================================================================
// Tally Sync - Sync Command
// =============================================================================
//
// This file defines the 'sync' command, which runs one sync pass for the
// configured tenant.
//
// COMMAND USAGE:
//   tallysync sync [flags]
//
// FLAGS:
//   --mode        : auto, full or incremental (default from sync.mode)
//   --tables      : comma-separated table names to sync (default all)
//   --from, --to  : transaction date range, YYYY-MM-DD
//   --report-dir  : write summary and error logs here
//   --dry-run     : print the export requests without contacting anything
//
// PROCESSING PIPELINE:
//   1. Open the target store (local database or remote API)
//   2. Run the syncer: cursors, masters, then transactions
//   3. Print the per-table summary
//   4. Write the run reports
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/tally-sync/internal/syncer"
	"github.com/ginjaninja78/tally-sync/internal/tdl"
	"github.com/ginjaninja78/tally-sync/internal/types"
	"github.com/ginjaninja78/tally-sync/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	syncMode      string
	syncTables    []string
	syncFrom      string
	syncTo        string
	syncReportDir string
	syncDryRun    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync configured tables from Tally into the target store",
	Long: `The sync command fetches the source's change ids, decides which categories
changed since the last clean sync, exports those tables and upserts every
record into the target store.

Master tables are exported first, several at a time. Transaction tables
follow one by one; detail tables run after their parent and are skipped
when the parent fails.

The command exits non-zero only when no table could be synced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVar(&syncMode, "mode", "", "Sync mode: auto, full or incremental")
	syncCmd.Flags().StringSliceVar(&syncTables, "tables", nil, "Tables to sync (default all)")
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "Transaction start date, YYYY-MM-DD")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "Transaction end date, YYYY-MM-DD")
	syncCmd.Flags().StringVar(&syncReportDir, "report-dir", "", "Directory for run reports (default output.report_dir)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Print export requests without sending them")
}

// =============================================================================
// MAIN SYNC FUNCTION
// =============================================================================

func runSync(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := app.cfg

	// =========================================================================
	// STEP 1: RESOLVE REQUEST
	// =========================================================================

	modeText := cfg.Sync.Mode
	if syncMode != "" {
		modeText = syncMode
	}
	mode, err := syncer.ParseMode(modeText)
	if err != nil {
		return err
	}

	if syncFrom != "" {
		cfg.Sync.FromDate = syncFrom
	}
	if syncTo != "" {
		cfg.Sync.ToDate = syncTo
	}
	from, to, err := cfg.Sync.Dates()
	if err != nil {
		return err
	}

	if syncDryRun {
		return printRequests(syncTables, from, to)
	}

	tenant, err := app.tenant()
	if err != nil {
		return err
	}

	// =========================================================================
	// STEP 2: OPEN STORE AND RUN
	// =========================================================================

	st, err := app.openStores(ctx, false)
	if err != nil {
		return err
	}
	defer st.Close()

	source, err := app.newSource()
	if err != nil {
		return err
	}
	s := app.newSyncer(source, app.newEngine(st.writer), st.meta)

	sum, err := s.Run(ctx, syncer.Request{
		Tenant: tenant,
		Mode:   mode,
		Tables: syncTables,
		From:   from,
		To:     to,
	})
	if err != nil {
		return err
	}

	// =========================================================================
	// STEP 3: PRINT SUMMARY
	// =========================================================================

	printSummary(sum)

	// =========================================================================
	// STEP 4: WRITE REPORTS
	// =========================================================================

	reportDir := cfg.Output.ReportDir
	if syncReportDir != "" {
		reportDir = syncReportDir
	}
	if reportDir != "" {
		summaryPath, errorPath, err := utils.WriteReports(sum, reportDir, cfg.Output.FileNameFormat)
		if err != nil {
			app.logger.Error("failed to write run reports", "error", err)
		} else {
			fmt.Printf("\nSummary written to %s\n", summaryPath)
			if errorPath != "" {
				fmt.Printf("Errors written to %s\n", errorPath)
			}
		}
		if cfg.Output.Retention > 0 {
			if n, err := utils.CleanOldReports(reportDir, cfg.Output.Retention); err != nil {
				app.logger.Warn("failed to clean old reports", "error", err)
			} else if n > 0 {
				app.logger.Info("old reports removed", "count", n)
			}
		}
	}

	if sum.Status() == syncer.StatusFailed {
		return fmt.Errorf("sync failed: %d error(s)", len(sum.Errors))
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func printSummary(sum syncer.Summary) {
	fmt.Printf("=== Sync %s ===\n", sum.RunID)
	fmt.Printf("Tenant:      %s\n", sum.Tenant.Key())
	fmt.Printf("Mode:        %s\n", sum.Mode)
	fmt.Printf("Cursor:      master %d (last %d), transaction %d (last %d)\n",
		sum.Current.Master, sum.Last.Master, sum.Current.Transaction, sum.Last.Transaction)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tSTATUS\tSYNC\tEXTRACTED\tPROCESSED\tFAILED\tNOTE")
	for _, t := range sum.Tables {
		note := t.Error
		if note == "" {
			note = t.Reason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			t.Name, t.Status, t.SyncType, t.Extracted, t.Processed, t.Failed, note)
	}
	w.Flush()

	fmt.Println()
	fmt.Printf("Status:      %s\n", sum.Status())
	fmt.Printf("Processed:   %d\n", sum.Processed)
	fmt.Printf("Failed:      %d\n", sum.Failed)
	fmt.Printf("Elapsed:     %s\n", sum.Duration().Round(time.Millisecond))
}

// printRequests writes the full-sync request for each selected table.
func printRequests(names []string, from, to time.Time) error {
	specs, err := selectSpecs(names)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		p := tdl.Params{Company: app.cfg.Tally.Company}
		if spec.Category == types.CategoryTransaction {
			p.FromDate, p.ToDate = from, to
		}
		body, err := tdl.ForTable(spec, p)
		if err != nil {
			return fmt.Errorf("%s: %w", spec.Name, err)
		}
		fmt.Printf("<!-- %s (%s) -->\n%s\n\n", spec.Name, spec.Category, body)
	}
	return nil
}

// selectSpecs returns the named specs, or all of them when names is empty.
func selectSpecs(names []string) ([]types.TableSpec, error) {
	if len(names) == 0 {
		return app.tables, nil
	}
	byName := make(map[string]types.TableSpec, len(app.tables))
	for _, t := range app.tables {
		byName[t.Name] = t
	}
	var (
		out     []types.TableSpec
		missing []string
	)
	for _, n := range names {
		spec, ok := byName[strings.TrimSpace(n)]
		if !ok {
			missing = append(missing, n)
			continue
		}
		out = append(out, spec)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown table(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}
