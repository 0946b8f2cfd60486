package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/tally-sync/internal/cursor"
)

// cursorCmd compares the source's change ids with the last clean sync.
var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Show change ids and what the next auto sync would do",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		tenant, err := app.tenant()
		if err != nil {
			return err
		}

		st, err := app.openStores(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close()

		source, err := app.newSource()
		if err != nil {
			return err
		}
		coord := cursor.New(source, st.meta, app.cfg.Tally.Company,
			cursor.WithLegacyCompare(app.cfg.Sync.LegacyChangeDetection),
			cursor.WithLogger(app.logger),
		)

		last, err := coord.Load(ctx, tenant, app.tables)
		if err != nil {
			return err
		}
		current, err := coord.Fetch(ctx)
		if err != nil {
			return err
		}
		decision := coord.Decide(current, last)

		fmt.Printf("Tenant:       %s\n", tenant.Key())
		fmt.Printf("              %-12s %-12s %s\n", "CURRENT", "LAST", "SYNC")
		fmt.Printf("Master:       %-12d %-12d %t\n", current.Master, last.Master, decision.Master)
		fmt.Printf("Transaction:  %-12d %-12d %t\n", current.Transaction, last.Transaction, decision.Transaction)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cursorCmd)
}
