package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/tally-sync/internal/store"
	"github.com/ginjaninja78/tally-sync/internal/tdl"
	"github.com/ginjaninja78/tally-sync/internal/validation"
)

var (
	requestSince int64
	requestFrom  string
	requestTo    string
	ddlDriver    string
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Inspect the table catalogue",
}

var tablesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tables in sync order",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tCATEGORY\tCOLLECTION\tFIELDS\tPARENT\tKEY")
		for _, t := range app.tables {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				t.Name, t.Category, t.Collection, len(t.Fields), dash(t.Parent), t.KeyColumn())
		}
		return w.Flush()
	},
}

var tablesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the table catalogue",
	Long: `Validate checks every table for naming, type, key and parent problems.
Errors stop every other command from starting; warnings are reported here
and logged at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		result := validation.ValidateTables(app.tables)
		fmt.Printf("Validated %d table(s), %d field(s)\n", result.TablesValidated, result.FieldsValidated)
		if len(result.Errors) > 0 {
			fmt.Print(validation.FormatErrors(result.Errors))
		}
		return result.Err()
	},
}

var tablesRequestCmd = &cobra.Command{
	Use:   "request <table>",
	Short: "Print the export request for a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := selectSpecs(args)
		if err != nil {
			return err
		}
		spec := specs[0]

		p := tdl.Params{Company: app.cfg.Tally.Company}
		if p.FromDate, err = parseFlagDate(requestFrom); err != nil {
			return err
		}
		if p.ToDate, err = parseFlagDate(requestTo); err != nil {
			return err
		}
		if requestSince > 0 {
			p.Since = &tdl.Since{After: requestSince}
		}

		body, err := tdl.ForTable(spec, p)
		if err != nil {
			return err
		}
		fmt.Println(body)
		return nil
	},
}

var tablesDDLCmd = &cobra.Command{
	Use:   "ddl",
	Short: "Print CREATE TABLE statements for the catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		driver := app.cfg.Database.Driver
		if ddlDriver != "" {
			driver = ddlDriver
		}
		d, err := store.DialectFor(driver)
		if err != nil {
			return err
		}
		for _, t := range app.tables {
			stmt, err := store.CreateTableSQL(d, t)
			if err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}
			fmt.Printf("%s;\n\n", stmt)
		}
		fmt.Printf("%s;\n", store.MetadataTableSQL(d))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.AddCommand(tablesListCmd, tablesValidateCmd, tablesRequestCmd, tablesDDLCmd)

	tablesRequestCmd.Flags().Int64Var(&requestSince, "since", 0, "Only objects with a change id above this value")
	tablesRequestCmd.Flags().StringVar(&requestFrom, "from", "", "Start date, YYYY-MM-DD")
	tablesRequestCmd.Flags().StringVar(&requestTo, "to", "", "End date, YYYY-MM-DD")
	tablesDDLCmd.Flags().StringVar(&ddlDriver, "driver", "", "sqlite3 or mysql (default database.driver)")
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func parseFlagDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return t, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}
