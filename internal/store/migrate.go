package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// Columns added by the sync pipeline to every data table. They are never
// declared in table configuration.
var systemColumns = map[string]bool{
	"id":             true,
	"company_id":     true,
	"division_id":    true,
	"sync_timestamp": true,
	"source":         true,
	"created_at":     true,
	"updated_at":     true,
}

// SystemColumn reports whether name is one of the columns the pipeline adds
// to every data table.
func SystemColumn(name string) bool {
	return systemColumns[name]
}

// CreateTableSQL returns the CREATE TABLE statement for one table spec.
func CreateTableSQL(d Dialect, spec types.TableSpec) (string, error) {
	if err := checkIdentifier(spec.Name); err != nil {
		return "", err
	}

	key := d.ColumnType(types.FieldText, true)
	defs := []string{
		d.AutoIncrementPK(),
		d.Quote("company_id") + " " + key + " NOT NULL",
		d.Quote("division_id") + " " + key + " NOT NULL",
		d.Quote("guid") + " " + key + " NOT NULL",
	}

	seen := map[string]bool{"guid": true}
	for _, f := range spec.Fields {
		if err := checkIdentifier(f.Name); err != nil {
			return "", fmt.Errorf("table %s: %w", spec.Name, err)
		}
		if systemColumns[f.Name] || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		indexed := f.Name == spec.KeyColumn()
		defs = append(defs, d.Quote(f.Name)+" "+d.ColumnType(f.Type, indexed))
	}

	defs = append(defs,
		d.Quote("sync_timestamp")+" DATETIME",
		d.Quote("source")+" VARCHAR(32)",
		d.Quote("created_at")+" DATETIME DEFAULT CURRENT_TIMESTAMP",
		d.Quote("updated_at")+" DATETIME DEFAULT CURRENT_TIMESTAMP",
		"UNIQUE ("+strings.Join(quoteAll(d, tenantKeys), ", ")+")",
	)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.Quote(spec.Name), strings.Join(defs, ",\n  ")), nil
}

// MetadataTableSQL returns the CREATE TABLE statement for sync_metadata.
func MetadataTableSQL(d Dialect) string {
	key := d.ColumnType(types.FieldText, true)
	defs := []string{
		d.AutoIncrementPK(),
		d.Quote("company_id") + " " + key + " NOT NULL",
		d.Quote("division_id") + " " + key + " NOT NULL",
		d.Quote("table_name") + " " + key + " NOT NULL",
		d.Quote("last_sync") + " DATETIME",
		d.Quote("sync_type") + " VARCHAR(32)",
		d.Quote("records_processed") + " INTEGER DEFAULT 0",
		d.Quote("records_failed") + " INTEGER DEFAULT 0",
		d.Quote("metadata") + " TEXT",
		d.Quote("created_at") + " DATETIME DEFAULT CURRENT_TIMESTAMP",
		d.Quote("updated_at") + " DATETIME DEFAULT CURRENT_TIMESTAMP",
		"UNIQUE (" + strings.Join(quoteAll(d, []string{"company_id", "division_id", "table_name"}), ", ") + ")",
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.Quote(MetadataTable), strings.Join(defs, ",\n  "))
}

// Migrate creates sync_metadata and every configured table if missing.
// Existing tables are left as they are.
func (s *SQLStore) Migrate(ctx context.Context, specs []types.TableSpec) error {
	stmts := []string{MetadataTableSQL(s.dialect)}
	for _, spec := range specs {
		stmt, err := CreateTableSQL(s.dialect, spec)
		if err != nil {
			return err
		}
		stmts = append(stmts, stmt)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
