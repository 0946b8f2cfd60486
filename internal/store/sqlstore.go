package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// MetadataTable is the name of the per-table sync bookkeeping table.
const MetadataTable = "sync_metadata"

// tenantKeys is the conflict target of every data table.
var tenantKeys = []string{"company_id", "division_id", "guid"}

// ErrMissingGUID is returned when a row offered for upsert has no guid.
var ErrMissingGUID = errors.New("record has no guid")

// SQLStore is a Writer and Reader backed by database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// SQLOption configures an SQLStore.
type SQLOption func(*SQLStore)

// WithClock overrides the time source used for updated_at and last_sync.
func WithClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) {
		s.now = now
	}
}

// Open connects to the database named by driver ("sqlite3" or "mysql") and
// dsn. SQLite connections are limited to one so that in-memory databases
// are shared and writers never contend with themselves.
func Open(driver, dsn string, opts ...SQLOption) (*SQLStore, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if dialect.Name() == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	return NewSQLStore(db, dialect, opts...), nil
}

// NewSQLStore wraps an existing connection pool.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...SQLOption) *SQLStore {
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// =============================================================================
// WRITES
// =============================================================================

// rowGroup is a set of rows sharing the same column list.
type rowGroup struct {
	columns []string
	rows    [][]any
}

// UpsertBatch writes records inside one transaction. Rows are grouped by
// their column set so that a column absent from a row is left untouched in
// the stored row rather than overwritten with NULL. The tenant always wins
// over any company_id/division_id already present in a record.
func (s *SQLStore) UpsertBatch(ctx context.Context, table string, tenant types.Tenant, records []types.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkIdentifier(table); err != nil {
		return err
	}

	groups, err := s.group(tenant, records)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction on %s: %w", table, err)
	}
	defer tx.Rollback()

	for _, g := range groups {
		query := s.dialect.Upsert(table, g.columns, tenantKeys, len(g.rows))
		args := make([]any, 0, len(g.columns)*len(g.rows))
		for _, row := range g.rows {
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert %d rows into %s: %w", len(g.rows), table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", table, err)
	}
	return nil
}

func (s *SQLStore) group(tenant types.Tenant, records []types.NormalizedRecord) ([]*rowGroup, error) {
	now := s.now()
	index := make(map[string]*rowGroup)
	var order []*rowGroup

	for _, rec := range records {
		if rec.GUID() == "" {
			return nil, ErrMissingGUID
		}

		cols := make([]string, 0, len(rec)+3)
		for col := range rec {
			if col == "company_id" || col == "division_id" || col == "updated_at" || col == "created_at" || col == "id" {
				continue
			}
			if err := checkIdentifier(col); err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		sort.Strings(cols)
		cols = append(cols, "company_id", "division_id", "updated_at")

		sig := strings.Join(cols, ",")
		g, ok := index[sig]
		if !ok {
			g = &rowGroup{columns: cols}
			index[sig] = g
			order = append(order, g)
		}

		row := make([]any, len(cols))
		for i, col := range cols {
			switch col {
			case "company_id":
				row[i] = tenant.CompanyID
			case "division_id":
				row[i] = tenant.DivisionID
			case "updated_at":
				row[i] = now
			default:
				row[i] = rec[col]
			}
		}
		g.rows = append(g.rows, row)
	}
	return order, nil
}

// SaveMetadata creates or replaces the metadata row for the table.
func (s *SQLStore) SaveMetadata(ctx context.Context, meta types.SyncMetadata) error {
	blob := "{}"
	if len(meta.Metadata) > 0 {
		b, err := json.Marshal(meta.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", meta.TableName, err)
		}
		blob = string(b)
	}
	lastSync := meta.LastSync
	if lastSync.IsZero() {
		lastSync = s.now()
	}

	cols := []string{
		"company_id", "division_id", "table_name", "last_sync", "sync_type",
		"records_processed", "records_failed", "metadata", "updated_at",
	}
	query := s.dialect.Upsert(MetadataTable, cols, []string{"company_id", "division_id", "table_name"}, 1)
	_, err := s.db.ExecContext(ctx, query,
		meta.CompanyID, meta.DivisionID, meta.TableName, lastSync.UTC(), string(meta.SyncType),
		meta.RecordsProcessed, meta.RecordsFailed, blob, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync metadata for %s: %w", meta.TableName, err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// LoadMetadata returns every metadata row of a tenant ordered by table name.
func (s *SQLStore) LoadMetadata(ctx context.Context, tenant types.Tenant) ([]types.SyncMetadata, error) {
	d := s.dialect
	query := fmt.Sprintf(
		"SELECT %s, %s, %s, %s, %s, %s FROM %s WHERE %s = ? AND %s = ? ORDER BY %s",
		d.Quote("table_name"), d.Quote("last_sync"), d.Quote("sync_type"),
		d.Quote("records_processed"), d.Quote("records_failed"), d.Quote("metadata"),
		d.Quote(MetadataTable), d.Quote("company_id"), d.Quote("division_id"), d.Quote("table_name"),
	)

	rows, err := s.db.QueryContext(ctx, query, tenant.CompanyID, tenant.DivisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync metadata: %w", err)
	}
	defer rows.Close()

	var out []types.SyncMetadata
	for rows.Next() {
		var (
			table, syncType   string
			lastSync          any
			processed, failed int
			blob              sql.NullString
		)
		if err := rows.Scan(&table, &lastSync, &syncType, &processed, &failed, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan sync metadata: %w", err)
		}

		meta := types.SyncMetadata{
			CompanyID:        tenant.CompanyID,
			DivisionID:       tenant.DivisionID,
			TableName:        table,
			LastSync:         asTime(lastSync),
			SyncType:         types.SyncType(syncType),
			RecordsProcessed: processed,
			RecordsFailed:    failed,
		}
		if blob.Valid && blob.String != "" {
			if err := json.Unmarshal([]byte(blob.String), &meta.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", table, err)
			}
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// Count returns the number of rows a tenant has in table.
func (s *SQLStore) Count(ctx context.Context, table string, tenant types.Tenant) (int64, error) {
	if err := checkIdentifier(table); err != nil {
		return 0, err
	}
	d := s.dialect
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ?",
		d.Quote(table), d.Quote("company_id"), d.Quote("division_id"))

	var n int64
	if err := s.db.QueryRowContext(ctx, query, tenant.CompanyID, tenant.DivisionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// List returns a page of a tenant's rows in insertion order.
func (s *SQLStore) List(ctx context.Context, table string, tenant types.Tenant, limit, offset int) ([]map[string]any, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	d := s.dialect
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? AND %s = ? ORDER BY %s LIMIT ? OFFSET ?",
		d.Quote(table), d.Quote("company_id"), d.Quote("division_id"), d.Quote("id"))

	rows, err := s.db.QueryContext(ctx, query, tenant.CompanyID, tenant.DivisionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// asTime converts a scanned DATETIME value. MySQL without parseTime returns
// bytes, SQLite returns time.Time for DATETIME columns.
func asTime(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
