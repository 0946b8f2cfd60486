package store

import (
	"fmt"
	"strings"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// Dialect isolates the SQL that differs between drivers.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string

	// Quote quotes a validated identifier.
	Quote(ident string) string

	// Upsert returns an INSERT for rows×len(columns) placeholders that
	// overwrites every column not in keys when the key already exists.
	Upsert(table string, columns, keys []string, rows int) string

	// ColumnType maps a field type to a column type. Key columns must be
	// indexable.
	ColumnType(t types.FieldType, key bool) string

	// AutoIncrementPK is the surrogate id column definition.
	AutoIncrementPK() string
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return sqliteDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func placeholders(columns, rows int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?,", columns), ",") + ")"
	return strings.TrimSuffix(strings.Repeat(row+",", rows), ",")
}

func quoteAll(d Dialect, idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = d.Quote(id)
	}
	return out
}

func isKey(col string, keys []string) bool {
	for _, k := range keys {
		if col == k {
			return true
		}
	}
	return false
}

// =============================================================================
// SQLITE
// =============================================================================

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) Quote(ident string) string { return `"` + ident + `"` }

func (d sqliteDialect) Upsert(table string, columns, keys []string, rows int) string {
	var set []string
	for _, c := range columns {
		if !isKey(c, keys) {
			set = append(set, d.Quote(c)+" = excluded."+d.Quote(c))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES %s ON CONFLICT(%s)",
		d.Quote(table),
		strings.Join(quoteAll(d, columns), ", "),
		placeholders(len(columns), rows),
		strings.Join(quoteAll(d, keys), ", "),
	)
	if len(set) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(set, ", "))
	}
	return b.String()
}

func (sqliteDialect) ColumnType(t types.FieldType, _ bool) string {
	switch t {
	case types.FieldLogical:
		return "BOOLEAN"
	case types.FieldDate:
		return "DATE"
	case types.FieldAmount:
		return "DECIMAL(17,2)"
	case types.FieldQuantity, types.FieldRate:
		return "DECIMAL(17,6)"
	case types.FieldNumber:
		return "DECIMAL(17,4)"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) AutoIncrementPK() string { return `"id" INTEGER PRIMARY KEY AUTOINCREMENT` }

// =============================================================================
// MYSQL
// =============================================================================

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Quote(ident string) string { return "`" + ident + "`" }

func (d mysqlDialect) Upsert(table string, columns, keys []string, rows int) string {
	var set []string
	for _, c := range columns {
		if !isKey(c, keys) {
			set = append(set, d.Quote(c)+" = VALUES("+d.Quote(c)+")")
		}
	}
	if len(set) == 0 {
		// MySQL has no DO NOTHING; a self-assignment is the no-op form.
		set = append(set, d.Quote(keys[0])+" = "+d.Quote(keys[0]))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		d.Quote(table),
		strings.Join(quoteAll(d, columns), ", "),
		placeholders(len(columns), rows),
		strings.Join(set, ", "),
	)
}

func (mysqlDialect) ColumnType(t types.FieldType, key bool) string {
	if key {
		return "VARCHAR(191)"
	}
	switch t {
	case types.FieldLogical:
		return "BOOLEAN"
	case types.FieldDate:
		return "DATE"
	case types.FieldAmount:
		return "DECIMAL(17,2)"
	case types.FieldQuantity, types.FieldRate:
		return "DECIMAL(17,6)"
	case types.FieldNumber:
		return "DECIMAL(17,4)"
	default:
		return "TEXT"
	}
}

func (mysqlDialect) AutoIncrementPK() string { return "`id` BIGINT AUTO_INCREMENT PRIMARY KEY" }
