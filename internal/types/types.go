// =============================================================================
// Tally Sync - Shared Types
// =============================================================================
//
// This package contains the types shared by the extraction pipeline so that
// the request builder, normalizer, transformer, store and sync orchestrator
// can exchange data without import cycles. Types defined here are used by:
//   - config / xlsxparser / validation (TableSpec loading)
//   - tdl (request generation)
//   - normalizer / transform (record extraction and coercion)
//   - store / cursor / syncer (persistence and change tracking)
//
// =============================================================================

package types

import (
	"strings"
	"time"
)

// =============================================================================
// FIELD TYPES
// =============================================================================

// FieldType is the declared type of a single exported field. The string
// values are part of the table configuration file format and must match
// exactly.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldLogical  FieldType = "logical"
	FieldDate     FieldType = "date"
	FieldNumber   FieldType = "number"
	FieldAmount   FieldType = "amount"
	FieldQuantity FieldType = "quantity"
	FieldRate     FieldType = "rate"
)

// FieldTypes lists every recognised field type in declaration order.
var FieldTypes = []FieldType{
	FieldText, FieldLogical, FieldDate, FieldNumber, FieldAmount, FieldQuantity, FieldRate,
}

// Valid reports whether t is one of the recognised field types.
func (t FieldType) Valid() bool {
	for _, known := range FieldTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Numeric reports whether values of this type coerce to a number.
func (t FieldType) Numeric() bool {
	switch t {
	case FieldNumber, FieldAmount, FieldQuantity, FieldRate:
		return true
	}
	return false
}

// =============================================================================
// TABLE SPECIFICATION
// =============================================================================

// Category separates master data from transaction data. Each category has its
// own change-tracking cursor in the source system.
type Category string

const (
	CategoryMaster      Category = "master"
	CategoryTransaction Category = "transaction"
)

// FieldSpec describes one column of a synchronised table.
type FieldSpec struct {
	// Name is the target column name.
	Name string `yaml:"name" json:"name"`

	// Field is the source attribute or expression. A plain identifier such as
	// "Name" or "..Guid" is wrapped in a type-specific export expression; any
	// other value is sent to the source system verbatim.
	Field string `yaml:"field" json:"field"`

	// Type controls both the export expression and the coercion applied to
	// the returned value.
	Type FieldType `yaml:"type" json:"type"`
}

// TableSpec is the declarative description of one synchronisable entity
// category. It is loaded once at start-up and never mutated afterwards.
type TableSpec struct {
	// Name is the target table name.
	Name string `yaml:"name" json:"name"`

	// Collection is the dot-separated source collection path, for example
	// "Voucher.AllLedgerEntries". The first segment is the collection type.
	Collection string `yaml:"collection" json:"collection"`

	Fields  []FieldSpec `yaml:"fields" json:"fields"`
	Filters []string    `yaml:"filters,omitempty" json:"filters,omitempty"`
	Fetch   []string    `yaml:"fetch,omitempty" json:"fetch,omitempty"`

	// Category is set from the section of the configuration file the table
	// was declared in.
	Category Category `yaml:"-" json:"category"`

	// Tag is the entity element name used when the source answers in the
	// message-envelope form (for example LEDGER or VOUCHER).
	Tag string `yaml:"tag,omitempty" json:"tag,omitempty"`

	// Report is an optional predefined report identifier. When set, the table
	// is requested with a minimal report envelope instead of an inline TDL
	// definition.
	Report string `yaml:"report,omitempty" json:"report,omitempty"`

	// Parent names the table whose rows this table's rows reference through
	// voucher_guid. Detail tables are synchronised after their parent.
	Parent string `yaml:"parent,omitempty" json:"parent,omitempty"`

	// Key is the column every extracted row must carry. Defaults to "guid".
	Key string `yaml:"key,omitempty" json:"key,omitempty"`

	// DeriveGUID builds the guid column from Key plus the row's position
	// within its key group. Used for detail rows that have no identifier of
	// their own in the source system.
	DeriveGUID bool `yaml:"derive_guid,omitempty" json:"derive_guid,omitempty"`

	// Priority orders master tables; lower values synchronise first.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// KeyColumn returns the column that identifies a usable row.
func (s TableSpec) KeyColumn() string {
	if s.Key != "" {
		return s.Key
	}
	return "guid"
}

// Columns returns the target column names in declaration order.
func (s TableSpec) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// EntityTag returns the element name used for this table in
// message-envelope responses, defaulting to the upper-cased last collection
// segment.
func (s TableSpec) EntityTag() string {
	if s.Tag != "" {
		return s.Tag
	}
	parts := strings.Split(s.Collection, ".")
	return strings.ToUpper(parts[len(parts)-1])
}

// =============================================================================
// RECORDS
// =============================================================================

// RawRecord maps a source tag (or delimited column name) to its raw string.
type RawRecord map[string]string

// NormalizedRecord maps a target column to a typed value: string, bool,
// float64 or nil.
type NormalizedRecord map[string]any

// GUID returns the record's guid column as a string, or "" when missing.
func (r NormalizedRecord) GUID() string {
	s, _ := r["guid"].(string)
	return strings.TrimSpace(s)
}

// =============================================================================
// SYNC STATE
// =============================================================================

// SyncType is the kind of pass performed for a table.
type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// Tenant scopes every stored row and every cursor.
type Tenant struct {
	CompanyID  string `json:"company_id"`
	DivisionID string `json:"division_id"`
}

// Key returns a stable identifier for per-tenant isolation.
func (t Tenant) Key() string {
	return t.CompanyID + "/" + t.DivisionID
}

// SyncMetadata is the per (company, division, table) record written after
// every sync attempt.
type SyncMetadata struct {
	CompanyID        string         `json:"company_id"`
	DivisionID       string         `json:"division_id"`
	TableName        string         `json:"table_name"`
	LastSync         time.Time      `json:"last_sync"`
	SyncType         SyncType       `json:"sync_type"`
	RecordsProcessed int            `json:"records_processed"`
	RecordsFailed    int            `json:"records_failed"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ChangeCursor holds the source system's change ids for each category.
type ChangeCursor struct {
	Master      int64 `json:"master"`
	Transaction int64 `json:"transaction"`
}

// For returns the cursor value for a category.
func (c ChangeCursor) For(cat Category) int64 {
	if cat == CategoryTransaction {
		return c.Transaction
	}
	return c.Master
}
