// Package cursor tracks the source system's change ids. The source keeps one
// monotonically increasing alter id for masters and one for vouchers; a sync
// pass compares the current pair with the pair recorded after the last
// clean pass to decide which categories need an incremental pull.
package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ginjaninja78/tally-sync/internal/logging"
	"github.com/ginjaninja78/tally-sync/internal/store"
	"github.com/ginjaninja78/tally-sync/internal/tdl"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// Metadata blob keys holding the last cursor value per category.
const (
	KeyMaster      = "last_alter_id_master"
	KeyTransaction = "last_alter_id_transaction"
)

// MetadataKey returns the blob key for a category.
func MetadataKey(cat types.Category) string {
	if cat == types.CategoryTransaction {
		return KeyTransaction
	}
	return KeyMaster
}

// Source posts a request document and returns the response text.
type Source interface {
	Post(ctx context.Context, body string) (string, error)
}

// Decision says which categories need syncing.
type Decision struct {
	Master      bool `json:"master"`
	Transaction bool `json:"transaction"`
}

// For returns the decision for a category.
func (d Decision) For(cat types.Category) bool {
	if cat == types.CategoryTransaction {
		return d.Transaction
	}
	return d.Master
}

// Coordinator fetches, loads and compares cursors for one company.
type Coordinator struct {
	source  Source
	meta    store.MetadataReader
	company string
	legacy  bool
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLegacyCompare switches Decide to the coarse "any activity" rule: a
// category is synced whenever its current id is nonzero, regardless of
// what was synced before.
func WithLegacyCompare(legacy bool) Option {
	return func(c *Coordinator) {
		c.legacy = legacy
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// New creates a Coordinator. company is the source company name the
// change-id request is scoped to.
func New(source Source, meta store.MetadataReader, company string, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:  source,
		meta:    meta,
		company: company,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch asks the source system for its current change-id pair.
func (c *Coordinator) Fetch(ctx context.Context) (types.ChangeCursor, error) {
	resp, err := c.source.Post(ctx, tdl.BuildChangeIDRequest(c.company))
	if err != nil {
		return types.ChangeCursor{}, fmt.Errorf("failed to fetch change ids: %w", err)
	}
	cur := ParseCursor(resp)
	c.logger.Debug("fetched change ids", "master", cur.Master, "transaction", cur.Transaction)
	return cur, nil
}

// ParseCursor reads a comma-delimited `"master","transaction"` line. The
// first non-empty line is used; missing or non-numeric values become 0.
func ParseCursor(s string) types.ChangeCursor {
	var line string
	for _, l := range strings.Split(strings.ReplaceAll(s, "\r", "\n"), "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}

	parts := strings.Split(line, ",")
	value := func(i int) int64 {
		if i >= len(parts) {
			return 0
		}
		v := strings.Trim(strings.TrimSpace(parts[i]), `"`)
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return types.ChangeCursor{Master: value(0), Transaction: value(1)}
}

// Load returns the last persisted cursor pair of a tenant.
func (c *Coordinator) Load(ctx context.Context, tenant types.Tenant, specs []types.TableSpec) (types.ChangeCursor, error) {
	rows, err := c.meta.LoadMetadata(ctx, tenant)
	if err != nil {
		return types.ChangeCursor{}, fmt.Errorf("failed to load cursor for %s: %w", tenant.Key(), err)
	}
	return Min(rows, specs), nil
}

// Min folds metadata rows into a cursor pair. Within a category the smallest
// value recorded across that category's tables wins, so a table that has
// never completed cleanly (value 0) keeps the whole category due for a sync.
func Min(rows []types.SyncMetadata, specs []types.TableSpec) types.ChangeCursor {
	byTable := make(map[string]types.SyncMetadata, len(rows))
	for _, m := range rows {
		byTable[m.TableName] = m
	}

	var (
		out  types.ChangeCursor
		seen = map[types.Category]bool{}
	)
	for _, spec := range specs {
		v := Since(byTable[spec.Name], spec.Category)
		switch spec.Category {
		case types.CategoryTransaction:
			if !seen[spec.Category] || v < out.Transaction {
				out.Transaction = v
			}
		default:
			if !seen[spec.Category] || v < out.Master {
				out.Master = v
			}
		}
		seen[spec.Category] = true
	}
	return out
}

// Decide reports whether a category with current id current needs a sync
// given the last recorded id.
func Decide(current, last int64, legacy bool) bool {
	if legacy {
		return current > 0
	}
	return current > last
}

// Decide applies the coordinator's comparison rule to both categories.
func (c *Coordinator) Decide(current, last types.ChangeCursor) Decision {
	return Decision{
		Master:      Decide(current.Master, last.Master, c.legacy),
		Transaction: Decide(current.Transaction, last.Transaction, c.legacy),
	}
}

// Since returns the cursor recorded in meta for a category, or 0.
func Since(meta types.SyncMetadata, cat types.Category) int64 {
	return toInt64(meta.Metadata[MetadataKey(cat)])
}

// Stamp returns a copy of blob with the category's cursor set to value.
func Stamp(blob map[string]any, cat types.Category, value int64) map[string]any {
	out := make(map[string]any, len(blob)+1)
	for k, v := range blob {
		out[k] = v
	}
	out[MetadataKey(cat)] = value
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i
	}
	return 0
}
