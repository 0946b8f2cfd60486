// =============================================================================
// Tally Sync - Sync Orchestrator
// =============================================================================
//
// The syncer runs one sync pass for one tenant (company + division).
//
// SYNC PIPELINE (per table):
//   1. Build the export request from the table spec
//   2. Post it to the source system
//   3. Classify and extract the response
//   4. Coerce raw values to typed columns
//   5. Derive guids for detail rows
//   6. Upsert in batches and record sync metadata
//
// ORDERING:
//   Master tables run first, in priority order, with bounded parallelism;
//   they share no change-id state. Transaction tables run one at a time and
//   every detail table runs after its parent. A failed parent skips its
//   details.
//
// CONCURRENCY:
//   Runs for different tenants proceed independently. A second run for a
//   tenant that is already syncing is refused with ErrBusy.
//
// =============================================================================

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/tally-sync/internal/cursor"
	"github.com/ginjaninja78/tally-sync/internal/logging"
	"github.com/ginjaninja78/tally-sync/internal/store"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when the tenant already has a run in progress.
	ErrBusy = errors.New("sync already running for tenant")

	// ErrNoTableSpec is reported for a requested table with no configuration.
	ErrNoTableSpec = errors.New("no table spec configured")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Mode selects how categories are chosen for a run.
type Mode string

const (
	// ModeAuto compares change ids and pulls only what changed.
	ModeAuto Mode = "auto"

	// ModeFull re-exports every requested table.
	ModeFull Mode = "full"

	// ModeIncremental pulls everything changed since the last recorded
	// cursor without consulting the current one first.
	ModeIncremental Mode = "incremental"
)

// ParseMode accepts "", "auto", "full" and "incremental".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeFull:
		return ModeFull, nil
	case ModeIncremental:
		return ModeIncremental, nil
	}
	return "", fmt.Errorf("unknown sync mode %q", s)
}

// Config tunes a Syncer.
type Config struct {
	// Company is the source company name requests are scoped to.
	Company string

	// MaxConcurrency bounds parallel master-table syncs. Values below 1
	// mean sequential.
	MaxConcurrency int

	// Timeout bounds one export call.
	Timeout time.Duration

	// FullSyncTimeout bounds a full export of a transaction table.
	FullSyncTimeout time.Duration

	// LegacyCursor syncs a category whenever its change id is nonzero.
	LegacyCursor bool
}

// Request is one sync invocation.
type Request struct {
	Tenant types.Tenant
	Mode   Mode

	// Tables restricts the run to the named tables. Empty means all.
	Tables []string

	// From and To bound transaction exports. Zero values are not sent.
	From time.Time
	To   time.Time
}

// =============================================================================
// SYNCER
// =============================================================================

// Syncer coordinates source, cursor and store for sync runs.
type Syncer struct {
	source       cursor.Source
	engine       *store.Engine
	meta         store.MetadataReader
	coord        *cursor.Coordinator
	masters      []types.TableSpec
	transactions []types.TableSpec
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time

	// locks holds one *sync.Mutex per tenant key.
	locks sync.Map
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the syncer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithClock overrides the time source used for summaries.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// New creates a Syncer.
//
// PARAMETERS:
//   - source: the source system client
//   - engine: batch upsert engine over the target store
//   - meta: reader for the metadata the engine writes
//   - tables: every configured table; Category decides its phase
//   - cfg: company scope, timeouts and concurrency
func New(source cursor.Source, engine *store.Engine, meta store.MetadataReader, tables []types.TableSpec, cfg Config, opts ...Option) *Syncer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FullSyncTimeout <= 0 {
		cfg.FullSyncTimeout = 120 * time.Second
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}

	s := &Syncer{
		source: source,
		engine: engine,
		meta:   meta,
		cfg:    cfg,
		logger: logging.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coord = cursor.New(source, meta, cfg.Company,
		cursor.WithLegacyCompare(cfg.LegacyCursor),
		cursor.WithLogger(s.logger),
	)

	for _, t := range tables {
		if t.Category == types.CategoryTransaction {
			s.transactions = append(s.transactions, t)
		} else {
			s.masters = append(s.masters, t)
		}
	}
	sort.SliceStable(s.masters, func(i, j int) bool {
		return s.masters[i].Priority < s.masters[j].Priority
	})
	s.transactions = orderByParent(s.transactions)
	return s
}

// Tables returns every configured table in run order.
func (s *Syncer) Tables() []types.TableSpec {
	out := make([]types.TableSpec, 0, len(s.masters)+len(s.transactions))
	out = append(out, s.masters...)
	return append(out, s.transactions...)
}

// Table looks up a configured table by name.
func (s *Syncer) Table(name string) (types.TableSpec, bool) {
	for _, t := range s.Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return types.TableSpec{}, false
}

// Coordinator exposes the change-id coordinator.
func (s *Syncer) Coordinator() *cursor.Coordinator { return s.coord }

func (s *Syncer) lock(tenant types.Tenant) (func(), bool) {
	v, _ := s.locks.LoadOrStore(tenant.Key(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

// =============================================================================
// RUN
// =============================================================================

// Run performs one sync pass. The Summary is always populated; the error is
// non-nil only when the run could not start at all.
func (s *Syncer) Run(ctx context.Context, req Request) (Summary, error) {
	sum := Summary{
		RunID:     uuid.NewString(),
		Tenant:    req.Tenant,
		Mode:      req.Mode,
		StartedAt: s.now(),
	}
	if sum.Mode == "" {
		sum.Mode = ModeAuto
	}

	unlock, ok := s.lock(req.Tenant)
	if !ok {
		sum.Errors = append(sum.Errors, ErrBusy.Error())
		sum.FinishedAt = s.now()
		return sum, ErrBusy
	}
	defer unlock()

	logger := s.logger.With("run_id", sum.RunID, "tenant", req.Tenant.Key())
	logger.Info("sync started", "mode", sum.Mode)

	masters, transactions, missing := s.selectTables(req.Tables)
	for _, name := range missing {
		sum.add(TableResult{
			Name:   name,
			Status: StatusFailed,
			Error:  fmt.Sprintf("%v for %q", ErrNoTableSpec, name),
		})
	}

	selected := append(append([]types.TableSpec{}, masters...), transactions...)
	plans, prev := s.plan(ctx, req, selected, &sum, logger)

	// =========================================================================
	// PHASE 1: MASTERS
	// =========================================================================

	results := make([]TableResult, len(masters))
	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for i, spec := range masters {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.syncTable(ctx, req, spec, plans[spec.Category], prev[spec.Name], sum.RunID, logger)
		}()
	}
	wg.Wait()
	for _, r := range results {
		sum.add(r)
	}

	// =========================================================================
	// PHASE 2: TRANSACTIONS
	// =========================================================================

	status := make(map[string]Status, len(transactions))
	for _, spec := range transactions {
		if parent, ok := status[spec.Parent]; ok && spec.Parent != "" && parent == StatusFailed {
			r := TableResult{
				Name:     spec.Name,
				Category: spec.Category,
				Status:   StatusSkipped,
				Reason:   fmt.Sprintf("parent table %s failed", spec.Parent),
			}
			status[spec.Name] = StatusFailed
			sum.add(r)
			continue
		}
		r := s.syncTable(ctx, req, spec, plans[spec.Category], prev[spec.Name], sum.RunID, logger)
		status[spec.Name] = r.Status
		sum.add(r)
	}

	sum.FinishedAt = s.now()
	logger.Info("sync finished",
		"status", sum.Status(),
		"processed", sum.Processed,
		"failed", sum.Failed,
		"duration", sum.Duration(),
	)
	return sum, nil
}

// selectTables splits the requested names into masters and transactions in
// run order, and reports names with no configuration.
func (s *Syncer) selectTables(names []string) (masters, transactions []types.TableSpec, missing []string) {
	if len(names) == 0 {
		return s.masters, s.transactions, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := s.Table(n); !ok {
			missing = append(missing, n)
			continue
		}
		want[n] = true
	}
	for _, t := range s.masters {
		if want[t.Name] {
			masters = append(masters, t)
		}
	}
	for _, t := range s.transactions {
		if want[t.Name] {
			transactions = append(transactions, t)
		}
	}
	return masters, transactions, missing
}

// orderByParent puts every table after the table it names as Parent,
// keeping declaration order otherwise. Tables whose parent is absent are
// treated as roots; a cycle falls back to declaration order.
func orderByParent(specs []types.TableSpec) []types.TableSpec {
	present := make(map[string]bool, len(specs))
	for _, t := range specs {
		present[t.Name] = true
	}

	placed := make(map[string]bool, len(specs))
	out := make([]types.TableSpec, 0, len(specs))
	for len(out) < len(specs) {
		progress := false
		for _, t := range specs {
			if placed[t.Name] {
				continue
			}
			if t.Parent == "" || !present[t.Parent] || placed[t.Parent] {
				out = append(out, t)
				placed[t.Name] = true
				progress = true
			}
		}
		if !progress {
			for _, t := range specs {
				if !placed[t.Name] {
					out = append(out, t)
					placed[t.Name] = true
				}
			}
		}
	}
	return out
}
