package syncer

import (
	"context"
	"log/slog"

	"github.com/ginjaninja78/tally-sync/internal/cursor"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// categoryPlan says how every table of one category is pulled in a run.
type categoryPlan struct {
	run      bool
	reason   string
	syncType types.SyncType

	// since is the change id exports are filtered from; 0 pulls everything.
	since int64

	// current is stamped into metadata after a clean table sync when
	// haveCurrent is set.
	current     int64
	haveCurrent bool
}

// plan fetches and loads cursors and decides what each category does. It
// returns the plans and the previous metadata row of every table.
func (s *Syncer) plan(ctx context.Context, req Request, specs []types.TableSpec, sum *Summary, logger *slog.Logger) (map[types.Category]categoryPlan, map[string]types.SyncMetadata) {
	prev := make(map[string]types.SyncMetadata)
	rows, err := s.meta.LoadMetadata(ctx, req.Tenant)
	if err != nil {
		logger.Warn("could not load previous sync metadata", "error", err)
		sum.Errors = append(sum.Errors, "load cursor: "+err.Error())
	}
	for _, m := range rows {
		prev[m.TableName] = m
	}
	sum.Last = cursor.Min(rows, specs)

	current, fetchErr := s.coord.Fetch(ctx)
	if fetchErr != nil {
		logger.Warn("could not fetch change ids", "error", fetchErr)
		sum.Errors = append(sum.Errors, "fetch cursor: "+fetchErr.Error())
	} else {
		sum.Current = current
	}

	mode := sum.Mode
	switch {
	case mode == ModeAuto && fetchErr == nil:
		sum.Decision = s.coord.Decide(current, sum.Last)
	default:
		// Without a current cursor, or when forced, every category runs.
		sum.Decision = cursor.Decision{Master: true, Transaction: true}
	}

	plans := make(map[types.Category]categoryPlan, 2)
	for _, cat := range []types.Category{types.CategoryMaster, types.CategoryTransaction} {
		p := categoryPlan{
			run:         sum.Decision.For(cat),
			syncType:    types.SyncFull,
			current:     current.For(cat),
			haveCurrent: fetchErr == nil,
		}
		if !p.run {
			p.reason = "no changes since last sync"
		}
		if mode != ModeFull && fetchErr == nil || mode == ModeIncremental {
			if last := sum.Last.For(cat); last > 0 {
				p.since = last
				p.syncType = types.SyncIncremental
			}
		}
		plans[cat] = p
	}
	return plans, prev
}
