package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/cursor"
	"github.com/ginjaninja78/tally-sync/internal/normalizer"
	"github.com/ginjaninja78/tally-sync/internal/store"
	"github.com/ginjaninja78/tally-sync/internal/tdl"
	"github.com/ginjaninja78/tally-sync/internal/transform"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// syncTable runs the per-table pipeline. It never returns an error; every
// failure is reported in the TableResult.
func (s *Syncer) syncTable(ctx context.Context, req Request, spec types.TableSpec, plan categoryPlan, prev types.SyncMetadata, runID string, logger *slog.Logger) TableResult {
	start := time.Now()

	// Predefined reports cannot be filtered by change id, so they always
	// export everything.
	since, syncType := plan.since, plan.syncType
	if spec.Report != "" {
		since, syncType = 0, types.SyncFull
	}

	res := TableResult{
		Name:     spec.Name,
		Category: spec.Category,
		SyncType: syncType,
		Since:    since,
	}
	logger = logger.With("table", spec.Name)

	switch {
	case !plan.run:
		res.Status = StatusSkipped
		res.Reason = plan.reason
		return res
	case ctx.Err() != nil:
		res.Status = StatusSkipped
		res.Reason = "run canceled"
		return res
	}

	fail := func(msg string, err error) TableResult {
		logger.Error(msg, "error", err)
		res.Status = StatusFailed
		res.Error = msg + ": " + err.Error()
		res.Duration = time.Since(start)
		return res
	}

	// =========================================================================
	// STEP 1: BUILD REQUEST
	// =========================================================================

	params := tdl.Params{Company: s.cfg.Company}
	if spec.Category == types.CategoryTransaction {
		params.FromDate = req.From
		params.ToDate = req.To
	}
	if since > 0 {
		params.Since = &tdl.Since{After: since}
	}

	body, err := tdl.ForTable(spec, params)
	if err != nil {
		return fail("failed to build request", err)
	}

	// =========================================================================
	// STEP 2: POST TO SOURCE
	// =========================================================================

	timeout := s.cfg.Timeout
	if spec.Category == types.CategoryTransaction && since == 0 {
		timeout = s.cfg.FullSyncTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := s.source.Post(pctx, body)
	cancel()
	if err != nil {
		return fail("export request failed", err)
	}

	// =========================================================================
	// STEP 3: EXTRACT
	// =========================================================================

	ext := normalizer.Extract(resp, normalizer.TargetFor(spec))
	res.Shape = ext.Shape
	res.Extracted = len(ext.Records)
	res.Discarded = ext.Discarded
	res.Diagnostic = ext.Diagnostic

	extractedCleanly := ext.Shape != normalizer.ShapeUnknown || ext.Empty
	if !extractedCleanly {
		logger.Warn("unrecognized response", "diagnostic", ext.Diagnostic)
	}
	if ext.Discarded > 0 {
		logger.Warn("rows without key discarded", "key", spec.KeyColumn(), "count", ext.Discarded)
	}

	// =========================================================================
	// STEP 4: TRANSFORM
	// =========================================================================

	tr := transform.New(spec, transform.Options{MissingAsNull: ext.Shape == normalizer.ShapeDelimited})
	records := tr.TransformAll(ext.Records)
	res.Defaulted = tr.Stats.Defaulted + tr.Stats.RejectedDates

	// =========================================================================
	// STEP 5: DERIVE GUIDS
	// =========================================================================

	if spec.DeriveGUID {
		DeriveGUIDs(spec, records)
	}

	// =========================================================================
	// STEP 6: UPSERT
	// =========================================================================

	blob := map[string]any{
		"run_id":    runID,
		"shape":     ext.Shape.String(),
		"extracted": res.Extracted,
		"discarded": ext.Discarded,
		"defaulted": tr.Stats.Defaulted,
	}
	if tr.Stats.RejectedDates > 0 {
		blob["rejected_dates"] = tr.Stats.RejectedDates
	}
	if since > 0 {
		blob["since"] = since
	}
	// Keep the last good cursor unless this pass completes cleanly.
	if last := cursor.Since(prev, spec.Category); last > 0 {
		blob = cursor.Stamp(blob, spec.Category, last)
	}
	var clean map[string]any
	if plan.haveCurrent && extractedCleanly {
		clean = cursor.Stamp(nil, spec.Category, plan.current)
	}

	up, err := s.engine.Upsert(ctx, store.UpsertRequest{
		Table:         spec.Name,
		Tenant:        req.Tenant,
		SyncType:      syncType,
		Records:       records,
		Metadata:      blob,
		CleanMetadata: clean,
	})
	res.Processed = up.Processed
	res.Failed = up.Failed
	res.Duration = time.Since(start)
	if err != nil {
		return fail("failed to record metadata", err)
	}

	switch {
	case !extractedCleanly && len(ext.Records) == 0:
		res.Status = StatusFailed
		res.Error = ext.Diagnostic
	case up.Processed == 0 && up.Failed > 0:
		res.Status = StatusFailed
		res.Error = up.Errors[0]
	case up.Failed > 0 || up.Canceled || !extractedCleanly:
		res.Status = StatusPartial
		if len(up.Errors) > 0 {
			res.Error = up.Errors[0]
		} else if !extractedCleanly {
			res.Error = ext.Diagnostic
		}
	default:
		res.Status = StatusSuccess
	}

	logger.Info("table synced",
		"status", res.Status,
		"shape", res.Shape,
		"extracted", res.Extracted,
		"processed", res.Processed,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res
}
