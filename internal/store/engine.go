package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/logging"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// DefaultBatchSize is the number of records written per transaction.
const DefaultBatchSize = 100

// SourceTally is stamped into the source column of every synced row.
const SourceTally = "tally"

// Engine drives a Writer: it enriches records with tenant and sync
// columns, rejects rows without a guid, writes fixed-size batches with a
// retry policy and records one metadata row per table at the end.
type Engine struct {
	writer       Writer
	batchSize    int
	retry        RetryPolicy
	writeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBatchSize sets the number of records per batch.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) {
		e.retry = p
	}
}

// WithWriteTimeout bounds each batch write, including retries.
func WithWriteTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.writeTimeout = d
	}
}

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithEngineClock overrides the time source for sync_timestamp.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine over w.
func NewEngine(w Writer, opts ...EngineOption) *Engine {
	e := &Engine{
		writer:       w,
		batchSize:    DefaultBatchSize,
		retry:        DefaultRetryPolicy(),
		writeTimeout: 2 * time.Minute,
		logger:       logging.Discard(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpsertRequest is one table's worth of records for one tenant.
type UpsertRequest struct {
	Table    string
	Tenant   types.Tenant
	SyncType types.SyncType
	Records  []types.NormalizedRecord

	// Metadata is merged into the stored metadata blob.
	Metadata map[string]any

	// CleanMetadata is merged over Metadata only when every record was
	// written and the run was not canceled.
	CleanMetadata map[string]any
}

// UpsertResult reports what happened to a request's records.
type UpsertResult struct {
	Processed     int      `json:"processed"`
	Failed        int      `json:"failed"`
	Rejected      int      `json:"rejected"`
	Skipped       int      `json:"skipped"`
	Batches       int      `json:"batches"`
	FailedBatches int      `json:"failed_batches"`
	Canceled      bool     `json:"canceled"`
	Errors        []string `json:"errors,omitempty"`
}

// Clean reports whether every record was written.
func (r UpsertResult) Clean() bool {
	return r.Failed == 0 && !r.Canceled
}

// Upsert writes req.Records and then the table's metadata row.
//
// PARAMETERS:
//   - ctx: cancellation stops new batches from starting; a batch already
//     being written runs to completion and metadata is still recorded
//   - req: table, tenant and records
//
// RETURNS:
//   - UpsertResult: per-record accounting; failed batches do not abort
//     later batches
//   - error: only when the metadata row could not be written
func (e *Engine) Upsert(ctx context.Context, req UpsertRequest) (UpsertResult, error) {
	var res UpsertResult
	syncedAt := e.now()

	valid := make([]types.NormalizedRecord, 0, len(req.Records))
	for _, rec := range req.Records {
		if rec.GUID() == "" {
			res.Rejected++
			continue
		}
		valid = append(valid, e.enrich(rec, req.Tenant, syncedAt))
	}
	if res.Rejected > 0 {
		res.Failed += res.Rejected
		res.Errors = append(res.Errors, fmt.Sprintf("%d records rejected: missing guid", res.Rejected))
		e.logger.Warn("records without guid rejected", "table", req.Table, "count", res.Rejected)
	}

	for start := 0; start < len(valid); start += e.batchSize {
		end := min(start+e.batchSize, len(valid))
		batch := valid[start:end]

		if ctx.Err() != nil {
			remaining := len(valid) - start
			res.Canceled = true
			res.Skipped += remaining
			res.Failed += remaining
			res.Errors = append(res.Errors, fmt.Sprintf("canceled before writing %d records", remaining))
			break
		}

		res.Batches++
		attempts, err := e.writeBatch(ctx, req, batch)
		if err != nil {
			res.FailedBatches++
			res.Failed += len(batch)
			res.Errors = append(res.Errors, fmt.Sprintf("batch %d (%d records): %v", res.Batches, len(batch), err))
			e.logger.Error("batch write failed",
				"table", req.Table,
				"batch", res.Batches,
				"records", len(batch),
				"attempts", attempts,
				"error", err,
			)
			continue
		}
		res.Processed += len(batch)
	}

	meta := types.SyncMetadata{
		CompanyID:        req.Tenant.CompanyID,
		DivisionID:       req.Tenant.DivisionID,
		TableName:        req.Table,
		LastSync:         syncedAt,
		SyncType:         req.SyncType,
		RecordsProcessed: res.Processed,
		RecordsFailed:    res.Failed,
		Metadata:         e.metadataBlob(req, res),
	}

	mctx, cancel := e.detached(ctx)
	defer cancel()
	if err := e.writer.SaveMetadata(mctx, meta); err != nil {
		return res, fmt.Errorf("failed to record sync metadata for %s: %w", req.Table, err)
	}

	e.logger.Info("table upsert complete",
		"table", req.Table,
		"tenant", req.Tenant.Key(),
		"processed", res.Processed,
		"failed", res.Failed,
		"batches", res.Batches,
	)
	return res, nil
}

// writeBatch runs one batch detached from the caller's cancellation so an
// in-flight write is never abandoned halfway.
func (e *Engine) writeBatch(ctx context.Context, req UpsertRequest, batch []types.NormalizedRecord) (int, error) {
	wctx, cancel := e.detached(ctx)
	defer cancel()
	return e.retry.Do(wctx, func(c context.Context) error {
		return e.writer.UpsertBatch(c, req.Table, req.Tenant, batch)
	})
}

func (e *Engine) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if e.writeTimeout > 0 {
		return context.WithTimeout(base, e.writeTimeout)
	}
	return context.WithCancel(base)
}

func (e *Engine) enrich(rec types.NormalizedRecord, tenant types.Tenant, at time.Time) types.NormalizedRecord {
	out := make(types.NormalizedRecord, len(rec)+4)
	for k, v := range rec {
		out[k] = v
	}
	out["company_id"] = tenant.CompanyID
	out["division_id"] = tenant.DivisionID
	out["sync_timestamp"] = at
	out["source"] = SourceTally
	return out
}

func (e *Engine) metadataBlob(req UpsertRequest, res UpsertResult) map[string]any {
	blob := make(map[string]any, len(req.Metadata)+len(req.CleanMetadata)+4)
	for k, v := range req.Metadata {
		blob[k] = v
	}
	if res.Clean() {
		for k, v := range req.CleanMetadata {
			blob[k] = v
		}
	}
	blob["batches"] = res.Batches
	blob["failed_batches"] = res.FailedBatches
	if res.Rejected > 0 {
		blob["rejected"] = res.Rejected
	}
	if res.Canceled {
		blob["canceled"] = true
	}
	return blob
}
