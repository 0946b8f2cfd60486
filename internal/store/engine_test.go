package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// fakeWriter records calls and fails according to failOn.
type fakeWriter struct {
	mu      sync.Mutex
	batches [][]types.NormalizedRecord
	metas   []types.SyncMetadata
	calls   int
	failOn  func(call int) error
	onWrite func(ctx context.Context)
}

func (f *fakeWriter) UpsertBatch(ctx context.Context, table string, tenant types.Tenant, records []types.NormalizedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onWrite != nil {
		f.onWrite(ctx)
	}
	if f.failOn != nil {
		if err := f.failOn(f.calls); err != nil {
			return err
		}
	}
	f.batches = append(f.batches, records)
	return nil
}

func (f *fakeWriter) SaveMetadata(ctx context.Context, meta types.SyncMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metas = append(f.metas, meta)
	return nil
}

func makeRecords(n int) []types.NormalizedRecord {
	out := make([]types.NormalizedRecord, n)
	for i := range out {
		out[i] = types.NormalizedRecord{"guid": fmt.Sprintf("g%03d", i), "name": fmt.Sprintf("n%d", i)}
	}
	return out
}

func TestEngineBatchesAndMetadata(t *testing.T) {
	w := &fakeWriter{}
	e := NewEngine(w, WithRetryPolicy(NoRetry()))

	res, err := e.Upsert(context.Background(), UpsertRequest{
		Table: "ledgers", Tenant: tenantA, SyncType: types.SyncFull, Records: makeRecords(250),
		Metadata: map[string]any{"last_alter_id_master": int64(7)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Processed != 250 || res.Failed != 0 || res.Batches != 3 || !res.Clean() {
		t.Errorf("result = %+v", res)
	}
	if len(w.batches) != 3 || len(w.batches[0]) != 100 || len(w.batches[2]) != 50 {
		t.Errorf("batch sizes wrong: %d batches", len(w.batches))
	}

	rec := w.batches[0][0]
	if rec["company_id"] != "c1" || rec["division_id"] != "d1" || rec["source"] != SourceTally {
		t.Errorf("record not enriched: %v", rec)
	}
	if _, ok := rec["sync_timestamp"].(time.Time); !ok {
		t.Errorf("sync_timestamp missing: %v", rec)
	}

	if len(w.metas) != 1 {
		t.Fatalf("metadata written %d times, want 1", len(w.metas))
	}
	m := w.metas[0]
	if m.TableName != "ledgers" || m.RecordsProcessed != 250 || m.SyncType != types.SyncFull {
		t.Errorf("metadata = %+v", m)
	}
	if m.Metadata["last_alter_id_master"] != int64(7) || m.Metadata["batches"] != 3 {
		t.Errorf("metadata blob = %v", m.Metadata)
	}
}

func TestEngineRejectsMissingGUID(t *testing.T) {
	w := &fakeWriter{}
	e := NewEngine(w)

	recs := makeRecords(3)
	recs = append(recs, types.NormalizedRecord{"name": "orphan"}, types.NormalizedRecord{"guid": "  "})

	res, err := e.Upsert(context.Background(), UpsertRequest{Table: "t", Tenant: tenantA, Records: recs})
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 3 || res.Rejected != 2 || res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}
	if w.metas[0].RecordsFailed != 2 {
		t.Errorf("records_failed = %d", w.metas[0].RecordsFailed)
	}
}

func TestEngineFailedBatchDoesNotAbort(t *testing.T) {
	w := &fakeWriter{failOn: func(call int) error {
		if call == 2 {
			return errors.New("constraint violation")
		}
		return nil
	}}
	e := NewEngine(w, WithRetryPolicy(DefaultRetryPolicy()))

	res, err := e.Upsert(context.Background(), UpsertRequest{Table: "t", Tenant: tenantA, Records: makeRecords(250)})
	if err != nil {
		t.Fatal(err)
	}
	// Permanent errors are not retried: three calls for three batches.
	if w.calls != 3 {
		t.Errorf("writer called %d times, want 3", w.calls)
	}
	if res.Processed != 150 || res.Failed != 100 || res.FailedBatches != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestEngineCleanMetadataOnlyOnSuccess(t *testing.T) {
	req := UpsertRequest{
		Table: "t", Tenant: tenantA, Records: makeRecords(3),
		Metadata:      map[string]any{"cursor": int64(5)},
		CleanMetadata: map[string]any{"cursor": int64(9)},
	}

	w := &fakeWriter{}
	if _, err := NewEngine(w).Upsert(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if w.metas[0].Metadata["cursor"] != int64(9) {
		t.Errorf("clean run cursor = %v, want 9", w.metas[0].Metadata["cursor"])
	}

	w = &fakeWriter{failOn: func(int) error { return errors.New("permanent") }}
	if _, err := NewEngine(w).Upsert(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if w.metas[0].Metadata["cursor"] != int64(5) {
		t.Errorf("failed run cursor = %v, want 5", w.metas[0].Metadata["cursor"])
	}
}

func TestEngineRetriesTransient(t *testing.T) {
	w := &fakeWriter{failOn: func(call int) error {
		if call == 1 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	}}
	e := NewEngine(w, WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Retryable: IsTransient}))

	res, err := e.Upsert(context.Background(), UpsertRequest{Table: "t", Tenant: tenantA, Records: makeRecords(10)})
	if err != nil {
		t.Fatal(err)
	}
	if w.calls != 2 || res.Processed != 10 || res.Failed != 0 {
		t.Errorf("calls = %d, result = %+v", w.calls, res)
	}
}

func TestEngineCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sawCanceled bool
	w := &fakeWriter{onWrite: func(c context.Context) {
		cancel()
		if c.Err() != nil {
			sawCanceled = true
		}
	}}
	e := NewEngine(w)

	res, err := e.Upsert(ctx, UpsertRequest{Table: "t", Tenant: tenantA, Records: makeRecords(250)})
	if err != nil {
		t.Fatal(err)
	}
	if sawCanceled {
		t.Error("in-flight batch saw the caller's cancellation")
	}
	if !res.Canceled || res.Processed != 100 || res.Skipped != 150 || res.Failed != 150 {
		t.Errorf("result = %+v", res)
	}
	if len(w.metas) != 1 || w.metas[0].Metadata["canceled"] != true {
		t.Errorf("metadata after cancellation = %+v", w.metas)
	}
}

func TestEngineOverSQLStore(t *testing.T) {
	s := openTestStore(t)
	e := NewEngine(s)
	ctx := context.Background()

	res, err := e.Upsert(ctx, UpsertRequest{Table: "groups", Tenant: tenantA, SyncType: types.SyncFull, Records: makeRecords(5)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 5 {
		t.Fatalf("result = %+v", res)
	}

	rows, err := s.List(ctx, "groups", tenantA, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 || rows[0]["source"] != SourceTally {
		t.Errorf("rows = %v", rows)
	}

	metas, err := s.LoadMetadata(ctx, tenantA)
	if err != nil || len(metas) != 1 || metas[0].RecordsProcessed != 5 {
		t.Errorf("metadata = %+v, %v", metas, err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"bad conn", fmt.Errorf("wrap: %w", driver.ErrBadConn), true},
		{"deadline", context.DeadlineExceeded, true},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", fmt.Errorf("x: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"remote 503", &APIError{StatusCode: 503}, true},
		{"remote 429", &APIError{StatusCode: 429}, true},
		{"remote 400", &APIError{StatusCode: 400}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := RetryPolicy{MaxAttempts: 5, Backoff: time.Hour, Retryable: func(error) bool { return true }}

	attempts, err := p.Do(ctx, func(context.Context) error { return errors.New("fail") })
	if attempts != 1 || err == nil {
		t.Errorf("attempts = %d, err = %v", attempts, err)
	}
}

func TestRemoteStore(t *testing.T) {
	var (
		gotPath  []string
		gotBatch BatchRequest
		gotMeta  types.SyncMetadata
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = append(gotPath, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			json.NewDecoder(r.Body).Decode(&gotBatch)
		case http.MethodPut:
			json.NewDecoder(r.Body).Decode(&gotMeta)
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	rs := NewRemoteStore(srv.URL+"/", time.Second)
	ctx := context.Background()
	if err := rs.UpsertBatch(ctx, "ledgers", tenantA, makeRecords(2)); err != nil {
		t.Fatal(err)
	}
	if err := rs.SaveMetadata(ctx, types.SyncMetadata{CompanyID: "c1", DivisionID: "d1", TableName: "ledgers", RecordsProcessed: 2}); err != nil {
		t.Fatal(err)
	}

	if len(gotPath) != 2 || gotPath[0] != "POST /api/v1/batch/c1/d1" || gotPath[1] != "PUT /api/v1/metadata/c1/d1" {
		t.Errorf("paths = %v", gotPath)
	}
	if gotBatch.Table != "ledgers" || len(gotBatch.Records) != 2 {
		t.Errorf("batch = %+v", gotBatch)
	}
	if gotMeta.TableName != "ledgers" || gotMeta.RecordsProcessed != 2 {
		t.Errorf("metadata = %+v", gotMeta)
	}
}

func TestRemoteStoreErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"success":false,"error":"database is locked"}`))
	}))
	defer srv.Close()

	err := NewRemoteStore(srv.URL, time.Second).UpsertBatch(context.Background(), "t", tenantA, makeRecords(1))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "database is locked" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsTransient(err) {
		t.Error("503 should be transient")
	}
}
