package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/cursor"
	"github.com/ginjaninja78/tally-sync/internal/store"
	"github.com/ginjaninja78/tally-sync/internal/syncer"
	"github.com/ginjaninja78/tally-sync/internal/transform"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]any{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
		"tables":  len(s.runner.Tables()),
	})
}

// =============================================================================
// SYNC
// =============================================================================

// SyncRequest is the body of POST /api/v1/sync. Dates are YYYY-MM-DD.
type SyncRequest struct {
	Mode   string   `json:"mode"`
	Tables []string `json:"tables"`
	From   string   `json:"from"`
	To     string   `json:"to"`
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body SyncRequest
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}

	mode, err := syncer.ParseMode(body.Mode)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseDate(body.From)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid from date: "+err.Error())
		return
	}
	to, err := parseDate(body.To)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid to date: "+err.Error())
		return
	}

	sum, err := s.runner.Run(r.Context(), syncer.Request{
		Tenant: tenantOf(r),
		Mode:   mode,
		Tables: body.Tables,
		From:   from,
		To:     to,
	})
	if errors.Is(err, syncer.ErrBusy) {
		fail(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, sum)
}

// =============================================================================
// METADATA AND STATUS
// =============================================================================

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LoadMetadata(r.Context(), tenantOf(r))
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []types.SyncMetadata{}
	}
	ok(w, map[string]any{
		"tables": rows,
		"cursor": cursor.Min(rows, s.runner.Tables()),
	})
}

func (s *Server) handlePutMetadata(w http.ResponseWriter, r *http.Request) {
	var meta types.SyncMetadata
	if !decode(w, r, &meta) {
		return
	}
	if meta.TableName == "" {
		fail(w, http.StatusBadRequest, "table_name is required")
		return
	}
	tenant := tenantOf(r)
	meta.CompanyID, meta.DivisionID = tenant.CompanyID, tenant.DivisionID

	if err := s.store.SaveMetadata(r.Context(), meta); err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, meta)
}

// Table health grades.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// TableHealth grades processed/failed counts: critical above half failed,
// warning above a tenth.
func TableHealth(processed, failed int) string {
	total := processed + failed
	if total == 0 || failed == 0 {
		return HealthHealthy
	}
	ratio := float64(failed) / float64(total)
	switch {
	case ratio > 0.5:
		return HealthCritical
	case ratio > 0.1:
		return HealthWarning
	}
	return HealthHealthy
}

// TableStatus is one row of the sync-status response.
type TableStatus struct {
	Table     string         `json:"table"`
	LastSync  *time.Time     `json:"last_sync"`
	SyncType  types.SyncType `json:"sync_type,omitempty"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Health    string         `json:"health"`
	Synced    bool           `json:"synced"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LoadMetadata(r.Context(), tenantOf(r))
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	byTable := make(map[string]types.SyncMetadata, len(rows))
	for _, m := range rows {
		byTable[m.TableName] = m
	}

	overall := HealthHealthy
	var tables []TableStatus
	for _, spec := range s.runner.Tables() {
		st := TableStatus{Table: spec.Name, Health: HealthHealthy}
		if m, found := byTable[spec.Name]; found {
			last := m.LastSync
			st.LastSync = &last
			st.SyncType = m.SyncType
			st.Processed = m.RecordsProcessed
			st.Failed = m.RecordsFailed
			st.Health = TableHealth(m.RecordsProcessed, m.RecordsFailed)
			st.Synced = true
		}
		overall = worse(overall, st.Health)
		tables = append(tables, st)
	}

	ok(w, map[string]any{
		"health": overall,
		"tables": tables,
	})
}

func worse(a, b string) string {
	rank := map[string]int{HealthHealthy: 0, HealthWarning: 1, HealthCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tenant := tenantOf(r)
	counts := make(map[string]int64)
	var total int64
	for _, spec := range s.runner.Tables() {
		n, err := s.store.Count(r.Context(), spec.Name, tenant)
		if err != nil {
			fail(w, http.StatusInternalServerError, err.Error())
			return
		}
		counts[spec.Name] = n
		total += n
	}
	ok(w, map[string]any{
		"tables": counts,
		"total":  total,
	})
}

// =============================================================================
// RECORDS
// =============================================================================

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if _, found := s.runner.Table(table); !found {
		fail(w, http.StatusNotFound, fmt.Sprintf("unknown table %q", table))
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	limit = min(limit, 1000)

	tenant := tenantOf(r)
	rows, err := s.store.List(r.Context(), table, tenant, limit, offset)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.store.Count(r.Context(), table, tenant)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	ok(w, map[string]any{
		"records": rows,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// =============================================================================
// UPLOADS
// =============================================================================

// BulkSyncRequest is the body of POST /api/v1/bulk-sync: a whole table's
// records, batched and recorded like a local sync.
type BulkSyncRequest struct {
	Table    string                   `json:"table"`
	Records  []types.NormalizedRecord `json:"records"`
	SyncType types.SyncType           `json:"sync_type"`
	Metadata map[string]any           `json:"metadata"`
}

// coerceRecords runs every declared column of the uploaded records through
// the same coercion a local sync applies, so forwarded rows are stored
// exactly as if they had been extracted here. Undeclared columns are left
// for the store to reject.
func coerceRecords(spec types.TableSpec, records []types.NormalizedRecord) {
	for _, rec := range records {
		for _, f := range spec.Fields {
			if v, present := rec[f.Name]; present {
				rec[f.Name] = transform.CoerceValue(v, f.Type)
			}
		}
	}
}

func (s *Server) handleBulkSync(w http.ResponseWriter, r *http.Request) {
	var body BulkSyncRequest
	if !decode(w, r, &body) {
		return
	}
	spec, found := s.runner.Table(body.Table)
	if !found {
		fail(w, http.StatusNotFound, fmt.Sprintf("unknown table %q", body.Table))
		return
	}
	coerceRecords(spec, body.Records)
	if body.SyncType == "" {
		body.SyncType = types.SyncFull
	}

	res, err := s.engine.Upsert(r.Context(), store.UpsertRequest{
		Table:    body.Table,
		Tenant:   tenantOf(r),
		SyncType: body.SyncType,
		Records:  body.Records,
		Metadata: body.Metadata,
	})
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body store.BatchRequest
	if !decode(w, r, &body) {
		return
	}
	spec, found := s.runner.Table(body.Table)
	if !found {
		fail(w, http.StatusNotFound, fmt.Sprintf("unknown table %q", body.Table))
		return
	}
	coerceRecords(spec, body.Records)

	err := s.store.UpsertBatch(r.Context(), body.Table, tenantOf(r), body.Records)
	switch {
	case errors.Is(err, store.ErrMissingGUID), errors.Is(err, store.ErrInvalidIdentifier):
		fail(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && store.IsTransient(err):
		fail(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		fail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ok(w, map[string]any{"written": len(body.Records)})
}
