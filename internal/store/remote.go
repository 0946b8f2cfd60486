package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// APIError is a non-2xx response from a remote sync API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sync API HTTP %d: %s", e.StatusCode, e.Message)
}

// BatchRequest is the body of POST /api/v1/batch/{company}/{division}.
type BatchRequest struct {
	Table   string                   `json:"table"`
	Records []types.NormalizedRecord `json:"records"`
}

// RemoteStore is a Writer and MetadataReader that forwards batches and
// metadata to another instance's HTTP API. Each call maps to exactly one
// request; retries are left to the Engine's policy.
type RemoteStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteStore creates a RemoteStore rooted at baseURL.
func NewRemoteStore(baseURL string, timeout time.Duration) *RemoteStore {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *RemoteStore) tenantPath(prefix string, tenant types.Tenant) string {
	return fmt.Sprintf("%s/api/v1/%s/%s/%s", r.baseURL, prefix,
		url.PathEscape(tenant.CompanyID), url.PathEscape(tenant.DivisionID))
}

// UpsertBatch posts one batch; the receiving side writes it atomically.
func (r *RemoteStore) UpsertBatch(ctx context.Context, table string, tenant types.Tenant, records []types.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.send(ctx, http.MethodPost, r.tenantPath("batch", tenant), BatchRequest{Table: table, Records: records})
}

// SaveMetadata replaces the remote metadata row for meta's table.
func (r *RemoteStore) SaveMetadata(ctx context.Context, meta types.SyncMetadata) error {
	tenant := types.Tenant{CompanyID: meta.CompanyID, DivisionID: meta.DivisionID}
	return r.send(ctx, http.MethodPut, r.tenantPath("metadata", tenant), meta)
}

// LoadMetadata fetches every metadata row the remote side holds for tenant.
func (r *RemoteStore) LoadMetadata(ctx context.Context, tenant types.Tenant) ([]types.SyncMetadata, error) {
	var out struct {
		Data struct {
			Tables []types.SyncMetadata `json:"tables"`
		} `json:"data"`
	}
	if err := r.do(ctx, http.MethodGet, r.tenantPath("metadata", tenant), nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Tables, nil
}

func (r *RemoteStore) send(ctx context.Context, method, endpoint string, body any) error {
	return r.do(ctx, method, endpoint, body, nil)
}

// do performs one request. A non-nil out receives the decoded 2xx body.
func (r *RemoteStore) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
		msg = envelope.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
