package syncer

import (
	"time"

	"github.com/ginjaninja78/tally-sync/internal/cursor"
	"github.com/ginjaninja78/tally-sync/internal/normalizer"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// Status is the outcome of one table or one run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// TableResult reports one table of a sync run. A caller can tell "nothing
// changed" (success, zero extracted) from "extraction failed" (failed, with
// Error) from "some batches failed" (partial).
type TableResult struct {
	Name     string           `json:"name"`
	Category types.Category   `json:"category"`
	SyncType types.SyncType   `json:"sync_type,omitempty"`
	Status   Status           `json:"status"`
	Shape    normalizer.Shape `json:"shape"`
	Since    int64            `json:"since,omitempty"`

	Extracted int `json:"extracted"`
	Discarded int `json:"discarded"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Defaulted int `json:"defaulted"`

	Duration time.Duration `json:"duration"`

	// Reason explains a skipped table.
	Reason string `json:"reason,omitempty"`

	// Diagnostic carries the normalizer's note on an empty or odd response.
	Diagnostic string `json:"diagnostic,omitempty"`

	Error string `json:"error,omitempty"`
}

// Summary is the structured result of one sync invocation. It is returned
// even when every table failed.
type Summary struct {
	RunID      string             `json:"run_id"`
	Tenant     types.Tenant       `json:"tenant"`
	Mode       Mode               `json:"mode"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Current    types.ChangeCursor `json:"current_cursor"`
	Last       types.ChangeCursor `json:"last_cursor"`
	Decision   cursor.Decision    `json:"decision"`
	Tables     []TableResult      `json:"tables"`
	Processed  int                `json:"processed"`
	Failed     int                `json:"failed"`
	Errors     []string           `json:"errors,omitempty"`
}

// Status rolls the table statuses up into one.
func (s Summary) Status() Status {
	var ok, bad int
	for _, t := range s.Tables {
		switch t.Status {
		case StatusSuccess, StatusSkipped:
			ok++
		case StatusPartial:
			ok++
			bad++
		case StatusFailed:
			bad++
		}
	}
	switch {
	case bad == 0 && len(s.Errors) == 0:
		return StatusSuccess
	case ok == 0:
		return StatusFailed
	}
	return StatusPartial
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Table returns the result for a table name.
func (s Summary) Table(name string) (TableResult, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableResult{}, false
}

func (s *Summary) add(r TableResult) {
	s.Tables = append(s.Tables, r)
	s.Processed += r.Processed
	s.Failed += r.Failed
	if r.Error != "" {
		s.Errors = append(s.Errors, r.Name+": "+r.Error)
	}
}
