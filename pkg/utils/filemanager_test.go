package utils

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/syncer"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

func TestGenerateOutputFileName(t *testing.T) {
	tests := []struct {
		format string
		params map[string]string
		want   string
	}{
		{"{company}_{division}", map[string]string{"company": "acme", "division": "hq"}, `^acme_hq$`},
		{"{company}_{timestamp}", map[string]string{"company": "acme"}, `^acme_\d{8}_\d{6}$`},
		{"run_{uuid}", nil, `^run_[0-9a-f-]{36}$`},
		{"{unknown}_{date}", nil, `^\{unknown\}_\d{8}$`},
		{"{company}", map[string]string{"company": "../etc"}, `^__etc$`},
		{"open{brace", nil, `^open\{brace$`},
	}
	for _, tt := range tests {
		got := GenerateOutputFileName(tt.format, tt.params)
		if !regexp.MustCompile(tt.want).MatchString(got) {
			t.Errorf("GenerateOutputFileName(%q) = %q, want match %s", tt.format, got, tt.want)
		}
	}
}

func summary(tables ...syncer.TableResult) syncer.Summary {
	start := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	sum := syncer.Summary{
		RunID:      "run-1",
		Tenant:     types.Tenant{CompanyID: "acme", DivisionID: "hq"},
		Mode:       syncer.ModeAuto,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Tables:     tables,
	}
	for _, t := range tables {
		sum.Processed += t.Processed
		sum.Failed += t.Failed
		if t.Error != "" {
			sum.Errors = append(sum.Errors, t.Name+": "+t.Error)
		}
	}
	return sum
}

func TestWriteReportsClean(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	sum := summary(syncer.TableResult{Name: "ledgers", Status: syncer.StatusSuccess, SyncType: types.SyncFull, Processed: 12})

	summaryPath, errorPath, err := WriteReports(sum, dir, "{company}_{division}")
	if err != nil {
		t.Fatal(err)
	}
	if errorPath != "" {
		t.Errorf("clean run wrote error log %s", errorPath)
	}
	if filepath.Base(summaryPath) != "acme_hq_summary.txt" {
		t.Errorf("summary path = %s", summaryPath)
	}

	data, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"Run ID:         run-1", "Status:         success", "Processed:      12", "ledgers", "Duration:       3s"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestWriteReportsWithErrors(t *testing.T) {
	dir := t.TempDir()
	sum := summary(
		syncer.TableResult{Name: "ledgers", Status: syncer.StatusSuccess, Processed: 5},
		syncer.TableResult{Name: "vouchers", Status: syncer.StatusPartial, Processed: 90, Failed: 10, Error: "batch 1: database is locked"},
		syncer.TableResult{Name: "stock_items", Status: syncer.StatusFailed, Error: "export request failed: connection refused", Diagnostic: "empty response"},
	)

	_, errorPath, err := WriteReports(sum, dir, "{company}")
	if err != nil {
		t.Fatal(err)
	}
	if errorPath == "" {
		t.Fatal("error log not written")
	}
	data, _ := os.ReadFile(errorPath)
	text := string(data)
	for _, want := range []string{
		"Tables With Errors: 2",
		"Table:          vouchers",
		"Failed Records: 10",
		"Diagnostic:     empty response",
		"  - stock_items: export request failed: connection refused",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("error log missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Table:          ledgers") {
		t.Error("successful table listed in error log")
	}
}

func TestCleanOldReports(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old_summary.txt")
	fresh := filepath.Join(dir, "new_summary.txt")
	other := filepath.Join(dir, "notes.md")
	for _, p := range []string{old, fresh, other} {
		os.WriteFile(p, []byte("x"), 0644)
	}
	past := time.Now().Add(-48 * time.Hour)
	os.Chtimes(old, past, past)
	os.Chtimes(other, past, past)

	n, err := CleanOldReports(dir, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("CleanOldReports = %d, %v", n, err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old report not removed")
	}
	for _, p := range []string{fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed", p)
		}
	}
}
