// =============================================================================
// Tally Sync - Run Report Files
// =============================================================================
//
// This module writes the on-disk record of a sync run:
//   - a summary file with per-table counts for every run
//   - an error log listing failed and partial tables, written only when
//     something went wrong
//
// Both files share a base name built from a configurable format so a run's
// reports sort together in the report directory.
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/tally-sync/internal/syncer"
)

const rule = "================================================================================\n"

// =============================================================================
// FILE NAMING UTILITIES
// =============================================================================

// GenerateOutputFileName generates a file name from a format string.
//
// PARAMETERS:
//   - format: The format string for the file name.
//     Placeholders:
//     {uuid}      - A random UUID
//     {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//     {date}      - Current date (YYYYMMDD)
//     {company}   - Tenant company id
//     {division}  - Tenant division id
//   - params: Placeholder values, keyed without braces. They override the
//     built-in placeholders.
//
// RETURNS:
//   - The generated name with path separators replaced.
//
// EXAMPLE:
//
//	format: "{company}_{division}_{timestamp}"
//	params: {"company": "acme", "division": "hq"}
//	output: "acme_hq_20240115_143022"
func GenerateOutputFileName(format string, params map[string]string) string {
	now := time.Now()

	replacements := map[string]string{
		"uuid":      uuid.New().String(),
		"timestamp": now.Format("20060102_150405"),
		"date":      now.Format("20060102"),
	}
	for key, value := range params {
		replacements[key] = value
	}

	var b strings.Builder
	for rest := format; rest != ""; {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		key := rest[open+1 : open+end]
		if v, ok := replacements[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[open : open+end+1])
		}
		rest = rest[open+end+1:]
	}

	return sanitize(b.String())
}

// sanitize keeps tenant ids from escaping the report directory.
func sanitize(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
}

// ReportName returns the base name for a run's report files.
func ReportName(format string, sum syncer.Summary) string {
	return GenerateOutputFileName(format, map[string]string{
		"company":  sum.Tenant.CompanyID,
		"division": sum.Tenant.DivisionID,
	})
}

// =============================================================================
// RUN REPORTS
// =============================================================================

// WriteReports writes the summary and, when needed, the error log.
//
// RETURNS:
//   - The written paths; errorPath is empty for a clean run.
//   - An error if either file cannot be written.
func WriteReports(sum syncer.Summary, outputDir, format string) (summaryPath, errorPath string, err error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create report directory: %w", err)
	}
	base := ReportName(format, sum)

	summaryPath, err = WriteSummaryLog(sum, filepath.Join(outputDir, base+"_summary.txt"))
	if err != nil {
		return "", "", err
	}
	errorPath, err = WriteErrorLog(sum, filepath.Join(outputDir, base+"_errors.txt"))
	if err != nil {
		return summaryPath, "", err
	}
	return summaryPath, errorPath, nil
}

// WriteSummaryLog writes a run summary to path.
func WriteSummaryLog(sum syncer.Summary, path string) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	fmt.Fprintf(writer, "Tally Sync - Run Summary\n"+rule+"\n"+
		"Run Information:\n"+
		"  Run ID:         %s\n"+
		"  Company:        %s\n"+
		"  Division:       %s\n"+
		"  Mode:           %s\n"+
		"  Status:         %s\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n"+
		"Change Cursor:\n"+
		"  Master:         %d (last %d, changed %t)\n"+
		"  Transaction:    %d (last %d, changed %t)\n\n"+
		"Statistics:\n"+
		"  Tables:         %d\n"+
		"  Processed:      %d\n"+
		"  Failed:         %d\n\n",
		sum.RunID,
		sum.Tenant.CompanyID,
		sum.Tenant.DivisionID,
		sum.Mode,
		sum.Status(),
		sum.StartedAt.Format("2006-01-02 15:04:05"),
		sum.FinishedAt.Format("2006-01-02 15:04:05"),
		sum.Duration().Round(time.Millisecond),
		sum.Current.Master, sum.Last.Master, sum.Decision.Master,
		sum.Current.Transaction, sum.Last.Transaction, sum.Decision.Transaction,
		len(sum.Tables),
		sum.Processed,
		sum.Failed,
	)

	if len(sum.Tables) > 0 {
		writer.WriteString("Tables:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		fmt.Fprintf(writer, "  %-24s %-8s %-12s %-10s %9s %9s %9s\n",
			"TABLE", "STATUS", "SYNC", "SHAPE", "EXTRACTED", "PROCESSED", "FAILED")
		for _, t := range sum.Tables {
			fmt.Fprintf(writer, "  %-24s %-8s %-12s %-10s %9d %9d %9d\n",
				t.Name, t.Status, orDash(string(t.SyncType)), t.Shape, t.Extracted, t.Processed, t.Failed)
		}
		writer.WriteString("\n")
	}

	writer.WriteString(rule + "End of Summary\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return path, nil
}

// WriteErrorLog writes every failed or partial table to path. Nothing is
// written for a clean run and the returned path is empty.
func WriteErrorLog(sum syncer.Summary, path string) (string, error) {
	var bad []syncer.TableResult
	for _, t := range sum.Tables {
		if t.Status == syncer.StatusFailed || t.Status == syncer.StatusPartial {
			bad = append(bad, t)
		}
	}
	if len(bad) == 0 && len(sum.Errors) == 0 {
		return "", nil
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create error log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	fmt.Fprintf(writer, "Tally Sync - Error Log\n"+
		"Run ID: %s\n"+
		"Generated: %s\n"+
		"Tables With Errors: %d\n"+
		rule+"\n",
		sum.RunID,
		sum.FinishedAt.Format("2006-01-02 15:04:05"),
		len(bad))

	for i, t := range bad {
		fmt.Fprintf(writer, "Error #%d\n"+
			"  Table:          %s\n"+
			"  Status:         %s\n"+
			"  Message:        %s\n",
			i+1, t.Name, t.Status, t.Error)
		if t.Failed > 0 {
			fmt.Fprintf(writer, "  Failed Records: %d\n", t.Failed)
		}
		if t.Discarded > 0 {
			fmt.Fprintf(writer, "  Discarded:      %d\n", t.Discarded)
		}
		if t.Diagnostic != "" && t.Diagnostic != t.Error {
			fmt.Fprintf(writer, "  Diagnostic:     %s\n", t.Diagnostic)
		}
		writer.WriteString("\n")
	}

	if len(sum.Errors) > 0 {
		writer.WriteString("All Errors:\n")
		for _, e := range sum.Errors {
			fmt.Fprintf(writer, "  - %s\n", e)
		}
		writer.WriteString("\n")
	}

	writer.WriteString(rule + "End of Error Log\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush error log: %w", err)
	}
	return path, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// CleanOldReports deletes report files older than maxAge from dir.
//
// RETURNS:
//   - The number of files deleted.
//   - An error if the directory cannot be read.
func CleanOldReports(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read report directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
