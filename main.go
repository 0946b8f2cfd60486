// =============================================================================
// Tally Sync - Main Entry Point
// =============================================================================
//
// USAGE:
//   tallysync sync          - Sync configured tables into the target store
//   tallysync serve         - Start the HTTP API
//   tallysync tables ...    - Inspect and validate the table catalogue
//   tallysync cursor        - Show change ids and the next sync decision
//   tallysync version       - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : sync pipeline, store, API and configuration
//   - pkg/           : run report files
//   - configs/       : sample config.yaml and table catalogue
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/tally-sync/cmd"
)

func main() {
	cmd.Execute()
}
