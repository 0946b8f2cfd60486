// =============================================================================
// Tally Sync - Persistence Layer
// =============================================================================
//
// This package holds everything between normalized records and the relational
// store:
//
//   - Writer / Reader     : the persistence boundary the sync pipeline uses
//   - SQLStore            : database/sql implementation (sqlite3, mysql)
//   - RemoteStore         : Writer that forwards batches to another instance's
//                           HTTP API
//   - Engine              : batching, guid checks, retries, metadata updates
//   - RetryPolicy         : explicit retry wrapper around one batch write
//
// Every stored row is keyed by (company_id, division_id, guid).
//
// =============================================================================

package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"regexp"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Writer persists record batches and sync metadata.
type Writer interface {
	// UpsertBatch writes all records in one atomic operation keyed by guid.
	UpsertBatch(ctx context.Context, table string, tenant types.Tenant, records []types.NormalizedRecord) error

	// SaveMetadata creates or replaces the metadata row for
	// (company, division, table).
	SaveMetadata(ctx context.Context, meta types.SyncMetadata) error
}

// MetadataReader reads the sync metadata of a tenant.
type MetadataReader interface {
	LoadMetadata(ctx context.Context, tenant types.Tenant) ([]types.SyncMetadata, error)
}

// Reader serves stored rows to the HTTP API.
type Reader interface {
	MetadataReader
	Count(ctx context.Context, table string, tenant types.Tenant) (int64, error)
	List(ctx context.Context, table string, tenant types.Tenant, limit, offset int) ([]map[string]any, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidIdentifier is returned for table or column names that are not
// plain SQL identifiers.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is a plain SQL identifier.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkIdentifier(name string) error {
	if !ValidIdentifier(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// MySQL server error numbers worth retrying.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlTooManyConns    = 1040
)

// IsTransient reports whether a failed write may succeed if repeated:
// lock contention, dropped connections, timeouts and remote 5xx/429
// responses. Constraint violations and bad input are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlTooManyConns:
			return true
		}
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
