// =============================================================================
// Tally Sync - Configuration Module
// =============================================================================
//
// This module loads the application configuration and the table catalogue.
//
// CONFIGURATION FILES:
//   1. Main Config (config.yaml): source endpoint, tenant, database, sync
//      tuning, API and report settings
//   2. Table Catalogue (tables.yaml or tables.xlsx): the master and
//      transaction tables to export, one TableSpec each
//
// ENVIRONMENT OVERRIDES:
//   TALLY_URL, TALLY_COMPANY, TALLYSYNC_DB_DRIVER, TALLYSYNC_DB_DSN,
//   TALLYSYNC_COMPANY_ID, TALLYSYNC_DIVISION_ID, TALLYSYNC_LOG_LEVEL
//
//   Environment values take precedence over the file.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/tally-sync/internal/tally"
	"github.com/ginjaninja78/tally-sync/internal/types"
	"github.com/ginjaninja78/tally-sync/internal/validation"
	"github.com/ginjaninja78/tally-sync/internal/xlsxparser"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	Tally    TallyConfig    `yaml:"tally"`
	Tenant   TenantConfig   `yaml:"tenant"`
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server"`
	Output   OutputConfig   `yaml:"output"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat selects "text" or "json" log lines.
	// Default: "text"
	LogFormat string `yaml:"log_format"`
}

// TallyConfig describes the source system endpoint.
type TallyConfig struct {
	// URL is the export endpoint. Default: "http://localhost:9000"
	URL string `yaml:"url"`

	// Company scopes every request. Empty means the currently loaded company.
	Company string `yaml:"company"`

	// Encoding of request bodies: "utf-16" or "utf-8". Default: "utf-16"
	Encoding string `yaml:"encoding"`

	// Timeout bounds one export request. Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// FullSyncTimeout bounds an unfiltered transaction export. Default: 120s
	FullSyncTimeout time.Duration `yaml:"full_sync_timeout"`
}

// TenantConfig identifies where synced rows belong.
type TenantConfig struct {
	CompanyID  string `yaml:"company_id"`
	DivisionID string `yaml:"division_id"`
}

// Tenant returns the configured tenant.
func (t TenantConfig) Tenant() types.Tenant {
	return types.Tenant{CompanyID: t.CompanyID, DivisionID: t.DivisionID}
}

// DatabaseConfig selects the local target store.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "mysql". Default: "sqlite3"
	Driver string `yaml:"driver"`

	// DSN is passed to the driver. Default: "./data/tallysync.db"
	DSN string `yaml:"dsn"`

	// Migrate creates missing tables on startup. Default: true
	Migrate *bool `yaml:"migrate"`
}

// ShouldMigrate reports whether tables are created on startup.
func (d DatabaseConfig) ShouldMigrate() bool {
	return d.Migrate == nil || *d.Migrate
}

// RemoteConfig points batches at another instance's API instead of the local
// database.
type RemoteConfig struct {
	// APIBase is the remote base URL. Empty disables remote mode.
	APIBase string `yaml:"api_base"`

	// Timeout bounds one remote request. Default: 60s
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether remote mode is configured.
func (r RemoteConfig) Enabled() bool {
	return r.APIBase != ""
}

// SyncConfig tunes the sync pipeline.
type SyncConfig struct {
	// Mode is "auto", "full" or "incremental". Default: "auto"
	Mode string `yaml:"mode"`

	// BatchSize is the number of records per write transaction. Default: 100
	BatchSize int `yaml:"batch_size"`

	// MaxAttempts counts the first try. Default: 2
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is the wait between attempts. Default: 2s
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// LegacyChangeDetection treats any positive current id as changed.
	LegacyChangeDetection bool `yaml:"legacy_change_detection"`

	// FromDate and ToDate bound transaction exports, YYYY-MM-DD.
	FromDate string `yaml:"from_date"`
	ToDate   string `yaml:"to_date"`

	// MaxConcurrency is the number of master tables exported at once.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency"`

	// TablesFile is the table catalogue, .yaml, .yml or .xlsx.
	// Relative paths resolve against the main config file's directory.
	// Default: "tables.yaml"
	TablesFile string `yaml:"tables_file"`
}

// Dates parses FromDate and ToDate. Empty values yield the zero time.
func (s SyncConfig) Dates() (from, to time.Time, err error) {
	if from, err = parseDate(s.FromDate); err != nil {
		return from, to, fmt.Errorf("invalid from_date: %w", err)
	}
	if to, err = parseDate(s.ToDate); err != nil {
		return from, to, fmt.Errorf("invalid to_date: %w", err)
	}
	return from, to, nil
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address. Default: ":8080"
	Addr string `yaml:"addr"`
}

// OutputConfig configures run reports.
type OutputConfig struct {
	// ReportDir receives summary and error logs. Empty disables reports.
	ReportDir string `yaml:"report_dir"`

	// FileNameFormat names report files.
	// Placeholders:
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {company}   - Tenant company id
	//   {division}  - Tenant division id
	// Default: "{company}_{division}_{timestamp}"
	FileNameFormat string `yaml:"file_name_format"`

	// Retention deletes reports older than this after each run. Zero keeps
	// everything.
	Retention time.Duration `yaml:"retention"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file. An empty path
//     skips the file and uses defaults plus environment overrides.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read or parsed, or a value is invalid.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	var config MainConfig

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&config)
	applyMainConfigDefaults(&config)

	if configPath != "" && !filepath.IsAbs(config.Sync.TablesFile) {
		config.Sync.TablesFile = filepath.Join(filepath.Dir(configPath), config.Sync.TablesFile)
	}

	if err := validateMainConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// applyEnvOverrides replaces file values with any set environment variables.
func applyEnvOverrides(config *MainConfig) {
	config.Tally.URL = getenv("TALLY_URL", config.Tally.URL)
	config.Tally.Company = getenv("TALLY_COMPANY", config.Tally.Company)
	config.Database.Driver = getenv("TALLYSYNC_DB_DRIVER", config.Database.Driver)
	config.Database.DSN = getenv("TALLYSYNC_DB_DSN", config.Database.DSN)
	config.Tenant.CompanyID = getenv("TALLYSYNC_COMPANY_ID", config.Tenant.CompanyID)
	config.Tenant.DivisionID = getenv("TALLYSYNC_DIVISION_ID", config.Tenant.DivisionID)
	config.LogLevel = getenv("TALLYSYNC_LOG_LEVEL", config.LogLevel)
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.Tally.URL == "" {
		config.Tally.URL = "http://localhost:9000"
	}
	if config.Tally.Encoding == "" {
		config.Tally.Encoding = "utf-16"
	}
	if config.Tally.Timeout == 0 {
		config.Tally.Timeout = 30 * time.Second
	}
	if config.Tally.FullSyncTimeout == 0 {
		config.Tally.FullSyncTimeout = 120 * time.Second
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite3"
	}
	if config.Database.DSN == "" && config.Database.Driver == "sqlite3" {
		config.Database.DSN = "./data/tallysync.db"
	}
	if config.Remote.Timeout == 0 {
		config.Remote.Timeout = 60 * time.Second
	}
	if config.Sync.Mode == "" {
		config.Sync.Mode = "auto"
	}
	if config.Sync.BatchSize == 0 {
		config.Sync.BatchSize = 100
	}
	if config.Sync.MaxAttempts == 0 {
		config.Sync.MaxAttempts = 2
	}
	if config.Sync.RetryBackoff == 0 {
		config.Sync.RetryBackoff = 2 * time.Second
	}
	if config.Sync.MaxConcurrency == 0 {
		config.Sync.MaxConcurrency = 4
	}
	if config.Sync.TablesFile == "" {
		config.Sync.TablesFile = "tables.yaml"
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Output.FileNameFormat == "" {
		config.Output.FileNameFormat = "{company}_{division}_{timestamp}"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "text"
	}
}

// validateMainConfig validates the main configuration. Every problem is
// reported, not only the first.
func validateMainConfig(config *MainConfig) error {
	var errs []error

	if _, err := tally.ParseEncoding(config.Tally.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("tally.encoding: %w", err))
	}
	switch config.Database.Driver {
	case "sqlite3", "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite3 or mysql, got %q", config.Database.Driver))
	}
	if config.Database.DSN == "" && !config.Remote.Enabled() {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch strings.ToLower(config.Sync.Mode) {
	case "auto", "full", "incremental":
	default:
		errs = append(errs, fmt.Errorf("sync.mode must be auto, full or incremental, got %q", config.Sync.Mode))
	}
	if config.Sync.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be positive, got %d", config.Sync.BatchSize))
	}
	if config.Sync.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("sync.max_attempts must be positive, got %d", config.Sync.MaxAttempts))
	}
	if config.Sync.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("sync.max_concurrency must be positive, got %d", config.Sync.MaxConcurrency))
	}
	if _, _, err := config.Sync.Dates(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}

	// Create missing output and database directories.
	if config.Output.ReportDir != "" {
		if err := os.MkdirAll(config.Output.ReportDir, 0755); err != nil {
			errs = append(errs, fmt.Errorf("failed to create directory %s: %w", config.Output.ReportDir, err))
		}
	}
	if config.Database.Driver != "mysql" && config.Database.DSN != "" && !strings.Contains(config.Database.DSN, ":memory:") &&
		!strings.HasPrefix(config.Database.DSN, "file:") {
		if dir := filepath.Dir(config.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errs = append(errs, fmt.Errorf("failed to create directory %s: %w", dir, err))
			}
		}
	}

	return errors.Join(errs...)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

// =============================================================================
// TABLE CATALOGUE
// =============================================================================

// ErrNoTables is returned when a catalogue defines no tables.
var ErrNoTables = errors.New("table catalogue defines no tables")

// TableFile is the YAML layout of a table catalogue. The section a table is
// listed under sets its category.
type TableFile struct {
	Master      []types.TableSpec `yaml:"master"`
	Transaction []types.TableSpec `yaml:"transaction"`
}

// LoadTables loads and validates the table catalogue.
//
// PARAMETERS:
//   - path: a .yaml/.yml catalogue or an .xlsx workbook.
//
// RETURNS:
//   - Every table spec, masters first, in file order.
//   - The validation result, so callers can report warnings.
//   - An error if the file cannot be read or the catalogue is invalid.
func LoadTables(path string) ([]types.TableSpec, *validation.ValidationResult, error) {
	var (
		specs []types.TableSpec
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		specs, err = loadTableYAML(path)
	case ".xlsx":
		specs, err = xlsxparser.Parse(path)
	default:
		return nil, nil, fmt.Errorf("unsupported table file %q: want .yaml, .yml or .xlsx", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if len(specs) == 0 {
		return nil, nil, ErrNoTables
	}

	result := validation.ValidateTables(specs)
	if err := result.Err(); err != nil {
		return nil, result, fmt.Errorf("invalid table catalogue %s: %w", path, err)
	}
	return specs, result, nil
}

func loadTableYAML(path string) ([]types.TableSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file TableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}

	specs := make([]types.TableSpec, 0, len(file.Master)+len(file.Transaction))
	for _, s := range file.Master {
		s.Category = types.CategoryMaster
		specs = append(specs, applyTableDefaults(s))
	}
	for _, s := range file.Transaction {
		s.Category = types.CategoryTransaction
		specs = append(specs, applyTableDefaults(s))
	}
	return specs, nil
}

// applyTableDefaults fills in field types left blank.
func applyTableDefaults(spec types.TableSpec) types.TableSpec {
	fields := make([]types.FieldSpec, len(spec.Fields))
	for i, f := range spec.Fields {
		if f.Type == "" {
			f.Type = types.FieldText
		}
		fields[i] = f
	}
	spec.Fields = fields
	return spec
}
