// =============================================================================
// Tally Sync - Table Configuration Validator
// =============================================================================
//
// This module checks table specifications before any request is built or any
// DDL is generated. A bad spec would otherwise surface much later as an
// unreadable export request or a failed CREATE TABLE.
//
// VALIDATION LEVELS:
//   1. Table-level: name, collection, category, key column, parent links
//   2. Field-level: column name, source expression, declared type
//   3. Catalogue-level: duplicate names, parent cycles
//
// ERROR HANDLING:
//   - Problems are collected, never returned one at a time
//   - Each problem names the table and field it was found on
//   - Warnings describe specs that work but probably do not do what the
//     author meant (a field that will be overwritten, for example)
//
// =============================================================================

package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ginjaninja78/tally-sync/internal/store"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError describes one problem in a table specification.
type ValidationError struct {
	// Severity is SeverityError (the table cannot be used) or SeverityWarning.
	Severity string

	// Table is the name of the table the problem was found on.
	Table string

	// Field is the column name, empty for table-level problems.
	Field string

	// Value is the offending value.
	Value string

	// Rule names the check that failed, e.g. "identifier" or "parent".
	Rule string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	where := fmt.Sprintf("table '%s'", e.Table)
	if e.Field != "" {
		where += fmt.Sprintf(", field '%s'", e.Field)
	}
	msg := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(e.Severity), where, e.Message)
	if e.Value != "" {
		msg += fmt.Sprintf(" (value: '%s')", e.Value)
	}
	return msg
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult collects the outcome of validating a table catalogue.
type ValidationResult struct {
	// IsValid is true if there are no errors. Warnings do not count.
	IsValid bool

	// Errors contains every problem found, warnings included.
	Errors []*ValidationError

	ErrorCount   int
	WarningCount int

	TablesValidated int
	FieldsValidated int
}

func (r *ValidationResult) add(e *ValidationError) {
	r.Errors = append(r.Errors, e)
	if e.Severity == SeverityWarning {
		r.WarningCount++
		return
	}
	r.ErrorCount++
	r.IsValid = false
}

// Warnings returns only the warning-level entries.
func (r *ValidationResult) Warnings() []*ValidationError {
	var out []*ValidationError
	for _, e := range r.Errors {
		if e.Severity == SeverityWarning {
			out = append(out, e)
		}
	}
	return out
}

// Err returns nil when the catalogue is valid, otherwise every error-level
// entry joined into one error.
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	var errs []error
	for _, e := range r.Errors {
		if e.Severity == SeverityError {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// VALIDATOR
// =============================================================================

// ValidateTables checks a complete table catalogue.
//
// PARAMETERS:
//   - specs: every configured table, masters and transactions together.
//
// RETURNS:
//   - A ValidationResult. It is never nil.
func ValidateTables(specs []types.TableSpec) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	byName := make(map[string]types.TableSpec, len(specs))
	for _, spec := range specs {
		if _, dup := byName[spec.Name]; dup {
			result.add(&ValidationError{
				Severity: SeverityError,
				Table:    spec.Name,
				Rule:     "unique",
				Message:  "table is defined more than once",
			})
			continue
		}
		byName[spec.Name] = spec
	}

	for _, spec := range specs {
		for _, e := range ValidateTable(spec) {
			result.add(e)
		}
		result.TablesValidated++
		result.FieldsValidated += len(spec.Fields)

		if spec.Parent == "" {
			continue
		}
		parent, found := byName[spec.Parent]
		switch {
		case !found:
			result.add(tableError(spec, "parent", spec.Parent, "parent table is not configured"))
		case parent.Category != spec.Category:
			result.add(tableError(spec, "parent", spec.Parent, "parent table belongs to a different category"))
		}
	}

	for _, name := range parentCycles(byName) {
		result.add(tableError(byName[name], "parent", name, "parent chain loops back to this table"))
	}
	return result
}

// ValidateTable checks one table specification in isolation.
func ValidateTable(spec types.TableSpec) []*ValidationError {
	var errs []*ValidationError

	// =========================================================================
	// TABLE-LEVEL CHECKS
	// =========================================================================

	if !store.ValidIdentifier(spec.Name) {
		errs = append(errs, tableError(spec, "identifier", spec.Name, "table name must be a plain SQL identifier"))
	}
	if strings.TrimSpace(spec.Collection) == "" {
		errs = append(errs, tableError(spec, "collection", "", "collection is required"))
	}
	switch spec.Category {
	case types.CategoryMaster, types.CategoryTransaction:
	default:
		errs = append(errs, tableError(spec, "category", string(spec.Category), "category must be master or transaction"))
	}
	if len(spec.Fields) == 0 {
		errs = append(errs, tableError(spec, "fields", "", "at least one field is required"))
	}
	if spec.Parent == spec.Name && spec.Name != "" {
		errs = append(errs, tableError(spec, "parent", spec.Parent, "table cannot be its own parent"))
	}
	if spec.Priority < 0 {
		errs = append(errs, &ValidationError{
			Severity: SeverityWarning,
			Table:    spec.Name,
			Value:    fmt.Sprint(spec.Priority),
			Rule:     "priority",
			Message:  "negative priority sorts before every default table",
		})
	}

	// =========================================================================
	// FIELD-LEVEL CHECKS
	// =========================================================================

	seen := make(map[string]bool, len(spec.Fields))
	for _, f := range spec.Fields {
		errs = append(errs, validateField(spec, f, seen)...)
	}

	// =========================================================================
	// KEY COLUMN
	// =========================================================================

	key := spec.KeyColumn()
	if len(spec.Fields) > 0 && !seen[key] {
		errs = append(errs, tableError(spec, "key", key, "key column is not one of the declared fields"))
	}
	if spec.DeriveGUID {
		if key == "guid" {
			errs = append(errs, tableError(spec, "derive_guid", "", "derive_guid needs a key column other than guid"))
		}
		if seen["guid"] {
			errs = append(errs, &ValidationError{
				Severity: SeverityWarning,
				Table:    spec.Name,
				Field:    "guid",
				Rule:     "derive_guid",
				Message:  "declared guid is overwritten by the derived value",
			})
		}
	} else if len(spec.Fields) > 0 && !seen["guid"] {
		errs = append(errs, tableError(spec, "guid", "", "a guid field is required unless derive_guid is set"))
	}

	return errs
}

func validateField(spec types.TableSpec, f types.FieldSpec, seen map[string]bool) []*ValidationError {
	var errs []*ValidationError
	fieldError := func(rule, value, msg string) {
		errs = append(errs, &ValidationError{
			Severity: SeverityError,
			Table:    spec.Name,
			Field:    f.Name,
			Value:    value,
			Rule:     rule,
			Message:  msg,
		})
	}

	if !store.ValidIdentifier(f.Name) {
		fieldError("identifier", f.Name, "column name must be a plain SQL identifier")
	}
	if seen[f.Name] {
		fieldError("unique", f.Name, "column is declared more than once")
	}
	seen[f.Name] = true

	if strings.TrimSpace(f.Field) == "" {
		fieldError("field", "", "source field expression is required")
	}
	if !f.Type.Valid() {
		fieldError("type", string(f.Type), "unknown field type")
	}
	if store.SystemColumn(f.Name) {
		errs = append(errs, &ValidationError{
			Severity: SeverityWarning,
			Table:    spec.Name,
			Field:    f.Name,
			Rule:     "system_column",
			Message:  "column is maintained by the sync pipeline and will be ignored",
		})
	}
	return errs
}

func tableError(spec types.TableSpec, rule, value, msg string) *ValidationError {
	return &ValidationError{
		Severity: SeverityError,
		Table:    spec.Name,
		Value:    value,
		Rule:     rule,
		Message:  msg,
	}
}

// parentCycles returns the tables whose parent chain revisits themselves.
func parentCycles(byName map[string]types.TableSpec) []string {
	var out []string
	for name := range byName {
		visited := map[string]bool{name: true}
		for cur := byName[name].Parent; cur != "" && cur != name; cur = byName[cur].Parent {
			if visited[cur] {
				break
			}
			visited[cur] = true
			if byName[cur].Parent == name {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// REPORTING
// =============================================================================

// FormatErrors renders problems as a numbered list.
func FormatErrors(errs []*ValidationError) string {
	if len(errs) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Validation completed with %d problem(s):\n\n", len(errs))
	for i, e := range errs {
		fmt.Fprintf(&builder, "%d. %s\n", i+1, e.Error())
	}
	return builder.String()
}
