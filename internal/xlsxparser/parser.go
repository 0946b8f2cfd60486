// =============================================================================
// Tally Sync - XLSX Table Workbook Parser
// =============================================================================
//
// This module reads table specifications from an XLSX workbook, for teams
// that maintain their export definitions in a spreadsheet instead of YAML.
// Every sheet describes one table; the sheet name is the table name.
//
// SHEET STRUCTURE:
//   A block of property rows, then a header row, then one row per field.
//
//   | Column A     | Column B           | Column C |
//   |--------------|--------------------|----------|
//   | category     | transaction        |          |
//   | collection   | Voucher            |          |
//   | fetch        | AllLedgerEntries   |          |
//   | filter       | NOT $IsCancelled   |          |
//   | parent       | vouchers           |          |
//   | key          | voucher_guid       |          |
//   | derive_guid  | yes                |          |
//   |              |                    |          |
//   | name         | field              | type     |
//   | voucher_guid | Guid               | text     |
//   | ledger       | LedgerName         | text     |
//   | amount       | Amount             | amount   |
//
//   "fetch" and "filter" may repeat; each row adds one entry. Other
//   recognised properties: tag, report, priority. Unknown properties are
//   errors so that typos are not silently ignored.
//
// Sheets whose name starts with "_" are skipped (notes, lookup lists).
//
// =============================================================================

package xlsxparser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// =============================================================================
// SHEET LAYOUT
// =============================================================================

// SheetColumns locates the field columns below the header row.
type SheetColumns struct {
	// NameColumn holds the target column name. Default: 0 (Column A)
	NameColumn int

	// FieldColumn holds the source field expression. Default: 1 (Column B)
	FieldColumn int

	// TypeColumn holds the field type. Default: 2 (Column C)
	TypeColumn int

	// HeaderMarker is the Column A text that ends the property block.
	// Default: "name"
	HeaderMarker string
}

// DefaultSheetColumns returns the default sheet layout.
func DefaultSheetColumns() SheetColumns {
	return SheetColumns{
		NameColumn:   0,
		FieldColumn:  1,
		TypeColumn:   2,
		HeaderMarker: "name",
	}
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads every table sheet of a workbook.
//
// PARAMETERS:
//   - workbookPath: The path to the XLSX file.
//
// RETURNS:
//   - The table specifications in sheet order.
//   - An error naming the sheet and row of the first problem.
func Parse(workbookPath string) ([]types.TableSpec, error) {
	return ParseWithConfig(workbookPath, DefaultSheetColumns())
}

// ParseWithConfig is Parse with a custom column layout.
func ParseWithConfig(workbookPath string, columns SheetColumns) ([]types.TableSpec, error) {
	f, err := excelize.OpenFile(workbookPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	return ParseFile(f, columns)
}

// ParseFile reads table sheets from an already opened workbook.
func ParseFile(f *excelize.File, columns SheetColumns) ([]types.TableSpec, error) {
	var specs []types.TableSpec
	for _, sheetName := range f.GetSheetList() {
		if strings.HasPrefix(sheetName, "_") {
			continue
		}
		spec, err := parseSheet(f, sheetName, columns)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheetName, err)
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("workbook has no table sheets")
	}
	return specs, nil
}

// parseSheet reads one table definition.
func parseSheet(f *excelize.File, sheetName string, columns SheetColumns) (types.TableSpec, error) {
	spec := types.TableSpec{Name: strings.TrimSpace(sheetName)}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return spec, fmt.Errorf("failed to read rows: %w", err)
	}

	// =========================================================================
	// STEP 1: PROPERTY BLOCK
	// =========================================================================

	i := 0
	for ; i < len(rows); i++ {
		row := rows[i]
		if isRowEmpty(row) {
			continue
		}
		prop := strings.ToLower(cell(row, 0))
		if prop == columns.HeaderMarker {
			i++
			break
		}
		if err := applyProperty(&spec, prop, cell(row, 1)); err != nil {
			return spec, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	// =========================================================================
	// STEP 2: FIELD ROWS
	// =========================================================================

	for ; i < len(rows); i++ {
		row := rows[i]
		if isRowEmpty(row) {
			continue
		}
		field := types.FieldSpec{
			Name:  cell(row, columns.NameColumn),
			Field: cell(row, columns.FieldColumn),
			Type:  types.FieldType(strings.ToLower(cell(row, columns.TypeColumn))),
		}
		if field.Name == "" {
			return spec, fmt.Errorf("row %d: field name is empty", i+1)
		}
		if field.Type == "" {
			field.Type = types.FieldText
		}
		spec.Fields = append(spec.Fields, field)
	}

	return spec, nil
}

// applyProperty sets one property row on spec.
func applyProperty(spec *types.TableSpec, prop, value string) error {
	switch prop {
	case "category":
		spec.Category = types.Category(strings.ToLower(value))
	case "collection":
		spec.Collection = value
	case "fetch":
		spec.Fetch = append(spec.Fetch, value)
	case "filter", "filters":
		spec.Filters = append(spec.Filters, value)
	case "tag":
		spec.Tag = value
	case "report":
		spec.Report = value
	case "parent":
		spec.Parent = value
	case "key":
		spec.Key = value
	case "derive_guid":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("derive_guid: %w", err)
		}
		spec.DeriveGUID = b
	case "priority":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("priority: %w", err)
		}
		spec.Priority = n
	default:
		return fmt.Errorf("unknown property %q", prop)
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// isRowEmpty checks if all cells in a row are empty.
func isRowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
