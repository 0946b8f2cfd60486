package validation

import (
	"strings"
	"testing"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

func ledgerSpec() types.TableSpec {
	return types.TableSpec{
		Name:       "ledgers",
		Collection: "Ledger",
		Category:   types.CategoryMaster,
		Fields: []types.FieldSpec{
			{Name: "guid", Field: "Guid", Type: types.FieldText},
			{Name: "name", Field: "Name", Type: types.FieldText},
			{Name: "opening_balance", Field: "OpeningBalance", Type: types.FieldAmount},
		},
	}
}

func entriesSpec() types.TableSpec {
	return types.TableSpec{
		Name:       "accounting_entries",
		Collection: "Voucher",
		Category:   types.CategoryTransaction,
		Parent:     "vouchers",
		Key:        "voucher_guid",
		DeriveGUID: true,
		Fields: []types.FieldSpec{
			{Name: "voucher_guid", Field: "Guid", Type: types.FieldText},
			{Name: "ledger", Field: "LedgerName", Type: types.FieldText},
		},
	}
}

func vouchersSpec() types.TableSpec {
	return types.TableSpec{
		Name:       "vouchers",
		Collection: "Voucher",
		Category:   types.CategoryTransaction,
		Fields: []types.FieldSpec{
			{Name: "guid", Field: "Guid", Type: types.FieldText},
			{Name: "date", Field: "Date", Type: types.FieldDate},
		},
	}
}

func rules(errs []*ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Severity+":"+e.Rule)
	}
	return out
}

func TestValidateTablesValid(t *testing.T) {
	res := ValidateTables([]types.TableSpec{ledgerSpec(), vouchersSpec(), entriesSpec()})
	if !res.IsValid || res.Err() != nil {
		t.Fatalf("expected valid catalogue, got %v", rules(res.Errors))
	}
	if res.TablesValidated != 3 || res.FieldsValidated != 7 {
		t.Errorf("counts = %d tables, %d fields", res.TablesValidated, res.FieldsValidated)
	}
}

func TestValidateTable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.TableSpec)
		want   string
	}{
		{"bad table name", func(s *types.TableSpec) { s.Name = "ledgers; drop" }, "error:identifier"},
		{"missing collection", func(s *types.TableSpec) { s.Collection = " " }, "error:collection"},
		{"missing category", func(s *types.TableSpec) { s.Category = "" }, "error:category"},
		{"unknown type", func(s *types.TableSpec) { s.Fields[1].Type = "money" }, "error:type"},
		{"empty field expression", func(s *types.TableSpec) { s.Fields[1].Field = "" }, "error:field"},
		{"duplicate column", func(s *types.TableSpec) { s.Fields[2].Name = "name" }, "error:unique"},
		{"bad column name", func(s *types.TableSpec) { s.Fields[1].Name = "1name" }, "error:identifier"},
		{"missing guid", func(s *types.TableSpec) { s.Fields = s.Fields[1:] }, "error:guid"},
		{"key not declared", func(s *types.TableSpec) { s.Key = "alias" }, "error:key"},
		{"system column", func(s *types.TableSpec) { s.Fields[1].Name = "updated_at" }, "warning:system_column"},
		{"negative priority", func(s *types.TableSpec) { s.Priority = -1 }, "warning:priority"},
		{"own parent", func(s *types.TableSpec) { s.Parent = "ledgers" }, "error:parent"},
		{"derive without key", func(s *types.TableSpec) { s.DeriveGUID = true }, "error:derive_guid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := ledgerSpec()
			tt.mutate(&spec)
			got := rules(ValidateTable(spec))
			found := false
			for _, r := range got {
				if r == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("rules = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestDerivedGUIDWarning(t *testing.T) {
	spec := entriesSpec()
	spec.Fields = append(spec.Fields, types.FieldSpec{Name: "guid", Field: "Guid", Type: types.FieldText})
	got := rules(ValidateTable(spec))
	if len(got) != 1 || got[0] != "warning:derive_guid" {
		t.Errorf("rules = %v", got)
	}
}

func TestValidateTablesCatalogue(t *testing.T) {
	orphan := entriesSpec()
	orphan.Parent = "missing"
	res := ValidateTables([]types.TableSpec{ledgerSpec(), ledgerSpec(), orphan})
	if res.IsValid || res.ErrorCount != 2 {
		t.Fatalf("rules = %v", rules(res.Errors))
	}
	msg := res.Err().Error()
	if !strings.Contains(msg, "defined more than once") || !strings.Contains(msg, "parent table is not configured") {
		t.Errorf("Err() = %q", msg)
	}

	crossed := entriesSpec()
	crossed.Parent = "ledgers"
	res = ValidateTables([]types.TableSpec{ledgerSpec(), crossed})
	if res.ErrorCount != 1 || !strings.Contains(res.Errors[0].Message, "different category") {
		t.Errorf("rules = %v", rules(res.Errors))
	}
}

func TestParentCycle(t *testing.T) {
	a, b := vouchersSpec(), entriesSpec()
	a.Parent = "accounting_entries"
	res := ValidateTables([]types.TableSpec{a, b})
	var cycles []string
	for _, e := range res.Errors {
		if strings.Contains(e.Message, "loops back") {
			cycles = append(cycles, e.Table)
		}
	}
	if len(cycles) != 2 || cycles[0] != "accounting_entries" || cycles[1] != "vouchers" {
		t.Errorf("cycles = %v", cycles)
	}
}

func TestFormatErrors(t *testing.T) {
	if FormatErrors(nil) != "No validation errors." {
		t.Error("empty format")
	}
	out := FormatErrors([]*ValidationError{{
		Severity: SeverityError, Table: "ledgers", Field: "name", Value: "x", Rule: "type", Message: "unknown field type",
	}})
	want := "1. [ERROR] table 'ledgers', field 'name': unknown field type (value: 'x')"
	if !strings.Contains(out, want) {
		t.Errorf("FormatErrors = %q", out)
	}
}
