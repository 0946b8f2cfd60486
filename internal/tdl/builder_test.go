package tdl

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

func groupSpec() types.TableSpec {
	return types.TableSpec{
		Name:       "groups",
		Collection: "Group",
		Fields: []types.FieldSpec{
			{Name: "guid", Field: "Guid", Type: types.FieldText},
			{Name: "name", Field: "Name", Type: types.FieldText},
			{Name: "is_revenue", Field: "IsRevenue", Type: types.FieldLogical},
			{Name: "opening_balance", Field: "OpeningBalance", Type: types.FieldNumber},
		},
		Fetch: []string{"Guid", "Name"},
	}
}

func TestExpression(t *testing.T) {
	tests := []struct {
		field types.FieldSpec
		want  string
	}{
		{types.FieldSpec{Field: "Name", Type: types.FieldText}, "$Name"},
		{types.FieldSpec{Field: "..Guid", Type: types.FieldText}, "$..Guid"},
		{types.FieldSpec{Field: "IsRevenue", Type: types.FieldLogical}, "if $IsRevenue then 1 else 0"},
		{types.FieldSpec{Field: "Date", Type: types.FieldDate}, `if $$IsEmpty:$Date then $$StrByCharCode:241 else $$PyrlYYYYMMDDFormat:$Date:"-"`},
		{types.FieldSpec{Field: "Amount", Type: types.FieldAmount}, `$$StringFindAndReplace:(if $$IsDebit:$Amount then -$$NumValue:$Amount else $$NumValue:$Amount):"(-)":"-"`},
		{types.FieldSpec{Field: "Rate", Type: types.FieldRate}, "if $$IsEmpty:$Rate then 0 else $$Number:$Rate"},
		{types.FieldSpec{Field: "$$Owner:$Name", Type: types.FieldText}, "$$Owner:$Name"},
		{types.FieldSpec{Field: "Name", Type: "unknown"}, "$Name"},
	}
	for _, tt := range tests {
		if got := Expression(tt.field); got != tt.want {
			t.Errorf("Expression(%+v) = %q, want %q", tt.field, got, tt.want)
		}
	}
}

func TestBuildTableRequestIsWellFormedAndDeterministic(t *testing.T) {
	p := Params{Company: "Acme & Sons"}
	a, err := BuildTableRequest(groupSpec(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := BuildTableRequest(groupSpec(), p)
	if a != b {
		t.Fatal("identical inputs produced different requests")
	}

	var probe struct{}
	if err := xml.Unmarshal([]byte(a), &probe); err != nil {
		t.Fatalf("request is not well-formed XML: %v\n%s", err, a)
	}

	for _, want := range []string{
		"<ID>TallyDatabaseLoaderReport</ID>",
		"<SVCURRENTCOMPANY>Acme &amp; Sons</SVCURRENTCOMPANY>",
		`<PART NAME="MyPart01"><LINES>MyLine01</LINES><REPEAT>MyLine01 : MyCollection</REPEAT>`,
		"<FIELDS>Fld01,Fld02,Fld03,Fld04</FIELDS>",
		`<FIELD NAME="Fld04"><SET>if $$IsEmpty:$OpeningBalance then "0" else $$String:$OpeningBalance</SET><XMLTAG>F04</XMLTAG></FIELD>`,
		`<COLLECTION NAME="MyCollection"><TYPE>Group</TYPE><FETCH>Guid,Name</FETCH></COLLECTION>`,
	} {
		if !strings.Contains(a, want) {
			t.Errorf("request missing %q\n%s", want, a)
		}
	}
	if strings.Contains(a, "SVFROMDATE") {
		t.Error("zero dates should be omitted")
	}
}

func TestBuildTableRequestNestedCollection(t *testing.T) {
	spec := types.TableSpec{
		Name:       "accounting_entries",
		Collection: "Voucher.AllLedgerEntries",
		Fields: []types.FieldSpec{
			{Name: "voucher_guid", Field: "..Guid", Type: types.FieldText},
			{Name: "ledger_name", Field: "LedgerName", Type: types.FieldText},
			{Name: "amount", Field: "Amount", Type: types.FieldAmount},
		},
		Filters: []string{"NOT $IsCancelled"},
	}
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	req, err := BuildTableRequest(spec, Params{FromDate: from, ToDate: to, Since: &Since{After: 42}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"<SVFROMDATE>20240401</SVFROMDATE><SVTODATE>20250331</SVTODATE>",
		`<LINE NAME="MyLine01"><FIELDS>FldBlank</FIELDS><EXPLODE>MyPart02</EXPLODE></LINE>`,
		`<PART NAME="MyPart02"><LINES>MyLine02</LINES><REPEAT>MyLine02 : AllLedgerEntries</REPEAT>`,
		`<LINE NAME="MyLine02"><FIELDS>Fld01,Fld02,Fld03</FIELDS></LINE>`,
		`<FIELD NAME="FldBlank"><SET>""</SET></FIELD>`,
		"<TYPE>Voucher</TYPE><FILTER>Fltr01,Fltr02</FILTER>",
		`<SYSTEM TYPE="Formulae" NAME="Fltr01">NOT $IsCancelled</SYSTEM>`,
		`<SYSTEM TYPE="Formulae" NAME="Fltr02">$AlterID &gt; 42</SYSTEM>`,
	} {
		if !strings.Contains(req, want) {
			t.Errorf("request missing %q\n%s", want, req)
		}
	}
}

func TestBuildTableRequestErrors(t *testing.T) {
	if _, err := BuildTableRequest(types.TableSpec{Name: "x", Fields: groupSpec().Fields}, Params{}); err == nil {
		t.Error("expected error for missing collection")
	}
	if _, err := BuildTableRequest(types.TableSpec{Name: "x", Collection: "Group"}, Params{}); err == nil {
		t.Error("expected error for missing fields")
	}
}

func TestFieldTagMatchesColumnCount(t *testing.T) {
	spec := groupSpec()
	req, _ := BuildTableRequest(spec, Params{})
	for i := range spec.Fields {
		if !strings.Contains(req, "<XMLTAG>"+FieldTag(i)+"</XMLTAG>") {
			t.Errorf("missing tag %s", FieldTag(i))
		}
	}
	if FieldTag(0) != "F01" || FieldTag(11) != "F12" {
		t.Errorf("unexpected tags %s %s", FieldTag(0), FieldTag(11))
	}
}

func TestBuildReportRequest(t *testing.T) {
	req := BuildReportRequest("ledgers", Params{Company: "Acme"})
	want := "<ENVELOPE><HEADER><VERSION>1</VERSION><TALLYREQUEST>Export</TALLYREQUEST><TYPE>Data</TYPE><ID>List of Accounts</ID></HEADER>" +
		"<BODY><DESC><STATICVARIABLES><SVEXPORTFORMAT>$$SysName:XML</SVEXPORTFORMAT><SVCURRENTCOMPANY>Acme</SVCURRENTCOMPANY></STATICVARIABLES></DESC></BODY></ENVELOPE>"
	if req != want {
		t.Errorf("BuildReportRequest:\n got %s\nwant %s", req, want)
	}

	day := BuildReportRequest(ReportDayBook, Params{FromDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})
	if !strings.Contains(day, "<EXPLODEFLAG>Yes</EXPLODEFLAG>") || !strings.Contains(day, "<SVFROMDATE>20240102</SVFROMDATE>") {
		t.Errorf("unexpected daybook request: %s", day)
	}

	custom := BuildReportRequest("Trial Balance", Params{})
	if !strings.Contains(custom, "<ID>Trial Balance</ID>") || strings.Contains(custom, "EXPLODEFLAG") {
		t.Errorf("unexpected generic request: %s", custom)
	}
}

func TestForTableUsesReportWhenSet(t *testing.T) {
	spec := groupSpec()
	spec.Report = "Group Summary"
	req, err := ForTable(spec, Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(req, "<ID>Group Summary</ID>") || strings.Contains(req, "<TDL>") {
		t.Errorf("unexpected request: %s", req)
	}
}

func TestBuildChangeIDRequest(t *testing.T) {
	req := BuildChangeIDRequest("Acme")
	for _, want := range []string{
		"<SVEXPORTFORMAT>ASCII (Comma Delimited)</SVEXPORTFORMAT>",
		"<SVCURRENTCOMPANY>Acme</SVCURRENTCOMPANY>",
		`<FIELD NAME="FldAlterMaster"><SET>$AltMstId</SET></FIELD>`,
		`<SYSTEM TYPE="Formulae" NAME="FilterActiveCompany">$$IsEqual:##SVCurrentCompany:$Name</SYSTEM>`,
	} {
		if !strings.Contains(req, want) {
			t.Errorf("request missing %q", want)
		}
	}
}
