package normalizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ginjaninja78/tally-sync/internal/tdl"
	"github.com/ginjaninja78/tally-sync/internal/transform"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

var groupColumns = []string{"guid", "name", "is_revenue", "opening_balance"}

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
	}
}

func TestParseDelimitedGroupsExample(t *testing.T) {
	text := "g1\tAssets\t1\t1000.50\ng2\tLiabilities\t0\t\n"
	raws, discarded := ParseDelimited(text, groupColumns, "guid")
	if discarded != 0 || len(raws) != 2 {
		t.Fatalf("got %d records, %d discarded", len(raws), discarded)
	}

	recs := transform.New(groupSpec(), transform.Options{MissingAsNull: true}).TransformAll(raws)
	want := []types.NormalizedRecord{
		{"guid": "g1", "name": "Assets", "is_revenue": true, "opening_balance": 1000.50},
		{"guid": "g2", "name": "Liabilities", "is_revenue": false, "opening_balance": float64(0)},
	}
	for i := range want {
		for k, v := range want[i] {
			if recs[i][k] != v {
				t.Errorf("record %d column %s = %#v, want %#v", i, k, recs[i][k], v)
			}
		}
	}
}

func TestParseDelimitedNullsAndDiscards(t *testing.T) {
	text := "g1\tñ\t  \t5\n\tNo guid\t1\t2\nñ\tNull guid\t0\t0\ng3\tShort"
	raws, discarded := ParseDelimited(text, groupColumns, "guid")
	if discarded != 2 {
		t.Errorf("discarded = %d, want 2", discarded)
	}
	if len(raws) != 2 {
		t.Fatalf("got %d records, want 2", len(raws))
	}
	if _, ok := raws[0]["name"]; ok {
		t.Error("null token should leave the column out")
	}
	if _, ok := raws[0]["is_revenue"]; ok {
		t.Error("whitespace-only token should leave the column out")
	}
	if raws[1]["name"] != "Short" || len(raws[1]) != 2 {
		t.Errorf("short row: %#v", raws[1])
	}
}

func TestExtractDelimited(t *testing.T) {
	doc := "<ENVELOPE>\r\n" +
		"  <F01>g1</F01>\r\n  <F02>Assets &amp; Property</F02>\r\n  <F03>1</F03>\r\n  <F04>1000.50</F04>\r\n  <FLDBLANK></FLDBLANK>\r\n" +
		"  <F01>g2</F01>\r\n  <F02>Loans&#13;&#10;(Liability)</F02>\r\n  <F03>0</F03>\r\n  <F04></F04>\r\n" +
		"</ENVELOPE>\r\n"

	res := Extract(doc, Target{Columns: groupColumns})
	if res.Shape != ShapeDelimited {
		t.Fatalf("shape = %s, want delimited", res.Shape)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records: %#v", len(res.Records), res.Records)
	}
	if got := res.Records[0]["name"]; got != "Assets & Property" {
		t.Errorf("name = %q", got)
	}
	if got := res.Records[1]["name"]; got != "Loans(Liability)" {
		t.Errorf("name = %q", got)
	}
	if got, ok := res.Records[1]["opening_balance"]; !ok || got != "" {
		t.Errorf("opening_balance = %q (present=%v)", got, ok)
	}
}

func TestExtractDelimitedSelfClosingFields(t *testing.T) {
	doc := "<ENVELOPE>" +
		"<F01>g1</F01><F02>Assets</F02><F03/><F04>10</F04>" +
		"<F01>g2</F01><F02>Loans</F02><F03>1</F03><F04 />" +
		"</ENVELOPE>"

	res := Extract(doc, Target{Columns: groupColumns})
	if res.Shape != ShapeDelimited || len(res.Records) != 2 {
		t.Fatalf("shape = %s, records = %#v", res.Shape, res.Records)
	}
	if got := res.Records[0]["name"]; got != "Assets" {
		t.Errorf("name = %q", got)
	}
	if got, ok := res.Records[0]["is_revenue"]; !ok || got != "" {
		t.Errorf("is_revenue = %q (present=%v)", got, ok)
	}
	if got := res.Records[0]["opening_balance"]; got != "10" {
		t.Errorf("opening_balance = %q", got)
	}
	if got, ok := res.Records[1]["opening_balance"]; !ok || got != "" {
		t.Errorf("trailing empty field = %q (present=%v)", got, ok)
	}
}

func TestRoundTripRequestAndResponse(t *testing.T) {
	spec := groupSpec()
	req, err := tdl.BuildTableRequest(spec, tdl.Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var b strings.Builder
	b.WriteString("<ENVELOPE>")
	for row := 0; row < 3; row++ {
		for i := range spec.Fields {
			tag := tdl.FieldTag(i)
			if !strings.Contains(req, "<XMLTAG>"+tag+"</XMLTAG>") {
				t.Fatalf("request does not export %s", tag)
			}
			fmt.Fprintf(&b, "<%s>v%d%d</%s>", tag, row, i, tag)
		}
	}
	b.WriteString("</ENVELOPE>")

	res := Extract(b.String(), TargetFor(spec))
	if len(res.Records) != 3 {
		t.Fatalf("got %d records", len(res.Records))
	}
	for _, rec := range res.Records {
		if len(rec) != len(spec.Fields) {
			t.Errorf("record has %d columns, want %d: %#v", len(rec), len(spec.Fields), rec)
		}
	}
}

func TestExtractSummary(t *testing.T) {
	doc := `<ENVELOPE>
  <DSPACCNAME><DSPDISPNAME>Widget A</DSPDISPNAME></DSPACCNAME>
  <DSPSTKINFO><DSPSTKCL><DSPCLQTY>10 Nos</DSPCLQTY><DSPCLRATE>5.00</DSPCLRATE><DSPCLAMTA>50.00</DSPCLAMTA></DSPSTKCL></DSPSTKINFO>
  <DSPACCNAME><DSPDISPNAME>Widget
 B</DSPDISPNAME></DSPACCNAME>
  <DSPSTKINFO><DSPSTKCL><DSPCLQTY>4 Nos</DSPCLQTY><DSPCLRATE>2.50</DSPCLRATE><DSPCLAMTA>10.00</DSPCLAMTA></DSPSTKCL></DSPSTKINFO>
  <DSPACCNAME><DSPDISPNAME>Widget C</DSPDISPNAME></DSPACCNAME>
</ENVELOPE>`

	res := Extract(doc, Target{Tag: "STOCKITEM"})
	if res.Shape != ShapeSummary {
		t.Fatalf("shape = %s, want summary", res.Shape)
	}
	if len(res.Records) != 3 {
		t.Fatalf("got %d records", len(res.Records))
	}
	if res.Records[1]["NAME"] != "Widget B" || res.Records[1]["RATE"] != "2.50" {
		t.Errorf("second record: %#v", res.Records[1])
	}
	if _, ok := res.Records[2]["RATE"]; ok {
		t.Errorf("third record should have no rate: %#v", res.Records[2])
	}
	if res.Records[2]["GUID"] == "" || res.Records[0]["GUID"] == res.Records[2]["GUID"] {
		t.Errorf("summary GUIDs should be present and distinct: %#v", res.Records)
	}

	again := Extract(doc, Target{Tag: "STOCKITEM"})
	if again.Records[0]["GUID"] != res.Records[0]["GUID"] {
		t.Error("summary GUIDs should be stable across runs")
	}
}

func TestExtractGroupSummaryAmounts(t *testing.T) {
	doc := `<ENVELOPE>
  <DSPACCNAME><DSPDISPNAME>Current Assets</DSPDISPNAME></DSPACCNAME>
  <DSPACCINFO><DSPCLDRAMT><DSPCLDRAMTA>-1500.00</DSPCLDRAMTA></DSPCLDRAMT><DSPCLCRAMT><DSPCLCRAMTA></DSPCLCRAMTA></DSPCLCRAMT></DSPACCINFO>
</ENVELOPE>`
	res := Extract(doc, Target{Tag: "GROUP"})
	if len(res.Records) != 1 || res.Records[0]["DEBIT"] != "-1500.00" {
		t.Fatalf("unexpected records: %#v", res.Records)
	}
	if _, ok := res.Records[0]["CREDIT"]; ok {
		t.Error("empty credit should be absent")
	}
}

func TestExtractMessageVariants(t *testing.T) {
	ledgers := `<LEDGER NAME="Cash" RESERVEDNAME=""><GUID>l-1</GUID><PARENT>Cash-in-Hand</PARENT><OPENINGBALANCE>-100.00</OPENINGBALANCE></LEDGER>`
	bank := `<LEDGER NAME="Bank"><GUID>l-2</GUID><PARENT>Bank Accounts</PARENT></LEDGER>`

	tests := []struct {
		name string
		doc  string
		want int
	}{
		{"envelope body data", "<ENVELOPE><BODY><DATA><TALLYMESSAGE>" + ledgers + "</TALLYMESSAGE><TALLYMESSAGE>" + bank + "</TALLYMESSAGE></DATA></BODY></ENVELOPE>", 2},
		{"response body data", "<RESPONSE><BODY><DATA><TALLYMESSAGE>" + ledgers + bank + "</TALLYMESSAGE></DATA></BODY></RESPONSE>", 2},
		{"envelope message", "<ENVELOPE><TALLYMESSAGE>" + ledgers + "</TALLYMESSAGE></ENVELOPE>", 1},
		{"bare message", "<TALLYMESSAGE>" + bank + "</TALLYMESSAGE>", 1},
		{"custom report data", "<ENVELOPE><BODY><DATA>" + ledgers + bank + "</DATA></BODY></ENVELOPE>", 2},
		{"collection export", "<ENVELOPE><BODY><DATA><COLLECTION>" + ledgers + "</COLLECTION></DATA></BODY></ENVELOPE>", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Extract(tt.doc, Target{Tag: "LEDGER"})
			if res.Shape != ShapeMessage {
				t.Fatalf("shape = %s, want message", res.Shape)
			}
			if len(res.Records) != tt.want {
				t.Fatalf("got %d records, want %d", len(res.Records), tt.want)
			}
		})
	}

	res := Extract("<ENVELOPE><TALLYMESSAGE>"+ledgers+"</TALLYMESSAGE></ENVELOPE>", Target{Tag: "LEDGER"})
	rec := res.Records[0]
	if rec["NAME"] != "Cash" || rec["GUID"] != "l-1" || rec["OPENINGBALANCE"] != "-100.00" {
		t.Errorf("unexpected record: %#v", rec)
	}
	res = Extract("<TALLYMESSAGE>"+bank+"</TALLYMESSAGE>", Target{Tag: "LEDGER"})
	if _, ok := res.Records[0]["OPENINGBALANCE"]; ok {
		t.Error("absent attribute should stay absent")
	}
}

func TestExtractElementOverridesAttribute(t *testing.T) {
	doc := `<ENVELOPE><TALLYMESSAGE><GROUP NAME="Attr Name" PARENT="Primary"><NAME>Element Name</NAME><PARENT></PARENT></GROUP></TALLYMESSAGE></ENVELOPE>`
	res := Extract(doc, Target{Tag: "GROUP"})
	rec := res.Records[0]
	if rec["NAME"] != "Element Name" {
		t.Errorf("NAME = %q", rec["NAME"])
	}
	if rec["PARENT"] != "Primary" {
		t.Errorf("empty element should not hide attribute, PARENT = %q", rec["PARENT"])
	}
}

func TestExtractVoucherEntries(t *testing.T) {
	doc := `<ENVELOPE><BODY><DATA><TALLYMESSAGE>
<VOUCHER VCHTYPE="Sales"><GUID>v-1</GUID><VOUCHERNUMBER>1</VOUCHERNUMBER>
  <ALLLEDGERENTRIES.LIST><LEDGERNAME>Customer</LEDGERNAME><AMOUNT>-118.00</AMOUNT><ISDEEMEDPOSITIVE>Yes</ISDEEMEDPOSITIVE></ALLLEDGERENTRIES.LIST>
  <ALLLEDGERENTRIES.LIST><LEDGERNAME>Sales</LEDGERNAME><AMOUNT>100.00</AMOUNT></ALLLEDGERENTRIES.LIST>
</VOUCHER>
<VOUCHER VCHTYPE="Journal"><GUID>v-2</GUID>
  <LEDGERENTRIES.LIST><LEDGERNAME>Rent</LEDGERNAME><AMOUNT>-50.00</AMOUNT></LEDGERENTRIES.LIST>
</VOUCHER>
</TALLYMESSAGE></DATA></BODY></ENVELOPE>`

	res := Extract(doc, Target{Tag: "VOUCHER/ALLLEDGERENTRIES.LIST|LEDGERENTRIES.LIST"})
	if len(res.Records) != 3 {
		t.Fatalf("got %d entries: %#v", len(res.Records), res.Records)
	}
	if res.Records[0]["VOUCHERGUID"] != "v-1" || res.Records[2]["VOUCHERGUID"] != "v-2" {
		t.Errorf("entries should carry the parent voucher GUID: %#v", res.Records)
	}
	if res.Records[2]["LEDGERNAME"] != "Rent" {
		t.Errorf("unexpected entry: %#v", res.Records[2])
	}

	vouchers := Extract(doc, Target{Tag: "VOUCHER"})
	if len(vouchers.Records) != 2 || vouchers.Records[0]["VCHTYPE"] != "Sales" {
		t.Errorf("unexpected vouchers: %#v", vouchers.Records)
	}
}

func TestExtractDayBook(t *testing.T) {
	doc := `<DAYBOOK><VOUCHER><GUID>v-9</GUID></VOUCHER></DAYBOOK>`
	res := Extract(doc, Target{Tag: "VOUCHER"})
	if res.Shape != ShapeMessage || len(res.Records) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtractEmptyMessageIsNotUnknown(t *testing.T) {
	res := Extract("<ENVELOPE><BODY><DATA><TALLYMESSAGE></TALLYMESSAGE></DATA></BODY></ENVELOPE>", Target{Tag: "LEDGER"})
	if res.Shape != ShapeMessage || len(res.Records) != 0 || res.Diagnostic == "" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestExtractUnknown(t *testing.T) {
	tests := []string{
		"",
		"not xml at all",
		"<ENVELOPE><LINEERROR>Could not find Report</LINEERROR></ENVELOPE>",
	}
	for _, doc := range tests {
		res := Extract(doc, Target{Tag: "LEDGER"})
		if res.Shape != ShapeUnknown || len(res.Records) != 0 || res.Diagnostic == "" {
			t.Errorf("Extract(%q) = %+v", doc, res)
		}
	}
}

func TestExtractEmptyEnvelope(t *testing.T) {
	res := Extract("<ENVELOPE>\r\n</ENVELOPE>", Target{Tag: "LEDGER", Columns: []string{"guid"}})
	if res.Shape != ShapeUnknown || !res.Empty {
		t.Errorf("unexpected result: %+v", res)
	}

	res = Extract("<ENVELOPE><LINEERROR>Could not find Report</LINEERROR></ENVELOPE>", Target{Tag: "LEDGER"})
	if res.Empty || res.Diagnostic != "source error: Could not find Report" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestParseToleratesControlReferences(t *testing.T) {
	root, err := Parse("<?xml version=\"1.0\" encoding=\"UTF-16\"?><ENVELOPE><NAME>A&#4;B</NAME></ENVELOPE>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := root.Value("NAME"); v != "AB" {
		t.Errorf("NAME = %q", v)
	}
}
