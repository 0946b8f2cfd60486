package tdl

import (
	"strings"

	"github.com/ginjaninja78/tally-sync/internal/xmlwriter"
)

// Predefined report identifiers known to the source system.
const (
	ReportDayBook          = "DayBook"
	ReportListOfAccounts   = "List of Accounts"
	ReportListOfGroups     = "List of Groups"
	ReportListOfStockItems = "List of Stock Items"
	ReportVoucherTypes     = "List of Voucher Types"
	ReportGroupSummary     = "Group Summary"
	ReportStockSummary     = "Stock Summary"
)

// reportAliases lets configuration and the CLI refer to reports by the table
// they usually feed.
var reportAliases = map[string]string{
	"ledgers":       ReportListOfAccounts,
	"groups":        ReportListOfGroups,
	"stock_items":   ReportListOfStockItems,
	"voucher_types": ReportVoucherTypes,
	"vouchers":      ReportDayBook,
	"daybook":       ReportDayBook,
	"group_summary": ReportGroupSummary,
	"stock_summary": ReportStockSummary,
}

// ResolveReport maps an alias to its report identifier. Unknown names are
// returned unchanged and used as generic report ids.
func ResolveReport(name string) string {
	if id, ok := reportAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id
	}
	return name
}

// BuildReportRequest builds a minimal envelope for a predefined report.
func BuildReportRequest(report string, p Params) string {
	id := ResolveReport(report)

	var extra []*xmlwriter.Element
	if p.Explode || id == ReportDayBook {
		extra = append(extra, xmlwriter.Leaf("EXPLODEFLAG", "Yes"))
	}

	doc := envelope(id, staticVariables("$$SysName:XML", p, extra...))
	return string(xmlwriter.Marshal(doc))
}

// BuildChangeIDRequest builds the report that returns the current company's
// master and transaction change ids as one comma-delimited line.
func BuildChangeIDRequest(company string) string {
	const report = "MyReportAlterID"

	message := xmlwriter.New("TDLMESSAGE",
		xmlwriter.New("REPORT", xmlwriter.Leaf("FORMS", "MyForm")).WithAttr("NAME", report),
		xmlwriter.New("FORM", xmlwriter.Leaf("PARTS", "MyPart")).WithAttr("NAME", "MyForm"),
		xmlwriter.New("PART",
			xmlwriter.Leaf("LINES", "MyLine"),
			xmlwriter.Leaf("REPEAT", "MyLine : MyCollection"),
			xmlwriter.Leaf("SCROLLED", "Vertical"),
		).WithAttr("NAME", "MyPart"),
		xmlwriter.New("LINE", xmlwriter.Leaf("FIELDS", "FldAlterMaster,FldAlterTransaction")).WithAttr("NAME", "MyLine"),
		xmlwriter.New("FIELD", xmlwriter.Leaf("SET", "$AltMstId")).WithAttr("NAME", "FldAlterMaster"),
		xmlwriter.New("FIELD", xmlwriter.Leaf("SET", "$AltVchId")).WithAttr("NAME", "FldAlterTransaction"),
		xmlwriter.New("COLLECTION",
			xmlwriter.Leaf("TYPE", "Company"),
			xmlwriter.Leaf("FILTER", "FilterActiveCompany"),
		).WithAttr("NAME", "MyCollection"),
		xmlwriter.Leaf("SYSTEM", "$$IsEqual:##SVCurrentCompany:$Name").
			WithAttr("TYPE", "Formulae").
			WithAttr("NAME", "FilterActiveCompany"),
	)

	doc := envelope(report,
		staticVariables("ASCII (Comma Delimited)", Params{Company: company}),
		xmlwriter.New("TDL", message),
	)
	return string(xmlwriter.Marshal(doc))
}
