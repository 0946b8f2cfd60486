// =============================================================================
// Tally Sync - Request Builder
// =============================================================================
//
// This module constructs export requests for the source system. Two request
// forms exist:
//
//   1. Report requests: a minimal envelope naming a report the source system
//      already knows ("List of Accounts", "DayBook", ...) plus static
//      variables. See reports.go.
//
//   2. Table requests: a self-describing TDL definition generated from a
//      TableSpec. The definition nests one PART/LINE pair per collection
//      segment; every level but the last explodes into the next, and only the
//      innermost line carries real fields:
//
//        REPORT TallyDatabaseLoaderReport
//          FORM MyForm
//            PART MyPart01  (repeats MyLine01 over MyCollection)
//              LINE MyLine01 -> FldBlank, EXPLODE MyPart02
//            PART MyPart02  (repeats MyLine02 over the second segment)
//              LINE MyLine02 -> Fld01 .. FldNN
//
//      Field NN is exported under the tag FNN, which is what the normalizer's
//      delimited-field path keys on.
//
// All builders are pure functions of their inputs.
//
// =============================================================================

package tdl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/types"
	"github.com/ginjaninja78/tally-sync/internal/xmlwriter"
)

// =============================================================================
// REQUEST PARAMETERS
// =============================================================================

// Params carries the per-request static variables.
type Params struct {
	// Company scopes the export to one company. Empty means the source
	// system's currently open company.
	Company string

	// FromDate and ToDate bound transaction exports. Zero values are omitted.
	FromDate time.Time
	ToDate   time.Time

	// Since, when set, restricts the export to objects changed after a known
	// change id.
	Since *Since

	// Explode asks report requests to include child detail. DayBook requests
	// always explode.
	Explode bool
}

// Since is an incremental "changed since" filter.
type Since struct {
	// Field is the change-id attribute; defaults to $AlterID.
	Field string
	After int64
}

// Formula returns the filter expression.
func (s Since) Formula() string {
	field := s.Field
	if field == "" {
		field = "$AlterID"
	}
	return field + " > " + strconv.FormatInt(s.After, 10)
}

const (
	loaderReportName = "TallyDatabaseLoaderReport"
	dataExportFormat = "XML (Data Interchange)"
	dateFormat       = "20060102"
)

// =============================================================================
// TABLE REQUESTS
// =============================================================================

// ForTable builds the request used to synchronise a table: a report request
// when the table names a predefined report, a table request otherwise.
func ForTable(spec types.TableSpec, p Params) (string, error) {
	if spec.Report != "" {
		return BuildReportRequest(spec.Report, p), nil
	}
	return BuildTableRequest(spec, p)
}

// BuildTableRequest generates an inline TDL export definition for spec.
func BuildTableRequest(spec types.TableSpec, p Params) (string, error) {
	if strings.TrimSpace(spec.Collection) == "" {
		return "", fmt.Errorf("table %q has no collection", spec.Name)
	}
	if len(spec.Fields) == 0 {
		return "", fmt.Errorf("table %q has no fields", spec.Name)
	}

	segments := strings.Split(spec.Collection, ".")
	collectionType := segments[0]
	routes := append([]string{"MyCollection"}, segments[1:]...)

	message := xmlwriter.New("TDLMESSAGE",
		xmlwriter.New("REPORT", xmlwriter.Leaf("FORMS", "MyForm")).WithAttr("NAME", loaderReportName),
		xmlwriter.New("FORM", xmlwriter.Leaf("PARTS", partName(0))).WithAttr("NAME", "MyForm"),
	)

	for i, route := range routes {
		message.Add(
			xmlwriter.New("PART",
				xmlwriter.Leaf("LINES", lineName(i)),
				xmlwriter.Leaf("REPEAT", lineName(i)+" : "+route),
				xmlwriter.Leaf("SCROLLED", "Vertical"),
			).WithAttr("NAME", partName(i)),
		)
	}

	for i := range routes {
		line := xmlwriter.New("LINE").WithAttr("NAME", lineName(i))
		if i < len(routes)-1 {
			line.Add(
				xmlwriter.Leaf("FIELDS", "FldBlank"),
				xmlwriter.Leaf("EXPLODE", partName(i+1)),
			)
		} else {
			names := make([]string, len(spec.Fields))
			for j := range spec.Fields {
				names[j] = fieldName(j)
			}
			line.Add(xmlwriter.Leaf("FIELDS", strings.Join(names, ",")))
		}
		message.Add(line)
	}

	for j, f := range spec.Fields {
		message.Add(
			xmlwriter.New("FIELD",
				xmlwriter.Leaf("SET", Expression(f)),
				xmlwriter.Leaf("XMLTAG", FieldTag(j)),
			).WithAttr("NAME", fieldName(j)),
		)
	}
	message.Add(xmlwriter.New("FIELD", xmlwriter.Leaf("SET", `""`)).WithAttr("NAME", "FldBlank"))

	filters := append([]string(nil), spec.Filters...)
	if p.Since != nil {
		filters = append(filters, p.Since.Formula())
	}

	collection := xmlwriter.New("COLLECTION", xmlwriter.Leaf("TYPE", collectionType)).WithAttr("NAME", "MyCollection")
	if len(spec.Fetch) > 0 {
		collection.Add(xmlwriter.Leaf("FETCH", strings.Join(spec.Fetch, ",")))
	}
	if len(filters) > 0 {
		names := make([]string, len(filters))
		for k := range filters {
			names[k] = filterName(k)
		}
		collection.Add(xmlwriter.Leaf("FILTER", strings.Join(names, ",")))
	}
	message.Add(collection)

	for k, expr := range filters {
		message.Add(
			xmlwriter.Leaf("SYSTEM", expr).
				WithAttr("TYPE", "Formulae").
				WithAttr("NAME", filterName(k)),
		)
	}

	doc := envelope(loaderReportName,
		staticVariables(dataExportFormat, p),
		xmlwriter.New("TDL", message),
	)
	return string(xmlwriter.Marshal(doc)), nil
}

// FieldTag returns the XML tag the i-th (0-based) field is exported under.
func FieldTag(i int) string {
	return fmt.Sprintf("F%02d", i+1)
}

func fieldName(i int) string  { return fmt.Sprintf("Fld%02d", i+1) }
func partName(i int) string   { return fmt.Sprintf("MyPart%02d", i+1) }
func lineName(i int) string   { return fmt.Sprintf("MyLine%02d", i+1) }
func filterName(i int) string { return fmt.Sprintf("Fltr%02d", i+1) }

// =============================================================================
// ENVELOPE HELPERS
// =============================================================================

func envelope(id string, desc ...*xmlwriter.Element) *xmlwriter.Element {
	return xmlwriter.New("ENVELOPE",
		xmlwriter.New("HEADER",
			xmlwriter.Leaf("VERSION", "1"),
			xmlwriter.Leaf("TALLYREQUEST", "Export"),
			xmlwriter.Leaf("TYPE", "Data"),
			xmlwriter.Leaf("ID", id),
		),
		xmlwriter.New("BODY", xmlwriter.New("DESC").Add(desc...)),
	)
}

func staticVariables(format string, p Params, extra ...*xmlwriter.Element) *xmlwriter.Element {
	vars := xmlwriter.New("STATICVARIABLES", xmlwriter.Leaf("SVEXPORTFORMAT", format))
	if !p.FromDate.IsZero() {
		vars.Add(xmlwriter.Leaf("SVFROMDATE", p.FromDate.Format(dateFormat)))
	}
	if !p.ToDate.IsZero() {
		vars.Add(xmlwriter.Leaf("SVTODATE", p.ToDate.Format(dateFormat)))
	}
	if p.Company != "" {
		vars.Add(xmlwriter.Leaf("SVCURRENTCOMPANY", p.Company))
	}
	return vars.Add(extra...)
}
