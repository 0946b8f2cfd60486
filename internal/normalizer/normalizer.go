// =============================================================================
// Tally Sync - Response Normalizer
// =============================================================================
//
// This module turns a raw export response into a flat list of RawRecords.
// The source system answers logically identical requests in several shapes,
// so every document is first classified and then handed to the extractor for
// that shape:
//
//   ShapeDelimited : <ENVELOPE><F01>..</F01><F02>..</F02>...</ENVELOPE>
//                    produced by inline TDL table requests
//   ShapeSummary   : <ENVELOPE><DSPACCNAME>..</DSPACCNAME><DSPSTKINFO>..
//                    produced by summary reports (Stock Summary, Group Summary)
//   ShapeMessage   : <ENVELOPE><BODY><DATA><TALLYMESSAGE><LEDGER>..
//                    and its variants, produced by predefined reports
//   ShapeUnknown   : anything else; yields no records and a diagnostic
//
// Every extracted value is whitespace-normalized before it leaves this
// package. Extraction never fails: problems are reported in Result.
//
// =============================================================================

package normalizer

import (
	"fmt"
	"strings"

	"github.com/ginjaninja78/tally-sync/internal/transform"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// =============================================================================
// SHAPES
// =============================================================================

// Shape is the closed set of recognised response layouts.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeMessage
	ShapeSummary
	ShapeDelimited
)

// String returns the shape name used in logs and summaries.
func (s Shape) String() string {
	switch s {
	case ShapeMessage:
		return "message"
	case ShapeSummary:
		return "summary"
	case ShapeDelimited:
		return "delimited"
	default:
		return "unknown"
	}
}

// MarshalText lets summaries encode the shape by name.
func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// =============================================================================
// TARGET AND RESULT
// =============================================================================

// Target describes what to pull out of a response.
type Target struct {
	// Tag is the entity element path for message-envelope responses. Steps
	// are separated by "/" and each step may list alternatives with "|", for
	// example "VOUCHER/ALLLEDGERENTRIES.LIST|LEDGERENTRIES.LIST". Rows found
	// below the first step get a <STEP>GUID column holding the parent's GUID.
	Tag string

	// Columns names the delimited fields in request order.
	Columns []string

	// Key is the column a delimited row must carry to be kept. Defaults to
	// "guid".
	Key string
}

// TargetFor derives the extraction target for a table.
func TargetFor(spec types.TableSpec) Target {
	return Target{
		Tag:     spec.EntityTag(),
		Columns: spec.Columns(),
		Key:     spec.KeyColumn(),
	}
}

func (t Target) key() string {
	if t.Key == "" {
		return "guid"
	}
	return t.Key
}

// Result is the outcome of one extraction.
type Result struct {
	Shape   Shape
	Records []types.RawRecord

	// Discarded counts rows dropped for lacking the key column.
	Discarded int

	// Diagnostic explains an empty or partial result.
	Diagnostic string

	// Empty is set when the response was a well-formed document with no
	// content at all, which the source sends for an empty collection.
	Empty bool
}

// =============================================================================
// CLASSIFICATION AND DISPATCH
// =============================================================================

type document struct {
	raw  string
	root *Node
	err  error
}

type extractor func(doc *document, target Target) Result

var extractors = map[Shape]extractor{
	ShapeMessage:   extractMessages,
	ShapeSummary:   extractSummary,
	ShapeDelimited: extractDelimited,
}

// Extract classifies a response and runs the matching extractor.
func Extract(raw string, target Target) Result {
	doc := &document{raw: raw}
	shape := classify(doc, target)

	run, ok := extractors[shape]
	if !ok {
		return unknown(doc)
	}

	res := run(doc, target)
	res.Shape = shape
	return res
}

func unknown(doc *document) Result {
	res := Result{Shape: ShapeUnknown, Diagnostic: "response matches no known shape"}
	switch {
	case doc.err != nil:
		res.Diagnostic = doc.err.Error()
	case doc.root == nil:
	case len(doc.root.Children) == 0 && strings.TrimSpace(doc.root.Text) == "":
		res.Empty = true
		res.Diagnostic = "empty response"
	default:
		if msg, ok := doc.root.Value("LINEERROR"); ok {
			res.Diagnostic = "source error: " + msg
		} else {
			res.Diagnostic = fmt.Sprintf("response matches no known shape (root <%s>)", doc.root.Name)
		}
	}
	return res
}

// Classify reports the shape of a response without extracting it.
func Classify(raw string, target Target) Shape {
	return classify(&document{raw: raw}, target)
}

func classify(doc *document, target Target) Shape {
	if strings.Contains(doc.raw, "<F01>") || emptyField.MatchString(doc.raw) {
		return ShapeDelimited
	}

	doc.root, doc.err = Parse(doc.raw)
	if doc.err != nil {
		return ShapeUnknown
	}

	if len(doc.root.ChildrenNamed("DSPACCNAME")) > 0 {
		return ShapeSummary
	}
	if hasMessages(doc.root, target) {
		return ShapeMessage
	}
	return ShapeUnknown
}

// =============================================================================
// RECORD HELPERS
// =============================================================================

// flatten merges a node's attributes and leaf children into one record.
// A non-empty child element overrides an attribute of the same name.
func flatten(n *Node) types.RawRecord {
	rec := make(types.RawRecord, len(n.Attrs)+len(n.Children))
	for k, v := range n.Attrs {
		rec[k] = transform.Normalize(v)
	}

	fromElement := make(map[string]bool)
	for _, c := range n.Children {
		if !c.IsLeaf() || fromElement[c.Name] {
			continue
		}
		v := transform.Normalize(c.Text)
		if _, ok := rec[c.Name]; ok && v == "" {
			continue
		}
		rec[c.Name] = v
		fromElement[c.Name] = true
	}
	return rec
}
