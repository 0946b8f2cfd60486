// =============================================================================
// Tally Sync - XML Writer Module
// =============================================================================
//
// This module renders request documents for the source system. Callers build
// a tree of Elements and the writer serializes it with stable attribute and
// child ordering, so identical inputs always produce identical bytes.
//
// XML STRUCTURE:
//   Every request sent to the source system follows this outline:
//
//   <ENVELOPE>
//     <HEADER>
//       <VERSION>1</VERSION>
//       <TALLYREQUEST>Export</TALLYREQUEST>
//       <TYPE>Data</TYPE>
//       <ID>List of Accounts</ID>
//     </HEADER>
//     <BODY>
//       <DESC>
//         <STATICVARIABLES>...</STATICVARIABLES>
//         <TDL>...</TDL>                  <!-- only for inline definitions -->
//       </DESC>
//     </BODY>
//   </ENVELOPE>
//
// =============================================================================

package xmlwriter

import (
	"bytes"
	"strings"
)

// =============================================================================
// WRITE OPTIONS
// =============================================================================

// Options controls serialization.
type Options struct {
	// Indent is the string used for each nesting level. Empty produces a
	// single-line document.
	Indent string

	// IncludeXMLDeclaration prepends <?xml version="1.0" encoding="..."?>.
	IncludeXMLDeclaration bool

	// Encoding is written into the declaration. The bytes themselves are
	// always UTF-8; the transport re-encodes them.
	Encoding string
}

// DefaultOptions returns the options used for source requests.
func DefaultOptions() Options {
	return Options{
		Indent:                "",
		IncludeXMLDeclaration: false,
		Encoding:              "UTF-8",
	}
}

// =============================================================================
// ELEMENT TREE
// =============================================================================

// Attr is a single attribute. Attributes are written in slice order.
type Attr struct {
	Name  string
	Value string
}

// Element is a generic XML element. An element with Text set is written as a
// leaf; otherwise its Children are written in order.
type Element struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// New creates an element with children.
func New(name string, children ...*Element) *Element {
	return &Element{Name: name, Children: children}
}

// Leaf creates a text-only element.
func Leaf(name, text string) *Element {
	return &Element{Name: name, Text: text}
}

// WithAttr appends an attribute and returns the element for chaining.
func (e *Element) WithAttr(name, value string) *Element {
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
	return e
}

// Add appends children and returns the element for chaining. Nil children
// are skipped so optional sections can be passed inline.
func (e *Element) Add(children ...*Element) *Element {
	for _, c := range children {
		if c != nil {
			e.Children = append(e.Children, c)
		}
	}
	return e
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// Marshal renders the element with DefaultOptions.
func Marshal(root *Element) []byte {
	return MarshalWithOptions(root, DefaultOptions())
}

// MarshalWithOptions renders the element tree.
func MarshalWithOptions(root *Element, options Options) []byte {
	var buffer bytes.Buffer

	if options.IncludeXMLDeclaration {
		encoding := options.Encoding
		if encoding == "" {
			encoding = "UTF-8"
		}
		buffer.WriteString(`<?xml version="1.0" encoding="`)
		buffer.WriteString(encoding)
		buffer.WriteString(`"?>`)
		if options.Indent != "" {
			buffer.WriteString("\n")
		}
	}

	if root != nil {
		writeElement(&buffer, root, options.Indent, 0)
	}
	return buffer.Bytes()
}

// writeElement writes an element and its subtree. Indentation and newlines
// are only emitted when indent is non-empty.
func writeElement(buffer *bytes.Buffer, element *Element, indent string, level int) {
	pretty := indent != ""
	if pretty {
		buffer.WriteString(strings.Repeat(indent, level))
	}

	buffer.WriteString("<")
	buffer.WriteString(element.Name)
	for _, attr := range element.Attrs {
		buffer.WriteString(" ")
		buffer.WriteString(attr.Name)
		buffer.WriteString(`="`)
		buffer.WriteString(EscapeAttr(attr.Value))
		buffer.WriteString(`"`)
	}

	switch {
	case len(element.Children) == 0:
		buffer.WriteString(">")
		buffer.WriteString(EscapeText(element.Text))

	default:
		buffer.WriteString(">")
		if pretty {
			buffer.WriteString("\n")
		}
		for _, child := range element.Children {
			writeElement(buffer, child, indent, level+1)
		}
		if pretty {
			buffer.WriteString(strings.Repeat(indent, level))
		}
	}

	buffer.WriteString("</")
	buffer.WriteString(element.Name)
	buffer.WriteString(">")
	if pretty {
		buffer.WriteString("\n")
	}
}

// EscapeText escapes character data. Quotes are left alone because TDL
// formulae use them heavily and they need no escaping outside attributes.
func EscapeText(s string) string {
	if !strings.ContainsAny(s, "&<>") {
		return s
	}
	var buffer bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buffer.WriteString("&amp;")
		case '<':
			buffer.WriteString("&lt;")
		case '>':
			buffer.WriteString("&gt;")
		default:
			buffer.WriteRune(r)
		}
	}
	return buffer.String()
}

// EscapeAttr escapes an attribute value.
func EscapeAttr(s string) string {
	var buffer bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buffer.WriteString("&amp;")
		case '<':
			buffer.WriteString("&lt;")
		case '>':
			buffer.WriteString("&gt;")
		case '"':
			buffer.WriteString("&quot;")
		case '\'':
			buffer.WriteString("&apos;")
		default:
			buffer.WriteRune(r)
		}
	}
	return buffer.String()
}
