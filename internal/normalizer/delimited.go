package normalizer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ginjaninja78/tally-sync/internal/transform"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// nullToken is the placeholder the export expressions emit for empty dates.
const nullToken = "ñ"

var (
	xmlDeclaration  = regexp.MustCompile(`<\?xml[^>]*\?>`)
	envelopeTag     = regexp.MustCompile(`</?ENVELOPE[^>]*>`)
	blankField      = regexp.MustCompile(`<FLDBLANK>\s*</FLDBLANK>|<FLDBLANK\s*/>`)
	emptyField      = regexp.MustCompile(`<F(\d+)\s*/>`)
	lineBreaks      = regexp.MustCompile(`[ \t]*\r?\n`)
	spaceBeforeTag  = regexp.MustCompile(` +<F`)
	closingField    = regexp.MustCompile(`</F\d+>`)
	openingField    = regexp.MustCompile(`<F\d+>`)
	numericEntity   = regexp.MustCompile(`&#(x[0-9a-fA-F]+|[0-9]+);`)
	rowSeparator    = regexp.MustCompile(`\r?\n`)
	entityReplacer  = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&tab;", "")
	ampersandEntity = "&amp;"
)

// DelimitedText converts a delimited-field response into row/column text:
// rows are separated by "\r\n" and columns by "\t". The first row is the
// header built from columns.
func DelimitedText(raw string, columns []string) string {
	s := xmlDeclaration.ReplaceAllString(raw, "")
	s = envelopeTag.ReplaceAllString(s, "")
	s = blankField.ReplaceAllString(s, "")
	s = emptyField.ReplaceAllString(s, "<F${1}></F${1}>")
	s = lineBreaks.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\t", " ")
	s = spaceBeforeTag.ReplaceAllString(s, "<F")
	s = closingField.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "<F01>", "\r\n")
	s = openingField.ReplaceAllString(s, "\t")
	s = entityReplacer.Replace(s)
	s = numericEntity.ReplaceAllStringFunc(s, decodeCharRef)
	s = strings.ReplaceAll(s, ampersandEntity, "&")

	return strings.Join(columns, "\t") + "\r\n" + strings.TrimLeft(s, "\r\n")
}

// decodeCharRef keeps printable characters and drops control codes, which
// would otherwise break the row and column delimiters.
func decodeCharRef(ref string) string {
	body := ref[2 : len(ref)-1]
	var (
		code int64
		err  error
	)
	if body[0] == 'x' {
		code, err = strconv.ParseInt(body[1:], 16, 32)
	} else {
		code, err = strconv.ParseInt(body, 10, 32)
	}
	if err != nil || code < 0x20 || code == 0x7f {
		return ""
	}
	return string(rune(code))
}

// ParseDelimited tokenizes row/column text whose rows follow the given
// columns. The null token and whitespace-only tokens leave the column out of
// the record; an empty token is kept as "". Rows without a non-empty key
// column are discarded.
func ParseDelimited(text string, columns []string, key string) ([]types.RawRecord, int) {
	if key == "" {
		key = "guid"
	}

	var (
		records   []types.RawRecord
		discarded int
	)
	for _, line := range rowSeparator.Split(text, -1) {
		if strings.TrimSpace(line) == "" {
			continue
		}

		tokens := strings.Split(line, "\t")
		rec := make(types.RawRecord, len(columns))
		for i, col := range columns {
			if i >= len(tokens) {
				break
			}
			tok := tokens[i]
			if tok == nullToken || (tok != "" && strings.TrimSpace(tok) == "") {
				continue
			}
			rec[col] = transform.Normalize(tok)
		}

		if rec[key] == "" {
			discarded++
			continue
		}
		records = append(records, rec)
	}
	return records, discarded
}

func extractDelimited(doc *document, target Target) Result {
	if len(target.Columns) == 0 {
		return Result{Diagnostic: "delimited response but no columns configured"}
	}

	text := DelimitedText(doc.raw, target.Columns)
	rows := rowSeparator.Split(text, 2)
	header := strings.Split(rows[0], "\t")
	body := ""
	if len(rows) == 2 {
		body = rows[1]
	}

	records, discarded := ParseDelimited(body, header, target.key())
	res := Result{Records: records, Discarded: discarded}
	if len(records) == 0 {
		res.Diagnostic = "delimited response contains no usable rows"
	}
	return res
}
