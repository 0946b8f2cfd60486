// =============================================================================
// Tally Sync - Field Transformer
// =============================================================================
//
// This module converts the raw strings extracted from a source response into
// typed column values according to each field's declared type.
//
// COERCION RULES:
//   - text     : normalized string ("" when empty)
//   - logical  : true for "1", "true" or "yes" (any case), false otherwise
//   - number   : float64; unparseable or empty input becomes 0
//   - amount   : as number
//   - quantity : as number (trailing unit names such as "10 Nos" are ignored)
//   - rate     : as number ("50.00/Nos" reads as 50)
//   - date     : passed through only when it is exactly YYYY-MM-DD, else nil
//
// Unknown types fall back to text. Coercion never fails; values that had to
// be defaulted are counted in Stats so the loss is visible in sync summaries.
//
// =============================================================================

package transform

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// =============================================================================
// STRING NORMALIZATION
// =============================================================================

var whitespaceRun = regexp.MustCompile(`[\s\x00-\x1f]+`)

// Normalize composes the string to NFC, collapses every run of whitespace
// and control characters into a single space and trims the result.
// Normalizing a clean string is a no-op.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(norm.NFC.String(s), " "))
}

// =============================================================================
// SCALAR COERCION
// =============================================================================

var (
	isoDate       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	leadingNumber = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][-+]?\d+)?`)
	identifier    = regexp.MustCompile(`^(\.\.)?[a-zA-Z0-9_]+$`)
)

// Coerce converts one raw token to the value for the given type.
func Coerce(raw string, t types.FieldType) any {
	v, _ := coerce(raw, t)
	return v
}

// coerce also reports whether a non-empty input had to be replaced by a
// default.
func coerce(raw string, t types.FieldType) (any, bool) {
	s := Normalize(raw)

	switch t {
	case types.FieldLogical:
		switch strings.ToLower(s) {
		case "1", "true", "yes":
			return true, false
		}
		return false, false

	case types.FieldNumber, types.FieldAmount, types.FieldQuantity, types.FieldRate:
		n, ok := ParseNumber(s)
		return n, !ok && s != ""

	case types.FieldDate:
		if isoDate.MatchString(s) {
			return s, false
		}
		return nil, s != ""

	default:
		return s, false
	}
}

// ParseNumber reads the leading decimal number of s. Thousands separators and
// the source system's negative sign artifacts "(-)" and U+2212 are accepted.
// Inf, NaN and hexadecimal notation are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "(-)", "-")
	s = strings.ReplaceAll(s, "−", "-")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	} else if strings.HasPrefix(s, "-.") {
		s = "-0" + s[1:]
	}

	m := leadingNumber.FindString(s)
	if m == "" {
		return 0, false
	}

	d, err := decimal.NewFromString(m)
	if err != nil {
		return 0, false
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// CoerceValue is Coerce for values that may already be typed. Feeding the
// output of Coerce back through CoerceValue with the same type returns it
// unchanged, which keeps replays of stored or forwarded records stable.
func CoerceValue(v any, t types.FieldType) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return Coerce(val, t)
	case bool:
		switch {
		case t == types.FieldLogical:
			return val
		case t.Numeric():
			if val {
				return float64(1)
			}
			return float64(0)
		case t == types.FieldDate:
			return nil
		default:
			return strconv.FormatBool(val)
		}
	case float64:
		return coerceFloat(val, t)
	case float32:
		return coerceFloat(float64(val), t)
	case int:
		return coerceFloat(float64(val), t)
	case int64:
		return coerceFloat(float64(val), t)
	case decimal.Decimal:
		return coerceFloat(val.InexactFloat64(), t)
	case time.Time:
		if t == types.FieldDate {
			return val.Format("2006-01-02")
		}
		return Coerce(val.Format("2006-01-02"), t)
	default:
		return v
	}
}

func coerceFloat(f float64, t types.FieldType) any {
	switch {
	case t.Numeric():
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return float64(0)
		}
		return f
	case t == types.FieldLogical:
		return f == 1
	case t == types.FieldDate:
		return nil
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}

// =============================================================================
// RECORD TRANSFORMATION
// =============================================================================

// Options controls how absent source values are written.
type Options struct {
	// MissingAsNull writes nil for columns the source did not supply. When
	// false the column is left out of the record entirely, so an upsert does
	// not overwrite it.
	MissingAsNull bool
}

// Stats counts values that could not be represented faithfully.
type Stats struct {
	Records       int `json:"records"`
	Missing       int `json:"missing"`
	Defaulted     int `json:"defaulted"`
	RejectedDates int `json:"rejected_dates"`
}

// Transformer coerces the raw records of one table.
type Transformer struct {
	spec  types.TableSpec
	opts  Options
	Stats Stats
}

// New creates a Transformer for the table.
func New(spec types.TableSpec, opts Options) *Transformer {
	return &Transformer{spec: spec, opts: opts}
}

// Transform converts a single raw record. Only declared columns are emitted.
func (t *Transformer) Transform(raw types.RawRecord) types.NormalizedRecord {
	out := make(types.NormalizedRecord, len(t.spec.Fields))
	t.Stats.Records++

	for _, f := range t.spec.Fields {
		value, ok := lookup(raw, f)
		if !ok {
			t.Stats.Missing++
			if t.opts.MissingAsNull {
				out[f.Name] = nil
			}
			continue
		}

		v, defaulted := coerce(value, f.Type)
		if defaulted {
			if f.Type == types.FieldDate {
				t.Stats.RejectedDates++
			} else {
				t.Stats.Defaulted++
			}
		}
		out[f.Name] = v
	}

	return out
}

// TransformAll converts every record in order.
func (t *Transformer) TransformAll(raws []types.RawRecord) []types.NormalizedRecord {
	out := make([]types.NormalizedRecord, 0, len(raws))
	for _, raw := range raws {
		out = append(out, t.Transform(raw))
	}
	return out
}

// lookup finds the raw value for a field. Delimited rows are keyed by column
// name; message-envelope rows are keyed by upper-case source tags, so the
// source attribute and the column name without underscores are tried too.
func lookup(raw types.RawRecord, f types.FieldSpec) (string, bool) {
	if v, ok := raw[f.Name]; ok {
		return v, true
	}
	if identifier.MatchString(f.Field) {
		if v, ok := raw[strings.ToUpper(strings.TrimPrefix(f.Field, ".."))]; ok {
			return v, true
		}
	}
	if v, ok := raw[strings.ToUpper(strings.ReplaceAll(f.Name, "_", ""))]; ok {
		return v, true
	}
	return "", false
}
