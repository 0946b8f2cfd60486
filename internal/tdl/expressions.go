package tdl

import (
	"regexp"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// NullToken is what the source system writes for an empty date. The export
// expression emits it explicitly so the normalizer can tell "no value" from
// an empty string.
const NullToken = "ñ"

// ExpressionBuilder turns a plain source attribute reference ("$Name",
// "$..Guid") into the export expression for one field type.
type ExpressionBuilder func(ref string) string

var plainField = regexp.MustCompile(`^(\.\.)?[a-zA-Z0-9_]+$`)

// expressions maps each field type to its export expression. Adding a type
// is a single entry here plus a coercion rule in the transformer.
var expressions = map[types.FieldType]ExpressionBuilder{
	types.FieldText: func(ref string) string {
		return ref
	},
	types.FieldLogical: func(ref string) string {
		return "if " + ref + " then 1 else 0"
	},
	types.FieldDate: func(ref string) string {
		return "if $$IsEmpty:" + ref + " then $$StrByCharCode:241 else $$PyrlYYYYMMDDFormat:" + ref + `:"-"`
	},
	types.FieldNumber: func(ref string) string {
		return "if $$IsEmpty:" + ref + ` then "0" else $$String:` + ref
	},
	types.FieldAmount: func(ref string) string {
		return "$$StringFindAndReplace:(if $$IsDebit:" + ref + " then -$$NumValue:" + ref + " else $$NumValue:" + ref + `):"(-)":"-"`
	},
	types.FieldQuantity: func(ref string) string {
		return "$$StringFindAndReplace:(if $$IsInwards:" + ref + ` then $$Number:$$String:` + ref + `:"TailUnits" else -$$Number:$$String:` + ref + `:"TailUnits"):"(-)":"-"`
	},
	types.FieldRate: func(ref string) string {
		return "if $$IsEmpty:" + ref + " then 0 else $$Number:" + ref
	},
}

// Expression returns the SET expression for a field. Anything that is not a
// plain attribute name is treated as a complete expression and sent as is.
func Expression(f types.FieldSpec) string {
	if !plainField.MatchString(f.Field) {
		return f.Field
	}
	build, ok := expressions[f.Type]
	if !ok {
		build = expressions[types.FieldText]
	}
	return build("$" + f.Field)
}
