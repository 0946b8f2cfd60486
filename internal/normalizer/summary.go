package normalizer

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ginjaninja78/tally-sync/internal/transform"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// summaryNamespace seeds the name-based GUIDs given to summary rows, which
// carry no identifier of their own. The same name always maps to the same
// GUID so repeated syncs update rather than duplicate.
var summaryNamespace = uuid.MustParse("6f1d3b7e-2c4a-4e8f-9b51-0d7a2e6c8f31")

// summaryColumns maps record keys to the auxiliary path holding the value,
// relative to the i-th DSPSTKINFO or DSPACCINFO node.
var summaryColumns = []struct {
	key   string
	block string
	path  []string
}{
	{"QUANTITY", "DSPSTKINFO", []string{"DSPSTKCL", "DSPCLQTY"}},
	{"RATE", "DSPSTKINFO", []string{"DSPSTKCL", "DSPCLRATE"}},
	{"AMOUNT", "DSPSTKINFO", []string{"DSPSTKCL", "DSPCLAMTA"}},
	{"DEBIT", "DSPACCINFO", []string{"DSPCLDRAMT", "DSPCLDRAMTA"}},
	{"CREDIT", "DSPACCINFO", []string{"DSPCLCRAMT", "DSPCLCRAMTA"}},
}

// extractSummary zips the display-name array with the index-aligned
// auxiliary arrays. Short auxiliary arrays leave trailing records without
// those columns.
func extractSummary(doc *document, target Target) Result {
	names := doc.root.ChildrenNamed("DSPACCNAME")
	blocks := map[string][]*Node{
		"DSPSTKINFO": doc.root.ChildrenNamed("DSPSTKINFO"),
		"DSPACCINFO": doc.root.ChildrenNamed("DSPACCINFO"),
	}

	scope := strings.ToUpper(strings.Split(target.Tag, "/")[0])
	seen := make(map[string]int)

	res := Result{Records: make([]types.RawRecord, 0, len(names))}
	for i, n := range names {
		name, _ := n.Value("DSPDISPNAME")
		name = transform.Normalize(name)
		if name == "" {
			res.Discarded++
			continue
		}

		rec := types.RawRecord{
			"NAME": name,
			"GUID": summaryGUID(scope, name, seen),
		}
		for _, col := range summaryColumns {
			list := blocks[col.block]
			if i >= len(list) {
				continue
			}
			if v, ok := list[i].Value(col.path...); ok {
				if v = transform.Normalize(v); v != "" {
					rec[col.key] = v
				}
			}
		}
		res.Records = append(res.Records, rec)
	}

	if len(res.Records) == 0 {
		res.Diagnostic = "summary response has no named rows"
	}
	return res
}

func summaryGUID(scope, name string, seen map[string]int) string {
	key := scope + "\x00" + name
	n := seen[key]
	seen[key] = n + 1
	if n > 0 {
		key += "\x00" + strconv.Itoa(n)
	}
	return uuid.NewSHA1(summaryNamespace, []byte(key)).String()
}
