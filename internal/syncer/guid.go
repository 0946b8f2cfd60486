package syncer

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

var detailNamespace = uuid.MustParse("2b8e6c1a-7d3f-4a95-8e02-c4f1b6d97a53")

// DeriveGUIDs assigns a guid to rows that have none of their own in the
// source system, such as voucher ledger entries. The guid is a name-based
// UUID of (table, key value, position of the row among rows sharing that
// key), so re-exporting an unchanged voucher yields the same guids. Rows
// with an empty key are left alone and later rejected.
func DeriveGUIDs(spec types.TableSpec, records []types.NormalizedRecord) {
	key := spec.KeyColumn()
	seen := make(map[string]int)

	for _, rec := range records {
		parent, _ := rec[key].(string)
		parent = strings.TrimSpace(parent)
		if parent == "" {
			continue
		}

		n := seen[parent]
		seen[parent] = n + 1
		name := spec.Name + "\x00" + parent + "\x00" + strconv.Itoa(n)
		rec["guid"] = uuid.NewSHA1(detailNamespace, []byte(name)).String()
	}
}
