package normalizer

import (
	"fmt"
	"strings"

	"github.com/ginjaninja78/tally-sync/internal/types"
)

// entityContainers are the wrappers entity nodes appear under across the
// message-envelope variants:
//
//	ENVELOPE/BODY/DATA/TALLYMESSAGE/<TAG>
//	RESPONSE/BODY/DATA/TALLYMESSAGE/<TAG>
//	ENVELOPE/TALLYMESSAGE/<TAG>
//	TALLYMESSAGE/<TAG>
//	ENVELOPE/BODY/DATA/<TAG>            (custom report output)
//	ENVELOPE/BODY/DATA/COLLECTION/<TAG> (collection export)
//	DAYBOOK/<TAG>
var entityContainers = map[string]bool{
	"TALLYMESSAGE": true,
	"DATA":         true,
	"COLLECTION":   true,
	"DAYBOOK":      true,
	"ENVELOPE":     true,
}

type tagPath [][]string

func parseTagPath(tag string) tagPath {
	var path tagPath
	for _, step := range strings.Split(tag, "/") {
		var alts []string
		for _, alt := range strings.Split(step, "|") {
			if alt = strings.TrimSpace(alt); alt != "" {
				alts = append(alts, alt)
			}
		}
		if len(alts) > 0 {
			path = append(path, alts)
		}
	}
	return path
}

// topEntities finds every node matching the first path step that sits
// directly inside a known container.
func topEntities(root *Node, names []string) []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			if entityContainers[n.Name] && matches(c.Name, names) {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	if matches(root.Name, names) {
		return []*Node{root}
	}
	walk(root)
	return out
}

func matches(name string, names []string) bool {
	for _, n := range names {
		if name == n {
			return true
		}
	}
	return false
}

func hasMessages(root *Node, target Target) bool {
	path := parseTagPath(target.Tag)
	if len(path) > 0 && len(topEntities(root, path[0])) > 0 {
		return true
	}
	return root.Name == "TALLYMESSAGE" || findFirst(root, "TALLYMESSAGE") != nil
}

func findFirst(n *Node, name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
		if found := findFirst(c, name); found != nil {
			return found
		}
	}
	return nil
}

// extractMessages flattens each entity node into a record. For nested paths
// the deepest step produces the records, and each carries the GUID of every
// ancestor step as <STEP>GUID.
func extractMessages(doc *document, target Target) Result {
	path := parseTagPath(target.Tag)
	if len(path) == 0 {
		return Result{Diagnostic: "no entity tag configured"}
	}

	type item struct {
		node    *Node
		inherit types.RawRecord
	}

	var items []item
	for _, n := range topEntities(doc.root, path[0]) {
		items = append(items, item{node: n})
	}

	for depth := 1; depth < len(path); depth++ {
		var next []item
		for _, it := range items {
			parent := flatten(it.node)
			inherit := types.RawRecord{}
			for k, v := range it.inherit {
				inherit[k] = v
			}
			inherit[stepKey(it.node.Name)+"GUID"] = parent["GUID"]

			for _, child := range it.node.ChildrenNamed(path[depth]...) {
				next = append(next, item{node: child, inherit: inherit})
			}
		}
		items = next
	}

	res := Result{Records: make([]types.RawRecord, 0, len(items))}
	for _, it := range items {
		rec := flatten(it.node)
		for k, v := range it.inherit {
			if _, ok := rec[k]; !ok {
				rec[k] = v
			}
		}
		res.Records = append(res.Records, rec)
	}

	if len(res.Records) == 0 {
		res.Diagnostic = fmt.Sprintf("no <%s> entities in message envelope", target.Tag)
	}
	return res
}

// stepKey strips a ".LIST" suffix so ALLLEDGERENTRIES.LIST ancestors become
// ALLLEDGERENTRIESGUID.
func stepKey(name string) string {
	return strings.TrimSuffix(name, ".LIST")
}
