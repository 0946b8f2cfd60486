package normalizer

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Node is a generic XML element. The source system is inconsistent about
// attributes versus child elements, so both are kept and merged later.
type Node struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Node
	Parent   *Node
}

// IsLeaf reports whether the node has no element children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Child returns the first child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every child whose name is one of names. A single
// child and a repeated child are handled the same way.
func (n *Node) ChildrenNamed(names ...string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		for _, name := range names {
			if c.Name == name {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Value returns the text of the first descendant reached by path, or false
// when any step is missing.
func (n *Node) Value(path ...string) (string, bool) {
	cur := n
	for _, name := range path {
		if cur = cur.Child(name); cur == nil {
			return "", false
		}
	}
	return cur.Text, true
}

var (
	charRef      = regexp.MustCompile(`&#(x[0-9a-fA-F]+|[0-9]+);`)
	controlBytes = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// sanitize removes character references and raw bytes that are not legal in
// XML 1.0. The source system emits them for embedded control codes.
func sanitize(doc string) string {
	doc = charRef.ReplaceAllStringFunc(doc, func(ref string) string {
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
		if err != nil || (code < 0x20 && code != '\t' && code != '\n' && code != '\r') {
			return ""
		}
		return ref
	})
	return controlBytes.ReplaceAllString(doc, "")
}

// Parse builds a Node tree from a response document. Bodies are already
// UTF-8 by the time they get here, so any declared charset is ignored.
func Parse(doc string) (*Node, error) {
	decoder := xml.NewDecoder(strings.NewReader(sanitize(doc)))
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var (
		root  *Node
		stack []*Node
		text  bytes.Buffer
	)

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					node.Attrs[strings.ToUpper(a.Name.Local)] = a.Value
				}
			}
			if n := len(stack); n > 0 {
				node.Parent = stack[n-1]
				stack[n-1].Children = append(stack[n-1].Children, node)
			} else if root == nil {
				root = node
			}
			stack = append(stack, node)
			text.Reset()

		case xml.CharData:
			text.Write(t)

		case xml.EndElement:
			n := len(stack)
			if n == 0 {
				continue
			}
			top := stack[n-1]
			if top.IsLeaf() {
				top.Text = text.String()
			}
			text.Reset()
			stack = stack[:n-1]
		}
	}

	if root == nil {
		return nil, errors.New("response contains no elements")
	}
	return root, nil
}
