package doctree

import "strings"

// Node kinds that carry an addressable chunk key.
const (
	KindTag      = "tag"
	KindEndpoint = "endpoint"
	KindSchema   = "schema"
)

// DocTree is the root of a rendered document.
type DocTree struct {
	Title    string     // Document title
	Text     string     // Text under the title, before the first section
	Children []*DocNode // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Kind     string     // KindTag, KindEndpoint, KindSchema or empty
	Key      string     // Chunk key for keyed kinds, e.g. "GET /pets"
	Children []*DocNode // Subsections
}

// Markdown renders the tree with the title as H1 and top-level sections
// as H2. The output ends with exactly one newline.
func (t *DocTree) Markdown() string {
	var b strings.Builder
	if t.Title != "" {
		b.WriteString("# " + t.Title + "\n\n")
	}
	writeText(&b, t.Text)
	for _, c := range t.Children {
		writeNode(&b, c, 2)
	}
	return finish(b.String())
}

// RenderNode renders one section with its heading at level.
func RenderNode(n *DocNode, level int) string {
	var b strings.Builder
	writeNode(&b, n, level)
	return finish(b.String())
}

// Walk visits every node depth-first. Returning false skips the node's
// children.
func (t *DocTree) Walk(fn func(n *DocNode, depth int) bool) {
	var walk func(n *DocNode, depth int)
	walk = func(n *DocNode, depth int) {
		if !fn(n, depth) {
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	for _, c := range t.Children {
		walk(c, 1)
	}
}

// Find returns the first node with the given kind and key.
func (t *DocTree) Find(kind, key string) *DocNode {
	var found *DocNode
	t.Walk(func(n *DocNode, _ int) bool {
		if found != nil {
			return false
		}
		if n.Kind == kind && n.Key == key {
			found = n
			return false
		}
		return true
	})
	return found
}

func writeNode(b *strings.Builder, n *DocNode, level int) {
	if n.Title != "" {
		if level > 6 {
			level = 6
		}
		b.WriteString(strings.Repeat("#", level) + " " + n.Title + "\n\n")
	}
	writeText(b, n.Text)
	for _, c := range n.Children {
		writeNode(b, c, level+1)
	}
}

func writeText(b *strings.Builder, text string) {
	text = strings.TrimRight(text, " \n")
	if strings.TrimSpace(text) == "" {
		return
	}
	b.WriteString(text + "\n\n")
}

func finish(s string) string {
	return strings.TrimRight(s, "\n") + "\n"
}
