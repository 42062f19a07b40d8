package render

import (
	"bytes"
	"strings"

	"github.com/dgallion1/apiingest/internal/chunker"
	"github.com/dgallion1/apiingest/internal/doctree"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Outline parses Markdown back into a section tree. The first H1 becomes
// the tree title; everything else nests by heading level.
func Outline(markdown string) *doctree.DocTree {
	src := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(src))

	type stackEntry struct {
		node  *doctree.DocNode
		level int
	}

	root := &doctree.DocNode{}
	stack := []stackEntry{{node: root, level: 0}}
	out := &doctree.DocTree{}

	var current bytes.Buffer
	flush := func() {
		t := strings.TrimSpace(current.String())
		current.Reset()
		if t == "" {
			return
		}
		top := stack[len(stack)-1].node
		if top.Text != "" {
			top.Text += "\n\n" + t
		} else {
			top.Text = t
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			if t := blockText(n, src); t != "" {
				if current.Len() > 0 {
					current.WriteString("\n\n")
				}
				current.WriteString(t)
			}
			continue
		}
		flush()
		title := string(h.Text(src))
		if h.Level == 1 && out.Title == "" && len(root.Children) == 0 {
			out.Title = title
			continue
		}
		for len(stack) > 1 && stack[len(stack)-1].level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		node := &doctree.DocNode{Title: title}
		parent := stack[len(stack)-1].node
		parent.Children = append(parent.Children, node)
		stack = append(stack, stackEntry{node: node, level: h.Level})
	}
	flush()

	out.Text = root.Text
	out.Children = root.Children
	return out
}

// Section is one heading of an outline with the estimated size of the text
// beneath it, its subsections included.
type Section struct {
	Title    string     `json:"title"`
	Level    int        `json:"level"`
	Tokens   int        `json:"tokens"`
	Children []*Section `json:"children,omitempty"`
}

// Sections flattens an outline into its JSON form. Top-level sections
// are level 2.
func Sections(t *doctree.DocTree) []*Section {
	var out []*Section
	for _, c := range t.Children {
		out = append(out, section(c, 2))
	}
	return out
}

func section(n *doctree.DocNode, level int) *Section {
	s := &Section{
		Title:  n.Title,
		Level:  level,
		Tokens: chunker.EstimateTokens(doctree.RenderNode(n, level)),
	}
	for _, c := range n.Children {
		s.Children = append(s.Children, section(c, level+1))
	}
	return s
}

// blockText returns the source text of a block, keeping its lines. Tables
// and code blocks keep their Markdown form.
func blockText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	writeBlock(&buf, n, src)
	return strings.TrimSpace(buf.String())
}

func writeBlock(buf *bytes.Buffer, n ast.Node, src []byte) {
	if n.Type() == ast.TypeBlock {
		lines := n.Lines()
		if lines.Len() > 0 {
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				buf.Write(line.Value(src))
			}
			return
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if buf.Len() > 0 && c.Type() == ast.TypeBlock {
			buf.WriteByte('\n')
		}
		writeBlock(buf, c, src)
	}
}
