package markdown

import (
	"fmt"
	"strings"

	"github.com/dgallion1/apiingest/internal/doctree"
	"github.com/dgallion1/apiingest/internal/model"
	"github.com/dgallion1/apiingest/internal/tree"
)

const (
	maxSchemaDepth = 5
	maxEnumValues  = 10

	// maxPropertyLines caps the property lines one schema block renders.
	maxPropertyLines = 200
)

var compositionLabels = map[string]string{"oneOf": "One of", "anyOf": "Any of"}

// schemaWriter renders property lists. Endpoint sections refer to named
// schemas by name; the schema appendix inlines each named schema once per
// block and refers to it by name after that.
type schemaWriter struct {
	api         *model.API
	inlineNamed bool
	stack       []*tree.Node
	inlined     map[*tree.Node]bool
	lines       int
}

// schemaBlock describes a body schema inside an endpoint section.
func schemaBlock(api *model.API, n *tree.Node) string {
	if n == nil {
		return ""
	}
	label := model.TypeLabel(api, n)
	target := n
	if model.SchemaType(n) == "array" {
		target = n.Get("items")
	}
	if name, ok := api.SchemaName(target); ok {
		return fmt.Sprintf("**Schema:** `%s` (see `%s` under Schemas)\n", label, name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Schema:** `%s`\n", label)
	w := &schemaWriter{api: api}
	if w.expandable(target, 0) {
		b.WriteString("\n")
		w.push(target)
		w.properties(&b, target, 0, 1)
	}
	return b.String()
}

func schemaNode(api *model.API, name string, n *tree.Node) *doctree.DocNode {
	return &doctree.DocNode{
		Title: name,
		Kind:  doctree.KindSchema,
		Key:   name,
		Text:  schemaText(api, n),
	}
}

func schemaText(api *model.API, n *tree.Node) string {
	var b strings.Builder
	if n.IsRef() {
		fmt.Fprintf(&b, "Alias of `%s`.\n", n.Value)
		return b.String()
	}
	flat := model.Flatten(n)
	fmt.Fprintf(&b, "**Type:** `%s`\n\n", ownLabel(api, flat))
	if d := flat.Str("description"); d != "" {
		b.WriteString(d + "\n\n")
	}
	for _, k := range []string{"oneOf", "anyOf"} {
		if alts := flat.Get(k); alts.IsSequence() {
			labels := make([]string, 0, len(alts.Items))
			for _, it := range alts.Items {
				labels = append(labels, "`"+model.TypeLabel(api, it)+"`")
			}
			fmt.Fprintf(&b, "**%s:** %s\n\n", compositionLabels[k], strings.Join(labels, ", "))
		}
	}
	if vals := enumValues(flat); vals != "" {
		fmt.Fprintf(&b, "**Values:** %s\n\n", vals)
	}

	w := &schemaWriter{api: api, inlineNamed: true, stack: []*tree.Node{n}, inlined: map[*tree.Node]bool{n.Source(): true}}
	target := flat
	if model.SchemaType(flat) == "array" {
		target = flat.Get("items")
	}
	if target != flat && !w.expandable(target, 0) {
		return b.String()
	}
	if target != flat {
		w.push(target)
	}
	w.properties(&b, target, 0, 1)
	return b.String()
}

// ownLabel labels a named schema by its shape rather than its name.
func ownLabel(api *model.API, n *tree.Node) string {
	if model.SchemaType(n) == "array" {
		return "array<" + model.TypeLabel(api, n.Get("items")) + ">"
	}
	return model.TypeLabel(nil, n)
}

func (w *schemaWriter) push(n *tree.Node) {
	w.stack = append(w.stack, n)
	if _, named := w.api.SchemaName(n); named {
		if w.inlined == nil {
			w.inlined = map[*tree.Node]bool{}
		}
		w.inlined[n.Source()] = true
	}
}

func (w *schemaWriter) pop() {
	w.stack = w.stack[:len(w.stack)-1]
}

func (w *schemaWriter) onStack(n *tree.Node) bool {
	for _, s := range w.stack {
		if s.Source() == n.Source() {
			return true
		}
	}
	return false
}

// expandable reports whether n's properties should be listed in place.
func (w *schemaWriter) expandable(n *tree.Node, depth int) bool {
	if !n.IsMapping() || depth >= maxSchemaDepth || w.lines >= maxPropertyLines || w.onStack(n) {
		return false
	}
	if _, named := w.api.SchemaName(n); named && (!w.inlineNamed || w.inlined[n.Source()]) {
		return false
	}
	return len(model.PropertyNames(n)) > 0
}

func (w *schemaWriter) properties(b *strings.Builder, n *tree.Node, indent, depth int) {
	flat := model.Flatten(n)
	props := flat.Get("properties")
	required := model.RequiredSet(flat)
	for _, name := range props.Keys() {
		if w.lines >= maxPropertyLines {
			fmt.Fprintf(b, "%s- ...\n", pad(indent))
			return
		}
		w.property(b, name, props.Get(name), required[name], indent, depth)
	}
	if ap := flat.Get("additionalProperties"); ap.IsMapping() || ap.IsRef() {
		fmt.Fprintf(b, "%s- additional properties: `%s`\n", pad(indent), model.TypeLabel(w.api, ap))
	}
}

func (w *schemaWriter) property(b *strings.Builder, name string, p *tree.Node, required bool, indent, depth int) {
	w.lines++
	status := "optional"
	if required {
		status = "required"
	}
	fmt.Fprintf(b, "%s- `%s` (%s, %s)", pad(indent), name, model.TypeLabel(w.api, p), status)
	if p.IsRef() {
		fmt.Fprintf(b, ": see `%s`", p.Value)
	} else if d := p.Str("description"); d != "" {
		b.WriteString(": " + oneLine(d))
	}
	if vals := enumValues(p); vals != "" {
		b.WriteString(". One of: " + vals)
	}
	if p.Truthy("readOnly") {
		b.WriteString(". Read-only")
	}
	b.WriteString("\n")

	target := p
	if model.SchemaType(p) == "array" {
		target = p.Get("items")
	}
	if w.expandable(target, depth) {
		w.push(target)
		w.properties(b, target, indent+1, depth+1)
		w.pop()
	}
}

func enumValues(n *tree.Node) string {
	e := n.Get("enum")
	if !e.IsSequence() || len(e.Items) == 0 {
		return ""
	}
	var vals []string
	for i, it := range e.Items {
		if i == maxEnumValues {
			vals = append(vals, "...")
			break
		}
		vals = append(vals, "`"+it.Text()+"`")
	}
	return strings.Join(vals, ", ")
}

func pad(indent int) string {
	return strings.Repeat("  ", indent)
}
