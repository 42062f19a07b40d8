package model

import (
	"strings"

	"github.com/dgallion1/apiingest/internal/tree"
)

const (
	maxFlattenDepth = 8
	maxExampleDepth = 4

	// maxExampleNodes caps the values synthesized for one example.
	maxExampleNodes = 500
)

// Flatten merges an allOf composition into a single object schema.
// Schemas without allOf are returned unchanged.
func Flatten(n *tree.Node) *tree.Node {
	if !n.IsMapping() || !n.Get("allOf").IsSequence() {
		return n
	}
	out := tree.NewMapping()
	props := tree.NewMapping()
	var required []string
	seenReq := map[string]bool{}
	merged := map[*tree.Node]bool{}

	var merge func(s *tree.Node, depth int)
	merge = func(s *tree.Node, depth int) {
		if !s.IsMapping() || depth > maxFlattenDepth || merged[s] {
			return
		}
		merged[s] = true
		if sub := s.Get("allOf"); sub.IsSequence() {
			for _, it := range sub.Items {
				merge(it, depth+1)
			}
		}
		for _, k := range s.Keys() {
			v := s.Get(k)
			switch k {
			case "allOf":
			case "properties":
				for _, pk := range v.Keys() {
					props.Set(pk, v.Get(pk))
				}
			case "required":
				for _, r := range s.Strings("required") {
					if !seenReq[r] {
						seenReq[r] = true
						required = append(required, r)
					}
				}
			default:
				out.Set(k, v)
			}
		}
	}
	merge(n, 0)

	if !out.Has("type") {
		out.Set("type", tree.NewString("object"))
	}
	if props.Len() > 0 {
		out.Set("properties", props)
	}
	if len(required) > 0 {
		out.Set("required", tree.FromAny(required))
	}
	return out
}

// SchemaType returns the primary JSON type of a schema, inferring object
// and array from properties and items. Unknown types yield "".
func SchemaType(n *tree.Node) string {
	if !n.IsMapping() {
		return ""
	}
	t := n.Get("type")
	switch {
	case t.IsString():
		return t.Value
	case t.IsSequence():
		for _, it := range t.Items {
			if it.Value != "null" {
				return it.Value
			}
		}
		return "null"
	}
	switch {
	case n.Has("properties") || n.Has("allOf") || n.Has("additionalProperties"):
		return "object"
	case n.Has("items"):
		return "array"
	}
	if e := n.Get("enum"); e.IsSequence() && len(e.Items) > 0 {
		switch e.Items[0].Kind {
		case tree.KindNumber:
			return "number"
		case tree.KindBool:
			return "boolean"
		case tree.KindString:
			return "string"
		}
	}
	return ""
}

// TypeLabel renders a short human type: a schema name, "array<Pet>",
// "string(uuid)", "integer or null".
func TypeLabel(a *API, n *tree.Node) string {
	if n == nil {
		return "any"
	}
	if a != nil {
		if name, ok := a.SchemaName(n); ok {
			return name
		}
	}
	if n.IsRef() {
		return n.Value
	}
	if !n.IsMapping() {
		return "any"
	}
	for _, k := range []string{"oneOf", "anyOf"} {
		if alts := n.Get(k); alts.IsSequence() && len(alts.Items) > 0 {
			labels := make([]string, 0, len(alts.Items))
			for _, it := range alts.Items {
				labels = append(labels, TypeLabel(a, it))
			}
			return strings.Join(labels, " or ")
		}
	}

	t := SchemaType(n)
	switch t {
	case "":
		return "any"
	case "array":
		return "array<" + TypeLabel(a, n.Get("items")) + ">"
	case "object":
		return "object"
	}
	if f := n.Str("format"); f != "" {
		t += "(" + f + ")"
	}
	if ts := n.Get("type"); ts.IsSequence() || n.Truthy("nullable") {
		if ts.IsSequence() && len(ts.Items) > 1 || n.Truthy("nullable") {
			t += " or null"
		}
	}
	return t
}

// PropertyNames returns the property names of a (flattened) object schema.
func PropertyNames(n *tree.Node) []string {
	return Flatten(n).Get("properties").Keys()
}

// RequiredSet returns the required property names of a schema.
func RequiredSet(n *tree.Node) map[string]bool {
	out := map[string]bool{}
	for _, r := range Flatten(n).Strings("required") {
		out[r] = true
	}
	return out
}

// ExampleValue picks a value for a schema: example, then default, then the
// first enum value, then a value synthesized from type, format and name.
func ExampleValue(n *tree.Node, name string) *tree.Node {
	b := &exampleBuilder{budget: maxExampleNodes}
	return b.example(n, name, 0)
}

// exampleBuilder synthesizes example values. Objects and arrays reached
// after the budget is spent are left empty.
type exampleBuilder struct {
	budget int
}

func (b *exampleBuilder) example(n *tree.Node, name string, depth int) *tree.Node {
	b.budget--
	if n.IsRef() {
		return tree.NewMapping()
	}
	if !n.IsMapping() {
		return tree.NewString(stringExample(name, ""))
	}
	if v := n.Get("example"); v != nil && v.Kind != tree.KindNull {
		return v
	}
	if v := n.Get("default"); v != nil && v.Kind != tree.KindNull {
		return v
	}
	for _, k := range []string{"enum", "examples"} {
		if e := n.Get(k); e.IsSequence() && len(e.Items) > 0 {
			return e.Items[0]
		}
	}
	for _, k := range []string{"oneOf", "anyOf"} {
		if alts := n.Get(k); alts.IsSequence() && len(alts.Items) > 0 {
			return b.example(alts.Items[0], name, depth)
		}
	}

	n = Flatten(n)
	switch SchemaType(n) {
	case "integer":
		return tree.NewInt(123)
	case "number":
		return tree.NewNumber("123.45")
	case "boolean":
		return tree.NewBool(true)
	case "null":
		return tree.NewNull()
	case "array":
		if depth >= maxExampleDepth || b.budget <= 0 {
			return tree.NewSequence()
		}
		return tree.NewSequence(b.example(n.Get("items"), singular(name), depth+1))
	case "object":
		out := tree.NewMapping()
		if depth >= maxExampleDepth || b.budget <= 0 {
			return out
		}
		props := n.Get("properties")
		for _, k := range props.Keys() {
			if b.budget <= 0 {
				break
			}
			p := props.Get(k)
			if p.IsMapping() && p.Truthy("readOnly") {
				continue
			}
			out.Set(k, b.example(p, k, depth+1))
		}
		return out
	}
	return tree.NewString(stringExample(name, n.Str("format")))
}

func stringExample(name, format string) string {
	switch format {
	case "date-time":
		return "2024-01-01T00:00:00Z"
	case "date":
		return "2024-01-01"
	case "email":
		return "user@example.com"
	case "uuid":
		return "123e4567-e89b-12d3-a456-426614174000"
	case "uri", "url":
		return "https://example.com"
	case "byte":
		return "ZXhhbXBsZQ=="
	case "binary":
		return "<binary>"
	}
	lower := strings.ToLower(name)
	switch {
	case IsIDName(name):
		return "example-id"
	case strings.Contains(lower, "email"):
		return "user@example.com"
	case strings.Contains(lower, "url") || strings.Contains(lower, "uri"):
		return "https://example.com"
	}
	return "example"
}

// IsIDName reports whether a parameter or property name denotes an
// identifier: "id", "user_id", "userId", "petID".
func IsIDName(name string) bool {
	lower := strings.ToLower(name)
	return lower == "id" ||
		strings.HasSuffix(lower, "_id") ||
		strings.HasSuffix(lower, "-id") ||
		strings.HasSuffix(name, "Id") ||
		strings.HasSuffix(name, "ID")
}

func singular(name string) string {
	if strings.HasSuffix(name, "s") && len(name) > 1 {
		return name[:len(name)-1]
	}
	return name
}
