// Package tools turns operations into function-calling tool descriptors.
package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dgallion1/apiingest/internal/model"
	"github.com/dgallion1/apiingest/internal/tree"
)

// MaxNameLength is the longest name function-calling APIs accept.
const MaxNameLength = 64

const (
	hashSuffixLength = 8
	maxSchemaDepth   = 8

	// maxSchemaNodes caps the schemas converted for one descriptor. Shared
	// schemas are copied wherever they appear, so without a cap a small
	// document with wide reuse yields output exponential in its depth.
	maxSchemaNodes = 2000
)

// Descriptor is one callable tool.
type Descriptor struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters is the JSON-Schema object describing a tool's arguments.
type Parameters struct {
	Type       string     `json:"type"`
	Properties *tree.Node `json:"properties"`
	Required   []string   `json:"required"`
}

// Project returns one descriptor per operation in document order. Names
// are unique: later collisions get _2, _3, ... suffixes.
func Project(api *model.API) []Descriptor {
	used := map[string]bool{}
	out := make([]Descriptor, 0, len(api.Operations))
	for _, op := range api.Operations {
		name := uniqueName(SanitizeName(op.OperationID), used)
		used[name] = true
		out = append(out, Descriptor{
			Name:        name,
			Description: description(op),
			Parameters:  parameters(api, op),
		})
	}
	return out
}

func description(op *model.Operation) string {
	switch {
	case op.Summary != "":
		return op.Summary
	case op.Description != "":
		return op.Description
	}
	return op.Method + " " + op.Path
}

func parameters(api *model.API, op *model.Operation) Parameters {
	props := tree.NewMapping()
	required := []string{}
	conv := &converter{api: api, budget: maxSchemaNodes}

	for _, p := range op.Parameters {
		switch p.In {
		case "path", "query", "header":
		default:
			continue
		}
		if props.Has(p.Name) {
			continue
		}
		s := conv.schema(p.Schema, 0)
		if p.Description != "" {
			s.Set("description", tree.NewString(p.Description))
		}
		props.Set(p.Name, s)
		if p.Required {
			required = append(required, p.Name)
		}
	}

	if rb := op.RequestBody; rb != nil && rb.Schema != nil {
		flat := model.Flatten(rb.Schema)
		bodyProps := flat.Get("properties")
		if model.SchemaType(flat) == "object" && bodyProps.Len() > 0 {
			req := model.RequiredSet(flat)
			conv.stack = append(conv.stack, rb.Schema)
			for _, k := range bodyProps.Keys() {
				if props.Has(k) {
					continue
				}
				props.Set(k, conv.schema(bodyProps.Get(k), 1))
				if req[k] {
					required = append(required, k)
				}
			}
		} else if !props.Has("body") {
			s := conv.schema(rb.Schema, 0)
			if rb.Description != "" && !s.Has("description") {
				s.Set("description", tree.NewString(rb.Description))
			}
			props.Set("body", s)
			if rb.Required {
				required = append(required, "body")
			}
		}
	}
	return Parameters{Type: "object", Properties: props, Required: required}
}

// converter rewrites resolved schemas into the plain subset tool schemas
// accept. Every emitted schema carries a type. Once budget is spent the
// remaining schemas are emitted as their bare type.
type converter struct {
	api    *model.API
	stack  []*tree.Node
	budget int
}

func (c *converter) schema(n *tree.Node, depth int) *tree.Node {
	if n.IsRef() {
		return recursive(n.Value)
	}
	if !n.IsMapping() {
		return typed("string")
	}
	for _, s := range c.stack {
		if s == n {
			name, _ := c.api.SchemaName(n)
			return recursive(name)
		}
	}
	if c.budget--; c.budget < 0 {
		return truncated(c.api, n)
	}
	c.stack = append(c.stack, n)
	defer func() { c.stack = c.stack[:len(c.stack)-1] }()

	flat := model.Flatten(n)
	var alts []string
	for _, k := range []string{"oneOf", "anyOf"} {
		if seq := flat.Get(k); seq.IsSequence() && len(seq.Items) > 0 {
			for _, it := range seq.Items {
				alts = append(alts, model.TypeLabel(c.api, it))
			}
			if model.SchemaType(flat) == "" {
				alt := c.schema(seq.Items[0], depth)
				alt.Set("description", tree.NewString(joinDescription(flat.Str("description"), "One of: "+strings.Join(alts, ", "))))
				return alt
			}
		}
	}

	out := tree.NewMapping()
	typ := model.SchemaType(flat)
	if typ == "" || typ == "null" {
		typ = "string"
		if flat.Has("properties") {
			typ = "object"
		}
	}
	out.Set("type", tree.NewString(typ))
	if d := flat.Str("description"); d != "" {
		out.Set("description", tree.NewString(d))
	}
	for _, k := range []string{"format", "enum", "minimum", "maximum", "minLength", "maxLength", "minItems", "maxItems"} {
		if v := flat.Get(k); v != nil {
			out.Set(k, v)
		}
	}

	switch typ {
	case "array":
		if depth >= maxSchemaDepth {
			out.Set("items", typed("string"))
			break
		}
		out.Set("items", c.schema(flat.Get("items"), depth+1))
	case "object":
		props := flat.Get("properties")
		if props.Len() == 0 || depth >= maxSchemaDepth {
			break
		}
		converted := tree.NewMapping()
		for _, k := range props.Keys() {
			converted.Set(k, c.schema(props.Get(k), depth+1))
		}
		out.Set("properties", converted)
		var req []string
		for _, r := range flat.Strings("required") {
			if converted.Has(r) {
				req = append(req, r)
			}
		}
		if len(req) > 0 {
			out.Set("required", tree.FromAny(req))
		}
	}
	return out
}

func recursive(name string) *tree.Node {
	out := typed("object")
	out.Set("description", tree.NewString("Recursive reference to "+name))
	return out
}

// truncated stands in for a schema left unexpanded.
func truncated(api *model.API, n *tree.Node) *tree.Node {
	typ := model.SchemaType(model.Flatten(n))
	if typ == "" || typ == "null" {
		typ = "object"
	}
	out := typed(typ)
	if typ == "array" {
		out.Set("items", typed("string"))
	}
	if name, ok := api.SchemaName(n); ok {
		out.Set("description", tree.NewString("See schema "+name))
	}
	return out
}

func typed(t string) *tree.Node {
	out := tree.NewMapping()
	out.Set("type", tree.NewString(t))
	return out
}

func joinDescription(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

// SanitizeName maps an operation id onto [A-Za-z0-9_]{1,64}. Long names
// keep a prefix and gain a hash of the full id so they stay distinct.
func SanitizeName(id string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range id {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "operation"
	}
	if len(name) > MaxNameLength {
		sum := sha256.Sum256([]byte(id))
		suffix := hex.EncodeToString(sum[:])[:hashSuffixLength]
		name = name[:MaxNameLength-hashSuffixLength-1] + "_" + suffix
	}
	return name
}

func uniqueName(name string, used map[string]bool) string {
	if !used[name] {
		return name
	}
	for i := 2; ; i++ {
		suffix := fmt.Sprintf("_%d", i)
		base := name
		if len(base)+len(suffix) > MaxNameLength {
			base = base[:MaxNameLength-len(suffix)]
		}
		if candidate := base + suffix; !used[candidate] {
			return candidate
		}
	}
}
