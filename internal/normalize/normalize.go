// Package normalize builds the interface model from a dereferenced
// OpenAPI 3.x or Swagger 2.0 document.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dgallion1/apiingest/internal/diag"
	"github.com/dgallion1/apiingest/internal/model"
	"github.com/dgallion1/apiingest/internal/tree"
)

// InvalidDocumentError means the root shape cannot produce a model at all.
type InvalidDocumentError struct {
	Reason string
}

func (e *InvalidDocumentError) Error() string {
	return "invalid document: " + e.Reason
}

// methods in the order they may appear in a path item.
var methods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// dialect covers the parts of the document whose shape differs between
// Swagger 2.0 and OpenAPI 3.x.
type dialect interface {
	servers(root *tree.Node) []model.Server
	schemas(root *tree.Node) *tree.Node
	securitySchemes(root *tree.Node) *tree.Node
	// body splits body-carrying parameters off the merged list.
	body(root, op *tree.Node, params []*tree.Node) (*model.RequestBody, []*tree.Node)
	parameter(p *tree.Node) model.Parameter
	response(root, op *tree.Node, status string, r *tree.Node) model.Response
}

// Normalize produces the interface model. Problems with single entries are
// reported as diagnostics; only an unusable root is an error.
func Normalize(root *tree.Node) (*model.API, []diag.Diagnostic, error) {
	if !root.IsMapping() {
		return nil, nil, &InvalidDocumentError{Reason: "root is not a mapping"}
	}
	d, version := sniff(root)

	paths := root.Get("paths")
	switch {
	case !root.Has("paths"):
		if !strings.HasPrefix(version, "3.1") || !(root.Has("components") || root.Has("webhooks")) {
			return nil, nil, &InvalidDocumentError{Reason: "paths is missing"}
		}
	case paths.Kind == tree.KindNull:
	case !paths.IsMapping():
		return nil, nil, &InvalidDocumentError{Reason: fmt.Sprintf("paths is a %s, not a mapping", paths.Kind)}
	}

	n := &normalizer{
		root:    root,
		d:       d,
		api:     &model.API{SpecVersion: version},
		opIndex: map[string]int{},
	}
	n.info()
	n.api.Servers = d.servers(root)
	n.tags()
	n.schemas()
	n.securitySchemes()
	n.api.Security = requirements(root.Get("security"))
	n.operations(paths)
	return n.api, n.diags, nil
}

func sniff(root *tree.Node) (dialect, string) {
	if v := root.Str("swagger"); v != "" {
		return swagger2{}, v
	}
	return openAPI3{}, root.Str("openapi")
}

type normalizer struct {
	root    *tree.Node
	d       dialect
	api     *model.API
	opIndex map[string]int
	diags   []diag.Diagnostic
}

func (n *normalizer) skip(ptr, format string, args ...any) {
	n.diags = append(n.diags, diag.Diagnostic{
		Kind:    diag.NormalizationSkipped,
		Path:    ptr,
		Message: fmt.Sprintf(format, args...),
	})
}

func (n *normalizer) info() {
	info := n.root.Get("info")
	n.api.Info = model.Info{
		Title:       strings.TrimSpace(info.Str("title")),
		Version:     strings.TrimSpace(info.Str("version")),
		Description: cleanText(info.Str("description")),
	}
}

func (n *normalizer) tags() {
	for i, t := range itemsOf(n.root.Get("tags")) {
		name := t.Str("name")
		if name == "" {
			n.skip(fmt.Sprintf("/tags/%d", i), "tag has no name")
			continue
		}
		n.api.Tags = append(n.api.Tags, model.Tag{Name: name, Description: cleanText(t.Str("description"))})
	}
}

func (n *normalizer) schemas() {
	defs := n.d.schemas(n.root)
	for _, name := range defs.Keys() {
		s := defs.Get(name)
		if !s.IsMapping() && !s.IsRef() {
			n.skip(schemaPointer(n.d, name), "schema is a %s, not an object", s.Kind)
			continue
		}
		n.api.AddSchema(name, s)
	}
}

func schemaPointer(d dialect, name string) string {
	if _, ok := d.(swagger2); ok {
		return "/definitions/" + tree.EscapeToken(name)
	}
	return "/components/schemas/" + tree.EscapeToken(name)
}

func (n *normalizer) securitySchemes() {
	defs := n.d.securitySchemes(n.root)
	for _, name := range defs.Keys() {
		s := defs.Get(name)
		if !s.IsMapping() {
			continue
		}
		n.api.SecuritySchemes = append(n.api.SecuritySchemes, securityScheme(name, s))
	}
}

func securityScheme(name string, s *tree.Node) model.SecurityScheme {
	out := model.SecurityScheme{
		Name:         name,
		Type:         s.Str("type"),
		Scheme:       strings.ToLower(s.Str("scheme")),
		BearerFormat: s.Str("bearerFormat"),
		In:           s.Str("in"),
		ParamName:    s.Str("name"),
		Description:  cleanText(s.Str("description")),
	}
	switch out.Type {
	case "basic":
		out.Type, out.Scheme = "http", "basic"
	case "oauth2":
		if flows := s.Get("flows"); flows.IsMapping() {
			out.Flows = flows.Keys()
		} else if f := s.Str("flow"); f != "" {
			out.Flows = []string{f}
		}
	}
	return out
}

func requirements(n *tree.Node) []model.SecurityRequirement {
	var out []model.SecurityRequirement
	for _, req := range itemsOf(n) {
		if !req.IsMapping() {
			continue
		}
		r := model.SecurityRequirement{Schemes: []model.SchemeRef{}}
		for _, name := range req.Keys() {
			r.Schemes = append(r.Schemes, model.SchemeRef{Name: name, Scopes: req.Strings(name)})
		}
		out = append(out, r)
	}
	return out
}

func (n *normalizer) operations(paths *tree.Node) {
	for _, p := range paths.Keys() {
		if strings.HasPrefix(p, "x-") {
			continue
		}
		ptr := "/paths/" + tree.EscapeToken(p)
		item := paths.Get(p)
		if !item.IsMapping() {
			n.skip(ptr, "path item is a %s, not a mapping", item.Kind)
			continue
		}
		common := n.parameters(item.Get("parameters"), ptr+"/parameters")
		for _, m := range item.Keys() {
			method := strings.ToLower(m)
			if !methods[method] {
				continue
			}
			opPtr := ptr + "/" + tree.EscapeToken(m)
			op, err := n.operation(p, method, item.Get(m), common, opPtr)
			if err != nil {
				n.skip(opPtr, "%v", err)
				continue
			}
			n.add(op, opPtr)
		}
	}
}

// add records op, replacing an earlier operation with the same identity.
// Identity ignores a trailing slash on the path.
func (n *normalizer) add(op *model.Operation, ptr string) {
	id := op.Method + " " + pathIdentity(op.Path)
	if i, ok := n.opIndex[id]; ok {
		prev := n.api.Operations[i]
		n.api.Operations[i] = op
		n.diags = append(n.diags, diag.Diagnostic{
			Kind:    diag.DuplicateOperation,
			Path:    ptr,
			Message: fmt.Sprintf("%s replaces %s", op.Key(), prev.Key()),
		})
		return
	}
	n.opIndex[id] = len(n.api.Operations)
	n.api.Operations = append(n.api.Operations, op)
}

func pathIdentity(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}

// parameters keeps the well-formed entries of a parameter list.
func (n *normalizer) parameters(list *tree.Node, ptr string) []*tree.Node {
	var out []*tree.Node
	for i, p := range itemsOf(list) {
		if !p.IsMapping() || p.Str("name") == "" || p.Str("in") == "" {
			n.skip(fmt.Sprintf("%s/%d", ptr, i), "parameter needs a name and a location")
			continue
		}
		out = append(out, p)
	}
	return out
}

// mergeParameters overlays operation parameters on path-level ones. An
// operation parameter with the same name and location replaces the
// path-level one in place.
func mergeParameters(common, own []*tree.Node) []*tree.Node {
	out := append([]*tree.Node(nil), common...)
	for _, p := range own {
		replaced := false
		for i, c := range out {
			if c.Str("name") == p.Str("name") && c.Str("in") == p.Str("in") {
				out[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, p)
		}
	}
	return out
}

func (n *normalizer) operation(path, method string, node *tree.Node, common []*tree.Node, ptr string) (*model.Operation, error) {
	if !node.IsMapping() {
		return nil, fmt.Errorf("operation is a %s, not a mapping", node.Kind)
	}
	op := &model.Operation{
		Path:        path,
		Method:      strings.ToUpper(method),
		OperationID: strings.TrimSpace(node.Str("operationId")),
		Summary:     cleanText(node.Str("summary")),
		Description: cleanText(node.Str("description")),
		Deprecated:  node.Truthy("deprecated"),
		Tags:        node.Strings("tags"),
	}
	if op.OperationID == "" {
		op.OperationID = SynthesizeOperationID(method, path)
		op.IDSynthesized = true
	}

	params := mergeParameters(common, n.parameters(node.Get("parameters"), ptr+"/parameters"))
	body, rest := n.d.body(n.root, node, params)
	op.RequestBody = body
	for _, p := range rest {
		op.Parameters = append(op.Parameters, n.d.parameter(p))
	}

	responses := node.Get("responses")
	for _, status := range responses.Keys() {
		if strings.HasPrefix(status, "x-") {
			continue
		}
		r := responses.Get(status)
		if !r.IsMapping() {
			n.skip(ptr+"/responses/"+tree.EscapeToken(status), "response is a %s, not a mapping", r.Kind)
			continue
		}
		op.Responses = append(op.Responses, n.d.response(n.root, node, status, r))
	}

	if node.Has("security") {
		op.SecurityDeclared = true
		op.Security = requirements(node.Get("security"))
	}
	return op, nil
}

// SynthesizeOperationID derives an identifier from method and path:
// GET /users/{id} becomes getUsersById.
func SynthesizeOperationID(method, path string) string {
	caser := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	segments := 0
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}' {
			seg = seg[1 : len(seg)-1]
			b.WriteString("By")
		}
		for _, w := range strings.FieldsFunc(seg, notAlnum) {
			b.WriteString(caser.String(w))
		}
		segments++
	}
	if segments == 0 {
		b.WriteString("Root")
	}
	return b.String()
}

func notAlnum(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// preferredMediaType picks application/json, then any +json type, then
// the first listed.
func preferredMediaType(types []string) string {
	for _, t := range types {
		if strings.EqualFold(mediaBase(t), "application/json") {
			return t
		}
	}
	for _, t := range types {
		if strings.HasSuffix(strings.ToLower(mediaBase(t)), "+json") {
			return t
		}
	}
	if len(types) > 0 {
		return types[0]
	}
	return ""
}

func mediaBase(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func itemsOf(n *tree.Node) []*tree.Node {
	if !n.IsSequence() {
		return nil
	}
	return n.Items
}
