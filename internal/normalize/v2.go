package normalize

import (
	"github.com/dgallion1/apiingest/internal/model"
	"github.com/dgallion1/apiingest/internal/tree"
)

// swagger2 reads Swagger 2.0 documents.
type swagger2 struct{}

// schemaKeywords are the keys of a non-body parameter that describe its value.
var schemaKeywords = []string{
	"type", "format", "items", "enum", "default",
	"minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum",
	"minLength", "maxLength", "pattern", "minItems", "maxItems", "uniqueItems",
}

func (swagger2) servers(root *tree.Node) []model.Server {
	host := root.Str("host")
	if host == "" {
		return nil
	}
	scheme := "https"
	if schemes := root.Strings("schemes"); len(schemes) > 0 {
		scheme = schemes[0]
		for _, s := range schemes {
			if s == "https" {
				scheme = s
			}
		}
	}
	base := root.Str("basePath")
	if base != "" && base[0] != '/' {
		base = "/" + base
	}
	return []model.Server{{URL: scheme + "://" + host + trimSlash(base)}}
}

func (swagger2) schemas(root *tree.Node) *tree.Node {
	return root.Get("definitions")
}

func (swagger2) securitySchemes(root *tree.Node) *tree.Node {
	return root.Get("securityDefinitions")
}

// body turns the "body" parameter, or the formData parameters, into a
// request body.
func (swagger2) body(root, op *tree.Node, params []*tree.Node) (*model.RequestBody, []*tree.Node) {
	consumes := op.Strings("consumes")
	if !op.Has("consumes") {
		consumes = root.Strings("consumes")
	}

	var rest, form []*tree.Node
	var out *model.RequestBody
	for _, p := range params {
		switch p.Str("in") {
		case "body":
			types := consumes
			if len(types) == 0 {
				types = []string{"application/json"}
			}
			out = &model.RequestBody{
				Description:  cleanText(p.Str("description")),
				Required:     p.Truthy("required"),
				ContentType:  preferredMediaType(types),
				ContentTypes: types,
				Schema:       p.Get("schema"),
				Example:      p.Get("x-example"),
			}
		case "formData":
			form = append(form, p)
		default:
			rest = append(rest, p)
		}
	}
	if out != nil || len(form) == 0 {
		return out, rest
	}

	schema := tree.NewMapping()
	schema.Set("type", tree.NewString("object"))
	props := tree.NewMapping()
	var required []string
	multipart := false
	for _, p := range form {
		props.Set(p.Str("name"), parameterSchema(p))
		if p.Truthy("required") {
			required = append(required, p.Str("name"))
		}
		if p.Str("type") == "file" {
			multipart = true
		}
	}
	schema.Set("properties", props)
	if len(required) > 0 {
		schema.Set("required", tree.FromAny(required))
	}

	ct := "application/x-www-form-urlencoded"
	for _, c := range consumes {
		if mediaBase(c) == "multipart/form-data" {
			multipart = true
		}
	}
	if multipart {
		ct = "multipart/form-data"
	}
	return &model.RequestBody{
		Required:     len(required) > 0,
		ContentType:  ct,
		ContentTypes: []string{ct},
		Schema:       schema,
	}, rest
}

func (swagger2) parameter(p *tree.Node) model.Parameter {
	return model.Parameter{
		Name:        p.Str("name"),
		In:          p.Str("in"),
		Description: cleanText(p.Str("description")),
		Required:    p.Truthy("required") || p.Str("in") == "path",
		Schema:      parameterSchema(p),
		Example:     p.Get("x-example"),
	}
}

func (swagger2) response(root, op *tree.Node, status string, r *tree.Node) model.Response {
	out := model.Response{
		Status:      status,
		Description: cleanText(r.Str("description")),
		Schema:      r.Get("schema"),
	}
	if out.Schema != nil {
		produces := op.Strings("produces")
		if !op.Has("produces") {
			produces = root.Strings("produces")
		}
		out.ContentType = preferredMediaType(produces)
		if out.ContentType == "" {
			out.ContentType = "application/json"
		}
	}
	return out
}

// parameterSchema lifts the inline type keywords of a non-body parameter
// into a schema. A "file" type becomes a binary string.
func parameterSchema(p *tree.Node) *tree.Node {
	s := tree.NewMapping()
	for _, k := range schemaKeywords {
		if v := p.Get(k); v != nil {
			s.Set(k, v)
		}
	}
	if p.Str("type") == "file" {
		s.Set("type", tree.NewString("string"))
		s.Set("format", tree.NewString("binary"))
	}
	if d := p.Str("description"); d != "" {
		s.Set("description", tree.NewString(cleanText(d)))
	}
	return s
}
