package normalize

import (
	"regexp"
	"strings"

	"github.com/dgallion1/apiingest/internal/model"
	"github.com/dgallion1/apiingest/internal/tree"
)

// openAPI3 reads OpenAPI 3.0 and 3.1 documents.
type openAPI3 struct{}

var serverVariable = regexp.MustCompile(`\{([^{}]+)\}`)

func (openAPI3) servers(root *tree.Node) []model.Server {
	var out []model.Server
	for _, s := range itemsOf(root.Get("servers")) {
		u := s.Str("url")
		if u == "" {
			continue
		}
		vars := s.Get("variables")
		u = serverVariable.ReplaceAllStringFunc(u, func(m string) string {
			if def := vars.Get(m[1 : len(m)-1]).Str("default"); def != "" {
				return def
			}
			return m
		})
		out = append(out, model.Server{URL: u, Description: cleanText(s.Str("description"))})
	}
	return out
}

func (openAPI3) schemas(root *tree.Node) *tree.Node {
	return root.Get("components").Get("schemas")
}

func (openAPI3) securitySchemes(root *tree.Node) *tree.Node {
	return root.Get("components").Get("securitySchemes")
}

func (openAPI3) body(_, op *tree.Node, params []*tree.Node) (*model.RequestBody, []*tree.Node) {
	rb := op.Get("requestBody")
	if !rb.IsMapping() {
		return nil, params
	}
	out := &model.RequestBody{
		Description: cleanText(rb.Str("description")),
		Required:    rb.Truthy("required"),
	}
	content := rb.Get("content")
	out.ContentTypes = content.Keys()
	out.ContentType = preferredMediaType(out.ContentTypes)
	if media := content.Get(out.ContentType); media.IsMapping() {
		out.Schema = media.Get("schema")
		out.Example = mediaExample(media)
	}
	return out, params
}

func (openAPI3) parameter(p *tree.Node) model.Parameter {
	out := model.Parameter{
		Name:        p.Str("name"),
		In:          p.Str("in"),
		Description: cleanText(p.Str("description")),
		Required:    p.Truthy("required") || p.Str("in") == "path",
		Deprecated:  p.Truthy("deprecated"),
		Schema:      p.Get("schema"),
		Example:     mediaExample(p),
	}
	if out.Schema == nil {
		content := p.Get("content")
		if media := content.Get(preferredMediaType(content.Keys())); media.IsMapping() {
			out.Schema = media.Get("schema")
		}
	}
	return out
}

func (openAPI3) response(_, _ *tree.Node, status string, r *tree.Node) model.Response {
	out := model.Response{Status: status, Description: cleanText(r.Str("description"))}
	content := r.Get("content")
	out.ContentType = preferredMediaType(content.Keys())
	if media := content.Get(out.ContentType); media.IsMapping() {
		out.Schema = media.Get("schema")
	}
	return out
}

// mediaExample returns example, or the value of the first entry of examples.
func mediaExample(n *tree.Node) *tree.Node {
	if ex := n.Get("example"); ex != nil {
		return ex
	}
	examples := n.Get("examples")
	for _, k := range examples.Keys() {
		if v := examples.Get(k).Get("value"); v != nil {
			return v
		}
	}
	return nil
}

func trimSlash(s string) string {
	return strings.TrimSuffix(s, "/")
}
