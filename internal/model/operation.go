package model

import (
	"strings"

	"github.com/dgallion1/apiingest/internal/tree"
)

// Operation is one (path, method) pair.
type Operation struct {
	Path          string `json:"path"`
	Method        string `json:"method"` // upper case
	OperationID   string `json:"operation_id"`
	IDSynthesized bool   `json:"id_synthesized,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Description   string `json:"description,omitempty"`
	Deprecated    bool   `json:"deprecated,omitempty"`

	Tags        []string     `json:"tags,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	RequestBody *RequestBody `json:"request_body,omitempty"`
	Responses   []Response   `json:"responses,omitempty"`

	Security []SecurityRequirement `json:"security,omitempty"`
	// SecurityDeclared is set when the operation carries its own security
	// list, even an empty one.
	SecurityDeclared bool `json:"security_declared,omitempty"`
}

// Key identifies the operation in chunk maps: "GET /pets/{id}".
func (o *Operation) Key() string {
	return o.Method + " " + o.Path
}

// HasTag reports whether the operation is listed under tag. Untagged
// operations belong to UntaggedTag.
func (o *Operation) HasTag(tag string) bool {
	if len(o.Tags) == 0 {
		return tag == UntaggedTag
	}
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// PrimaryTag is the tag whose section carries the full rendering.
func (o *Operation) PrimaryTag() string {
	if len(o.Tags) == 0 {
		return UntaggedTag
	}
	return o.Tags[0]
}

// ParametersIn returns the parameters at location in.
func (o *Operation) ParametersIn(in string) []Parameter {
	var out []Parameter
	for _, p := range o.Parameters {
		if p.In == in {
			out = append(out, p)
		}
	}
	return out
}

// ErrorResponses returns the 4xx and 5xx responses.
func (o *Operation) ErrorResponses() []Response {
	var out []Response
	for _, r := range o.Responses {
		if strings.HasPrefix(r.Status, "4") || strings.HasPrefix(r.Status, "5") {
			out = append(out, r)
		}
	}
	return out
}

// SuccessResponse returns the first 2xx response, falling back to "default".
func (o *Operation) SuccessResponse() (Response, bool) {
	for _, r := range o.Responses {
		if strings.HasPrefix(r.Status, "2") {
			return r, true
		}
	}
	for _, r := range o.Responses {
		if r.Status == "default" {
			return r, true
		}
	}
	return Response{}, false
}

// Parameter is a path, query, header or cookie parameter.
type Parameter struct {
	Name        string     `json:"name"`
	In          string     `json:"in"`
	Description string     `json:"description,omitempty"`
	Required    bool       `json:"required,omitempty"`
	Deprecated  bool       `json:"deprecated,omitempty"`
	Schema      *tree.Node `json:"schema,omitempty"`
	Example     *tree.Node `json:"example,omitempty"`
}

// RequestBody is the preferred media type of an operation's body.
type RequestBody struct {
	Description  string     `json:"description,omitempty"`
	Required     bool       `json:"required,omitempty"`
	ContentType  string     `json:"content_type"`
	ContentTypes []string   `json:"content_types,omitempty"`
	Schema       *tree.Node `json:"schema,omitempty"`
	Example      *tree.Node `json:"example,omitempty"`
}

// Response is one status entry of an operation.
type Response struct {
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Schema      *tree.Node `json:"schema,omitempty"`
}
