// Package model is the version-independent interface model every
// projector reads from. All $ref indirection is resolved before a model
// is built; schemas refer to each other by name.
package model

import (
	"sort"
	"strings"

	"github.com/dgallion1/apiingest/internal/tree"
)

// DefaultBaseURL is used in examples when the document declares no server.
const DefaultBaseURL = "https://api.example.com"

// UntaggedTag groups operations that carry no tag.
const UntaggedTag = "Untagged"

type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Schema is one named, dereferenced schema.
type Schema struct {
	Name string     `json:"name"`
	Node *tree.Node `json:"schema"`
}

// SecurityScheme is a declared authentication mechanism.
type SecurityScheme struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`             // apiKey, http, oauth2, openIdConnect
	Scheme       string   `json:"scheme,omitempty"` // http: bearer, basic, ...
	BearerFormat string   `json:"bearer_format,omitempty"`
	In           string   `json:"in,omitempty"`         // apiKey: header, query, cookie
	ParamName    string   `json:"param_name,omitempty"` // apiKey: header/query/cookie name
	Flows        []string `json:"flows,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// SchemeRef names one scheme of a requirement with its scopes.
type SchemeRef struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes,omitempty"`
}

// SecurityRequirement is satisfied when all of its schemes are. A list of
// requirements is satisfied when any one of them is.
type SecurityRequirement struct {
	Schemes []SchemeRef `json:"schemes"`
}

// API is the normalized interface model.
type API struct {
	Info            Info                  `json:"info"`
	SpecVersion     string                `json:"spec_version"`
	Servers         []Server              `json:"servers,omitempty"`
	Tags            []Tag                 `json:"tags,omitempty"`
	Schemas         []Schema              `json:"schemas,omitempty"`
	Operations      []*Operation          `json:"operations"`
	SecuritySchemes []SecurityScheme      `json:"security_schemes,omitempty"`
	Security        []SecurityRequirement `json:"security,omitempty"`

	schemaIndex  map[string]int
	schemaByNode map[*tree.Node]string
}

// AddSchema appends a named schema to the arena. A repeated name replaces
// the earlier entry in place.
func (a *API) AddSchema(name string, n *tree.Node) {
	if a.schemaIndex == nil {
		a.schemaIndex = map[string]int{}
		a.schemaByNode = map[*tree.Node]string{}
	}
	if i, ok := a.schemaIndex[name]; ok {
		a.Schemas[i].Node = n
	} else {
		a.schemaIndex[name] = len(a.Schemas)
		a.Schemas = append(a.Schemas, Schema{Name: name, Node: n})
	}
	if _, ok := a.schemaByNode[n]; !ok && n.IsMapping() {
		a.schemaByNode[n] = name
	}
}

// Schema returns the named schema.
func (a *API) Schema(name string) (*tree.Node, bool) {
	i, ok := a.schemaIndex[name]
	if !ok {
		return nil, false
	}
	return a.Schemas[i].Node, true
}

// SchemaName reports the name a schema node is known by: the target of a
// named reference, or the arena entry the node (or the node it was copied
// from) was resolved from.
func (a *API) SchemaName(n *tree.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	if n.IsRef() {
		return n.Value, true
	}
	if name, ok := a.schemaByNode[n]; ok {
		return name, true
	}
	name, ok := a.schemaByNode[n.Source()]
	return name, ok
}

// SecurityScheme looks a scheme up by name.
func (a *API) SecurityScheme(name string) (SecurityScheme, bool) {
	for _, s := range a.SecuritySchemes {
		if s.Name == name {
			return s, true
		}
	}
	return SecurityScheme{}, false
}

// BaseURL is the first declared server, or DefaultBaseURL.
func (a *API) BaseURL() string {
	for _, s := range a.Servers {
		if s.URL != "" {
			return strings.TrimSuffix(s.URL, "/")
		}
	}
	return DefaultBaseURL
}

// EffectiveSecurity applies an operation-level override over the global
// requirements. An explicit empty list means no authentication.
func (a *API) EffectiveSecurity(op *Operation) []SecurityRequirement {
	if op.SecurityDeclared {
		return op.Security
	}
	return a.Security
}

// Operation returns the operation with the given key ("GET /pets").
func (a *API) Operation(key string) (*Operation, bool) {
	for _, op := range a.Operations {
		if op.Key() == key {
			return op, true
		}
	}
	return nil, false
}

// TagNames lists tags in presentation order: declared tags first, then
// tags only used by operations in encounter order, then UntaggedTag when
// some operation has no tag.
func (a *API) TagNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range a.Tags {
		if !seen[t.Name] {
			seen[t.Name] = true
			out = append(out, t.Name)
		}
	}
	untagged := false
	for _, op := range a.Operations {
		if len(op.Tags) == 0 {
			untagged = true
			continue
		}
		for _, t := range op.Tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	if untagged && !seen[UntaggedTag] {
		out = append(out, UntaggedTag)
	}
	return out
}

// Tag returns the declared tag with name, or a bare Tag.
func (a *API) Tag(name string) Tag {
	for _, t := range a.Tags {
		if t.Name == name {
			return t
		}
	}
	return Tag{Name: name}
}

// OperationsForTag returns the operations listed under tag, sorted by
// path then method.
func (a *API) OperationsForTag(tag string) []*Operation {
	var out []*Operation
	for _, op := range a.Operations {
		if op.HasTag(tag) {
			out = append(out, op)
		}
	}
	SortOperations(out)
	return out
}

// SortOperations orders by path, then GET, POST, PUT, PATCH, DELETE, then
// other methods alphabetically.
func SortOperations(ops []*Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Path != ops[j].Path {
			return ops[i].Path < ops[j].Path
		}
		ri, rj := MethodRank(ops[i].Method), MethodRank(ops[j].Method)
		if ri != rj {
			return ri < rj
		}
		return ops[i].Method < ops[j].Method
	})
}

var methodRanks = map[string]int{"GET": 0, "POST": 1, "PUT": 2, "PATCH": 3, "DELETE": 4}

// MethodRank orders the common methods ahead of the rest.
func MethodRank(method string) int {
	if r, ok := methodRanks[strings.ToUpper(method)]; ok {
		return r
	}
	return len(methodRanks)
}
