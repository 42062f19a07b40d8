package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dgallion1/apiingest/internal/diag"
	"github.com/dgallion1/apiingest/internal/loader"
	"github.com/dgallion1/apiingest/internal/tree"
)

func mustLoad(t *testing.T, src string) *tree.Node {
	t.Helper()
	root, err := loader.Load([]byte(src), loader.FormatAuto)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return root
}

const petDoc = `
openapi: 3.0.0
paths:
  /pets:
    get:
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Pet'
  /pets/{id}:
    get:
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Pet'
components:
  schemas:
    Pet:
      type: object
      properties:
        name:
          type: string
`

func schemaAt(root *tree.Node, p string) *tree.Node {
	return root.Get("paths").Get(p).Get("get").Get("responses").Get("200").
		Get("content").Get("application/json").Get("schema")
}

func TestResolve_InlinesInternalReference(t *testing.T) {
	out, diags := Resolve(context.Background(), mustLoad(t, petDoc), Options{})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
	s := schemaAt(out, "/pets")
	if s.Str("type") != "object" || s.Get("properties").Get("name") == nil {
		t.Fatalf("expected Pet to be inlined, got %v", s)
	}
	if s.Has("$ref") {
		t.Error("expected no $ref left")
	}
}

func TestResolve_MemoizedTargetsAreShared(t *testing.T) {
	out, _ := Resolve(context.Background(), mustLoad(t, petDoc), Options{})
	a := schemaAt(out, "/pets")
	b := schemaAt(out, "/pets/{id}")
	c := out.Get("components").Get("schemas").Get("Pet")
	if a != b || a != c {
		t.Error("expected every use of Pet to share one resolved node")
	}
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	in := mustLoad(t, petDoc)
	Resolve(context.Background(), in, Options{})
	if !schemaAt(in, "/pets").Has("$ref") {
		t.Error("expected input tree to keep its $ref")
	}
}

const nodeDoc = `{
  "openapi": "3.0.0",
  "paths": {},
  "components": {"schemas": {"Node": {
    "type": "object",
    "properties": {
      "name": {"type": "string"},
      "children": {"type": "array", "items": {"$ref": "#/components/schemas/Node"}}
    }
  }}}
}`

func TestResolve_SelfReferenceStopsAtNamedRef(t *testing.T) {
	out, diags := Resolve(context.Background(), mustLoad(t, nodeDoc), Options{})
	node := out.Get("components").Get("schemas").Get("Node")
	items := node.Get("properties").Get("children").Get("items")
	if !items.IsRef() {
		t.Fatalf("expected named reference at cycle boundary, got kind %v", items.Kind)
	}
	if items.Value != "Node" || items.Ref != "#/components/schemas/Node" {
		t.Errorf("unexpected ref %q %q", items.Value, items.Ref)
	}
	if diag.Count(diags, diag.CycleBoundaryReached) != 1 {
		t.Errorf("expected one cycle diagnostic, got %v", diags)
	}
}

func TestResolve_MutualRecursionTerminates(t *testing.T) {
	src := `{"components":{"schemas":{
	  "A":{"type":"object","properties":{"b":{"$ref":"#/components/schemas/B"}}},
	  "B":{"type":"object","properties":{"a":{"$ref":"#/components/schemas/A"}}}
	}}}`
	out, _ := Resolve(context.Background(), mustLoad(t, src), Options{})
	a := out.Get("components").Get("schemas").Get("A")
	b := a.Get("properties").Get("b")
	if b.Str("type") != "object" {
		t.Fatalf("expected B inlined under A")
	}
	back := b.Get("properties").Get("a")
	if !back.IsRef() || back.Value != "A" {
		t.Errorf("expected named reference to A, got %v", back.Kind)
	}
}

func TestResolve_BrokenReferenceBecomesPlaceholder(t *testing.T) {
	src := `{"paths":{"/x":{"get":{"responses":{"200":{"description":"ok",
	  "content":{"application/json":{"schema":{"$ref":"#/components/schemas/Missing"}}}}}}}}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{})
	if diag.Count(diags, diag.BrokenReference) != 1 {
		t.Fatalf("expected one broken reference, got %v", diags)
	}
	if !strings.Contains(diags[0].Message, "#/components/schemas/Missing") {
		t.Errorf("expected message to name the pointer, got %q", diags[0].Message)
	}
	s := schemaAt(out, "/x")
	if !s.IsMapping() || s.Len() != 0 {
		t.Errorf("expected empty placeholder, got %v", s)
	}
}

func TestResolve_EscapedPointerSegments(t *testing.T) {
	src := `{"paths":{"/a/b":{"get":{"summary":"s"}}},
	  "x":{"$ref":"#/paths/~1a~1b/get"},
	  "y":{"$ref":"#/defs/til~0de"},
	  "defs":{"til~de":{"type":"string"}}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
	if out.Get("x").Str("summary") != "s" {
		t.Errorf("expected ~1 to decode to /")
	}
	if out.Get("y").Str("type") != "string" {
		t.Errorf("expected ~0 to decode to ~")
	}
}

func TestResolve_DescriptionOverlay(t *testing.T) {
	src := `{"components":{"schemas":{"Id":{"type":"string","description":"base"}}},
	  "a":{"$ref":"#/components/schemas/Id","description":"override","readOnly":true}}`
	out, _ := Resolve(context.Background(), mustLoad(t, src), Options{})
	a := out.Get("a")
	if a.Str("description") != "override" {
		t.Errorf("expected overlay description, got %q", a.Str("description"))
	}
	if a.Has("readOnly") {
		t.Error("expected other siblings to be ignored")
	}
	id := out.Get("components").Get("schemas").Get("Id")
	if id.Str("description") != "base" {
		t.Error("expected shared target to be untouched by overlay")
	}
	if a.Origin != id || a.Source() != id {
		t.Error("expected the overlay copy to point back at its target")
	}
}

func TestResolve_LiteralKeysAreNotDereferenced(t *testing.T) {
	src := `{"components":{"schemas":{"S":{"type":"object",
	  "example":{"$ref":"#/not/a/pointer"},
	  "x-raw":{"$ref":"#/nope"},
	  "properties":{"example":{"$ref":"#/components/schemas/T"}}},
	  "T":{"type":"integer"}}}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
	s := out.Get("components").Get("schemas").Get("S")
	if s.Get("example").Str("$ref") != "#/not/a/pointer" {
		t.Error("expected example to stay literal")
	}
	if s.Get("x-raw").Str("$ref") != "#/nope" {
		t.Error("expected extension to stay literal")
	}
	if s.Get("properties").Get("example").Str("type") != "integer" {
		t.Error("expected property named example to be resolved")
	}
}

func TestResolve_ExampleObjectValueIsLiteral(t *testing.T) {
	src := `{"components":{"examples":{"E":{"summary":"s","value":{"$ref":"#/x"}}}},
	  "m":{"examples":{"one":{"$ref":"#/components/examples/E"}}}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
	one := out.Get("m").Get("examples").Get("one")
	if one.Get("value").Str("$ref") != "#/x" {
		t.Errorf("expected example value to stay literal, got %v", one)
	}
}

func TestResolve_NonStringRefIsLiteral(t *testing.T) {
	src := `{"a":{"$ref":42,"type":"x"}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
	if out.Get("a").Str("type") != "x" {
		t.Error("expected mapping to be kept")
	}
}

func TestResolve_IsIdempotent(t *testing.T) {
	once, _ := Resolve(context.Background(), mustLoad(t, nodeDoc), Options{})
	twice, diags := Resolve(context.Background(), once, Options{})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics on second pass %v", diags)
	}
	if !tree.Equal(once, twice) {
		t.Error("expected second resolution to be a no-op")
	}

	once, _ = Resolve(context.Background(), mustLoad(t, petDoc), Options{})
	twice, _ = Resolve(context.Background(), once, Options{})
	if !tree.Equal(once, twice) {
		t.Error("expected second resolution of pet doc to be a no-op")
	}
}

func TestResolve_DepthCeiling(t *testing.T) {
	src := `{"a":{"$ref":"#/b"},"b":{"$ref":"#/c"},"c":{"$ref":"#/d"},"d":{"type":"string"}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{MaxDepth: 2})
	if diag.Count(diags, diag.CycleBoundaryReached) == 0 {
		t.Fatalf("expected ceiling diagnostic, got %v", diags)
	}
	// a -> b -> c is two hops; the hop to d is cut.
	if !out.Get("a").IsRef() || out.Get("a").Value != "d" {
		t.Errorf("expected a to end at a named reference to d, got %v", out.Get("a"))
	}
	if out.Get("d").Str("type") != "string" {
		t.Error("expected d itself to be untouched")
	}
}

func TestResolve_NodeCeiling(t *testing.T) {
	src := `{"a":{"b":{"c":{"d":{"e":{}}}}}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{MaxNodes: 3})
	if diag.Count(diags, diag.CycleBoundaryReached) != 1 {
		t.Fatalf("expected one ceiling diagnostic, got %v", diags)
	}
	if !out.Get("a").Get("b").Get("c").IsRef() {
		t.Errorf("expected traversal to stop with a named reference")
	}
}

func TestResolve_ExternalWithoutFetcherIsBroken(t *testing.T) {
	src := `{"a":{"$ref":"other.yaml#/Pet"}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{})
	if diag.Count(diags, diag.BrokenReference) != 1 {
		t.Fatalf("expected broken reference, got %v", diags)
	}
	if out.Get("a").Len() != 0 {
		t.Error("expected placeholder")
	}
}

func TestResolve_ExternalFetchedOncePerCall(t *testing.T) {
	calls := map[string]int{}
	f := FetcherFunc(func(ctx context.Context, loc string) ([]byte, error) {
		calls[loc]++
		if loc != "specs/common.yaml" {
			return nil, errors.New("not found")
		}
		return []byte("Pet:\n  type: object\n  properties:\n    tag:\n      $ref: '#/Tag'\nTag:\n  type: string\n"), nil
	})
	src := `{"a":{"$ref":"common.yaml#/Pet"},"b":{"$ref":"common.yaml#/Tag"}}`
	out, diags := Resolve(context.Background(), mustLoad(t, src), Options{Fetcher: f, BaseLocation: "specs/root.json"})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
	if calls["specs/common.yaml"] != 1 {
		t.Errorf("expected one fetch, got %v", calls)
	}
	if out.Get("a").Get("properties").Get("tag").Str("type") != "string" {
		t.Error("expected internal ref of external doc to resolve within it")
	}
	if out.Get("b").Str("type") != "string" {
		t.Error("expected second external ref to resolve")
	}
}

func TestResolve_ExternalFetchFailureIsBroken(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, loc string) ([]byte, error) {
		return nil, errors.New("timeout")
	})
	src := `{"a":{"$ref":"https://example.test/s.json#/X"},"b":{"$ref":"https://example.test/s.json#/Y"}}`
	_, diags := Resolve(context.Background(), mustLoad(t, src), Options{Fetcher: f})
	if diag.Count(diags, diag.BrokenReference) != 2 {
		t.Fatalf("expected two broken references, got %v", diags)
	}
}

func TestResolveLocation(t *testing.T) {
	cases := []struct{ base, ref, want string }{
		{"specs/root.yaml", "common.yaml", "specs/common.yaml"},
		{"specs/root.yaml", "../shared/a.json", "shared/a.json"},
		{"https://x.test/api/root.yaml", "common.yaml", "https://x.test/api/common.yaml"},
		{"specs/root.yaml", "https://y.test/a.json", "https://y.test/a.json"},
		{"", "a.yaml", "a.yaml"},
	}
	for _, c := range cases {
		if got := resolveLocation(c.base, c.ref); got != c.want {
			t.Errorf("resolveLocation(%q, %q) = %q, want %q", c.base, c.ref, got, c.want)
		}
	}
}

func TestRefName(t *testing.T) {
	if refName("#/components/schemas/Node") != "Node" {
		t.Error("expected last segment")
	}
	if refName("#/definitions/a~1b") != "a/b" {
		t.Error("expected unescaped segment")
	}
	if refName("models/pet.yaml") != "pet" {
		t.Error("expected file base name")
	}
}
