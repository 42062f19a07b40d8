package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/apiingest/internal/tree"
)

func TestLoad_JSONKeepsKeyOrder(t *testing.T) {
	root, err := Load([]byte(`{"paths":{},"openapi":"3.0.0","info":{"title":"T"}}`), FormatAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	keys := root.Keys()
	if len(keys) != 3 || keys[0] != "paths" || keys[1] != "openapi" || keys[2] != "info" {
		t.Errorf("unexpected key order %v", keys)
	}
}

func TestLoad_YAMLKeepsKeyOrderAndPositions(t *testing.T) {
	input := `openapi: 3.0.0
info:
  title: Pets
  version: "1.0"
paths:
  /pets:
    get:
      responses:
        "200":
          description: ok
`
	root, err := Load([]byte(input), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Str("openapi") != "3.0.0" {
		t.Errorf("expected openapi 3.0.0, got %q", root.Str("openapi"))
	}
	info := root.Get("info")
	if info.Line != 3 {
		t.Errorf("expected info on line 3, got %d", info.Line)
	}
	resp := root.Get("paths").Get("/pets").Get("get").Get("responses")
	if resp.Get("200") == nil {
		t.Fatalf("expected response keyed 200, keys %v", resp.Keys())
	}
}

func TestLoad_YAMLNumbersKeepLiteral(t *testing.T) {
	root, err := Load([]byte("a: 1.0\nb: 0x10\nc: 1_000\nd: .inf\n"), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := json.Marshal(root)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":1.0,"b":16,"c":1000,"d":".inf"}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}
}

func TestLoad_YAMLAnchorsAndMergeKeys(t *testing.T) {
	input := `base: &base
  type: string
  format: uuid
derived:
  <<: *base
  format: email
`
	root, err := Load([]byte(input), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := root.Get("derived")
	if d.Str("type") != "string" {
		t.Errorf("expected merged type, got %q", d.Str("type"))
	}
	if d.Str("format") != "email" {
		t.Errorf("expected explicit key to win, got %q", d.Str("format"))
	}
}

func TestLoad_YAMLDuplicateKeyLastWins(t *testing.T) {
	root, err := Load([]byte("a: 1\nb: 2\na: 3\n"), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Str("a") != "3" {
		t.Errorf("expected last duplicate to win, got %q", root.Str("a"))
	}
}

func TestLoad_AutoFallsBackToYAML(t *testing.T) {
	root, err := Load([]byte("swagger: \"2.0\"\npaths: {}\n"), FormatAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Str("swagger") != "2.0" {
		t.Errorf("expected swagger 2.0, got %q", root.Str("swagger"))
	}
}

func TestLoad_HintIsTrusted(t *testing.T) {
	// Valid YAML, invalid JSON: a JSON hint must not fall back.
	_, err := Load([]byte("a: 1\n"), FormatJSON)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Format != FormatJSON {
		t.Errorf("expected json format in error, got %q", pe.Format)
	}
}

func TestLoad_JSONSyntaxErrorHasLocation(t *testing.T) {
	input := "{\n  \"a\": 1,\n  \"b\": ]\n}"
	_, err := Load([]byte(input), FormatJSON)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Line != 3 {
		t.Errorf("expected error on line 3, got %d (%v)", pe.Line, err)
	}
}

func TestLoad_YAMLSyntaxErrorHasLine(t *testing.T) {
	_, err := Load([]byte("a: 1\nb: [unclosed\n"), FormatYAML)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Line == 0 {
		t.Errorf("expected a line number, got %v", err)
	}
}

func TestLoad_JSONTrailingDataRejected(t *testing.T) {
	_, err := Load([]byte(`{"a":1} {"b":2}`), FormatJSON)
	if err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestLoad_EmptyContent(t *testing.T) {
	_, err := Load([]byte("   \n"), FormatAuto)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestLoad_UnicodePreserved(t *testing.T) {
	root, err := Load([]byte(`{"info":{"title":"Café API 日本"}}`), FormatAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := root.Get("info").Str("title"); got != "Café API 日本" {
		t.Errorf("unexpected title %q", got)
	}
}

func TestFormatForFile(t *testing.T) {
	cases := map[string]Format{
		"spec.yaml":                       FormatYAML,
		"spec.YML":                        FormatYAML,
		"dir/spec.json":                   FormatJSON,
		"https://x.test/a/spec.json?v=1":  FormatJSON,
		"notes.txt":                       FormatAuto,
	}
	for name, want := range cases {
		if got := FormatForFile(name); got != want {
			t.Errorf("FormatForFile(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestLoad_ScalarRoot(t *testing.T) {
	root, err := Load([]byte(`"just a string"`), FormatAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Kind != tree.KindString {
		t.Errorf("expected string root, got %v", root.Kind)
	}
}

func TestSniff(t *testing.T) {
	cases := map[string]Format{
		`{"openapi":"3.0.0"}`:        FormatJSON,
		"\xef\xbb\xbf[1, 2]":         FormatJSON,
		"openapi: 3.0.0\n":           FormatYAML,
		`{"openapi": "3.0.0"} extra`: FormatYAML,
	}
	for in, want := range cases {
		if got := Sniff([]byte(in)); got != want {
			t.Errorf("Sniff(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoad_YAMLAliasExpansionIsBounded(t *testing.T) {
	var b strings.Builder
	b.WriteString("a0: &a0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&b, "a%d: &a%d [", i, i)
		for j := 0; j < 10; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "*a%d", i-1)
		}
		b.WriteString("]\n")
	}
	_, err := Load([]byte(b.String()), FormatYAML)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !errors.Is(err, errAliasExpansion) {
		t.Errorf("expected alias expansion error, got %v", err)
	}
}

func TestLoad_YAMLModestAliasReuseAllowed(t *testing.T) {
	input := `defs:
  id: &id {type: string, format: uuid}
a: *id
b: *id
c: [*id, *id, *id]
`
	root, err := Load([]byte(input), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root.Get("c").Items[2].Str("format") != "uuid" {
		t.Errorf("expected aliased mapping, got %v", root.Get("c"))
	}
}

func TestLoad_JSONNestingTooDeep(t *testing.T) {
	depth := maxNestingDepth + 10
	input := strings.Repeat("[", depth) + strings.Repeat("]", depth)
	for _, hint := range []Format{FormatJSON, FormatAuto} {
		_, err := Load([]byte(input), hint)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("hint %q: expected ParseError, got %v", hint, err)
		}
		if pe.Format != FormatJSON || !errors.Is(err, errNestingTooDeep) {
			t.Errorf("hint %q: expected json nesting error, got %v", hint, err)
		}
	}
}

func TestLoad_JSONDeepButAllowed(t *testing.T) {
	input := strings.Repeat(`{"a":`, 500) + "1" + strings.Repeat("}", 500)
	if _, err := Load([]byte(input), FormatJSON); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
