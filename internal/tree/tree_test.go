package tree

import (
	"encoding/json"
	"testing"
)

func TestMapping_PreservesInsertionOrder(t *testing.T) {
	m := NewMapping()
	m.Set("zeta", NewString("z"))
	m.Set("alpha", NewString("a"))
	m.Set("mid", NewInt(3))

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"zeta":"z","alpha":"a","mid":3}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}
}

func TestMapping_SetExistingKeepsPosition(t *testing.T) {
	m := NewMapping()
	m.Set("a", NewInt(1))
	m.Set("b", NewInt(2))
	m.Set("a", NewInt(3))

	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if m.Str("a") != "3" {
		t.Errorf("expected last value to win, got %q", m.Str("a"))
	}
}

func TestMapping_EmptyMarshalsAsObject(t *testing.T) {
	b, err := json.Marshal(NewMapping())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "{}" {
		t.Errorf("expected {}, got %s", b)
	}
}

func TestDelete_RemovesKeyAndOrder(t *testing.T) {
	m := NewMapping()
	m.Set("a", NewInt(1))
	m.Set("b", NewInt(2))
	m.Set("c", NewInt(3))
	m.Delete("b")

	if m.Has("b") {
		t.Fatal("expected b to be removed")
	}
	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestLookup_SequenceIndex(t *testing.T) {
	seq := NewSequence(NewString("x"), NewString("y"))
	v, ok := seq.Lookup("1")
	if !ok || v.Value != "y" {
		t.Fatalf("expected y, got %v %v", v, ok)
	}
	if _, ok := seq.Lookup("5"); ok {
		t.Error("expected out-of-range lookup to fail")
	}
	if _, ok := seq.Lookup("-1"); ok {
		t.Error("expected negative lookup to fail")
	}
}

func TestEqual_IgnoresPositions(t *testing.T) {
	a := NewMapping()
	a.Set("k", &Node{Kind: KindString, Value: "v", Line: 3})
	b := NewMapping()
	b.Set("k", &Node{Kind: KindString, Value: "v", Line: 9})
	if !Equal(a, b) {
		t.Error("expected nodes to be equal")
	}
	b.Set("extra", NewNull())
	if Equal(a, b) {
		t.Error("expected nodes with different keys to differ")
	}
}

func TestEqual_KeyOrderMatters(t *testing.T) {
	a := NewMapping()
	a.Set("x", NewInt(1))
	a.Set("y", NewInt(2))
	b := NewMapping()
	b.Set("y", NewInt(2))
	b.Set("x", NewInt(1))
	if Equal(a, b) {
		t.Error("expected differently ordered mappings to differ")
	}
}

func TestShallowCopy_IndependentKeys(t *testing.T) {
	a := NewMapping()
	a.Set("x", NewInt(1))
	c := a.ShallowCopy()
	c.Set("description", NewString("overlay"))
	if a.Has("description") {
		t.Error("expected original to be untouched")
	}
	if c.Get("x") != a.Get("x") {
		t.Error("expected children to be shared")
	}
}

func TestRef_MarshalsAsPointer(t *testing.T) {
	b, err := json.Marshal(NewRef("Node", "#/components/schemas/Node"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"$ref":"#/components/schemas/Node"}` {
		t.Errorf("unexpected ref json %s", b)
	}
}

func TestEscapeToken_RoundTrip(t *testing.T) {
	for _, s := range []string{"plain", "a/b", "til~de", "~/~1"} {
		if got := UnescapeToken(EscapeToken(s)); got != s {
			t.Errorf("round trip %q gave %q", s, got)
		}
	}
	if EscapeToken("/users/{id}") != "~1users~1{id}" {
		t.Errorf("unexpected escape %q", EscapeToken("/users/{id}"))
	}
}

func TestFromAny_SortsMapKeys(t *testing.T) {
	n := FromAny(map[string]any{"b": 1, "a": []any{"x", true, nil}})
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"a":["x",true,null],"b":1}` {
		t.Errorf("unexpected json %s", b)
	}
}
