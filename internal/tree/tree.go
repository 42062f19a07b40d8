// Package tree holds the raw document tree shared by the loader, the
// resolver and the normalizer.
package tree

import (
	"strconv"
	"strings"
)

// Kind identifies which variant of Node is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
	// KindRef marks a named reference left behind where the resolver
	// stopped inlining (cycle or ceiling).
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Node is one value of the document tree.
//
// Scalars keep their literal text in Value (numbers are not converted so
// that 1.0 and 1 render the way the author wrote them). Mappings keep
// insertion order in keys.
type Node struct {
	Kind  Kind
	Value string  // String/Number literal, "true"/"false" for Bool, target name for Ref
	Ref   string  // pointer for KindRef
	Items []*Node // KindSequence

	keys   []string
	fields map[string]*Node

	Line   int
	Column int

	// Origin is the node this one is a modified copy of, nil otherwise.
	Origin *Node
}

func NewNull() *Node             { return &Node{Kind: KindNull} }
func NewString(s string) *Node   { return &Node{Kind: KindString, Value: s} }
func NewNumber(lit string) *Node { return &Node{Kind: KindNumber, Value: lit} }
func NewInt(i int64) *Node       { return &Node{Kind: KindNumber, Value: strconv.FormatInt(i, 10)} }

func NewBool(b bool) *Node {
	return &Node{Kind: KindBool, Value: strconv.FormatBool(b)}
}

// NewSequence builds a sequence from items.
func NewSequence(items ...*Node) *Node {
	return &Node{Kind: KindSequence, Items: items}
}

// NewMapping returns an empty ordered mapping.
func NewMapping() *Node {
	return &Node{Kind: KindMapping, fields: map[string]*Node{}}
}

// NewRef returns a named reference to name, originally addressed by pointer.
func NewRef(name, pointer string) *Node {
	return &Node{Kind: KindRef, Value: name, Ref: pointer}
}

func (n *Node) IsMapping() bool  { return n != nil && n.Kind == KindMapping }
func (n *Node) IsSequence() bool { return n != nil && n.Kind == KindSequence }
func (n *Node) IsString() bool   { return n != nil && n.Kind == KindString }
func (n *Node) IsRef() bool      { return n != nil && n.Kind == KindRef }
func (n *Node) IsScalar() bool {
	return n != nil && (n.Kind == KindString || n.Kind == KindNumber || n.Kind == KindBool || n.Kind == KindNull)
}

// Keys returns mapping keys in insertion order.
func (n *Node) Keys() []string {
	if !n.IsMapping() {
		return nil
	}
	return n.keys
}

// Len is the number of entries of a mapping or sequence.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.Kind {
	case KindMapping:
		return len(n.keys)
	case KindSequence:
		return len(n.Items)
	}
	return 0
}

// Get returns the value stored under key, or nil. Safe on nil and non-mappings.
func (n *Node) Get(key string) *Node {
	if !n.IsMapping() {
		return nil
	}
	return n.fields[key]
}

// Has reports whether key is present, even with a null value.
func (n *Node) Has(key string) bool {
	if !n.IsMapping() {
		return false
	}
	_, ok := n.fields[key]
	return ok
}

// Set stores v under key. An existing key keeps its position.
func (n *Node) Set(key string, v *Node) {
	if n.fields == nil {
		n.fields = map[string]*Node{}
	}
	if _, ok := n.fields[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = v
}

// Delete removes key from a mapping.
func (n *Node) Delete(key string) {
	if !n.IsMapping() {
		return
	}
	if _, ok := n.fields[key]; !ok {
		return
	}
	delete(n.fields, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i:i], n.keys[i+1:]...)
			break
		}
	}
}

// Str returns the text of a scalar child, or "".
func (n *Node) Str(key string) string {
	v := n.Get(key)
	if v == nil || v.Kind == KindNull || v.Kind == KindSequence || v.Kind == KindMapping {
		return ""
	}
	return v.Value
}

// Text returns the scalar text of n itself.
func (n *Node) Text() string {
	if !n.IsScalar() || n.Kind == KindNull {
		return ""
	}
	return n.Value
}

// Truthy reports whether key holds boolean true.
func (n *Node) Truthy(key string) bool {
	v := n.Get(key)
	return v != nil && v.Kind == KindBool && v.Value == "true"
}

// Strings returns the string items of a sequence child.
func (n *Node) Strings(key string) []string {
	v := n.Get(key)
	if !v.IsSequence() {
		return nil
	}
	out := make([]string, 0, len(v.Items))
	for _, it := range v.Items {
		if it.IsScalar() && it.Kind != KindNull {
			out = append(out, it.Value)
		}
	}
	return out
}

// Lookup follows one unescaped JSON-pointer segment.
func (n *Node) Lookup(segment string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	switch n.Kind {
	case KindMapping:
		v, ok := n.fields[segment]
		return v, ok
	case KindSequence:
		i, err := strconv.Atoi(segment)
		if err != nil || i < 0 || i >= len(n.Items) {
			return nil, false
		}
		return n.Items[i], true
	}
	return nil, false
}

// ShallowCopy copies n without copying its children.
func (n *Node) ShallowCopy() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Kind == KindMapping {
		c.keys = append([]string(nil), n.keys...)
		c.fields = make(map[string]*Node, len(n.fields))
		for k, v := range n.fields {
			c.fields[k] = v
		}
	}
	if n.Kind == KindSequence {
		c.Items = append([]*Node(nil), n.Items...)
	}
	return &c
}

// Source returns the node n was copied from, or n itself.
func (n *Node) Source() *Node {
	if n != nil && n.Origin != nil {
		return n.Origin
	}
	return n
}

// Equal reports deep structural equality. Positions are ignored.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindSequence:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for i, k := range a.keys {
			if b.keys[i] != k || !Equal(a.fields[k], b.fields[k]) {
				return false
			}
		}
		return true
	case KindRef:
		return a.Value == b.Value && a.Ref == b.Ref
	default:
		return a.Value == b.Value
	}
}

// EscapeToken escapes a mapping key for use as a JSON-pointer segment.
func EscapeToken(s string) string {
	if !strings.ContainsAny(s, "~/") {
		return s
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

// UnescapeToken reverses EscapeToken.
func UnescapeToken(s string) string {
	if !strings.Contains(s, "~") {
		return s
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "~1", "/"), "~0", "~")
}
