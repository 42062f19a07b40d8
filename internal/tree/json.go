package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// MarshalJSON writes n as JSON, keeping mapping order. Named references
// are written as {"$ref": pointer}.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) writeJSON(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if n.Value == "true" {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if !json.Valid([]byte(n.Value)) {
			return fmt.Errorf("invalid number literal %q", n.Value)
		}
		buf.WriteString(n.Value)
	case KindString:
		writeString(buf, n.Value)
	case KindRef:
		buf.WriteString(`{"$ref":`)
		writeString(buf, n.Ref)
		buf.WriteByte('}')
	case KindSequence:
		buf.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := n.fields[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// FromAny converts plain Go values into a Node. Map keys are sorted since
// Go maps carry no order.
func FromAny(v any) *Node {
	switch x := v.(type) {
	case nil:
		return NewNull()
	case *Node:
		return x
	case bool:
		return NewBool(x)
	case string:
		return NewString(x)
	case int:
		return NewInt(int64(x))
	case int64:
		return NewInt(x)
	case float64:
		return NewNumber(strconv.FormatFloat(x, 'f', -1, 64))
	case json.Number:
		return NewNumber(x.String())
	case []any:
		items := make([]*Node, 0, len(x))
		for _, it := range x {
			items = append(items, FromAny(it))
		}
		return NewSequence(items...)
	case []string:
		items := make([]*Node, 0, len(x))
		for _, it := range x {
			items = append(items, NewString(it))
		}
		return NewSequence(items...)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMapping()
		for _, k := range keys {
			m.Set(k, FromAny(x[k]))
		}
		return m
	default:
		return NewString(fmt.Sprint(x))
	}
}
