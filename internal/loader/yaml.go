package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgallion1/apiingest/internal/tree"
	"gopkg.in/yaml.v3"
)

const (
	// maxAliasDepth bounds alias expansion so self-referencing anchors
	// cannot recurse forever.
	maxAliasDepth = 64

	// Alias expansion may produce at most minAliasBudget nodes, or
	// aliasExpansionRatio times the nodes written in the source when that
	// is larger. Nested anchors otherwise grow exponentially.
	minAliasBudget      = 100000
	aliasExpansionRatio = 10
)

var errAliasExpansion = errors.New("alias expansion produces too many nodes")

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

func loadYAML(content []byte) (*tree.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		pe := &ParseError{Format: FormatYAML, Err: err}
		if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
			pe.Line, _ = strconv.Atoi(m[1])
		}
		return nil, pe
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &ParseError{Format: FormatYAML, Err: errEmpty}
	}
	c := &yamlConverter{budget: max(minAliasBudget, aliasExpansionRatio*countNodes(doc.Content[0]))}
	root, err := c.convert(doc.Content[0], 0)
	if err != nil {
		return nil, err
	}
	return root, nil
}

// yamlConverter turns a yaml.Node tree into a tree.Node tree. budget is
// the number of nodes it may still produce.
type yamlConverter struct {
	budget int
}

// countNodes counts the nodes written in the source, not following aliases.
func countNodes(n *yaml.Node) int {
	total := 1
	for _, c := range n.Content {
		total += countNodes(c)
	}
	return total
}

func (c *yamlConverter) convert(n *yaml.Node, aliasDepth int) (*tree.Node, error) {
	if c.budget--; c.budget < 0 {
		return nil, c.errorAt(n, errAliasExpansion)
	}
	switch n.Kind {
	case yaml.AliasNode:
		if aliasDepth >= maxAliasDepth || n.Alias == nil {
			return nil, c.errorAt(n, errors.New("alias nesting too deep"))
		}
		return c.convert(n.Alias, aliasDepth+1)

	case yaml.MappingNode:
		m := tree.NewMapping()
		m.Line, m.Column = n.Line, n.Column

		explicit := make(map[string]bool, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			if !isMergeKey(n.Content[i]) {
				explicit[n.Content[i].Value] = true
			}
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if isMergeKey(k) {
				if err := c.merge(m, v, explicit, aliasDepth); err != nil {
					return nil, err
				}
				continue
			}
			val, err := c.convert(v, aliasDepth)
			if err != nil {
				return nil, err
			}
			m.Set(k.Value, val)
		}
		return m, nil

	case yaml.SequenceNode:
		seq := tree.NewSequence()
		seq.Line, seq.Column = n.Line, n.Column
		for _, it := range n.Content {
			val, err := c.convert(it, aliasDepth)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, val)
		}
		return seq, nil

	case yaml.ScalarNode:
		s := scalar(n)
		s.Line, s.Column = n.Line, n.Column
		return s, nil

	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return tree.NewNull(), nil
		}
		return c.convert(n.Content[0], aliasDepth)
	}
	return nil, c.errorAt(n, fmt.Errorf("unsupported yaml node kind %d", n.Kind))
}

// merge applies a "<<" merge key. Keys written explicitly in the mapping win.
func (c *yamlConverter) merge(dst *tree.Node, src *yaml.Node, explicit map[string]bool, aliasDepth int) error {
	val, err := c.convert(src, aliasDepth+1)
	if err != nil {
		return err
	}
	var sources []*tree.Node
	switch {
	case val.IsMapping():
		sources = []*tree.Node{val}
	case val.IsSequence():
		sources = val.Items
	default:
		return c.errorAt(src, errors.New("merge value is not a mapping"))
	}
	for _, s := range sources {
		for _, k := range s.Keys() {
			if explicit[k] || dst.Has(k) {
				continue
			}
			dst.Set(k, s.Get(k))
		}
	}
	return nil
}

func (c *yamlConverter) errorAt(n *yaml.Node, err error) error {
	return &ParseError{Format: FormatYAML, Line: n.Line, Column: n.Column, Err: err}
}

func isMergeKey(k *yaml.Node) bool {
	return k.Kind == yaml.ScalarNode && k.Value == "<<" && (k.Tag == "!!merge" || k.Tag == "")
}

func scalar(n *yaml.Node) *tree.Node {
	switch n.ShortTag() {
	case "!!null":
		return tree.NewNull()
	case "!!bool":
		switch strings.ToLower(n.Value) {
		case "true", "yes", "on", "y":
			return tree.NewBool(true)
		default:
			return tree.NewBool(false)
		}
	case "!!int":
		v := strings.ReplaceAll(n.Value, "_", "")
		if i, err := strconv.ParseInt(v, 0, 64); err == nil {
			return tree.NewInt(i)
		}
		if json.Valid([]byte(v)) {
			return tree.NewNumber(v)
		}
		return tree.NewString(n.Value)
	case "!!float":
		if json.Valid([]byte(n.Value)) {
			return tree.NewNumber(n.Value)
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(n.Value, "_", ""), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return tree.NewString(n.Value)
		}
		return tree.NewNumber(strconv.FormatFloat(f, 'g', -1, 64))
	default:
		// Strings, timestamps and binary all load as text.
		return tree.NewString(n.Value)
	}
}
