// Package chunker splits a converted API into independently addressable
// fragments: one per tag, one per endpoint and one per schema.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/apiingest/internal/doctree"
	"github.com/dgallion1/apiingest/internal/markdown"
	"github.com/dgallion1/apiingest/internal/model"
)

// DefaultMaxFragmentTokens bounds one fragment.
const DefaultMaxFragmentTokens = 4000

const truncationNote = "_(truncated)_"

// Config controls chunking behavior.
type Config struct {
	MaxFragmentTokens int // Fragments above this are cut. <= 0 uses the default.
	Markdown          markdown.Options
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxFragmentTokens: DefaultMaxFragmentTokens}
}

// Entry is one manifest line.
type Entry struct {
	Kind      string `json:"kind"`
	Key       string `json:"key"`
	Bytes     int    `json:"bytes"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ChunkMap holds every fragment keyed by kind and key.
type ChunkMap struct {
	Manifest  string            `json:"manifest"`
	Tags      map[string]string `json:"tags"`
	Endpoints map[string]string `json:"endpoints"`
	Schemas   map[string]string `json:"schemas"`
	Entries   []Entry           `json:"entries"`
}

// Get returns one fragment. kind is "tag", "endpoint" or "schema".
func (m *ChunkMap) Get(kind, key string) (string, bool) {
	var src map[string]string
	switch kind {
	case doctree.KindTag:
		src = m.Tags
	case doctree.KindEndpoint:
		src = m.Endpoints
	case doctree.KindSchema:
		src = m.Schemas
	default:
		return "", false
	}
	text, ok := src[key]
	return text, ok
}

// Project renders every fragment and the manifest. Endpoint and schema
// fragments are the same sections the full document contains.
func Project(api *model.API, cfg Config) *ChunkMap {
	if cfg.MaxFragmentTokens <= 0 {
		cfg.MaxFragmentTokens = DefaultMaxFragmentTokens
	}
	m := &ChunkMap{
		Tags:      map[string]string{},
		Endpoints: map[string]string{},
		Schemas:   map[string]string{},
	}

	sections := map[string]*doctree.DocNode{}
	doc := markdown.Document(api, cfg.Markdown)
	doc.Walk(func(n *doctree.DocNode, _ int) bool {
		if n.Kind == doctree.KindEndpoint || n.Kind == doctree.KindSchema {
			sections[n.Kind+"\x00"+n.Key] = n
			return false
		}
		return true
	})

	add := func(kind, key, text string, dst map[string]string) {
		text, truncated := truncate(text, cfg.MaxFragmentTokens)
		dst[key] = text
		m.Entries = append(m.Entries, Entry{
			Kind:      kind,
			Key:       key,
			Bytes:     len(text),
			Tokens:    EstimateTokens(text),
			Truncated: truncated,
		})
	}

	for _, tag := range api.TagNames() {
		add(doctree.KindTag, tag, markdown.RenderTag(api, tag), m.Tags)
	}
	ops := append([]*model.Operation(nil), api.Operations...)
	model.SortOperations(ops)
	for _, op := range ops {
		n := sections[doctree.KindEndpoint+"\x00"+op.Key()]
		if n == nil {
			continue
		}
		add(doctree.KindEndpoint, op.Key(), doctree.RenderNode(n, 3), m.Endpoints)
	}
	for _, s := range api.Schemas {
		n := sections[doctree.KindSchema+"\x00"+s.Name]
		if n == nil {
			continue
		}
		add(doctree.KindSchema, s.Name, doctree.RenderNode(n, 3), m.Schemas)
	}

	m.Manifest = manifest(api, m.Entries)
	return m
}

var kindHeadings = []struct{ kind, title string }{
	{doctree.KindTag, "Tags"},
	{doctree.KindEndpoint, "Endpoints"},
	{doctree.KindSchema, "Schemas"},
}

func manifest(api *model.API, entries []Entry) string {
	var b strings.Builder
	title := api.Info.Title
	if title == "" {
		title = "API"
	}
	fmt.Fprintf(&b, "# Chunk Manifest: %s\n\n", title)
	if api.Info.Version != "" {
		fmt.Fprintf(&b, "- **Version:** %s\n", api.Info.Version)
	}
	fmt.Fprintf(&b, "- **Base URL:** %s\n", api.BaseURL())

	for _, h := range kindHeadings {
		var lines []string
		for _, e := range entries {
			if e.Kind != h.kind {
				continue
			}
			line := fmt.Sprintf("- `%s` (%d bytes, ~%d tokens)", e.Key, e.Bytes, e.Tokens)
			if e.Truncated {
				line += " [truncated]"
			}
			lines = append(lines, line)
		}
		fmt.Fprintf(&b, "\n## %s (%d)\n\n", h.title, len(lines))
		for _, l := range lines {
			b.WriteString(l + "\n")
		}
	}
	return b.String()
}

// truncate keeps the leading paragraphs of text that fit in maxTokens. A
// first paragraph too large on its own is cut at a sentence, line or word
// boundary.
func truncate(text string, maxTokens int) (string, bool) {
	if EstimateTokens(text) <= maxTokens {
		return text, false
	}
	budget := maxTokens - EstimateTokens(truncationNote)
	var kept []string
	for _, para := range splitByParagraphs(text) {
		candidate := strings.Join(append(kept, para), "\n\n")
		if EstimateTokens(candidate) <= budget {
			kept = append(kept, para)
			continue
		}
		if len(kept) == 0 {
			if part := fitParagraph(para, budget); part != "" {
				kept = append(kept, part)
			}
		}
		break
	}
	kept = append(kept, truncationNote)
	return strings.Join(kept, "\n\n") + "\n", true
}

func fitParagraph(para string, budget int) string {
	type split struct {
		units []string
		sep   string
	}
	splits := []split{
		{splitSentences(para), " "},
		{strings.Split(para, "\n"), "\n"},
		{strings.Fields(para), " "},
	}
	if strings.Contains(para, "\n") {
		splits[0], splits[1] = splits[1], splits[0]
	}
	for _, s := range splits {
		if out := fitUnits(s.units, s.sep, budget); out != "" {
			return out
		}
	}
	return ""
}

// fitUnits joins leading units while the estimate stays within budget.
func fitUnits(units []string, sep string, budget int) string {
	var b strings.Builder
	words, runes := 0, 0
	for i, u := range units {
		add := u
		if i > 0 {
			add = sep + u
		}
		w := words + len(strings.Fields(add))
		r := runes + utf8.RuneCountInString(add)
		if estimate(w, r) > budget {
			break
		}
		b.WriteString(add)
		words, runes = w, r
	}
	return b.String()
}

// splitByParagraphs splits on double-newlines.
func splitByParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	var result []string
	for _, p := range parts {
		p = strings.TrimRight(p, " \n")
		if strings.TrimSpace(p) != "" {
			result = append(result, strings.TrimLeft(p, "\n"))
		}
	}
	return result
}

// splitSentences does basic sentence splitting.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	return sentences
}
