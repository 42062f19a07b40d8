// Package markdown renders the interface model as one Markdown document.
// Output is a pure function of the model: the same model always yields
// byte-identical text.
package markdown

import (
	"fmt"
	"strings"

	"github.com/dgallion1/apiingest/internal/doctree"
	"github.com/dgallion1/apiingest/internal/model"
)

const (
	defaultTitle = "API Documentation"
	seeFullDocs  = "... (see full docs)"
)

// Options tunes rendering.
type Options struct {
	// DescriptionLimit truncates operation descriptions to this many
	// runes. Zero keeps them whole.
	DescriptionLimit int
}

// Project renders api with default options.
func Project(api *model.API) string {
	return ProjectWith(api, Options{})
}

// ProjectWith renders api with opts.
func ProjectWith(api *model.API, opts Options) string {
	return Document(api, opts).Markdown()
}

// Document builds the section tree: header, authentication, table of
// contents, one section per tag, then the schema appendix.
func Document(api *model.API, opts Options) *doctree.DocTree {
	doc := &doctree.DocTree{
		Title: title(api),
		Text:  header(api),
	}
	doc.Children = append(doc.Children, &doctree.DocNode{Title: "Base URLs", Text: baseURLs(api)})
	if len(api.SecuritySchemes) > 0 {
		doc.Children = append(doc.Children, &doctree.DocNode{Title: "Authentication", Text: authentication(api)})
	}
	tags := api.TagNames()
	if len(tags) > 0 {
		doc.Children = append(doc.Children, &doctree.DocNode{Title: "Table of Contents", Text: contents(api, tags)})
	}
	for _, tag := range tags {
		doc.Children = append(doc.Children, tagNode(api, tag, opts))
	}
	if len(api.Schemas) > 0 {
		section := &doctree.DocNode{Title: "Schemas"}
		for _, s := range api.Schemas {
			section.Children = append(section.Children, schemaNode(api, s.Name, s.Node))
		}
		doc.Children = append(doc.Children, section)
	}
	return doc
}

// RenderEndpoint renders one operation exactly as it appears in the
// document, with its heading at H3.
func RenderEndpoint(api *model.API, op *model.Operation, opts Options) string {
	return doctree.RenderNode(endpointNode(api, op, opts), 3)
}

// RenderSchema renders one named schema with nested schemas inlined up to
// a cycle boundary.
func RenderSchema(api *model.API, name string) (string, bool) {
	n, ok := api.Schema(name)
	if !ok {
		return "", false
	}
	return doctree.RenderNode(schemaNode(api, name, n), 3), true
}

// RenderTag renders the index of one tag: its description and the
// endpoints listed under it.
func RenderTag(api *model.API, tag string) string {
	t := api.Tag(tag)
	var b strings.Builder
	if t.Description != "" {
		b.WriteString(t.Description + "\n\n")
	}
	for _, op := range api.OperationsForTag(tag) {
		b.WriteString(endpointLine(op) + "\n")
	}
	return doctree.RenderNode(&doctree.DocNode{Title: tag, Text: b.String()}, 2)
}

func title(api *model.API) string {
	if api.Info.Title != "" {
		return api.Info.Title
	}
	return defaultTitle
}

func header(api *model.API) string {
	var b strings.Builder
	version := api.Info.Version
	if version == "" {
		version = "(not specified)"
	}
	fmt.Fprintf(&b, "**Version:** %s\n\n", version)
	if api.SpecVersion != "" {
		fmt.Fprintf(&b, "**Format:** %s\n\n", specFormat(api.SpecVersion))
	}
	if api.Info.Description != "" {
		b.WriteString(api.Info.Description + "\n\n")
	}
	return b.String()
}

func specFormat(version string) string {
	if strings.HasPrefix(version, "2") {
		return "Swagger " + version
	}
	return "OpenAPI " + version
}

func baseURLs(api *model.API) string {
	if len(api.Servers) == 0 {
		return "- (not specified)"
	}
	var lines []string
	for _, s := range api.Servers {
		line := "- " + s.URL
		if s.Description != "" {
			line += " (" + oneLine(s.Description) + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func contents(api *model.API, tags []string) string {
	var b strings.Builder
	for _, tag := range tags {
		b.WriteString("- " + tag + "\n")
		for _, op := range api.OperationsForTag(tag) {
			b.WriteString("  " + endpointLine(op) + "\n")
		}
	}
	return b.String()
}

func endpointLine(op *model.Operation) string {
	line := fmt.Sprintf("- `%s %s`", op.Method, op.Path)
	if s := shortSummary(op); s != "" {
		line += ": " + s
	}
	if op.Deprecated {
		line += " (deprecated)"
	}
	return line
}

// shortSummary is the summary, or the first line of the description cut
// to 80 runes.
func shortSummary(op *model.Operation) string {
	if op.Summary != "" {
		return oneLine(op.Summary)
	}
	first, _, _ := strings.Cut(op.Description, "\n")
	return truncate(strings.TrimSpace(first), 80, "...")
}

func tagNode(api *model.API, tag string, opts Options) *doctree.DocNode {
	node := &doctree.DocNode{
		Title: tag,
		Kind:  doctree.KindTag,
		Key:   tag,
		Text:  api.Tag(tag).Description,
	}
	var also []string
	for _, op := range api.OperationsForTag(tag) {
		if op.PrimaryTag() == tag {
			node.Children = append(node.Children, endpointNode(api, op, opts))
			continue
		}
		also = append(also, fmt.Sprintf("- `%s %s`: documented under %s", op.Method, op.Path, op.PrimaryTag()))
	}
	if len(also) > 0 {
		text := "Also in this tag:\n\n" + strings.Join(also, "\n")
		if node.Text != "" {
			text = node.Text + "\n\n" + text
		}
		node.Text = text
	}
	return node
}

// truncate cuts s to limit runes and appends suffix when it was cut.
func truncate(s string, limit int, suffix string) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimRight(string(r[:limit]), " ") + suffix
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cell makes s safe inside a table cell.
func cell(s string) string {
	s = oneLine(s)
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}
