package markdown

import (
	"fmt"
	"strings"

	"github.com/dgallion1/apiingest/internal/doctree"
	"github.com/dgallion1/apiingest/internal/model"
)

var paginationLabels = map[string]string{
	model.PaginationOffset: "limit/offset",
	model.PaginationPage:   "page number",
	model.PaginationCursor: "cursor",
}

func endpointNode(api *model.API, op *model.Operation, opts Options) *doctree.DocNode {
	var b strings.Builder
	fmt.Fprintf(&b, "- **Operation ID:** `%s`\n", op.OperationID)
	fmt.Fprintf(&b, "- **Base URL:** %s\n", api.BaseURL())
	fmt.Fprintf(&b, "- **Auth:** %s\n", authSummary(api, api.EffectiveSecurity(op)))
	if len(op.Tags) > 1 {
		fmt.Fprintf(&b, "- **Tags:** %s\n", strings.Join(op.Tags, ", "))
	}
	if op.Deprecated {
		b.WriteString("- **Deprecated:** yes\n")
	}
	b.WriteString("\n")
	if op.Summary != "" {
		b.WriteString(op.Summary + "\n\n")
	}
	if op.Description != "" && op.Description != op.Summary {
		b.WriteString(truncate(op.Description, opts.DescriptionLimit, seeFullDocs) + "\n\n")
	}

	node := &doctree.DocNode{
		Title: op.Method + " " + op.Path,
		Kind:  doctree.KindEndpoint,
		Key:   op.Key(),
		Text:  b.String(),
	}
	add := func(title, text string) {
		node.Children = append(node.Children, &doctree.DocNode{Title: title, Text: text})
	}
	if len(op.Parameters) > 0 {
		add("Parameters", parameterTable(api, op.Parameters))
	}
	if op.RequestBody != nil {
		add("Request Body", requestBody(api, op.RequestBody))
	}
	if len(op.Responses) > 0 {
		add("Responses", responseTable(api, op.Responses))
	}
	if p, ok := model.DetectPagination(op); ok {
		add("Pagination", pagination(p))
	}
	if errs := op.ErrorResponses(); len(errs) > 0 {
		var lines []string
		for _, r := range errs {
			lines = append(lines, fmt.Sprintf("- `%s`: %s", r.Status, cell(r.Description)))
		}
		add("Errors", strings.Join(lines, "\n"))
	}
	add("Example Request", "```bash\n"+curlExample(api, op)+"\n```")
	return node
}

func parameterTable(api *model.API, params []model.Parameter) string {
	var b strings.Builder
	b.WriteString("| Name | In | Type | Required | Description |\n")
	b.WriteString("| --- | --- | --- | --- | --- |\n")
	for _, p := range params {
		desc := p.Description
		if p.Deprecated {
			desc = strings.TrimSpace("(deprecated) " + desc)
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s |\n",
			p.Name, p.In, cell(model.TypeLabel(api, p.Schema)), yesNo(p.Required), cell(desc))
	}
	return b.String()
}

func requestBody(api *model.API, rb *model.RequestBody) string {
	var b strings.Builder
	ct := rb.ContentType
	if ct == "" {
		ct = "(not specified)"
	}
	fmt.Fprintf(&b, "- **Content-Type:** `%s`\n", ct)
	fmt.Fprintf(&b, "- **Required:** %s\n", yesNo(rb.Required))
	var others []string
	for _, t := range rb.ContentTypes {
		if t != rb.ContentType {
			others = append(others, "`"+t+"`")
		}
	}
	if len(others) > 0 {
		fmt.Fprintf(&b, "- **Also accepts:** %s\n", strings.Join(others, ", "))
	}
	b.WriteString("\n")
	if rb.Description != "" {
		b.WriteString(rb.Description + "\n\n")
	}
	b.WriteString(schemaBlock(api, rb.Schema))
	return b.String()
}

func responseTable(api *model.API, responses []model.Response) string {
	var b strings.Builder
	b.WriteString("| Status | Description | Content-Type | Schema |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, r := range responses {
		schema := "-"
		if r.Schema != nil {
			schema = cell(model.TypeLabel(api, r.Schema))
		}
		ct := "-"
		if r.ContentType != "" {
			ct = "`" + r.ContentType + "`"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", r.Status, cell(r.Description), ct, schema)
	}
	return b.String()
}

func pagination(p model.Pagination) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- **Style:** %s\n", paginationLabels[p.Style])
	quoted := make([]string, len(p.Params))
	for i, name := range p.Params {
		quoted[i] = "`" + name + "`"
	}
	fmt.Fprintf(&b, "- **Parameters:** %s\n", strings.Join(quoted, ", "))
	if p.NextField != "" {
		fmt.Fprintf(&b, "- **Next page field:** `%s`\n", p.NextField)
	}
	return b.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
