package markdown

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/dgallion1/apiingest/internal/model"
	"github.com/dgallion1/apiingest/internal/tree"
)

// curlExample builds a runnable request against the first base URL, with
// placeholder values typed to each parameter's schema.
func curlExample(api *model.API, op *model.Operation) string {
	path := op.Path
	var query, headers, cookies []string
	for _, p := range op.Parameters {
		v := exampleText(parameterExample(p))
		switch p.In {
		case "path":
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(v))
		case "query":
			query = append(query, url.QueryEscape(p.Name)+"="+url.QueryEscape(v))
		case "header":
			headers = append(headers, fmt.Sprintf(`-H "%s: %s"`, p.Name, escapeDouble(v)))
		case "cookie":
			cookies = append(cookies, p.Name+"="+v)
		}
	}

	authHeaders, authQuery := authExample(api, op)
	headers = append(headers, authHeaders...)
	query = append(query, authQuery...)
	if len(cookies) > 0 {
		headers = append(headers, fmt.Sprintf(`-H "Cookie: %s"`, escapeDouble(strings.Join(cookies, "; "))))
	}

	target := api.BaseURL() + path
	if len(query) > 0 {
		target += "?" + strings.Join(query, "&")
	}
	lines := []string{fmt.Sprintf(`curl -X %s "%s"`, op.Method, target)}
	lines = append(lines, headers...)
	if op.RequestBody != nil {
		lines = append(lines, bodyArgs(op.RequestBody)...)
	}
	return strings.Join(lines, " \\\n  ")
}

func parameterExample(p model.Parameter) *tree.Node {
	if p.Example != nil {
		return p.Example
	}
	return model.ExampleValue(p.Schema, p.Name)
}

func bodyArgs(rb *model.RequestBody) []string {
	ex := rb.Example
	if ex == nil {
		if rb.Schema == nil {
			ex = tree.NewMapping()
		} else {
			ex = model.ExampleValue(rb.Schema, "body")
		}
	}

	ct := rb.ContentType
	base := strings.ToLower(ct)
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch base {
	case "multipart/form-data":
		props := model.Flatten(rb.Schema).Get("properties")
		var out []string
		for _, k := range ex.Keys() {
			v := exampleText(ex.Get(k))
			if props.Get(k).Str("format") == "binary" {
				v = "@file"
			}
			out = append(out, fmt.Sprintf(`-F "%s=%s"`, k, escapeDouble(v)))
		}
		return out
	case "application/x-www-form-urlencoded":
		var pairs []string
		for _, k := range ex.Keys() {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(exampleText(ex.Get(k))))
		}
		return []string{
			`-H "Content-Type: application/x-www-form-urlencoded"`,
			"-d '" + shellQuote(strings.Join(pairs, "&")) + "'",
		}
	}
	if ct == "" {
		ct = "application/json"
	}
	data := jsonText(ex)
	if ex.IsString() && !strings.Contains(base, "json") && base != "" {
		data = ex.Value
	}
	return []string{
		fmt.Sprintf(`-H "Content-Type: %s"`, ct),
		"-d '" + shellQuote(data) + "'",
	}
}

// exampleText renders scalars bare and everything else as compact JSON.
func exampleText(n *tree.Node) string {
	if n.IsScalar() {
		return n.Text()
	}
	return jsonText(n)
}

func jsonText(n *tree.Node) string {
	data, err := json.Marshal(n)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func shellQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

func escapeDouble(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
