package markdown

import (
	"fmt"
	"strings"

	"github.com/dgallion1/apiingest/internal/model"
)

func schemeLabel(s model.SecurityScheme) string {
	switch s.Type {
	case "http":
		switch s.Scheme {
		case "bearer":
			if s.BearerFormat != "" {
				return "Bearer token (" + s.BearerFormat + ")"
			}
			return "Bearer token"
		case "basic":
			return "HTTP Basic"
		case "":
			return "HTTP"
		}
		return "HTTP " + strings.ToUpper(s.Scheme)
	case "apiKey":
		in := s.In
		if in == "" {
			in = "header"
		}
		return fmt.Sprintf("API key (%s: %s)", in, s.ParamName)
	case "oauth2":
		if len(s.Flows) > 0 {
			return "OAuth2 (" + strings.Join(s.Flows, ", ") + ")"
		}
		return "OAuth2"
	case "openIdConnect":
		return "OpenID Connect"
	case "":
		return "unknown"
	}
	return s.Type
}

// authSummary describes the requirements of one operation. Alternatives
// are joined with "or", schemes required together with "+".
func authSummary(api *model.API, reqs []model.SecurityRequirement) string {
	if len(reqs) == 0 {
		return "None"
	}
	var alts []string
	for _, r := range reqs {
		if len(r.Schemes) == 0 {
			alts = append(alts, "None (optional)")
			continue
		}
		var parts []string
		for _, ref := range r.Schemes {
			label := "`" + ref.Name + "`"
			if s, ok := api.SecurityScheme(ref.Name); ok {
				label = schemeLabel(s) + " " + label
			}
			if len(ref.Scopes) > 0 {
				label += " (scopes: " + strings.Join(ref.Scopes, ", ") + ")"
			}
			parts = append(parts, label)
		}
		alts = append(alts, strings.Join(parts, " + "))
	}
	return strings.Join(alts, " or ")
}

func authentication(api *model.API) string {
	var b strings.Builder
	for _, s := range api.SecuritySchemes {
		fmt.Fprintf(&b, "- **%s**: %s", s.Name, schemeLabel(s))
		if s.Description != "" {
			b.WriteString(". " + oneLine(s.Description))
		}
		b.WriteString("\n")
	}
	if len(api.Security) > 0 {
		fmt.Fprintf(&b, "\nDefault requirement: %s\n", authSummary(api, api.Security))
	}
	return b.String()
}

// authExample returns the curl header arguments and query pairs that
// satisfy the first security requirement of op.
func authExample(api *model.API, op *model.Operation) (headers, query []string) {
	reqs := api.EffectiveSecurity(op)
	if len(reqs) == 0 {
		return nil, nil
	}
	seen := map[string]bool{}
	addHeader := func(h string) {
		if !seen[h] {
			seen[h] = true
			headers = append(headers, fmt.Sprintf(`-H "%s"`, h))
		}
	}
	for _, ref := range reqs[0].Schemes {
		s, ok := api.SecurityScheme(ref.Name)
		if !ok {
			continue
		}
		switch s.Type {
		case "http":
			if s.Scheme == "basic" {
				addHeader("Authorization: Basic $CREDENTIALS")
			} else {
				addHeader("Authorization: Bearer $TOKEN")
			}
		case "oauth2", "openIdConnect":
			addHeader("Authorization: Bearer $TOKEN")
		case "apiKey":
			switch s.In {
			case "query":
				query = append(query, s.ParamName+"=$API_KEY")
			case "cookie":
				addHeader("Cookie: " + s.ParamName + "=$API_KEY")
			default:
				addHeader(s.ParamName + ": $API_KEY")
			}
		}
	}
	return headers, query
}
