package model

import "strings"

// Pagination styles.
const (
	PaginationOffset = "offset"
	PaginationPage   = "page"
	PaginationCursor = "cursor"
)

// Pagination describes how an operation pages through results.
type Pagination struct {
	Style     string   `json:"style"`
	Params    []string `json:"params"`
	NextField string   `json:"next_field,omitempty"`
}

var (
	offsetParams = []string{"offset", "skip", "start"}
	limitParams  = []string{"limit", "count", "size", "top", "max_results", "maxresults"}
	pageParams   = []string{"page", "page_number", "pagenumber", "per_page", "perpage", "page_size", "pagesize"}
	cursorParams = []string{"cursor", "after", "before", "page_token", "pagetoken", "next_token", "nexttoken", "starting_after", "ending_before", "continuation"}
	nextFields   = []string{"next_cursor", "nextCursor", "next_page_token", "nextPageToken", "next_token", "nextToken", "next", "cursor"}
)

// DetectPagination inspects query parameter names and the success response
// shape for the common paging conventions.
func DetectPagination(op *Operation) (Pagination, bool) {
	var offset, limit, page, cursor []string
	for _, p := range op.ParametersIn("query") {
		name := strings.ToLower(p.Name)
		switch {
		case contains(cursorParams, name):
			cursor = append(cursor, p.Name)
		case contains(pageParams, name):
			page = append(page, p.Name)
		case contains(offsetParams, name):
			offset = append(offset, p.Name)
		case contains(limitParams, name):
			limit = append(limit, p.Name)
		}
	}

	next := ""
	if r, ok := op.SuccessResponse(); ok && r.Schema != nil {
		props := Flatten(r.Schema).Get("properties")
		for _, f := range nextFields {
			if props.Has(f) {
				next = f
				break
			}
		}
	}

	switch {
	case len(cursor) > 0 || (next != "" && len(offset) == 0 && len(page) == 0):
		if len(cursor) == 0 && len(limit) == 0 {
			return Pagination{}, false
		}
		return Pagination{Style: PaginationCursor, Params: append(cursor, limit...), NextField: next}, true
	case len(page) > 0:
		return Pagination{Style: PaginationPage, Params: append(page, limit...), NextField: next}, true
	case len(offset) > 0:
		return Pagination{Style: PaginationOffset, Params: append(offset, limit...), NextField: next}, true
	}
	return Pagination{}, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
