// Package diag defines the non-fatal problems a conversion can report.
package diag

import (
	"fmt"
	"strings"
)

// Kind classifies a diagnostic.
type Kind string

const (
	// BrokenReference is a $ref that could not be resolved. A placeholder
	// was substituted.
	BrokenReference Kind = "BrokenReferenceError"
	// CycleBoundaryReached marks where inlining stopped at a named
	// reference because of a cycle or a resolution ceiling.
	CycleBoundaryReached Kind = "CycleBoundaryReached"
	// NormalizationSkipped is an operation, parameter or schema that was
	// left out of the model.
	NormalizationSkipped Kind = "NormalizationSkipped"
	// DuplicateOperation is a (path, method) pair seen twice; the later one wins.
	DuplicateOperation Kind = "DuplicateOperation"
)

// Informational reports whether k describes expected behavior rather than
// a defect in the input.
func (k Kind) Informational() bool {
	return k == CycleBoundaryReached
}

// Diagnostic is one recorded problem. Path is a JSON pointer into the
// source document.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Path == "" {
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
	return fmt.Sprintf("%s at %s: %s", d.Kind, d.Path, d.Message)
}

// Count returns how many diagnostics have kind k.
func Count(ds []Diagnostic, k Kind) int {
	n := 0
	for _, d := range ds {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// Summarize renders one human sentence per non-informational kind, e.g.
// "3 endpoints could not be parsed and were skipped".
func Summarize(ds []Diagnostic) []string {
	var out []string
	if n := Count(ds, NormalizationSkipped); n > 0 {
		out = append(out, fmt.Sprintf("%d %s could not be parsed and %s skipped", n, plural(n, "entry", "entries"), plural(n, "was", "were")))
	}
	if n := Count(ds, BrokenReference); n > 0 {
		out = append(out, fmt.Sprintf("%d %s could not be resolved", n, plural(n, "reference", "references")))
	}
	if n := Count(ds, DuplicateOperation); n > 0 {
		out = append(out, fmt.Sprintf("%d duplicate %s replaced by a later definition", n, plural(n, "operation was", "operations were")))
	}
	return out
}

// Join renders the summary as a single line.
func Join(ds []Diagnostic) string {
	return strings.Join(Summarize(ds), "; ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
