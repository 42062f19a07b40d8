// Package loader parses YAML or JSON API descriptions into a tree.Node.
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dgallion1/apiingest/internal/tree"
)

// Format is a declared or inferred document syntax.
type Format string

const (
	FormatAuto Format = ""
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat normalizes a user supplied hint. "yml" is accepted as YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "":
		return FormatAuto, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatAuto, fmt.Errorf("unsupported format: %s", s)
	}
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// FormatForFile returns the hint implied by a filename or URL path.
// Unknown extensions yield FormatAuto.
func FormatForFile(name string) Format {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ParseError reports content that is not well formed in its format.
type ParseError struct {
	Format Format
	Line   int // 1-based, 0 when unknown
	Column int // 1-based, 0 when unknown
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse %s: line %d, column %d: %v", e.Format, e.Line, e.Column, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse %s: line %d: %v", e.Format, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Sniff names the syntax of content: JSON when it is a valid JSON text,
// YAML otherwise.
func Sniff(content []byte) Format {
	if json.Valid(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))) {
		return FormatJSON
	}
	return FormatYAML
}

var errEmpty = errors.New("empty document")

// Load parses content into a tree. An explicit hint is trusted; without one
// JSON is tried first, then YAML.
func Load(content []byte, hint Format) (*tree.Node, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(content)) == 0 {
		f := hint
		if f == FormatAuto {
			f = FormatYAML
		}
		return nil, &ParseError{Format: f, Err: errEmpty}
	}

	switch hint {
	case FormatJSON:
		return loadJSON(content)
	case FormatYAML:
		return loadYAML(content)
	}

	root, jsonErr := loadJSON(content)
	if jsonErr == nil {
		return root, nil
	}
	root, yamlErr := loadYAML(content)
	if yamlErr == nil {
		return root, nil
	}
	// Report the error of the syntax the content most resembles.
	trimmed := bytes.TrimSpace(content)
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return nil, jsonErr
	}
	return nil, yamlErr
}
