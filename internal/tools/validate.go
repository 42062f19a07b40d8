package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	neturl "net/url"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// Validate checks a descriptor set the way a function-calling API would:
// names use the allowed charset and are unique, required names exist as
// properties, and every parameters object compiles as JSON Schema.
func Validate(descs []Descriptor) error {
	var errs []error
	seen := map[string]bool{}
	for _, d := range descs {
		if !nameRe.MatchString(d.Name) {
			errs = append(errs, fmt.Errorf("tool %q: invalid name", d.Name))
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("tool %q: duplicate name", d.Name))
		}
		seen[d.Name] = true

		if d.Parameters.Type != "object" {
			errs = append(errs, fmt.Errorf("tool %q: parameters type %q, want object", d.Name, d.Parameters.Type))
		}
		for _, r := range d.Parameters.Required {
			if !d.Parameters.Properties.Has(r) {
				errs = append(errs, fmt.Errorf("tool %q: required %q is not a property", d.Name, r))
			}
		}
		if _, err := compile(d); err != nil {
			errs = append(errs, fmt.Errorf("tool %q: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateArguments checks a JSON argument object produced by a model
// against the descriptor's parameters schema.
func ValidateArguments(d Descriptor, args []byte) error {
	schema, err := compile(d)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("tool %q: %w", d.Name, err)
	}
	return nil
}

func compile(d Descriptor) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(d.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	url := "https://apiingest.local/tools/" + neturl.PathEscape(d.Name) + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
