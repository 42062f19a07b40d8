package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dgallion1/apiingest/internal/tree"
)

// maxNestingDepth matches the nesting limit of the yaml parser.
const maxNestingDepth = 10000

var errNestingTooDeep = errors.New("nesting too deep")

// loadJSON walks the token stream so that object key order survives.
func loadJSON(content []byte) (*tree.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	root, err := decodeValue(dec, 0)
	if err != nil {
		return nil, jsonError(content, dec, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return nil, jsonError(content, dec, err)
	}
	return root, nil
}

func decodeValue(dec *json.Decoder, depth int) (*tree.Node, error) {
	if depth > maxNestingDepth {
		return nil, errNestingTooDeep
	}
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			m := tree.NewMapping()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T, not string", kt)
				}
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				m.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			seq := tree.NewSequence()
			for dec.More() {
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return nil, err
				}
				seq.Items = append(seq.Items, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return seq, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", v)
	case string:
		return tree.NewString(v), nil
	case json.Number:
		return tree.NewNumber(v.String()), nil
	case bool:
		return tree.NewBool(v), nil
	case nil:
		return tree.NewNull(), nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func jsonError(content []byte, dec *json.Decoder, err error) *ParseError {
	offset := dec.InputOffset()
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		offset = syn.Offset
	}
	line, col := position(content, offset)
	return &ParseError{Format: FormatJSON, Line: line, Column: col, Err: err}
}

// position converts a byte offset into a 1-based line and column.
func position(content []byte, offset int64) (int, int) {
	if offset < 0 {
		return 0, 0
	}
	if offset > int64(len(content)) {
		offset = int64(len(content))
	}
	prefix := content[:offset]
	line := bytes.Count(prefix, []byte("\n")) + 1
	col := int(offset) - bytes.LastIndexByte(prefix, '\n')
	return line, col
}
