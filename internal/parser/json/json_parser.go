// Package json implements the streaming decoder for product exports: a byte
// stream holding exactly one top-level JSON array whose elements are objects.
//
// Elements are decoded one at a time through encoding/json's token stream, so
// memory use is bounded by the largest single element rather than the input
// size:
//
//	dec := json.NewArrayDecoder(r, json.Options{})
//	for {
//	    rec, err := dec.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err // *MalformedInputError
//	    }
//	    ...
//	}
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"catalogetl/internal/records"
)

// DefaultAliases maps hyphenated keys used by the upstream export onto the
// canonical field names used by the normalizer.
var DefaultAliases = map[string]string{
	"energy-kcal_100g":   "energy_kcal_100g",
	"saturated-fat_100g": "saturated_fat_100g",
}

// Options configures an ArrayDecoder.
type Options struct {
	// Aliases maps source keys to canonical keys. Nil means DefaultAliases;
	// an empty non-nil map disables aliasing.
	Aliases map[string]string
}

type decoderState int

const (
	stateStart decoderState = iota
	stateElements
	stateDone
	stateFailed
)

// ArrayDecoder yields the elements of a top-level JSON array as records.
// It is single-pass and not safe for concurrent use.
type ArrayDecoder struct {
	dec     *json.Decoder
	aliases map[string]string
	state   decoderState
	index   int
	err     error
}

// NewArrayDecoder constructs an ArrayDecoder reading from r.
func NewArrayDecoder(r io.Reader, opt Options) *ArrayDecoder {
	d := json.NewDecoder(r)
	// Keep numbers as json.Number so coercion decides the Go type.
	d.UseNumber()

	aliases := opt.Aliases
	if aliases == nil {
		aliases = DefaultAliases
	}
	return &ArrayDecoder{dec: d, aliases: aliases}
}

// Index returns the number of elements returned so far.
func (d *ArrayDecoder) Index() int { return d.index }

// InputOffset returns the byte offset of the decoder in the input stream.
func (d *ArrayDecoder) InputOffset() int64 { return d.dec.InputOffset() }

// Next returns the next array element. It returns io.EOF after the closing
// bracket, and a *MalformedInputError for any structural problem. Once an
// error other than io.EOF has been returned, every later call returns it.
func (d *ArrayDecoder) Next() (records.Record, error) {
	switch d.state {
	case stateFailed:
		return nil, d.err
	case stateDone:
		return nil, io.EOF
	case stateStart:
		if err := d.openArray(); err != nil {
			return nil, d.fail(-1, err)
		}
		d.state = stateElements
	}

	if !d.dec.More() {
		if err := d.closeArray(); err != nil {
			return nil, d.fail(-1, err)
		}
		d.state = stateDone
		return nil, io.EOF
	}

	var raw any
	if err := d.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, d.fail(d.index, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, d.fail(d.index, fmt.Errorf("array element is %s, want object", kindOf(raw)))
	}
	d.index++
	return d.canonicalize(obj), nil
}

func (d *ArrayDecoder) openArray() error {
	tok, err := d.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty input, want a JSON array")
		}
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("top-level value is %s, want array", tokenKind(tok))
	}
	return nil
}

func (d *ArrayDecoder) closeArray() error {
	tok, err := d.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != ']' {
		return fmt.Errorf("unexpected token %v, want ]", tok)
	}
	// Anything but whitespace after the array is rejected.
	if _, err := d.dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("trailing data after top-level array")
		}
		return err
	}
	return nil
}

func (d *ArrayDecoder) fail(element int, err error) error {
	d.state = stateFailed
	d.err = &MalformedInputError{Offset: d.dec.InputOffset(), Element: element, Err: err}
	return d.err
}

// canonicalize rewrites aliased keys in place. When both the alias and the
// canonical key are present, the canonical key wins.
func (d *ArrayDecoder) canonicalize(obj map[string]any) records.Record {
	for from, to := range d.aliases {
		v, ok := obj[from]
		if !ok {
			continue
		}
		delete(obj, from)
		if _, exists := obj[to]; !exists {
			obj[to] = v
		}
	}
	return records.Record(obj)
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func tokenKind(tok json.Token) string {
	if delim, ok := tok.(json.Delim); ok {
		if delim == '{' {
			return "object"
		}
		return string(delim)
	}
	return kindOf(tok)
}
