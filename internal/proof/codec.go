package proof

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Context is the business payload being authorized: an ordered mapping of
// field name to value (string, number, bool, nested mapping, array). It is
// constructed by the upstream sanitization layer and treated read-only here.
type Context map[string]any

// canonicalMode encodes with RFC 8949 core deterministic rules: map keys
// sorted bytewise, shortest-form integers, no indefinite lengths. Identical
// logical context always yields identical bytes, and any field change
// changes the bytes.
var canonicalMode cbor.EncMode

func init() {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("proof: canonical cbor mode: %v", err))
	}
	canonicalMode = mode
}

// CanonicalBytes serializes a context into the exact byte sequence that gets
// signed and verified.
func CanonicalBytes(ctx Context) ([]byte, error) {
	data, err := canonicalMode.Marshal(map[string]any(ctx))
	if err != nil {
		return nil, fmt.Errorf("canonicalize context: %w", err)
	}
	return data, nil
}

// DecodeJSONContext decodes a JSON object into a Context with normalized
// number types: integral values become int64, everything else float64.
// Without this, the same logical payload could canonicalize differently
// depending on whether it arrived as 5000000 or 5e6 in a float64, so the
// normalization is part of the canonical contract, not a convenience.
func DecodeJSONContext(raw json.RawMessage) (Context, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}

	normalized, err := normalizeValue(decoded)
	if err != nil {
		return nil, err
	}
	return Context(normalized.(map[string]any)), nil
}

func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			normalized, err := normalizeValue(nested)
			if err != nil {
				return nil, err
			}
			out[k] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			normalized, err := normalizeValue(nested)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("context number %q out of range", val.String())
		}
		// Exponent notation like 5e6 parses as a float even when the value
		// is integral. Fold it back to int64 while the conversion is exact,
		// so equal values always canonicalize to equal bytes.
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	default:
		// string, bool, nil pass through unchanged.
		return val, nil
	}
}
