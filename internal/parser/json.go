package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedResponse is returned when a model reply lacks structure the
// caller depends on (a required array or a required field of an element).
var ErrMalformedResponse = errors.New("malformed model response")

var jsonNull = []byte("null")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// number accepts a JSON number or a numeric string. An absent field, null or
// an empty string leaves it unset.
type number struct {
	value   float64
	present bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, jsonNull) {
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		n.value, n.present = f, true
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	n.value, n.present = f, true
	return nil
}

func (n number) ptr() *float64 {
	if !n.present {
		return nil
	}
	v := n.value
	return &v
}

// isPresent reports whether a raw field was supplied with a non-null value.
func isPresent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, jsonNull)
}

// asArray returns the elements of raw when it holds a JSON array.
func asArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	if !isPresent(raw) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

// scalarText renders a string, number or boolean as text. Objects, arrays,
// null and absent fields yield ok == false.
func scalarText(raw json.RawMessage) (string, bool) {
	if !isPresent(raw) {
		return "", false
	}
	raw = bytes.TrimSpace(raw)

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[':
		return "", false
	default:
		return string(raw), true
	}
}

func optionalText(raw json.RawMessage) *string {
	s, ok := scalarText(raw)
	if !ok {
		return nil
	}
	return &s
}

// stringList decodes an optional array of scalars. Anything that is not an
// array yields an empty, non-nil slice.
func stringList(raw json.RawMessage) []string {
	out := []string{}
	items, ok := asArray(raw)
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := scalarText(item); ok {
			out = append(out, s)
		}
	}
	return out
}
