package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"unicode/utf8"
)

// Kind tags the variant held by a Value.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Rule is the validation descriptor attached to a key. Its fields are
// interpreted per kind:
//
//	string: Min/Max bound the length, Pattern must match, Options enumerate allowed values
//	number: Min/Max bound the value, Integer rejects fractions, Options unused
//	array:  Min/Max bound the item count, Pattern/Options apply to each (string) item
//	object: Options lists the allowed keys
type Rule struct {
	Min     *float64
	Max     *float64
	Pattern string
	Options []string
	Integer bool
}

// Value is a tagged variant; only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	String string
	Number float64
	Bool   bool
	Object map[string]any
	Array  []any
}

// Strings returns the string items of an array value.
func (v Value) Strings() []string {
	out := make([]string, 0, len(v.Array))
	for _, item := range v.Array {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Raw returns the payload selected by Kind.
func (v Value) Raw() any {
	switch v.Kind {
	case KindString:
		return v.String
	case KindNumber:
		return v.Number
	case KindBoolean:
		return v.Bool
	case KindObject:
		return v.Object
	case KindArray:
		return v.Array
	}
	return nil
}

// JSON encodes the payload.
func (v Value) JSON() (string, error) {
	b, err := json.Marshal(v.Raw())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw())
}

type kindHandler struct {
	decode   func(raw json.RawMessage) (Value, error)
	validate func(v Value, r Rule) error
}

var handlers = map[Kind]kindHandler{
	KindString:  {decode: decodeString, validate: validateString},
	KindNumber:  {decode: decodeNumber, validate: validateNumber},
	KindBoolean: {decode: decodeBoolean, validate: func(Value, Rule) error { return nil }},
	KindObject:  {decode: decodeObject, validate: validateObject},
	KindArray:   {decode: decodeArray, validate: validateArray},
}

func decodeString(raw json.RawMessage) (Value, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindString, String: s}, nil
}

func decodeNumber(raw json.RawMessage) (Value, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindNumber, Number: f}, nil
}

func decodeBoolean(raw json.RawMessage) (Value, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return Value{}, err
	}
	return Value{Kind: KindBoolean, Bool: b}, nil
}

func decodeObject(raw json.RawMessage) (Value, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Value{}, err
	}
	if m == nil {
		return Value{}, errors.New("null object")
	}
	return Value{Kind: KindObject, Object: m}, nil
}

func decodeArray(raw json.RawMessage) (Value, error) {
	var a []any
	if err := json.Unmarshal(raw, &a); err != nil {
		return Value{}, err
	}
	if a == nil {
		a = []any{}
	}
	return Value{Kind: KindArray, Array: a}, nil
}

func checkBounds(n float64, r Rule, what string) error {
	if r.Min != nil && n < *r.Min {
		return fmt.Errorf("%s must be at least %v", what, *r.Min)
	}
	if r.Max != nil && n > *r.Max {
		return fmt.Errorf("%s must be at most %v", what, *r.Max)
	}
	return nil
}

func checkText(s string, r Rule) error {
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("bad pattern: %w", err)
		}
		if !re.MatchString(s) {
			return fmt.Errorf("%q does not match %s", s, r.Pattern)
		}
	}
	if len(r.Options) > 0 && !slices.Contains(r.Options, s) {
		return fmt.Errorf("%q is not one of %v", s, r.Options)
	}
	return nil
}

func validateString(v Value, r Rule) error {
	if err := checkBounds(float64(utf8.RuneCountInString(v.String)), r, "length"); err != nil {
		return err
	}
	return checkText(v.String, r)
}

func validateNumber(v Value, r Rule) error {
	if r.Integer && v.Number != math.Trunc(v.Number) {
		return errors.New("must be a whole number")
	}
	return checkBounds(v.Number, r, "value")
}

func validateObject(v Value, r Rule) error {
	if len(r.Options) == 0 {
		return nil
	}
	for k := range v.Object {
		if !slices.Contains(r.Options, k) {
			return fmt.Errorf("unknown key %q", k)
		}
	}
	return nil
}

func validateArray(v Value, r Rule) error {
	if err := checkBounds(float64(len(v.Array)), r, "item count"); err != nil {
		return err
	}
	if r.Pattern == "" && len(r.Options) == 0 {
		return nil
	}
	for _, item := range v.Array {
		s, ok := item.(string)
		if !ok {
			return errors.New("items must be strings")
		}
		if err := checkText(s, r); err != nil {
			return err
		}
	}
	return nil
}
