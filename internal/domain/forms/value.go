package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ValueKind identifies which variant a Value holds.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindText
	KindNumber
	KindBoolean
	KindStringList
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindStringList:
		return "string_list"
	}
	return "none"
}

// Value is a single answer. Which variant is legal for a key is decided by the
// field's declared type, not by the value itself.
type Value struct {
	kind    ValueKind
	text    string
	number  float64
	boolean bool
	list    []string
}

func Text(s string) Value { return Value{kind: KindText, text: s} }
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }
func Boolean(b bool) Value { return Value{kind: KindBoolean, boolean: b} }

// StringList builds a list value. A nil argument yields an empty, non-nil list.
func StringList(items ...string) Value {
	l := make([]string, len(items))
	copy(l, items)
	return Value{kind: KindStringList, list: l}
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) AsText() (string, bool) { return v.text, v.kind == KindText }
func (v Value) AsNumber() (float64, bool) { return v.number, v.kind == KindNumber }
func (v Value) AsBoolean() (bool, bool) { return v.boolean, v.kind == KindBoolean }

// AsStringList returns a copy of the list.
func (v Value) AsStringList() ([]string, bool) {
	if v.kind != KindStringList {
		return nil, false
	}
	return append([]string{}, v.list...), true
}

// IsEmpty reports whether the value counts as "not answered": the zero Value,
// an empty string, or an empty list. Numbers and booleans are always answers.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindText:
		return v.text == ""
	case KindStringList:
		return len(v.list) == 0
	case KindNumber, KindBoolean:
		return false
	}
	return true
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindNumber:
		return v.number == o.number
	case KindBoolean:
		return v.boolean == o.boolean
	case KindStringList:
		return slices.Equal(v.list, o.list)
	}
	return true
}

// String renders the value for display; lists are comma-joined.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.boolean)
	case KindStringList:
		return strings.Join(v.list, ", ")
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindText:
		return json.Marshal(v.text)
	case KindNumber:
		return json.Marshal(v.number)
	case KindBoolean:
		return json.Marshal(v.boolean)
	case KindStringList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Boolean(b)
	case '[':
		var l []string
		if err := json.Unmarshal(data, &l); err != nil {
			return fmt.Errorf("list values must contain only strings: %w", err)
		}
		*v = StringList(l...)
	case '{':
		return fmt.Errorf("object values are not supported")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
	}
	return nil
}

// Values is the flat answer map of an instance, keyed by field id.
type Values map[string]Value

// UnmarshalJSON drops null entries so an unset field is simply absent.
func (vs *Values) UnmarshalJSON(data []byte) error {
	var raw map[string]Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for k, v := range raw {
		if v.Kind() == KindNone {
			continue
		}
		out[k] = v
	}
	*vs = out
	return nil
}

// Clone returns an independent copy.
func (vs Values) Clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		if l, ok := v.AsStringList(); ok {
			v = StringList(l...)
		}
		out[k] = v
	}
	return out
}

// Equal compares two maps key by key.
func (vs Values) Equal(o Values) bool {
	if len(vs) != len(o) {
		return false
	}
	for k, v := range vs {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Keys returns the sorted key set.
func (vs Values) Keys() []string {
	keys := make([]string, 0, len(vs))
	for k := range vs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
