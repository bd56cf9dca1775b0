// Package record models CRM records as a tagged JSON variant and flattens
// them into tabular rows.
//
// Objects keep their keys in the order the API sent them and numbers keep
// their literal text, so flattening the same payload twice always yields
// the same columns and the same cell values.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindNull is the JSON null literal (also the zero Value).
	KindNull Kind = iota

	// KindString is a JSON string.
	KindString

	// KindNumber is a JSON number, kept as its literal text.
	KindNumber

	// KindBool is a JSON boolean.
	KindBool

	// KindObject is a JSON object with ordered keys.
	KindObject

	// KindArray is a JSON array.
	KindArray
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field is one key/value pair of an object Value.
type Field struct {
	Key   string
	Value Value
}

// Value is a JSON value of any kind. The zero Value is null.
type Value struct {
	kind   Kind
	text   string // string contents or number literal
	flag   bool
	fields []Field
	items  []Value
}

// Record is one entity returned by the API. It is an object Value.
type Record = Value

// ErrInvalidNumber is returned by Number for text that is not a JSON number.
var ErrInvalidNumber = errors.New("invalid JSON number")

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Number returns a number Value holding the literal text.
func Number(literal string) (Value, error) {
	if !json.Valid([]byte(literal)) || literal == "" || strings.ContainsAny(literal[:1], `"[{tfn`) {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidNumber, literal)
	}
	return Value{kind: KindNumber, text: literal}, nil
}

// Int returns a number Value for an integer.
func Int(n int64) Value { return Value{kind: KindNumber, text: strconv.FormatInt(n, 10)} }

// Object returns an object Value with the given fields. Later duplicates
// replace earlier values but keep the earlier position.
func Object(fields ...Field) Value {
	v := Value{kind: KindObject, fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		v.Set(f.Key, f.Value)
	}
	return v
}

// Array returns an array Value.
func Array(items ...Value) Value {
	return Value{kind: KindArray, items: append([]Value(nil), items...)}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the string contents or number literal. It is empty for
// every other kind.
func (v Value) Text() string {
	if v.kind == KindString || v.kind == KindNumber {
		return v.text
	}
	return ""
}

// Truth returns the boolean held by a bool Value.
func (v Value) Truth() bool { return v.kind == KindBool && v.flag }

// Fields returns the ordered fields of an object Value.
func (v Value) Fields() []Field { return v.fields }

// Items returns the elements of an array Value.
func (v Value) Items() []Value { return v.items }

// Len returns the number of fields or items.
func (v Value) Len() int {
	switch v.kind {
	case KindObject:
		return len(v.fields)
	case KindArray:
		return len(v.items)
	default:
		return 0
	}
}

// Get looks up a key of an object Value.
func (v Value) Get(key string) (Value, bool) {
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set stores key in an object Value, appending it if new. Setting a key on
// a null Value turns it into an object.
func (v *Value) Set(key string, val Value) {
	if v.kind == KindNull {
		v.kind = KindObject
	}
	if v.kind != KindObject {
		return
	}
	for i := range v.fields {
		if v.fields[i].Key == key {
			v.fields[i].Value = val
			return
		}
	}
	v.fields = append(v.fields, Field{Key: key, Value: val})
}

// idKeys are the fields that may carry a record identifier, by precedence.
var idKeys = []string{"id", "objectId", "object_id"}

// ID returns the record identifier as text: the first non-empty of "id",
// "objectId" and "object_id".
func ID(rec Record) string {
	for _, key := range idKeys {
		if v, ok := rec.Get(key); ok {
			if id := v.Text(); id != "" {
				return id
			}
		}
	}
	return ""
}

// Merge copies the fields of src into dst. Nested objects present on both
// sides are merged recursively; any other value in src replaces dst's.
func Merge(dst *Record, src Record) {
	if src.kind != KindObject {
		return
	}
	for _, f := range src.fields {
		existing, ok := dst.Get(f.Key)
		if ok && existing.kind == KindObject && f.Value.kind == KindObject {
			merged := existing.clone()
			Merge(&merged, f.Value)
			dst.Set(f.Key, merged)
			continue
		}
		dst.Set(f.Key, f.Value)
	}
}

func (v Value) clone() Value {
	out := v
	if v.fields != nil {
		out.fields = make([]Field, len(v.fields))
		for i, f := range v.fields {
			out.fields[i] = Field{Key: f.Key, Value: f.Value.clone()}
		}
	}
	if v.items != nil {
		out.items = make([]Value, len(v.items))
		for i, item := range v.items {
			out.items[i] = item.clone()
		}
	}
	return out
}

// UnmarshalJSON decodes any JSON document, keeping object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalJSON encodes v as compact JSON in its original key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	render(&b, v, ",", ":")
	return []byte(b.String()), nil
}

// Display renders v as JSON with ", " and ": " separators. Arrays are
// written into CSV cells in this form.
func (v Value) Display() string {
	var b strings.Builder
	render(&b, v, ", ", ": ")
	return b.String()
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := Value{kind: KindObject, fields: []Field{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, fmt.Errorf("field %q: %w", key, err)
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return obj, nil
		case '[':
			arr := Value{kind: KindArray, items: []Value{}}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr.items = append(arr.items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return arr, nil
		default:
			return Value{}, fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		return String(t), nil
	case json.Number:
		return Value{kind: KindNumber, text: t.String()}, nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("unexpected token %T", tok)
	}
}

func render(b *strings.Builder, v Value, itemSep, keySep string) {
	switch v.kind {
	case KindNull:
		b.WriteString("null")
	case KindString:
		b.WriteString(quote(v.text))
	case KindNumber:
		b.WriteString(v.text)
	case KindBool:
		b.WriteString(strconv.FormatBool(v.flag))
	case KindObject:
		b.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				b.WriteString(itemSep)
			}
			b.WriteString(quote(f.Key))
			b.WriteString(keySep)
			render(b, f.Value, itemSep, keySep)
		}
		b.WriteByte('}')
	case KindArray:
		b.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				b.WriteString(itemSep)
			}
			render(b, item, itemSep, keySep)
		}
		b.WriteByte(']')
	}
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}
