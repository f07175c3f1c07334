// Package marshal converts between wire-level requests and handler
// values: it builds the context object a handler receives and turns its
// return value into a response body and content type.
package marshal

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Content types chosen for each value kind.
const (
	ContentTypeBytes    = "application/octet-stream"
	ContentTypeText     = "text/plain; charset=utf-8"
	ContentTypeJSON     = "application/json"
	ContentTypeFallback = "text/plain"
	ContentTypeNull     = ContentTypeText
)

// Kind classifies a handler return value. The order is the classification
// priority: a value is tested against each kind in turn.
type Kind int

const (
	KindBytes Kind = iota
	KindText
	KindBool
	KindNull
	KindStructured
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindNull:
		return "null"
	case KindStructured:
		return "structured"
	case KindFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a classified handler result. Text holds the string for
// KindText, the JSON document for KindStructured and the string form for
// KindFallback.
type Value struct {
	Kind  Kind
	Bytes []byte
	Text  string
	Bool  bool
}

// Bytes returns a KindBytes value.
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// Text returns a KindText value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Bool returns a KindBool value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Null returns a KindNull value.
func Null() Value { return Value{Kind: KindNull} }

// Structured returns a KindStructured value holding a JSON document.
func Structured(jsonText string) Value { return Value{Kind: KindStructured, Text: jsonText} }

// Fallback returns a KindFallback value.
func Fallback(s string) Value { return Value{Kind: KindFallback, Text: s} }

// FromGo classifies a Go value with the same priority the glue applies to
// script values. It serves Go-implemented handlers and tests.
func FromGo(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case []byte:
		return Bytes(x)
	case string:
		return Text(x)
	case bool:
		return Bool(x)
	}
	if rv := reflect.ValueOf(v); (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Map ||
		rv.Kind() == reflect.Slice || rv.Kind() == reflect.Interface) && rv.IsNil() {
		return Null()
	}
	if data, err := json.Marshal(v); err == nil {
		return Structured(string(data))
	}
	return Fallback(fmt.Sprint(v))
}

// Encode returns the response body and content type for v.
func (v Value) Encode() ([]byte, string) {
	switch v.Kind {
	case KindBytes:
		return v.Bytes, ContentTypeBytes
	case KindText:
		return []byte(v.Text), ContentTypeText
	case KindBool:
		if v.Bool {
			return []byte("true"), ContentTypeJSON
		}
		return []byte("false"), ContentTypeJSON
	case KindNull:
		return nil, ContentTypeNull
	case KindStructured:
		return []byte(v.Text), ContentTypeJSON
	default:
		return []byte(v.Text), ContentTypeFallback
	}
}
