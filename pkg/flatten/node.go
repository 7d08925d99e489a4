package flatten

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned by Parse when the input is not well-formed JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Kind tags the shape held by a Node.
type Kind int

const (
	Scalar Kind = iota
	Mapping
	Sequence
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Mapping:
		return "mapping"
	case Sequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Field is one entry of a Mapping. Fields keep the order they had in the
// source document.
type Field struct {
	Key   string
	Value Node
}

// Node is a JSON-like value. A Scalar holds a string, json.Number, bool or nil
// in Value; a Mapping holds Fields; a Sequence holds Items.
type Node struct {
	Kind   Kind
	Value  interface{}
	Fields []Field
	Items  []Node
}

func String(s string) Node { return Node{Kind: Scalar, Value: s} }

func Number(n string) Node { return Node{Kind: Scalar, Value: json.Number(n)} }

func Int(n int) Node { return Number(strconv.Itoa(n)) }

func Bool(b bool) Node { return Node{Kind: Scalar, Value: b} }

func Null() Node { return Node{Kind: Scalar} }

// Map builds a Mapping from fields, in the given order.
func Map(fields ...Field) Node {
	if len(fields) == 0 {
		return Node{Kind: Mapping}
	}
	return Node{Kind: Mapping, Fields: fields}
}

// List builds a Sequence.
func List(items ...Node) Node {
	if len(items) == 0 {
		return Node{Kind: Sequence}
	}
	return Node{Kind: Sequence, Items: items}
}

// KV is shorthand for a Field literal.
func KV(key string, value Node) Field { return Field{Key: key, Value: value} }

// Parse decodes a JSON document into a Node, keeping object key order.
func Parse(data []byte) (Node, error) {
	if !gjson.ValidBytes(data) {
		return Node{}, ErrInvalidJSON
	}
	return FromResult(gjson.ParseBytes(data)), nil
}

// FromResult converts a gjson result into a Node. A missing result becomes Null.
func FromResult(r gjson.Result) Node {
	switch {
	case r.IsObject():
		var fields []Field
		r.ForEach(func(k, v gjson.Result) bool {
			fields = append(fields, Field{Key: k.String(), Value: FromResult(v)})
			return true
		})
		return Node{Kind: Mapping, Fields: fields}
	case r.IsArray():
		var items []Node
		r.ForEach(func(_, v gjson.Result) bool {
			items = append(items, FromResult(v))
			return true
		})
		return Node{Kind: Sequence, Items: items}
	}

	switch r.Type {
	case gjson.String:
		return String(r.Str)
	case gjson.Number:
		return Number(string(bytes.TrimSpace([]byte(r.Raw))))
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	default:
		return Null()
	}
}

// IsNull reports whether n is a null scalar.
func (n Node) IsNull() bool { return n.Kind == Scalar && n.Value == nil }

// Empty reports whether n is null, an empty string, or a container without entries.
func (n Node) Empty() bool {
	switch n.Kind {
	case Mapping:
		return len(n.Fields) == 0
	case Sequence:
		return len(n.Items) == 0
	}
	if s, ok := n.Value.(string); ok {
		return s == ""
	}
	return n.Value == nil
}

// Len returns the number of fields or items. Scalars have length 0.
func (n Node) Len() int {
	switch n.Kind {
	case Mapping:
		return len(n.Fields)
	case Sequence:
		return len(n.Items)
	}
	return 0
}

// Get returns the first field named key of a Mapping.
func (n Node) Get(key string) (Node, bool) {
	if n.Kind != Mapping {
		return Node{}, false
	}
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Node{}, false
}

// Without returns a copy of a Mapping minus the named keys. Other kinds are
// returned unchanged.
func (n Node) Without(keys ...string) Node {
	if n.Kind != Mapping {
		return n
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	var fields []Field
	for _, f := range n.Fields {
		if _, ok := drop[f.Key]; ok {
			continue
		}
		fields = append(fields, f)
	}
	return Node{Kind: Mapping, Fields: fields}
}

// Text renders n for a flat table cell: scalars as plain text, containers as JSON.
func (n Node) Text() string {
	if n.Kind != Scalar {
		b, err := n.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(b)
	}
	switch v := n.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// MarshalJSON encodes n keeping mapping order.
func (n Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n Node) encode(buf *bytes.Buffer) error {
	switch n.Kind {
	case Mapping:
		buf.WriteByte('{')
		for i, f := range n.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeScalar(buf, f.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case Sequence:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return encodeScalar(buf, n.Value)
	}
	return nil
}

func encodeScalar(buf *bytes.Buffer, v interface{}) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
