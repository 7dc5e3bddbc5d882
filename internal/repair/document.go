package repair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Kind identifies the type of a document node
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
	// KindSynthetic marks a value whose tail was synthesized during repair.
	// It never appears in a document returned by Repair.
	KindSynthetic
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindSynthetic:
		return "synthetic"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Node is one value of a document tree. Object fields keep their input order.
type Node struct {
	Kind   Kind
	Bool   bool
	Number json.Number
	String string // string value, or the real prefix of a synthetic value
	Items  []*Node
	Fields []Field
}

// Field is a single object entry
type Field struct {
	Key          string
	SyntheticKey bool // key text was cut off and completed during repair
	Value        *Node
}

// Document is a fully materialized JSON value
type Document struct {
	root *Node
}

// Root returns the top-level node
func (d *Document) Root() *Node {
	return d.root
}

// Value converts the document to the generic form produced by encoding/json
// (map[string]any, []any, json.Number, string, bool, nil). Key order is lost.
func (d *Document) Value() any {
	return d.root.value()
}

// Decode unmarshals the document into v
func (d *Document) Decode(v any) error {
	data, err := d.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// String returns the compact JSON text of the document
func (d *Document) String() string {
	data, err := d.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

// MarshalJSON encodes the document with object keys in their original order
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil || d.root == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	if err := d.root.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a complete JSON value. No repair is attempted.
func (d *Document) UnmarshalJSON(data []byte) error {
	root, err := parse(data, false)
	if err != nil {
		return err
	}
	d.root = root
	return nil
}

func (n *Node) value() any {
	switch n.Kind {
	case KindBool:
		return n.Bool
	case KindNumber:
		return n.Number
	case KindString, KindSynthetic:
		return n.String
	case KindArray:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			out[i] = item.value()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(n.Fields))
		for _, f := range n.Fields {
			out[f.Key] = f.Value.value()
		}
		return out
	}
	return nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	switch n.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if n.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(n.Number.String())
	case KindString:
		return encodeString(buf, n.String)
	case KindArray:
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
	case KindObject:
		buf.WriteByte('{')
		for i, f := range n.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, f.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindSynthetic:
		return fmt.Errorf("cannot encode synthesized value %q", n.String)
	default:
		return fmt.Errorf("unknown node kind %s", n.Kind)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encoder terminates every value with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// parse builds a tree from valid JSON text. With markSynthetic set, strings
// carrying the placeholder token become KindSynthetic nodes.
func parse(data []byte, markSynthetic bool) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	p := &parser{dec: dec, markSynthetic: markSynthetic}

	root, err := p.value()
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return root, nil
}

type parser struct {
	dec           *json.Decoder
	markSynthetic bool
}

func (p *parser) value() (*Node, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return p.object()
		case '[':
			return p.array()
		}
		return nil, fmt.Errorf("unexpected delimiter %q", v)
	case string:
		if text, ok := p.synthetic(v); ok {
			return &Node{Kind: KindSynthetic, String: text}, nil
		}
		return &Node{Kind: KindString, String: v}, nil
	case json.Number:
		return &Node{Kind: KindNumber, Number: v}, nil
	case bool:
		return &Node{Kind: KindBool, Bool: v}, nil
	case nil:
		return &Node{Kind: KindNull}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func (p *parser) object() (*Node, error) {
	node := &Node{Kind: KindObject}
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is %T, not string", tok)
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		f := Field{Key: key, Value: val}
		if text, ok := p.synthetic(key); ok {
			f.Key = text
			f.SyntheticKey = true
		}
		node.Fields = append(node.Fields, f)
	}
	if _, err := p.dec.Token(); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) array() (*Node, error) {
	node := &Node{Kind: KindArray}
	for p.dec.More() {
		item, err := p.value()
		if err != nil {
			return nil, err
		}
		node.Items = append(node.Items, item)
	}
	if _, err := p.dec.Token(); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) synthetic(s string) (string, bool) {
	if !p.markSynthetic || !strings.HasSuffix(s, placeholder) {
		return s, false
	}
	return strings.TrimSuffix(s, placeholder), true
}

// prune removes synthesized data hanging off the last entry of n and reports
// whether n must in turn be discarded by its parent. A container is discarded
// only when removing its last entry left it empty.
func prune(n *Node) bool {
	switch n.Kind {
	case KindSynthetic:
		return true
	case KindArray:
		if len(n.Items) == 0 {
			return false
		}
		if prune(n.Items[len(n.Items)-1]) {
			n.Items = n.Items[:len(n.Items)-1]
			return len(n.Items) == 0
		}
	case KindObject:
		if len(n.Fields) == 0 {
			return false
		}
		last := n.Fields[len(n.Fields)-1]
		if last.SyntheticKey || prune(last.Value) {
			n.Fields = n.Fields[:len(n.Fields)-1]
			return len(n.Fields) == 0
		}
	}
	return false
}
