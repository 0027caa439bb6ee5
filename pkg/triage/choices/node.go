package choices

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind identifies the shape of a Node.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "null"
	}
}

// Node is a decoded choice payload. Mappings keep their key order so that
// extraction is deterministic for the same payload.
type Node struct {
	Kind  Kind
	Text  string
	Items []Node
	Pairs []Pair
}

// Pair is one key/value entry of a mapping Node.
type Pair struct {
	Key   string
	Value Node
}

// Str returns a scalar node.
func Str(s string) Node { return Node{Kind: KindScalar, Text: s} }

// Seq returns a sequence node.
func Seq(items ...Node) Node {
	if items == nil {
		items = []Node{}
	}
	return Node{Kind: KindSequence, Items: items}
}

// Map returns a mapping node with pairs in the given order.
func Map(pairs ...Pair) Node {
	if pairs == nil {
		pairs = []Pair{}
	}
	return Node{Kind: KindMapping, Pairs: pairs}
}

// P builds a Pair.
func P(key string, value Node) Pair { return Pair{Key: key, Value: value} }

// Strs returns a sequence of scalar nodes.
func Strs(values ...string) Node {
	items := make([]Node, len(values))
	for i, v := range values {
		items[i] = Str(v)
	}
	return Seq(items...)
}

// IsNull reports whether the node carries no value.
func (n Node) IsNull() bool { return n.Kind == KindNull }

// IsMapping reports whether the node is a mapping.
func (n Node) IsMapping() bool { return n.Kind == KindMapping }

// Get returns the first value stored under key in a mapping node.
func (n Node) Get(key string) (Node, bool) {
	if n.Kind != KindMapping {
		return Node{}, false
	}
	for _, p := range n.Pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Node{}, false
}

// Values returns the values of a mapping node in key order.
func (n Node) Values() []Node {
	if n.Kind != KindMapping {
		return nil
	}
	out := make([]Node, len(n.Pairs))
	for i, p := range n.Pairs {
		out[i] = p.Value
	}
	return out
}

// Parse decodes a JSON document into a Node.
func Parse(data []byte) (Node, error) {
	var n Node
	if err := n.UnmarshalJSON(data); err != nil {
		return Node{}, err
	}
	return n, nil
}

// UnmarshalJSON decodes JSON through the token stream so mapping order
// survives.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := decodeJSON(dec)
	if err != nil {
		return fmt.Errorf("decode choice node: %w", err)
	}
	*n = node
	return nil
}

func decodeJSON(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return Node{}, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			out := Map()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Node{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Node{}, fmt.Errorf("unexpected key token %v", keyTok)
				}
				value, err := decodeJSON(dec)
				if err != nil {
					return Node{}, err
				}
				out.Pairs = append(out.Pairs, Pair{Key: key, Value: value})
			}
			if _, err := dec.Token(); err != nil {
				return Node{}, err
			}
			return out, nil
		case '[':
			out := Seq()
			for dec.More() {
				item, err := decodeJSON(dec)
				if err != nil {
					return Node{}, err
				}
				out.Items = append(out.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Node{}, err
			}
			return out, nil
		}
		return Node{}, fmt.Errorf("unexpected delimiter %q", v)
	case string:
		return Str(v), nil
	case json.Number:
		return Str(v.String()), nil
	case bool:
		return Str(strconv.FormatBool(v)), nil
	case nil:
		return Node{}, nil
	}
	return Node{}, fmt.Errorf("unexpected token %T", tok)
}

// UnmarshalYAML decodes a yaml.v3 node, keeping mapping order.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	node, err := fromYAML(value)
	if err != nil {
		return err
	}
	*n = node
	return nil
}

func fromYAML(value *yaml.Node) (Node, error) {
	switch value.Kind {
	case yaml.DocumentNode:
		if len(value.Content) == 0 {
			return Node{}, nil
		}
		return fromYAML(value.Content[0])
	case yaml.AliasNode:
		if value.Alias == nil {
			return Node{}, nil
		}
		return fromYAML(value.Alias)
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			return Node{}, nil
		}
		return Str(value.Value), nil
	case yaml.SequenceNode:
		out := Seq()
		for _, c := range value.Content {
			item, err := fromYAML(c)
			if err != nil {
				return Node{}, err
			}
			out.Items = append(out.Items, item)
		}
		return out, nil
	case yaml.MappingNode:
		out := Map()
		for i := 0; i+1 < len(value.Content); i += 2 {
			item, err := fromYAML(value.Content[i+1])
			if err != nil {
				return Node{}, err
			}
			out.Pairs = append(out.Pairs, Pair{Key: value.Content[i].Value, Value: item})
		}
		return out, nil
	}
	return Node{}, fmt.Errorf("line %d: unsupported yaml node kind %d", value.Line, value.Kind)
}
