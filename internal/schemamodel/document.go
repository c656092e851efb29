package schemamodel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a decoded schema document that keeps key order.
type Document struct {
	root *yaml.Node
}

// Node returns the root node of the document.
func (d Document) Node() *yaml.Node {
	return d.root
}

// IsZero reports whether the document holds no content.
func (d Document) IsZero() bool {
	return d.root == nil
}

// NewDocument wraps an existing yaml node. Document nodes are unwrapped.
func NewDocument(node *yaml.Node) Document {
	if node != nil && node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return Document{}
		}
		node = node.Content[0]
	}
	return Document{root: node}
}

// DecodeDocument decodes a JSON or YAML schema document.
func DecodeDocument(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Document{}, parseErrorf("document", "document is empty")
	}
	var jsonErr error
	if trimmed[0] == '{' || trimmed[0] == '[' {
		node, err := decodeJSON(trimmed)
		if err == nil {
			return Document{root: node}, nil
		}
		// Flow-style YAML also starts with a bracket.
		jsonErr = err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(trimmed, &node); err != nil {
		if jsonErr != nil {
			return Document{}, &ParseError{Section: "document", Reason: "invalid JSON", Err: jsonErr}
		}
		return Document{}, &ParseError{Section: "document", Reason: "invalid YAML", Err: err}
	}
	doc := NewDocument(&node)
	if doc.IsZero() {
		return Document{}, parseErrorf("document", "document is empty")
	}
	return doc, nil
}

// DocumentFromValue encodes a Go value (for example a Spec) into a Document.
func DocumentFromValue(v any) (Document, error) {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return Document{}, &ParseError{Section: "document", Reason: "encode value", Err: err}
	}
	return NewDocument(&node), nil
}

// Encode writes the document as YAML.
func (d Document) Encode(w io.Writer) error {
	if d.root == nil {
		return errors.New("empty document")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return err
	}
	return enc.Close()
}

// Loader produces a schema document from some source.
type Loader func() (Document, error)

// FileLoader reads a JSON or YAML document from path.
func FileLoader(path string) Loader {
	return func() (Document, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return Document{}, fmt.Errorf("read schema %s: %w", path, err)
		}
		doc, err := DecodeDocument(data)
		if err != nil {
			return Document{}, fmt.Errorf("%s: %w", path, err)
		}
		return doc, nil
	}
}

// BytesLoader decodes an in-memory document.
func BytesLoader(data []byte) Loader {
	return func() (Document, error) {
		return DecodeDocument(data)
	}
}

// ValueLoader encodes an already-built Go value.
func ValueLoader(v any) Loader {
	return func() (Document, error) {
		return DocumentFromValue(v)
	}
}

// Load runs loader and parses its document.
func Load(loader Loader, opts ...ParseOption) (*Model, error) {
	doc, err := loader()
	if err != nil {
		return nil, err
	}
	return Parse(doc, opts...)
}

func decodeJSON(data []byte) (*yaml.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	node, err := jsonNode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return node, nil
}

func jsonNode(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				value, err := jsonNode(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, stringNode(key), value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return node, nil
		case '[':
			node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				value, err := jsonNode(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return node, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", v)
	case string:
		return stringNode(v), nil
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(v.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v.String()}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}, nil
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func stringNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
