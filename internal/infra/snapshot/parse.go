package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"mcpagent/internal/domain"
)

type toolResult struct {
	StructuredContent json.RawMessage `json:"structuredContent"`
	Snapshot          json.RawMessage `json:"snapshot"`
	Tree              json.RawMessage `json:"tree"`
	Content           []contentItem   `json:"content"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// variant decodes one encoding. It reports false when the result is not in
// that encoding.
type variant struct {
	encoding Encoding
	decode   func(toolResult) (*Node, bool)
}

var variants = []variant{
	{encoding: EncodingTree, decode: decodeTree},
	{encoding: EncodingTextJSON, decode: decodeTextJSON},
	{encoding: EncodingMarkup, decode: decodeMarkup},
}

// Parse decodes a tools/call result into a canonical snapshot. The first
// encoding that matches wins.
func Parse(result json.RawMessage) (*Snapshot, error) {
	var decoded toolResult
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotUnparsable, err)
	}
	for _, v := range variants {
		if root, ok := v.decode(decoded); ok {
			return &Snapshot{Encoding: v.encoding, Root: root}, nil
		}
	}
	return nil, domain.ErrSnapshotUnparsable
}

// Texts returns the text content items of a tools/call result.
func Texts(result json.RawMessage) []string {
	var decoded toolResult
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil
	}
	var out []string
	for _, item := range decoded.Content {
		if item.Type == "text" || item.Type == "" {
			out = append(out, item.Text)
		}
	}
	return out
}

func decodeTree(result toolResult) (*Node, bool) {
	for _, raw := range []json.RawMessage{result.StructuredContent, result.Snapshot, result.Tree} {
		if node, ok := nodeFromJSON(raw, 2); ok {
			return node, true
		}
	}
	return nil, false
}

func decodeTextJSON(result toolResult) (*Node, bool) {
	for _, item := range result.Content {
		if item.Type != "text" && item.Type != "" {
			continue
		}
		text := strings.TrimSpace(item.Text)
		if inner, ok := fencedBody(text); ok {
			text = strings.TrimSpace(inner)
		}
		if !strings.HasPrefix(text, "{") {
			continue
		}
		if node, ok := nodeFromJSON(json.RawMessage(text), 2); ok {
			return node, true
		}
	}
	return nil, false
}

type rawNode struct {
	Role       string          `json:"role"`
	Name       string          `json:"name"`
	Ref        string          `json:"ref"`
	ID         string          `json:"id"`
	DomID      string          `json:"domId"`
	Text       *string         `json:"text"`
	Value      json.RawMessage `json:"value"`
	Attributes map[string]any  `json:"attributes"`
	Children   []rawNode       `json:"children"`
}

var nodeKeys = []string{"role", "name", "ref", "children"}

// nodeFromJSON decodes raw as a node object, looking through "snapshot" and
// "tree" wrappers up to depth levels.
func nodeFromJSON(raw json.RawMessage, depth int) (*Node, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}
	for _, key := range nodeKeys {
		if _, ok := fields[key]; ok {
			var node rawNode
			if err := json.Unmarshal(trimmed, &node); err != nil {
				return nil, false
			}
			return node.toNode(), true
		}
	}
	if depth <= 0 {
		return nil, false
	}
	for _, key := range []string{"snapshot", "tree"} {
		if inner, ok := fields[key]; ok {
			if node, ok := nodeFromJSON(inner, depth-1); ok {
				return node, true
			}
		}
	}
	return nil, false
}

func (r rawNode) toNode() *Node {
	node := &Node{
		Role: r.Role,
		Name: r.Name,
		Ref:  r.Ref,
	}
	attrs := make(map[string]any, len(r.Attributes)+1)
	for key, value := range r.Attributes {
		attrs[key] = value
	}
	if r.ID != "" {
		attrs["id"] = r.ID
	} else if r.DomID != "" {
		attrs["id"] = r.DomID
	}
	if len(attrs) > 0 {
		node.Attributes = attrs
	}

	switch {
	case r.Text != nil:
		node.Text = *r.Text
		node.HasText = true
	case len(r.Value) > 0 && string(r.Value) != "null":
		var text string
		if err := json.Unmarshal(r.Value, &text); err == nil {
			node.Text = text
		} else {
			node.Text = string(r.Value)
		}
		node.HasText = true
	}

	for _, child := range r.Children {
		node.Children = append(node.Children, child.toNode())
	}
	return node
}
