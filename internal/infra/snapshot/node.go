package snapshot

import (
	"fmt"
	"strings"
)

// Node is one element of a canonical snapshot tree.
type Node struct {
	Role       string
	Name       string
	Attributes map[string]any
	Text       string
	HasText    bool
	Ref        string
	Children   []*Node
}

// DomainID returns the page-level id of the element, if any.
func (n *Node) DomainID() string {
	if n == nil || n.Attributes == nil {
		return ""
	}
	for _, key := range []string{"id", "domId"} {
		if value, ok := n.Attributes[key]; ok {
			if id := strings.TrimSpace(fmt.Sprint(value)); id != "" {
				return id
			}
		}
	}
	return ""
}

// Walk visits n and its descendants in pre-order until visit returns false.
func (n *Node) Walk(visit func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !visit(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(visit) {
			return false
		}
	}
	return true
}

// find returns the first node, in pre-order, that satisfies match.
func (n *Node) find(match func(*Node) bool) *Node {
	var found *Node
	n.Walk(func(node *Node) bool {
		if match(node) {
			found = node
			return false
		}
		return true
	})
	return found
}

// textContent is the node's own text, or the text of its descendants.
func (n *Node) textContent() string {
	if n.HasText {
		return strings.TrimSpace(n.Text)
	}
	var parts []string
	for _, child := range n.Children {
		child.Walk(func(node *Node) bool {
			if node.HasText {
				if text := strings.TrimSpace(node.Text); text != "" {
					parts = append(parts, text)
				}
			}
			return true
		})
	}
	return strings.Join(parts, " ")
}
