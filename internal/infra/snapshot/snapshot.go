package snapshot

import (
	"strings"

	"mcpagent/internal/domain"
)

// Encoding names the result encoding a snapshot was decoded from.
type Encoding string

const (
	EncodingTree     Encoding = "tree"
	EncodingTextJSON Encoding = "text_json"
	EncodingMarkup   Encoding = "markup"
)

// Snapshot is a decoded page snapshot. Refs are only meaningful against the
// snapshot that produced them.
type Snapshot struct {
	Encoding Encoding
	Root     *Node
}

// FindRefByDomainID returns the ref of the first element carrying id.
func (s *Snapshot) FindRefByDomainID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if s == nil || id == "" {
		return "", false
	}
	node := s.Root.find(func(n *Node) bool {
		return n.Ref != "" && n.DomainID() == id
	})
	if node == nil {
		return "", false
	}
	return node.Ref, true
}

// FindRefByNameRole returns the ref of the first element with the given
// accessible name and role. Both compare case-insensitively; an empty role
// matches any role.
func (s *Snapshot) FindRefByNameRole(name, role string) (string, bool) {
	name = strings.TrimSpace(name)
	role = strings.TrimSpace(role)
	if s == nil || name == "" {
		return "", false
	}
	node := s.Root.find(func(n *Node) bool {
		if n.Ref == "" || !strings.EqualFold(strings.TrimSpace(n.Name), name) {
			return false
		}
		return role == "" || strings.EqualFold(n.Role, role)
	})
	if node == nil {
		return "", false
	}
	return node.Ref, true
}

// FindRefByLabel matches the label against element names regardless of
// role, falling back to a substring match.
func (s *Snapshot) FindRefByLabel(label string) (string, bool) {
	if ref, ok := s.FindRefByNameRole(label, ""); ok {
		return ref, true
	}
	label = strings.ToLower(strings.TrimSpace(label))
	if s == nil || label == "" {
		return "", false
	}
	node := s.Root.find(func(n *Node) bool {
		return n.Ref != "" && strings.Contains(strings.ToLower(n.Name), label)
	})
	if node == nil {
		return "", false
	}
	return node.Ref, true
}

// ExtractTextByDomainID returns the text of the first element carrying id.
// found is false when no such element exists; ("", true) means the element
// exists but holds no text yet.
func (s *Snapshot) ExtractTextByDomainID(id string) (text string, found bool) {
	id = strings.TrimSpace(id)
	if s == nil || id == "" {
		return "", false
	}
	node := s.Root.find(func(n *Node) bool { return n.DomainID() == id })
	if node == nil {
		return "", false
	}
	return node.textContent(), true
}

// ExtractTextByName is ExtractTextByDomainID keyed by accessible name.
func (s *Snapshot) ExtractTextByName(name string) (text string, found bool) {
	name = strings.TrimSpace(name)
	if s == nil || name == "" {
		return "", false
	}
	node := s.Root.find(func(n *Node) bool { return strings.EqualFold(strings.TrimSpace(n.Name), name) })
	if node == nil {
		return "", false
	}
	return node.textContent(), true
}

// ClassifyVerdict maps verdict text to an outcome by keyword.
func ClassifyVerdict(text string) domain.Verdict {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "pass"):
		return domain.VerdictSuccess
	case strings.Contains(lower, "fail"), strings.Contains(lower, "error"):
		return domain.VerdictFailure
	default:
		return domain.VerdictUndetermined
	}
}
