package snapshot

import (
	"strings"
)

func decodeMarkup(result toolResult) (*Node, bool) {
	for _, item := range result.Content {
		if item.Type != "text" && item.Type != "" {
			continue
		}
		for _, block := range markupBlocks(item.Text) {
			if root, ok := parseMarkup(block); ok {
				return root, true
			}
		}
	}
	return nil, false
}

// markupBlocks returns every fenced block of text. Unfenced text is
// returned as a single block when it already reads as markup.
func markupBlocks(text string) []string {
	var blocks []string
	var current []string
	inside := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inside {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
			}
			inside = !inside
			continue
		}
		if inside {
			current = append(current, line)
		}
	}
	if len(blocks) == 0 && strings.Contains(text, "[ref=") && strings.HasPrefix(strings.TrimSpace(text), "- ") {
		blocks = append(blocks, text)
	}
	return blocks
}

// fencedBody returns the content of text when text is one fenced block.
func fencedBody(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
	if newline := strings.IndexByte(inner, '\n'); newline >= 0 {
		inner = inner[newline+1:]
	}
	return inner, true
}

type frame struct {
	indent int
	node   *Node
}

// parseMarkup builds a tree from indented lines such as
//
//	- button "Verify" [ref=e5] [id=verifyBtn]
//	  - text: PASS
//
// under a synthetic document root.
func parseMarkup(block string) (*Node, bool) {
	root := &Node{Role: "document"}
	stack := []frame{{indent: -1, node: root}}
	parsed := 0

	for _, rawLine := range strings.Split(block, "\n") {
		line := strings.TrimRight(rawLine, "\r \t")
		content := strings.TrimLeft(line, " \t")
		if !strings.HasPrefix(content, "- ") && content != "-" {
			continue
		}
		indent := len(line) - len(content)
		content = strings.TrimSpace(strings.TrimPrefix(content, "-"))

		for len(stack) > 1 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].node

		if strings.HasPrefix(content, "/") {
			key, value, _ := strings.Cut(strings.TrimPrefix(content, "/"), ":")
			if parent.Attributes == nil {
				parent.Attributes = make(map[string]any)
			}
			parent.Attributes[strings.TrimSpace(key)] = strings.TrimSpace(value)
			continue
		}

		node, ok := parseMarkupLine(content)
		if !ok {
			continue
		}
		parsed++
		parent.Children = append(parent.Children, node)
		stack = append(stack, frame{indent: indent, node: node})
	}
	return root, parsed > 0
}

// parseMarkupLine parses `role "label" [key=value] [flag]: text`.
func parseMarkupLine(content string) (*Node, bool) {
	if content == "" {
		return nil, false
	}
	node := &Node{}
	rest := content

	if strings.HasPrefix(rest, `"`) {
		label, remaining, ok := readQuoted(rest)
		if !ok {
			return nil, false
		}
		node.Role = "text"
		node.Text = label
		node.HasText = true
		rest = remaining
	} else {
		end := strings.IndexAny(rest, " \"[:")
		if end < 0 {
			end = len(rest)
		}
		node.Role = rest[:end]
		rest = rest[end:]
	}
	if node.Role == "" {
		return nil, false
	}

	rest = strings.TrimLeft(rest, " ")
	if strings.HasPrefix(rest, `"`) {
		label, remaining, ok := readQuoted(rest)
		if !ok {
			return nil, false
		}
		node.Name = label
		rest = remaining
	}

	for {
		rest = strings.TrimLeft(rest, " ")
		if !strings.HasPrefix(rest, "[") {
			break
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, false
		}
		key, value, hasValue := strings.Cut(rest[1:end], "=")
		key = strings.TrimSpace(key)
		rest = rest[end+1:]
		if key == "" {
			continue
		}
		if key == "ref" {
			node.Ref = strings.TrimSpace(value)
			continue
		}
		if node.Attributes == nil {
			node.Attributes = make(map[string]any)
		}
		if hasValue {
			node.Attributes[key] = strings.TrimSpace(value)
		} else {
			node.Attributes[key] = true
		}
	}

	rest = strings.TrimLeft(rest, " ")
	if strings.HasPrefix(rest, ":") {
		text := strings.TrimSpace(rest[1:])
		if text != "" {
			node.Text = unquote(text)
			node.HasText = true
		}
	}
	return node, true
}

// readQuoted reads a double-quoted string with backslash escapes from the
// start of s.
func readQuoted(s string) (string, string, bool) {
	var b strings.Builder
	escaped := false
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			return b.String(), s[i+1:], true
		default:
			b.WriteByte(c)
		}
	}
	return "", "", false
}

func unquote(text string) string {
	if strings.HasPrefix(text, `"`) {
		if value, rest, ok := readQuoted(text); ok && strings.TrimSpace(rest) == "" {
			return value
		}
	}
	return text
}
