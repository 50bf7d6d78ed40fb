package automation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"mcpagent/internal/domain"
)

// boundTool is a discovered tool resolved for one capability.
type boundTool struct {
	name     string
	declared map[string]struct{}
	resolved *jsonschema.Resolved
}

// toolset maps capabilities to the discovered tools serving them.
type toolset struct {
	tools map[domain.Capability]*boundTool
}

// bindTools resolves every capability against the session catalog. A
// missing required capability is an error; optional ones are left unbound.
func bindTools(catalog []domain.ToolDescriptor, prefs domain.ToolPreferences) (*toolset, error) {
	names := make([]string, 0, len(catalog))
	byName := make(map[string]domain.ToolDescriptor, len(catalog))
	for _, tool := range catalog {
		names = append(names, tool.Name)
		byName[tool.Name] = tool
	}
	sort.Strings(names)

	required := make(map[domain.Capability]struct{}, len(domain.RequiredCapabilities))
	for _, capability := range domain.RequiredCapabilities {
		required[capability] = struct{}{}
	}

	set := &toolset{tools: make(map[domain.Capability]*boundTool)}
	for _, capability := range []domain.Capability{
		domain.CapabilityNavigate,
		domain.CapabilityWait,
		domain.CapabilitySnapshot,
		domain.CapabilityClick,
		domain.CapabilityPressKey,
	} {
		name, err := prefs.Resolve(capability, names)
		if err != nil {
			if _, ok := required[capability]; ok {
				return nil, err
			}
			continue
		}
		set.tools[capability] = newBoundTool(byName[name])
	}
	return set, nil
}

func newBoundTool(tool domain.ToolDescriptor) *boundTool {
	bound := &boundTool{name: tool.Name}
	if len(tool.InputSchema) == 0 {
		return bound
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return bound
	}
	if len(schema.Properties) > 0 {
		bound.declared = make(map[string]struct{}, len(schema.Properties))
		for key := range schema.Properties {
			bound.declared[key] = struct{}{}
		}
	}
	// Schemas that fail to resolve are still used for shaping.
	if resolved, err := schema.Resolve(nil); err == nil {
		bound.resolved = resolved
	}
	return bound
}

// accepts reports whether arg survives shaping. Tools without declared
// properties accept anything.
func (t *boundTool) accepts(arg string) bool {
	if t.declared == nil {
		return true
	}
	_, ok := t.declared[arg]
	return ok
}

func (s *toolset) get(capability domain.Capability) (*boundTool, bool) {
	tool, ok := s.tools[capability]
	return tool, ok
}

// shape drops arguments the tool does not declare and validates the rest.
func (t *boundTool) shape(args map[string]any) (map[string]any, error) {
	shaped := make(map[string]any, len(args))
	for key, value := range args {
		if t.declared != nil {
			if _, ok := t.declared[key]; !ok {
				continue
			}
		}
		shaped[key] = value
	}
	if t.resolved != nil {
		if err := t.resolved.Validate(shaped); err != nil {
			return nil, fmt.Errorf("tool %s rejects arguments: %w", t.name, err)
		}
	}
	return shaped, nil
}
