package domain

import (
	"fmt"
	"strings"
)

// Capability is an abstract browser operation resolved to a concrete tool.
type Capability string

const (
	CapabilityNavigate Capability = "navigate"
	CapabilityWait     Capability = "wait"
	CapabilitySnapshot Capability = "snapshot"
	CapabilityClick    Capability = "click"
	CapabilityPressKey Capability = "press_key"
)

// ToolPreferences maps each capability to preferred tool names, most
// preferred first.
type ToolPreferences map[Capability][]string

// DefaultToolPreferences returns the built-in capability table.
func DefaultToolPreferences() ToolPreferences {
	return ToolPreferences{
		CapabilityNavigate: {"browser_navigate", "navigate", "web.open", "open", "goto"},
		CapabilityWait:     {"browser_wait_for", "wait", "web.wait"},
		CapabilitySnapshot: {"browser_snapshot", "snapshot", "web.snapshot", "accessibility_snapshot"},
		CapabilityClick:    {"browser_click", "click", "web.click"},
		CapabilityPressKey: {"browser_press_key", "press_key", "press-key", "web.press"},
	}
}

// RequiredCapabilities lists the capabilities a server must provide.
var RequiredCapabilities = []Capability{CapabilityNavigate, CapabilitySnapshot, CapabilityClick}

// Merge returns a copy of p where entries from override replace the defaults.
func (p ToolPreferences) Merge(override map[string][]string) ToolPreferences {
	merged := make(ToolPreferences, len(p)+len(override))
	for capability, names := range p {
		merged[capability] = append([]string(nil), names...)
	}
	for key, names := range override {
		capability := Capability(strings.ToLower(strings.TrimSpace(key)))
		if capability == "" || len(names) == 0 {
			continue
		}
		merged[capability] = append([]string(nil), names...)
	}
	return merged
}

// Resolve picks the first preferred tool name present in available.
func (p ToolPreferences) Resolve(capability Capability, available []string) (string, error) {
	index := make(map[string]struct{}, len(available))
	for _, name := range available {
		index[name] = struct{}{}
	}
	for _, name := range p[capability] {
		if _, ok := index[name]; ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s (have %s)", ErrCapabilityUnavailable, capability, strings.Join(available, ", "))
}
