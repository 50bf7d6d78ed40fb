package history

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultHistoryFileName = "history.db"

// ResolvePath expands a leading "~" in path. An empty path resolves to the
// default location under the user's home directory.
func ResolvePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return defaultPath()
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return trimmed
		}
		return filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return trimmed
}

func defaultPath() string {
	base := "."
	if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
		base = home
	}
	return filepath.Join(base, ".mcpagent", defaultHistoryFileName)
}
