package app

import "mcpagent/internal/domain"

// Version is the semantic version of mcpagent, set at build time via -ldflags.
var Version = domain.ClientVersion

// Build is the git commit hash or build identifier, set at build time via -ldflags.
var Build = "dev"
