package ranking

import (
	"sort"
	"strings"

	"mcpagent/internal/domain"
)

const (
	briefTagLimit   = 6
	briefToolLimit  = 6
	regionTagPrefix = "region:"
)

// serverBrief is the server summary sent to remote rankers.
type serverBrief struct {
	ID      string   `json:"id"`
	Tags    []string `json:"tags"`
	Tools   []string `json:"tools"`
	Healthy bool     `json:"healthy"`
}

func briefServers(servers []domain.ServerDescriptor) []serverBrief {
	briefs := make([]serverBrief, 0, len(servers))
	for _, server := range servers {
		tags := server.Tags
		if len(tags) > briefTagLimit {
			tags = tags[:briefTagLimit]
		}
		tools := server.ToolNames()
		if len(tools) > briefToolLimit {
			tools = tools[:briefToolLimit]
		}
		briefs = append(briefs, serverBrief{
			ID:      server.ID,
			Tags:    append([]string{}, tags...),
			Tools:   tools,
			Healthy: server.Healthy,
		})
	}
	return briefs
}

// ResolveRegion returns preferred unless it is empty or "auto", in which
// case the first region tag found on any server wins.
func ResolveRegion(preferred string, servers []domain.ServerDescriptor) string {
	preferred = strings.TrimSpace(preferred)
	if preferred != "" && !strings.EqualFold(preferred, domain.DefaultPreferredRegion) {
		return preferred
	}
	for _, server := range servers {
		if region := serverRegion(server); region != "" {
			return region
		}
	}
	return domain.DefaultPreferredRegion
}

func serverRegion(server domain.ServerDescriptor) string {
	for _, tag := range server.Tags {
		if strings.HasPrefix(tag, regionTagPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(tag, regionTagPrefix))
		}
	}
	return ""
}

// finalize keeps known ids once each, orders by score and truncates.
func finalize(candidates []domain.Candidate, servers []domain.ServerDescriptor, limit int) []domain.Candidate {
	out := filterKnown(candidates, servers, 0)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// filterKnown keeps known ids once each in their given order and truncates.
func filterKnown(candidates []domain.Candidate, servers []domain.ServerDescriptor, limit int) []domain.Candidate {
	known := make(map[string]struct{}, len(servers))
	for _, server := range servers {
		known[server.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok := known[candidate.ServerID]; !ok {
			continue
		}
		if _, dup := seen[candidate.ServerID]; dup {
			continue
		}
		seen[candidate.ServerID] = struct{}{}
		candidate.Score = clampScore(candidate.Score)
		out = append(out, candidate)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
