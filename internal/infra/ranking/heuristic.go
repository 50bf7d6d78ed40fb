package ranking

import (
	"context"
	"sort"
	"strings"

	"mcpagent/internal/domain"
)

const (
	heuristicBaseScore    = 0.6
	heuristicBrowserBonus = 0.4
)

// TagScorer ranks servers locally by their tags: a browser tag adds a fixed
// bonus and a matching region tag breaks ties.
type TagScorer struct {
	maxCandidates int
}

func NewTagScorer(maxCandidates int) *TagScorer {
	if maxCandidates <= 0 {
		maxCandidates = domain.DefaultMaxCandidates
	}
	return &TagScorer{maxCandidates: maxCandidates}
}

func (s *TagScorer) Rank(_ context.Context, req domain.RankRequest) ([]domain.Candidate, error) {
	region := ResolveRegion(req.PreferredRegion, req.Servers)
	candidates := make([]domain.Candidate, 0, len(req.Servers))
	inRegion := make(map[string]bool, len(req.Servers))
	for _, server := range req.Servers {
		score := heuristicBaseScore
		reasons := make([]string, 0, 2)
		if hasBrowserTag(server.Tags) {
			score += heuristicBrowserBonus
			reasons = append(reasons, "browser tag")
		}
		if region != domain.DefaultPreferredRegion && strings.EqualFold(serverRegion(server), region) {
			inRegion[server.ID] = true
			reasons = append(reasons, "region "+region)
		}
		if len(reasons) == 0 {
			reasons = append(reasons, "neutral")
		}
		candidates = append(candidates, domain.Candidate{
			ServerID: server.ID,
			Score:    score,
			Reason:   strings.Join(reasons, ", "),
		})
	}
	// finalize sorts stably by score, so region order survives among ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return inRegion[candidates[i].ServerID] && !inRegion[candidates[j].ServerID]
	})
	return finalize(candidates, req.Servers, s.maxCandidates), nil
}

func hasBrowserTag(tags []string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), "browser") {
			return true
		}
	}
	return false
}

var _ domain.Scorer = (*TagScorer)(nil)
