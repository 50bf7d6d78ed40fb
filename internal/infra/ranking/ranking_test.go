package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpagent/internal/domain"
)

func testServers() []domain.ServerDescriptor {
	return []domain.ServerDescriptor{
		{ID: "plain", Tags: []string{"region:eu"}, Healthy: true},
		{ID: "browser-us", Tags: []string{"browser", "region:us"}, Healthy: true},
		{ID: "browser-eu", Tags: []string{"playwright-browser", "region:eu"}, Healthy: true},
	}
}

func ids(candidates []domain.Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		out = append(out, candidate.ServerID)
	}
	return out
}

func TestTagScorer_Rank(t *testing.T) {
	cases := []struct {
		name   string
		region string
		limit  int
		want   []string
	}{
		{name: "auto region uses first region tag", region: "auto", limit: 5, want: []string{"browser-eu", "browser-us", "plain"}},
		{name: "explicit region breaks ties", region: "us", limit: 5, want: []string{"browser-us", "browser-eu", "plain"}},
		{name: "limit truncates", region: "us", limit: 1, want: []string{"browser-us"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewTagScorer(tc.limit).Rank(context.Background(), domain.RankRequest{
				Servers:         testServers(),
				PreferredRegion: tc.region,
			})
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, ids(got)); diff != "" {
				t.Fatalf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTagScorer_Scores(t *testing.T) {
	got, err := NewTagScorer(0).Rank(context.Background(), domain.RankRequest{Servers: testServers(), PreferredRegion: "us"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.Equal(t, "browser tag, region us", got[0].Reason)
	assert.InDelta(t, 0.6, got[2].Score, 1e-9)
	assert.Equal(t, "neutral", got[2].Reason)
}

func TestResolveRegion(t *testing.T) {
	servers := testServers()
	assert.Equal(t, "eu", ResolveRegion("", servers))
	assert.Equal(t, "eu", ResolveRegion("AUTO", servers))
	assert.Equal(t, "ap", ResolveRegion("ap", servers))
	assert.Equal(t, "auto", ResolveRegion("auto", nil))
}

func TestBriefServers_Truncates(t *testing.T) {
	server := domain.ServerDescriptor{
		ID:      "wide",
		Tags:    []string{"a", "b", "c", "d", "e", "f", "g"},
		Healthy: true,
	}
	for _, name := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		server.Tools = append(server.Tools, domain.ToolDescriptor{Name: name})
	}
	briefs := briefServers([]domain.ServerDescriptor{server})
	require.Len(t, briefs, 1)
	assert.Len(t, briefs[0].Tags, 6)
	assert.Len(t, briefs[0].Tools, 6)
	assert.True(t, briefs[0].Healthy)
}

func TestParseCandidates(t *testing.T) {
	want := []domain.Candidate{{ServerID: "a", Score: 0.9, Reason: "r"}}
	for _, raw := range []string{
		`[{"server_id":"a","score":0.9,"reason":"r"}]`,
		`{"candidates":[{"server_id":"a","score":0.9,"reason":"r"}]}`,
		"```json\n[{\"server_id\":\"a\",\"score\":0.9,\"reason\":\"r\"}]\n```",
	} {
		got, err := parseCandidates(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := parseCandidates("the best server is a")
	require.Error(t, err)
}

func TestFinalize(t *testing.T) {
	got := finalize([]domain.Candidate{
		{ServerID: "plain", Score: 0.2},
		{ServerID: "ghost", Score: 1},
		{ServerID: "browser-us", Score: 1.7},
		{ServerID: "plain", Score: 0.9},
		{ServerID: "browser-eu", Score: -1},
	}, testServers(), 5)
	require.Equal(t, []domain.Candidate{
		{ServerID: "browser-us", Score: 1},
		{ServerID: "plain", Score: 0.2},
		{ServerID: "browser-eu", Score: 0},
	}, got)
}

func TestFilterKnown_KeepsOrder(t *testing.T) {
	got := filterKnown([]domain.Candidate{
		{ServerID: "plain", Score: 0.1},
		{ServerID: "ghost", Score: 1},
		{ServerID: "browser-us", Score: 0.9},
		{ServerID: "plain", Score: 0.8},
		{ServerID: "browser-eu", Score: 0.5},
	}, testServers(), 2)
	require.Equal(t, []string{"plain", "browser-us"}, ids(got))
	require.Equal(t, 0.1, got[0].Score)
}

func TestHTTPScorer_Rank(t *testing.T) {
	var received scoringRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"server_id":"plain","score":0.4,"reason":"slow"},{"server_id":"browser-us","score":0.95,"reason":"browser"}]`))
	}))
	t.Cleanup(server.Close)

	scorer, err := NewHTTPScorer(domain.RankingConfig{Endpoint: server.URL, MaxCandidates: 5}, server.Client(), nil, nil)
	require.NoError(t, err)

	got, err := scorer.Rank(context.Background(), domain.RankRequest{
		Task:    "click verify",
		Targets: []string{"https://a.test"},
		Servers: testServers(),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"plain", "browser-us"}, ids(got))

	require.Equal(t, "click verify", received.Task)
	require.Equal(t, []string{"https://a.test"}, received.Targets)
	require.Len(t, received.Servers, 3)
	require.Equal(t, "eu", received.PreferredRegion)
}

func TestHTTPScorer_Errors(t *testing.T) {
	_, err := NewHTTPScorer(domain.RankingConfig{}, nil, nil, nil)
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInvalidArgument, code)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, strings.Repeat("x", 500), http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	scorer, err := NewHTTPScorer(domain.RankingConfig{Endpoint: server.URL}, server.Client(), nil, nil)
	require.NoError(t, err)
	_, err = scorer.Rank(context.Background(), domain.RankRequest{Servers: testServers()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
	require.Less(t, len(err.Error()), 300)
}

type mockChatModel struct {
	generateFunc func(ctx context.Context, messages []*schema.Message) (*schema.Message, error)
}

func (m *mockChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, messages)
	}
	return nil, errors.New("not implemented")
}

func (m *mockChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

type recordingMetrics struct {
	domain.Metrics
	tokens    int
	latencies int
}

func (m *recordingMetrics) ObserveRankingTokens(_ string, _ string, tokens int) { m.tokens += tokens }

func (m *recordingMetrics) ObserveRankingLatency(_ string, _ string, _ time.Duration) {
	m.latencies++
}

func TestLLMScorer_Rank(t *testing.T) {
	var prompt string
	chat := &mockChatModel{generateFunc: func(_ context.Context, messages []*schema.Message) (*schema.Message, error) {
		if len(messages) != 2 || messages[0].Role != schema.System {
			return nil, errors.New("unexpected messages")
		}
		prompt = messages[1].Content
		return &schema.Message{
			Role:    schema.Assistant,
			Content: `[{"server_id":"browser-eu","score":0.8,"reason":"browser"},{"server_id":"unknown","score":1,"reason":"hallucinated"}]`,
			ResponseMeta: &schema.ResponseMeta{
				Usage: &schema.TokenUsage{TotalTokens: 42},
			},
		}, nil
	}}
	metrics := &recordingMetrics{}
	scorer := newLLMScorer(chat, domain.RankingConfig{Model: "gpt-4o-mini"}, metrics, nil)

	got, err := scorer.Rank(context.Background(), domain.RankRequest{
		Task:            "click verify",
		Targets:         []string{"https://a.test"},
		Servers:         testServers(),
		PreferredRegion: "us",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"browser-eu"}, ids(got))
	require.Equal(t, 42, metrics.tokens)
	require.Equal(t, 1, metrics.latencies)

	require.Contains(t, prompt, "Task: click verify")
	require.Contains(t, prompt, `"id":"browser-us"`)
	require.Contains(t, prompt, "region us.")
}

func TestLLMScorer_GenerateError(t *testing.T) {
	scorer := newLLMScorer(&mockChatModel{}, domain.RankingConfig{}, nil, nil)
	_, err := scorer.Rank(context.Background(), domain.RankRequest{Servers: testServers()})
	require.ErrorContains(t, err, "LLM generate")
}

func TestNewScorer(t *testing.T) {
	scorer, err := NewScorer(context.Background(), domain.RankingConfig{}, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &TagScorer{}, scorer)

	scorer, err = NewScorer(context.Background(), domain.RankingConfig{Provider: "HTTP", Endpoint: "http://scorer.test/rank"}, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &HTTPScorer{}, scorer)

	_, err = NewScorer(context.Background(), domain.RankingConfig{Provider: domain.RankingProviderLLM, Model: "m"}, nil, nil)
	require.ErrorContains(t, err, "API key is required")

	t.Setenv("MCPAGENT_TEST_EMPTY_KEY", "")
	_, err = NewScorer(context.Background(), domain.RankingConfig{Provider: domain.RankingProviderLLM, APIKeyEnvVar: "MCPAGENT_TEST_EMPTY_KEY"}, nil, nil)
	require.ErrorContains(t, err, "not found in env var")

	_, err = NewScorer(context.Background(), domain.RankingConfig{Provider: "magic"}, nil, nil)
	require.ErrorContains(t, err, "unsupported ranking provider")
}
