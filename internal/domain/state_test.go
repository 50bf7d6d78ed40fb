package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptBudget(t *testing.T) {
	tests := []struct {
		minimum, shortlist, want int
	}{
		{minimum: 5, shortlist: 0, want: 5},
		{minimum: 5, shortlist: 2, want: 5},
		{minimum: 5, shortlist: 3, want: 6},
		{minimum: 1, shortlist: 4, want: 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AttemptBudget(tt.minimum, tt.shortlist), "min=%d shortlist=%d", tt.minimum, tt.shortlist)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second

	assert.Equal(t, base, BackoffDelay(base, 1, 0))
	assert.Equal(t, 3*time.Second, BackoffDelay(base, 1, 0.5))
	assert.Equal(t, base, BackoffDelay(base, 0, 0.9))
	assert.Equal(t, base, BackoffDelay(base, 1, -1))

	upper := BackoffDelay(base, 1, 1)
	assert.Less(t, upper, 2*base)
	assert.Greater(t, upper, base)
}

func TestAgentState_BackedOffAndServer(t *testing.T) {
	servers := []ServerDescriptor{{ID: "a", Healthy: true}, {ID: "b"}}
	state := NewAgentState("run", "task", []string{"https://x.test"}, servers)
	require.Equal(t, PhaseSelect, state.Phase)
	require.False(t, state.Done())

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state.BackoffUntil["a"] = now.Add(time.Second)
	assert.True(t, state.BackedOff("a", now))
	assert.False(t, state.BackedOff("a", now.Add(time.Second)))
	assert.False(t, state.BackedOff("b", now))

	server, ok := state.Server("b")
	require.True(t, ok)
	server.Tools = []ToolDescriptor{{Name: "browser_click"}}
	assert.Equal(t, []string{"browser_click"}, state.Servers[1].ToolNames())
	assert.Empty(t, servers[1].Tools)

	_, ok = state.Server("missing")
	assert.False(t, ok)

	state.Phase = PhaseDone
	assert.True(t, state.Done())
}
