package domain

import (
	"math"
	"time"
)

// Phase is a step of the orchestration state machine.
type Phase string

const (
	PhaseSelect      Phase = "select"
	PhaseInvoke      Phase = "invoke"
	PhaseBackoffSkip Phase = "backoff_skip"
	PhaseExecute     Phase = "execute"
	PhaseAdvance     Phase = "advance"
	PhaseDone        Phase = "done"
)

// AgentState is the mutable state of one run. It is owned by the loop.
type AgentState struct {
	RunID        string
	Task         string
	Targets      []string
	Servers      []ServerDescriptor
	Shortlist    []Candidate
	Cursor       int
	Attempts     int
	MaxAttempts  int
	LastError    string
	Result       *RunResult
	BackoffUntil map[string]time.Time
	Phase        Phase
}

// NewAgentState creates the initial state of a run.
func NewAgentState(runID, task string, targets []string, servers []ServerDescriptor) *AgentState {
	return &AgentState{
		RunID:        runID,
		Task:         task,
		Targets:      append([]string(nil), targets...),
		Servers:      append([]ServerDescriptor(nil), servers...),
		BackoffUntil: make(map[string]time.Time),
		Phase:        PhaseSelect,
	}
}

// Server returns a pointer to the descriptor with the given id.
func (s *AgentState) Server(id string) (*ServerDescriptor, bool) {
	for i := range s.Servers {
		if s.Servers[i].ID == id {
			return &s.Servers[i], true
		}
	}
	return nil, false
}

// BackedOff reports whether id is still inside its backoff window at now.
func (s *AgentState) BackedOff(id string, now time.Time) bool {
	until, ok := s.BackoffUntil[id]
	if !ok {
		return false
	}
	return now.Before(until)
}

// Done reports whether the run has terminated.
func (s *AgentState) Done() bool {
	return s.Phase == PhaseDone
}

// AttemptBudget returns max(minimum, 2*shortlistLen).
func AttemptBudget(minimum, shortlistLen int) int {
	return int(math.Max(float64(minimum), float64(2*shortlistLen)))
}

// BackoffDelay computes base * (1 + u*jitter) for u in [0, 1).
func BackoffDelay(base time.Duration, jitter, u float64) time.Duration {
	if u < 0 {
		u = 0
	}
	if u >= 1 {
		u = math.Nextafter(1, 0)
	}
	return time.Duration(float64(base) * (1 + u*jitter))
}
