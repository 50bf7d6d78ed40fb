package telemetry

import (
	"sort"
	"sync"
	"time"
)

// HealthTracker aggregates heartbeats from long-running loops.
type HealthTracker struct {
	mu     sync.Mutex
	now    func() time.Time
	checks map[string]*Heartbeat
	run    *RunStatus
}

// Heartbeat is one registered loop. A loop whose last beat is older than
// its stale window reports as stale.
type Heartbeat struct {
	tracker *HealthTracker
	name    string
	stale   time.Duration
	last    time.Time
}

// HealthCheck is the status of one heartbeat.
type HealthCheck struct {
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	LastBeat time.Time `json:"lastBeat"`
}

// RunStatus describes the run the process is driving.
type RunStatus struct {
	RunID     string    `json:"runId"`
	Phase     string    `json:"phase"`
	Attempts  int       `json:"attempts"`
	StartedAt time.Time `json:"startedAt"`
}

const (
	RunPhaseRunning  = "running"
	RunPhaseFinished = "finished"
)

// HealthReport is served on /healthz.
type HealthReport struct {
	Status string        `json:"status"`
	Run    *RunStatus    `json:"run,omitempty"`
	Checks []HealthCheck `json:"checks,omitempty"`
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{now: time.Now, checks: make(map[string]*Heartbeat)}
}

// Register adds a heartbeat that must beat at least every stale interval.
func (t *HealthTracker) Register(name string, stale time.Duration) *Heartbeat {
	t.mu.Lock()
	defer t.mu.Unlock()
	beat := &Heartbeat{tracker: t, name: name, stale: stale, last: t.now()}
	t.checks[name] = beat
	return beat
}

// Unregister removes a heartbeat, typically when its loop exits cleanly.
func (t *HealthTracker) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.checks, name)
}

// SetRun replaces the reported run status.
func (t *HealthTracker) SetRun(status RunStatus) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.run = &status
}

func (h *Heartbeat) Beat() {
	if h == nil {
		return
	}
	h.tracker.mu.Lock()
	h.last = h.tracker.now()
	h.tracker.mu.Unlock()
}

func (t *HealthTracker) Report() HealthReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	report := HealthReport{Status: "ok"}
	if t.run != nil {
		run := *t.run
		report.Run = &run
	}
	names := make([]string, 0, len(t.checks))
	for name := range t.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		beat := t.checks[name]
		status := "ok"
		if beat.stale > 0 && now.Sub(beat.last) > beat.stale {
			status = "stale"
			report.Status = "degraded"
		}
		report.Checks = append(report.Checks, HealthCheck{Name: name, Status: status, LastBeat: beat.last})
	}
	return report
}
