package app

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpagent/internal/domain"
	"mcpagent/internal/infra/telemetry"
)

func observedRunner(addr string) *Runner {
	cfg := domain.AgentConfig{Observability: domain.ObservabilityConfig{ListenAddress: addr}}
	return NewRunner(RunnerOptions{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Health:   telemetry.NewHealthTracker(),
	})
}

func TestRunner_StartObservabilityPortInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}
	defer listener.Close()

	stop, err := observedRunner(listener.Addr().String()).startObservability(zap.NewNop())
	require.Error(t, err)
	require.Nil(t, stop)
	require.Contains(t, err.Error(), "start observability")
}

func TestRunner_StartObservabilityServesRunStatus(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	runner := observedRunner(addr)
	stop, err := runner.startObservability(zap.NewNop())
	require.NoError(t, err)
	runner.health.SetRun(telemetry.RunStatus{RunID: "run-7", Phase: telemetry.RunPhaseRunning})

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	var report telemetry.HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, report.Run)
	require.Equal(t, "run-7", report.Run.RunID)

	stop()
	_, err = http.Get("http://" + addr + "/healthz")
	require.Error(t, err)
}

func TestRunner_StartObservabilityOff(t *testing.T) {
	stop, err := observedRunner("off").startObservability(zap.NewNop())
	require.NoError(t, err)
	stop()
}
