package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/Overseer/internal/metrics"
	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheus(t *testing.T) {
	t.Parallel()
	p := metrics.New()

	p.TaskAdmitted("accepted")
	p.TaskAdmitted("accepted")
	p.TaskAdmitted("rejected")
	p.TaskStarted("node1")
	p.TaskCompleted("node1", model.StatusTimedOut, 1500*time.Millisecond)
	p.RunnerError("node1", "timeout")

	expected := `
# HELP overseer_admissions_total Submissions by admission decision.
# TYPE overseer_admissions_total counter
overseer_admissions_total{decision="accepted"} 2
overseer_admissions_total{decision="rejected"} 1
# HELP overseer_tasks_completed_total Finished executions by outcome.
# TYPE overseer_tasks_completed_total counter
overseer_tasks_completed_total{outcome="timedOut",runner="node1"} 1
`
	require.NoError(t, testutil.GatherAndCompare(p.Registry(), strings.NewReader(expected),
		"overseer_admissions_total", "overseer_tasks_completed_total"))
	n, err := testutil.GatherAndCount(p.Registry(), "overseer_task_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `overseer_runner_errors_total{kind="timeout",runner="node1"} 1`)
	require.Contains(t, string(body), `overseer_tasks_started_total{runner="node1"} 1`)
}
