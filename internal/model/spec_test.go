package model_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/CZERTAINLY/Overseer/internal/model"
	"github.com/stretchr/testify/require"
)

func validSpec() model.TaskSpec {
	return model.TaskSpec{
		Slot: "echo",
		Kind: model.TaskKind{Subprocess: &model.Subprocess{
			Command:       "echo",
			Args:          []string{"hello"},
			FailOnNonZero: true,
		}},
		Backoff: model.DefaultBackoff,
	}
}

func TestTaskSpecValidate(t *testing.T) {
	t.Parallel()

	var cases = []struct {
		scenario string
		given    func(*model.TaskSpec)
		then     string
	}{
		{"valid", func(*model.TaskSpec) {}, ""},
		{"empty slot", func(s *model.TaskSpec) { s.Slot = " " }, "slot is empty"},
		{"negative timeout", func(s *model.TaskSpec) { s.TimeoutMs = -1 }, "timeoutMs must be in"},
		{"timeout overflowing duration", func(s *model.TaskSpec) { s.TimeoutMs = model.MaxMillis + 1 }, "timeoutMs must be in"},
		{"longest timeout", func(s *model.TaskSpec) { s.TimeoutMs = model.MaxMillis }, ""},
		{"negative interval", func(s *model.TaskSpec) { s.RestartIntervalMs = -5 }, "restartIntervalMs must be in"},
		{"interval overflowing duration", func(s *model.TaskSpec) { s.RestartIntervalMs = 10_000_000_000_000 }, "restartIntervalMs must be in"},
		{"max backoff overflowing duration", func(s *model.TaskSpec) { s.Backoff.MaxMs = math.MaxInt64 }, "firstMs and maxMs must be in"},
		{"first backoff overflowing duration", func(s *model.TaskSpec) { s.Backoff.FirstMs = model.MaxMillis + 1 }, "firstMs and maxMs must be in"},
		{"slot with slash", func(s *model.TaskSpec) { s.Slot = "a/b" }, "slot \"a/b\" must match"},
		{"slot with space", func(s *model.TaskSpec) { s.Slot = "my slot" }, "must match"},
		{"slot with dashes and dots", func(s *model.TaskSpec) { s.Slot = "db-backup.v2" }, ""},
		{"no kind", func(s *model.TaskSpec) { s.Kind = model.TaskKind{} }, "kind has no variant set"},
		{"no command", func(s *model.TaskSpec) { s.Kind.Subprocess.Command = "" }, "command is empty"},
		{"factor below one", func(s *model.TaskSpec) { s.Backoff.Factor = 0.5 }, "factor must be"},
		{"unknown restart", func(s *model.TaskSpec) { s.Restart = model.RestartStrategy(42) }, "unknown restart strategy"},
		{"duplicate env", func(s *model.TaskSpec) {
			s.Kind.Subprocess.Env = model.Env{{Key: "A", Value: "1"}, {Key: "A", Value: "2"}}
		}, "duplicate env key"},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			spec := validSpec()
			tc.given(&spec)
			err := spec.Validate()
			if tc.then == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, model.ErrInvalidSpec)
			require.ErrorContains(t, err, tc.then)
		})
	}
}

func TestTaskSpecJSON(t *testing.T) {
	t.Parallel()
	raw := `{
		"slot": "date",
		"kind": {"subprocess": {"command": "date", "env": [{"key": "TZ", "value": "UTC"}]}},
		"restart": "on-failure",
		"admission": "Replace",
		"backoff": {"jitter": "equal", "firstMs": 10, "maxMs": 100, "factor": 3}
	}`
	var spec model.TaskSpec
	require.NoError(t, json.Unmarshal([]byte(raw), &spec))
	require.NoError(t, spec.Validate())
	require.Equal(t, model.RestartOnFailure, spec.Restart)
	require.Equal(t, model.AdmissionReplace, spec.Admission)
	require.Equal(t, model.Backoff{Jitter: model.JitterEqual, FirstMs: 10, MaxMs: 100, Factor: 3}, spec.Backoff)
	require.True(t, spec.Kind.Subprocess.FailOnNonZero)

	out, err := json.Marshal(spec)
	require.NoError(t, err)
	require.Contains(t, string(out), `"restart":"onFailure"`)
	require.Contains(t, string(out), `"admission":"replace"`)
	require.Contains(t, string(out), `"jitter":"equal"`)

	t.Run("defaults", func(t *testing.T) {
		var spec model.TaskSpec
		require.NoError(t, json.Unmarshal([]byte(`{"slot": "s", "kind": {"subprocess": {"command": "true", "failOnNonZero": false}}}`), &spec))
		require.Equal(t, model.DefaultBackoff, spec.Backoff)
		require.False(t, spec.Kind.Subprocess.FailOnNonZero)
	})

	t.Run("bad enum", func(t *testing.T) {
		var spec model.TaskSpec
		err := json.Unmarshal([]byte(`{"slot": "s", "restart": "sometimes"}`), &spec)
		require.ErrorIs(t, err, model.ErrInvalidSpec)
	})
}

func TestEnvMerge(t *testing.T) {
	t.Parallel()
	base := []string{"PATH=/bin", "HOME=/root", "MESSAGE=ambient", "HOME=/dup"}
	env := model.Env{
		{Key: "MESSAGE", Value: "Hello"},
		{Key: "NEW", Value: "x=y"},
		{Key: "HOME", Value: "/tmp"},
	}
	require.Equal(t,
		[]string{"PATH=/bin", "HOME=/tmp", "MESSAGE=Hello", "NEW=x=y"},
		env.Merge(base),
	)
	require.Equal(t, base, model.Env(nil).Merge(base))
}

func TestTaskInfoJSON(t *testing.T) {
	t.Parallel()
	created := time.UnixMilli(1_700_000_000_123)
	code := 1
	info := model.TaskInfo{
		ID:        "overseer-echo-1",
		Slot:      "echo",
		Status:    model.StatusTimedOut,
		Attempt:   2,
		CreatedAt: created,
		UpdatedAt: created.Add(1500 * time.Millisecond),
		ExitCode:  &code,
	}
	raw, err := json.Marshal(info)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"id": "overseer-echo-1",
		"slot": "echo",
		"status": "timedOut",
		"attempt": 2,
		"final": false,
		"createdAt": 1700000000123,
		"updatedAt": 1700000001623,
		"exitCode": 1
	}`, string(raw))

	var back model.TaskInfo
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, info.ID, back.ID)
	require.Equal(t, info.Status, back.Status)
	require.True(t, info.CreatedAt.Equal(back.CreatedAt))
	require.True(t, info.UpdatedAt.Equal(back.UpdatedAt))
	require.Equal(t, 1, *back.ExitCode)
	require.True(t, back.NextRunAt.IsZero())
}
