package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"time"
)

// MaxMillis is the largest millisecond value which still fits a
// time.Duration.
const MaxMillis = math.MaxInt64 / int64(time.Millisecond)

// slots end up in ids, which are path segments of the HTTP API
var slotPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// TaskSpec is an immutable description of a task supplied on submission.
type TaskSpec struct {
	Slot              string            `json:"slot" yaml:"slot"`
	Kind              TaskKind          `json:"kind" yaml:"kind"`
	TimeoutMs         int64             `json:"timeoutMs" yaml:"timeoutMs"`
	Restart           RestartStrategy   `json:"restart" yaml:"restart"`
	RestartIntervalMs int64             `json:"restartIntervalMs" yaml:"restartIntervalMs"`
	Backoff           Backoff           `json:"backoff" yaml:"backoff"`
	Admission         AdmissionStrategy `json:"admission" yaml:"admission"`
}

// TaskKind is a closed tagged variant. Exactly one field is set.
type TaskKind struct {
	Subprocess *Subprocess `json:"subprocess,omitempty" yaml:"subprocess,omitempty"`
}

type Subprocess struct {
	Command       string   `json:"command" yaml:"command"`
	Args          []string `json:"args,omitempty" yaml:"args,omitempty"`
	Env           Env      `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd           string   `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	FailOnNonZero bool     `json:"failOnNonZero" yaml:"failOnNonZero"`
}

type Backoff struct {
	Jitter  JitterStrategy `json:"jitter" yaml:"jitter"`
	FirstMs int64          `json:"firstMs" yaml:"firstMs"`
	MaxMs   int64          `json:"maxMs" yaml:"maxMs"`
	Factor  float64        `json:"factor" yaml:"factor"`
}

// DefaultBackoff is used when a submission carries no backoff section.
var DefaultBackoff = Backoff{
	Jitter:  JitterNone,
	FirstMs: 1000,
	MaxMs:   30000,
	Factor:  2.0,
}

func (t *TaskSpec) UnmarshalJSON(b []byte) error {
	type plain TaskSpec
	p := plain{Backoff: DefaultBackoff}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = TaskSpec(p)
	return nil
}

// UnmarshalJSON defaults failOnNonZero to true.
func (s *Subprocess) UnmarshalJSON(b []byte) error {
	type plain Subprocess
	p := plain{FailOnNonZero: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = Subprocess(p)
	return nil
}

// Validate reports every problem of the task spec joined into one error wrapping
// ErrInvalidSpec.
func (t TaskSpec) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch {
	case strings.TrimSpace(t.Slot) == "":
		add("slot is empty")
	case !slotPattern.MatchString(t.Slot):
		add("slot %q must match %s", t.Slot, slotPattern)
	}
	if t.TimeoutMs < 0 || t.TimeoutMs > MaxMillis {
		add("timeoutMs must be in [0, %d], got %d", MaxMillis, t.TimeoutMs)
	}
	if t.RestartIntervalMs < 0 || t.RestartIntervalMs > MaxMillis {
		add("restartIntervalMs must be in [0, %d], got %d", MaxMillis, t.RestartIntervalMs)
	}
	if _, err := t.Restart.MarshalText(); err != nil {
		add("restart: %v", err)
	}
	if _, err := t.Admission.MarshalText(); err != nil {
		add("admission: %v", err)
	}
	if err := t.Backoff.Validate(); err != nil {
		add("backoff: %v", err)
	}

	switch {
	case t.Kind.Subprocess == nil:
		add("kind has no variant set")
	default:
		sp := t.Kind.Subprocess
		if strings.TrimSpace(sp.Command) == "" {
			add("kind.subprocess.command is empty")
		}
		if err := sp.Env.Validate(); err != nil {
			add("kind.subprocess.env: %v", err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSpec, strings.Join(problems, "; "))
}

func (b Backoff) Validate() error {
	if _, err := b.Jitter.MarshalText(); err != nil {
		return err
	}
	if b.FirstMs < 0 || b.MaxMs < 0 || b.FirstMs > MaxMillis || b.MaxMs > MaxMillis {
		return fmt.Errorf("%w: firstMs and maxMs must be in [0, %d]", ErrInvalidArgument, MaxMillis)
	}
	if math.IsNaN(b.Factor) || math.IsInf(b.Factor, 0) || b.Factor < 1.0 {
		return fmt.Errorf("%w: factor must be a finite number >= 1.0, got %v", ErrInvalidArgument, b.Factor)
	}
	return nil
}

type KeyValue struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Env is an ordered environment overlay with unique keys.
type Env []KeyValue

func (e Env) Validate() error {
	seen := make(map[string]struct{}, len(e))
	for _, kv := range e {
		if kv.Key == "" || strings.ContainsAny(kv.Key, "=\x00") {
			return fmt.Errorf("%w: bad env key %q", ErrInvalidArgument, kv.Key)
		}
		if _, ok := seen[kv.Key]; ok {
			return fmt.Errorf("%w: duplicate env key %q", ErrInvalidArgument, kv.Key)
		}
		seen[kv.Key] = struct{}{}
	}
	return nil
}

// Merge overlays e onto base, a list of KEY=VALUE pairs as returned by
// os.Environ. Keys present in e win, the order of base is kept and new keys
// are appended.
func (e Env) Merge(base []string) []string {
	overlay := make(map[string]string, len(e))
	for _, kv := range e {
		overlay[kv.Key] = kv.Value
	}

	out := make([]string, 0, len(base)+len(e))
	written := make(map[string]struct{}, len(e))
	for _, pair := range base {
		key, _, _ := strings.Cut(pair, "=")
		v, ok := overlay[key]
		if !ok {
			out = append(out, pair)
			continue
		}
		if _, dup := written[key]; !dup {
			out = append(out, key+"="+v)
			written[key] = struct{}{}
		}
	}
	for _, kv := range e {
		if _, ok := written[kv.Key]; !ok {
			out = append(out, kv.Key+"="+kv.Value)
		}
	}
	return out
}

// Environ is Merge on top of the current process environment.
func (e Env) Environ() []string {
	return e.Merge(os.Environ())
}
