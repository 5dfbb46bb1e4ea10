package model

import (
	"encoding/json"
	"fmt"
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultRunner = "overseer"
	DefaultListen = "127.0.0.1:8080"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx     *cue.Context
	schemaRoot cue.Value
	schema     cue.Value
	specSchema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schemaRoot = compiled
	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	specSchema = compiled.LookupPath(cue.ParsePath("#TaskSpec"))
	if specSchema.Err() != nil {
		panic(specSchema.Err())
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Service Service `json:"service" yaml:"service"`
	API     API     `json:"api" yaml:"api"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
	Tracing Tracing `json:"tracing" yaml:"tracing"`
	Tasks   []Task  `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

type Service struct {
	Runner                string `json:"runner" yaml:"runner"`
	Verbose               bool   `json:"verbose" yaml:"verbose"`
	Log                   string `json:"log" yaml:"log"` // "stderr"|"stdout"|"discard"|path
	MaxConcurrent         int    `json:"max_concurrent" yaml:"max_concurrent"`
	ResetAttemptOnSuccess bool   `json:"reset_attempt_on_success" yaml:"reset_attempt_on_success"`
	Retention             string `json:"retention,omitempty" yaml:"retention,omitempty"` // Go duration, empty keeps everything
}

// API configures the HTTP adapter.
type API struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Listen  TCPAddr `json:"listen" yaml:"listen"`
}

type Metrics struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type Tracing struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"` // empty means stdout
}

// Task is submitted by the service on startup, or repeatedly when Schedule
// is set.
type Task struct {
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Spec     TaskSpec  `json:"spec" yaml:"spec"`
}

// Schedule is either a 5 field cron expression or an ISO8601 duration.
type Schedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	var out Config
	if err := load("config.yaml", r, schema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadTaskSpec validates a single YAML or JSON task spec, filling in the
// schema defaults.
func LoadTaskSpec(r io.Reader) (TaskSpec, error) {
	var out TaskSpec
	if err := load("spec.yaml", r, specSchema, &out); err != nil {
		return TaskSpec{}, err
	}
	if err := out.Validate(); err != nil {
		return TaskSpec{}, err
	}
	return out, nil
}

// load unifies the document with the schema and round trips the result
// through JSON, so the text unmarshalers of the enums are used.
func load(name string, r io.Reader, def cue.Value, out any) error {
	yamlFile, err := yaml.Extract(name, r)
	if err != nil {
		return err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := def.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return err
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

// DefaultConfig is stored when no configuration file exists. The tasks are
// illustrative periodic callers of the supervisor.
func DefaultConfig() Config {
	var listen TCPAddr
	if err := listen.UnmarshalText([]byte(DefaultListen)); err != nil {
		panic(err)
	}
	every := func(slot, command string, args ...string) Task {
		return Task{
			Schedule: &Schedule{Duration: "PT1M"},
			Spec: TaskSpec{
				Slot: slot,
				Kind: TaskKind{Subprocess: &Subprocess{
					Command:       command,
					Args:          args,
					FailOnNonZero: true,
				}},
				TimeoutMs: 10_000,
				Restart:   RestartNever,
				Backoff:   DefaultBackoff,
				Admission: AdmissionDropIfRunning,
			},
		}
	}
	echo := every("echo", "sh", "-c", "echo $MESSAGE")
	echo.Spec.Kind.Subprocess.Env = Env{{Key: "MESSAGE", Value: "Hello"}}

	return Config{
		Version: 0,
		Service: Service{
			Runner: DefaultRunner,
			Log:    LogStderr,
		},
		API: API{
			Enabled: true,
			Listen:  listen,
		},
		Metrics: Metrics{Enabled: true},
		Tasks: []Task{
			every("date", "date"),
			every("uptime", "uptime"),
			echo,
		},
	}
}
