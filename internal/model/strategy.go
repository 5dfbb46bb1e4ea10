package model

import (
	"fmt"
	"strings"
)

// AdmissionStrategy decides what happens when a submission targets a slot
// which already has a live occupant.
type AdmissionStrategy int

const (
	AdmissionDropIfRunning AdmissionStrategy = iota
	AdmissionReplace
)

func (s AdmissionStrategy) String() string {
	switch s {
	case AdmissionDropIfRunning:
		return "dropIfRunning"
	case AdmissionReplace:
		return "replace"
	default:
		return fmt.Sprintf("AdmissionStrategy(%d)", int(s))
	}
}

// ParseAdmission accepts the canonical names plus a few aliases, case insensitive.
func ParseAdmission(s string) (AdmissionStrategy, error) {
	switch normalize(s) {
	case "", "dropifrunning", "drop-if-running", "drop":
		return AdmissionDropIfRunning, nil
	case "replace":
		return AdmissionReplace, nil
	default:
		return 0, fmt.Errorf("%w: unknown admission strategy %q", ErrInvalidSpec, s)
	}
}

func (s AdmissionStrategy) MarshalText() ([]byte, error) {
	if s != AdmissionDropIfRunning && s != AdmissionReplace {
		return nil, fmt.Errorf("%w: unknown admission strategy %d", ErrInvalidSpec, int(s))
	}
	return []byte(s.String()), nil
}

func (s *AdmissionStrategy) UnmarshalText(text []byte) error {
	v, err := ParseAdmission(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// RestartStrategy tells the restart scheduler whether a finished run is
// launched again.
type RestartStrategy int

const (
	RestartNever RestartStrategy = iota
	RestartAlways
	// RestartOnFailure restarts after Failed, TimedOut and SpawnFailed only.
	RestartOnFailure
)

func (s RestartStrategy) String() string {
	switch s {
	case RestartNever:
		return "never"
	case RestartAlways:
		return "always"
	case RestartOnFailure:
		return "onFailure"
	default:
		return fmt.Sprintf("RestartStrategy(%d)", int(s))
	}
}

func ParseRestart(s string) (RestartStrategy, error) {
	switch normalize(s) {
	case "", "never":
		return RestartNever, nil
	case "always":
		return RestartAlways, nil
	case "onfailure", "on-failure", "failure":
		return RestartOnFailure, nil
	default:
		return 0, fmt.Errorf("%w: unknown restart strategy %q", ErrInvalidSpec, s)
	}
}

func (s RestartStrategy) MarshalText() ([]byte, error) {
	if s < RestartNever || s > RestartOnFailure {
		return nil, fmt.Errorf("%w: unknown restart strategy %d", ErrInvalidSpec, int(s))
	}
	return []byte(s.String()), nil
}

func (s *RestartStrategy) UnmarshalText(text []byte) error {
	v, err := ParseRestart(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// JitterStrategy is the randomization applied on top of the exponential
// backoff base delay.
type JitterStrategy int

const (
	JitterNone JitterStrategy = iota
	JitterFull
	JitterEqual
)

func (s JitterStrategy) String() string {
	switch s {
	case JitterNone:
		return "none"
	case JitterFull:
		return "full"
	case JitterEqual:
		return "equal"
	default:
		return fmt.Sprintf("JitterStrategy(%d)", int(s))
	}
}

func ParseJitter(s string) (JitterStrategy, error) {
	switch normalize(s) {
	case "", "none":
		return JitterNone, nil
	case "full", "default":
		return JitterFull, nil
	case "equal":
		return JitterEqual, nil
	default:
		return 0, fmt.Errorf("%w: unknown jitter strategy %q", ErrInvalidSpec, s)
	}
}

func (s JitterStrategy) MarshalText() ([]byte, error) {
	if s < JitterNone || s > JitterEqual {
		return nil, fmt.Errorf("%w: unknown jitter strategy %d", ErrInvalidSpec, int(s))
	}
	return []byte(s.String()), nil
}

func (s *JitterStrategy) UnmarshalText(text []byte) error {
	v, err := ParseJitter(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
