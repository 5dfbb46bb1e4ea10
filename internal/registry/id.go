package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/Overseer/internal/model"
)

// FormatID returns "<runner>-<slot>-<counter>".
func FormatID(runner, slot string, counter uint64) string {
	return runner + "-" + slot + "-" + strconv.FormatUint(counter, 10)
}

// ParseID splits an id produced by FormatID. Runner names never contain a
// dash while slots may, so the runner ends at the first dash and the
// counter starts after the last one.
func ParseID(id string) (runner, slot string, counter uint64, err error) {
	runner, rest, ok := strings.Cut(id, "-")
	if !ok || runner == "" {
		return "", "", 0, fmt.Errorf("%w: malformed task id %q", model.ErrInvalidArgument, id)
	}
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 {
		return "", "", 0, fmt.Errorf("%w: malformed task id %q", model.ErrInvalidArgument, id)
	}
	counter, err = strconv.ParseUint(rest[i+1:], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: malformed task id %q: %w", model.ErrInvalidArgument, id, err)
	}
	return runner, rest[:i], counter, nil
}

// ValidateRunner checks the runner name can be used in ids.
func ValidateRunner(runner string) error {
	if runner == "" || strings.ContainsAny(runner, "- \t\n") {
		return fmt.Errorf("%w: runner name %q must be non-empty without dashes or spaces", model.ErrInvalidArgument, runner)
	}
	return nil
}
