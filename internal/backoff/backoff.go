// Package backoff computes the delay before a task is relaunched after a
// failed run.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/CZERTAINLY/Overseer/internal/model"
)

// Source of randomness for the jitter. *rand.Rand satisfies it.
type Source interface {
	Int64N(n int64) int64
}

type globalSource struct{}

func (globalSource) Int64N(n int64) int64 {
	return rand.Int64N(n)
}

// Calculator is safe for concurrent use when its Source is.
type Calculator struct {
	src Source
}

// New returns a calculator using src, or the global math/rand/v2 source when
// src is nil.
func New(src Source) Calculator {
	if src == nil {
		src = globalSource{}
	}
	return Calculator{src: src}
}

// NewSeeded returns a calculator with a deterministic PCG source.
func NewSeeded(seed uint64) Calculator {
	return New(&lockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))})
}

// Base is min(maxMs, firstMs * factor^(attempt-1)) without jitter.
func Base(attempt int, cfg model.Backoff) (int64, error) {
	if attempt < 1 {
		return 0, fmt.Errorf("%w: attempt must be >= 1, got %d", model.ErrInvalidArgument, attempt)
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	v := float64(cfg.FirstMs) * math.Pow(cfg.Factor, float64(attempt-1))
	if math.IsInf(v, 0) || math.IsNaN(v) || v >= float64(cfg.MaxMs) {
		return cfg.MaxMs, nil
	}
	return int64(v), nil
}

// NextDelay returns the jittered delay in milliseconds for the given 1-based
// attempt.
func (c Calculator) NextDelay(attempt int, cfg model.Backoff) (int64, error) {
	base, err := Base(attempt, cfg)
	if err != nil {
		return 0, err
	}
	switch cfg.Jitter {
	case model.JitterFull:
		return c.src.Int64N(base + 1), nil
	case model.JitterEqual:
		half := base / 2
		return half + c.src.Int64N(base-half+1), nil
	default:
		return base, nil
	}
}

// Duration is NextDelay as a time.Duration.
func (c Calculator) Duration(attempt int, cfg model.Backoff) (time.Duration, error) {
	ms, err := c.NextDelay(attempt, cfg)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
