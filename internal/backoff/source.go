package backoff

import (
	"math/rand/v2"
	"sync"
)

// lockedSource serializes access to a *rand.Rand, which is not safe for
// concurrent use on its own.
type lockedSource struct {
	mx sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) Int64N(n int64) int64 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.r.Int64N(n)
}
