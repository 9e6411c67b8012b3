package idgen

import (
	"strconv"
	"sync/atomic"
)

// Sequence is a deterministic Generator for tests: NewID returns
// "<prefix><n>" for an incrementing n, so assertions can match exact ids.
type Sequence struct {
	Prefix  string
	counter uint64
}

func (s *Sequence) NewID() string {
	n := atomic.AddUint64(&s.counter, 1)
	return s.Prefix + strconv.FormatUint(n, 10)
}
