package fetch

import "sync/atomic"

// Breaker is the rate-limit flag shared by every fetch of one batch. Once
// tripped it stays open; start each batch with a new Breaker.
type Breaker struct {
	open atomic.Bool
}

func NewBreaker() *Breaker { return &Breaker{} }

// Open reports whether the breaker has been tripped. A nil Breaker is never open.
func (b *Breaker) Open() bool {
	return b != nil && b.open.Load()
}

func (b *Breaker) Trip() {
	if b != nil {
		b.open.Store(true)
	}
}
