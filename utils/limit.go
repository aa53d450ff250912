package utils

import "context"

// Limiter caps the number of requests or connections in flight.
type Limiter struct {
	tokens chan struct{}
}

func NewLimiter(n int) *Limiter {
	return &Limiter{
		tokens: make(chan struct{}, n),
	}
}

// Get blocks until a slot is free. It reports false when ctx ends first.
func (l *Limiter) Get(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case l.tokens <- struct{}{}:
		return true
	}
}

func (l *Limiter) PutBack() {
	select {
	case <-l.tokens:
	default:
	}
}

func (l *Limiter) InUse() int {
	return len(l.tokens)
}
