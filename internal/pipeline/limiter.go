package pipeline

import "context"

// Limiter bounds concurrent inference calls on one engine. A limit of 1
// serializes access for runtimes that are not reentrant.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter creates a limiter admitting n concurrent holders (minimum 1).
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	<-l.sem
}

// InUse returns the number of held slots.
func (l *Limiter) InUse() int {
	return len(l.sem)
}
