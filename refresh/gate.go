package refresh

import "context"

// Gate is a counting semaphore bounding how many login flows run
// simultaneously across all sites.
//
// Design choices, adapted from a bounded worker pool:
//   - Permits are a buffered channel of empty structs: Acquire sends,
//     Release receives.  Contention is expected, not exceptional, so
//     blocked Acquires simply queue on the channel.
//   - A permit is held only for the duration of one login-flow attempt,
//     never across back-off sleeps; otherwise a handful of failing sites
//     could starve healthy ones.
type Gate struct {
	permits chan struct{}
}

// NewGate creates a Gate admitting up to capacity concurrent holders.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{permits: make(chan struct{}, capacity)}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit.  It must be called exactly once per successful
// Acquire.
func (g *Gate) Release() {
	<-g.permits
}
