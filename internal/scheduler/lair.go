package scheduler

import (
	"context"
	"errors"
	"sync"
)

// Lair tracks every daemon created in the process so they can all be
// terminated on exit.
type Lair struct {
	mu      sync.Mutex
	daemons []Scheduler
}

// NewLair creates an empty Lair.
func NewLair() *Lair {
	return &Lair{}
}

// Add registers d.
func (l *Lair) Add(d Scheduler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.daemons = append(l.daemons, d)
}

// Len returns the number of registered daemons.
func (l *Lair) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.daemons)
}

// ShutdownAll terminates every registered daemon. Daemons already terminated
// are not terminated again.
func (l *Lair) ShutdownAll(ctx context.Context) error {
	l.mu.Lock()
	daemons := append([]Scheduler(nil), l.daemons...)
	l.mu.Unlock()

	var errs []error
	for _, d := range daemons {
		if err := d.Terminate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
