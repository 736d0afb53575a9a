// Package backend launches formatted task commands on the configured
// execution backend and checks or terminates them later by handle.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/miga/pkg/model"
)

// Backend is a pluggable execution target.
type Backend interface {
	// Family returns the backend family identifier.
	Family() model.BackendFamily

	// Launch starts the task's command and returns its handle. An empty
	// handle means the task was not registered by the backend.
	Launch(ctx context.Context, task *model.Task) (handle string, err error)

	// Kill requests termination of handle without waiting for it to exit.
	Kill(ctx context.Context, handle string) error

	// Alive reports whether handle is still running.
	Alive(ctx context.Context, handle string) (bool, error)
}

// Registry maps backend families to their implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	backends map[model.BackendFamily]Backend
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[model.BackendFamily]Backend),
		logger:   logger.With("component", "backend-registry"),
	}
}

// Register adds a Backend, keyed by its Family().
func (r *Registry) Register(b Backend) {
	f := b.Family()
	r.backends[f] = b
	r.logger.Debug("backend registered", "family", f)
}

// Get returns the Backend serving type t or an error if none is registered.
func (r *Registry) Get(t model.BackendType) (Backend, error) {
	b, ok := r.backends[t.Family()]
	if !ok {
		return nil, fmt.Errorf("no backend registered for type %q", t)
	}
	return b, nil
}

// Templates are the runtime templates a backend needs after launch.
type Templates struct {
	Kill  string // receives the handle as its only argument
	Alive string // optional; prints 1 while the handle is live
}

// DefaultRegistry registers the local and queue backends using the given
// templates.
func DefaultRegistry(t Templates, logger *slog.Logger) *Registry {
	reg := NewRegistry(logger)
	reg.Register(NewLocalBackend(t, logger))
	reg.Register(NewQueueBackend(t, logger))
	return reg
}
