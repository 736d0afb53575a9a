package store

import (
	"context"

	"github.com/me/miga/pkg/model"
)

// Store is the job history of one project.
type Store interface {
	// Daemon runs
	StartInstance(ctx context.Context, inst *model.DaemonInstance) error
	StopInstance(ctx context.Context, id string) error
	ListInstances(ctx context.Context, limit int) ([]*model.DaemonInstance, error)

	// Job events
	RecordEvent(ctx context.Context, ev *model.JobEvent) error
	ListEvents(ctx context.Context, f model.EventFilter) ([]*model.JobEvent, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
