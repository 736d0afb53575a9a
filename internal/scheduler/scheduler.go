// Package scheduler implements the project daemon: the loop that discovers
// the next task of every dataset, keeps the concurrency ceiling, detects
// completion through result documents and reports its state on disk.
package scheduler

import (
	"context"

	"github.com/me/miga/pkg/model"
)

// Scheduler runs a project's processing loop.
type Scheduler interface {
	// Run ticks until the work is done, ctx is cancelled or a tick fails.
	Run(ctx context.Context) error

	// Tick runs a single iteration and reports whether the loop should go on.
	Tick(ctx context.Context) (bool, error)

	// Terminate persists the final status and kills every running task.
	Terminate(ctx context.Context) error
}

// Project is the view of a project the daemon needs. Every call is
// synchronous; errors abort the tick.
type Project interface {
	Path() string
	Name() string

	// Load re-reads the project and its dataset listing.
	Load(ctx context.Context) error

	// DatasetNames returns the datasets in listing order.
	DatasetNames() []string

	// NextPreprocessing returns the next task of a dataset. A dataset that is
	// listed but cannot be loaded yields a *model.DatasetNotLoadedError.
	NextPreprocessing(ctx context.Context, dataset string) (model.TaskKind, bool, error)

	// DonePreprocessing reports whether all datasets finished preprocessing.
	DonePreprocessing(ctx context.Context, strict bool) (bool, error)

	// NextTask returns the next project-wide task of stage.
	NextTask(ctx context.Context, stage model.Stage) (model.TaskKind, bool, error)

	// ResultExists reports whether kind has a result for dataset; an empty
	// dataset asks about the project-wide result.
	ResultExists(dataset string, kind model.TaskKind) bool
}

// Journal receives the job events of a daemon.
type Journal interface {
	RecordEvent(ctx context.Context, ev *model.JobEvent) error
}
