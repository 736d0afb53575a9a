package backend

import (
	"context"
	"log/slog"

	"github.com/me/miga/pkg/model"
)

// QueueBackend submits each task through a cluster queue command (qsub, msub,
// sbatch wrappers) and uses the command's output as the job handle.
type QueueBackend struct {
	tmpl   Templates
	shell  Shell
	logger *slog.Logger
}

// NewQueueBackend creates a QueueBackend.
func NewQueueBackend(t Templates, logger *slog.Logger) *QueueBackend {
	return &QueueBackend{
		tmpl:   t,
		shell:  RunShell,
		logger: logger.With("component", "queue-backend"),
	}
}

// Family returns model.FamilyQueue.
func (b *QueueBackend) Family() model.BackendFamily {
	return model.FamilyQueue
}

// Launch runs the submission command synchronously. Only the printed job id
// matters: a submitter that prints an id and exits non-zero still counts as
// registered, and one that prints nothing did not register the job.
func (b *QueueBackend) Launch(ctx context.Context, task *model.Task) (string, error) {
	out, err := b.shell(ctx, task.Command)
	if out == "" {
		return "", err
	}
	if err != nil {
		b.logger.Warn("submit command reported an error", "task", task.Name, "job_id", out, "error", err)
	}
	return out, nil
}

// Kill runs the kill template against handle.
func (b *QueueBackend) Kill(ctx context.Context, handle string) error {
	_, err := b.shell(ctx, Format(b.tmpl.Kill, handle))
	return err
}

// Alive runs the alive template. Without one the queue cannot be asked, so
// every job is assumed alive until its result shows up.
func (b *QueueBackend) Alive(ctx context.Context, handle string) (bool, error) {
	if b.tmpl.Alive == "" {
		return true, nil
	}
	return checkAlive(ctx, b.shell, b.tmpl.Alive, handle)
}
