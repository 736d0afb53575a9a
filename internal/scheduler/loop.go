package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/miga/internal/backend"
	"github.com/me/miga/internal/config"
	"github.com/me/miga/pkg/model"
)

// purgeEvery is the number of ticks between dead-task purges.
const purgeEvery = 5

// Config holds daemon wiring beyond the project's runtime configuration.
type Config struct {
	Runtime  *config.Runtime
	MigaRoot string

	// Journal records job events. Optional.
	Journal Journal
	// Lair registers the daemon for shutdown. Optional.
	Lair *Lair

	// Rand returns the rotation offset in [0, n). Defaults to rand.IntN.
	Rand func(n int) int
	// Sleep waits between ticks. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
}

var _ Scheduler = (*Daemon)(nil)

// Daemon is the processing loop of one project.
type Daemon struct {
	project Project
	rt      *config.Runtime
	builder *backend.Builder
	backend backend.Backend
	journal Journal
	logger  *slog.Logger

	id      string
	started bool
	loop    int
	toRun   []*model.Task
	running []*model.Task

	rand  func(int) int
	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	mu       sync.Mutex
	snapshot model.DaemonSnapshot

	termOnce sync.Once
	termErr  error
}

// New creates an inactive daemon for p using the backend registered for the
// runtime's type.
func New(p Project, reg *backend.Registry, cfg Config, logger *slog.Logger) (*Daemon, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("daemon runtime configuration is required")
	}
	be, err := reg.Get(cfg.Runtime.Type)
	if err != nil {
		return nil, err
	}
	d := &Daemon{
		project: p,
		rt:      cfg.Runtime,
		builder: backend.NewBuilder(backend.BuilderConfig{
			ProjectPath: p.Path(),
			ProjectName: p.Name(),
			MigaRoot:    cfg.MigaRoot,
		}, cfg.Runtime),
		backend: be,
		journal: cfg.Journal,
		id:      uuid.NewString(),
		rand:    cfg.Rand,
		sleep:   cfg.Sleep,
		now:     cfg.Now,
	}
	d.logger = logger.With("component", "daemon", "project", p.Name(), "instance", d.id)
	if d.rand == nil {
		d.rand = rand.IntN
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	if d.now == nil {
		d.now = time.Now
	}
	if cfg.Lair != nil {
		cfg.Lair.Add(d)
	}
	return d, nil
}

// ID returns the daemon instance identifier.
func (d *Daemon) ID() string { return d.id }

// Run ticks until shutdown_when_done finds nothing left to do, ctx is
// cancelled or a tick fails. Termination is left to the caller.
func (d *Daemon) Run(ctx context.Context) error {
	latency := time.Duration(d.rt.Latency) * time.Second
	for {
		cont, err := d.Tick(ctx)
		if err != nil {
			d.logger.Error("tick failed", "iteration", d.loop, "error", err)
			return err
		}
		if !cont {
			return nil
		}
		if err := d.sleep(ctx, latency); err != nil {
			d.logger.Info("daemon stopping (context cancelled)")
			return err
		}
	}
}

// Tick runs a single iteration. It returns false when the daemon is done.
func (d *Daemon) Tick(ctx context.Context) (bool, error) {
	if !d.started {
		d.logger.Info("-----------------------------------")
		d.logger.Info("daemon launched", "type", d.rt.Type, "maxjobs", d.rt.MaxJobs, "latency", d.rt.Latency)
		d.logger.Info("-----------------------------------")
		d.started = true
	}
	d.loop++

	if err := d.declareAlive(); err != nil {
		return false, fmt.Errorf("declare alive: %w", err)
	}
	if err := d.project.Load(ctx); err != nil {
		return false, fmt.Errorf("reload project: %w", err)
	}
	if err := d.checkDatasets(ctx); err != nil {
		return false, fmt.Errorf("check datasets: %w", err)
	}
	if err := d.checkProject(ctx); err != nil {
		return false, fmt.Errorf("check project: %w", err)
	}
	if err := d.flush(ctx); err != nil {
		return false, fmt.Errorf("flush: %w", err)
	}
	if d.loop%purgeEvery == 0 {
		d.logger.Info("housekeeping for sanity")
		d.purge(ctx)
	}
	if err := d.reportStatus(); err != nil {
		return false, fmt.Errorf("report status: %w", err)
	}

	if d.rt.ShutdownWhenDone && len(d.running)+len(d.toRun) == 0 {
		d.logger.Info("nothing else to do, shutting down")
		return false, nil
	}
	return true, nil
}

// checkDatasets queues the next task of every dataset. A listed dataset that
// cannot be loaded triggers a project reload and is skipped for this tick.
func (d *Daemon) checkDatasets(ctx context.Context) error {
	for _, name := range d.project.DatasetNames() {
		kind, ok, err := d.project.NextPreprocessing(ctx, name)
		var notLoaded *model.DatasetNotLoadedError
		if errors.As(err, &notLoaded) {
			d.logger.Warn("dataset listed but not loaded, reloading project", "dataset", name)
			if err := d.project.Load(ctx); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("dataset %s: %w", name, err)
		}
		if ok {
			if err := d.queue(ctx, name, kind); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkProject queues the next project-wide task once every dataset is
// preprocessed. Distances come before clade tasks.
func (d *Daemon) checkProject(ctx context.Context) error {
	if len(d.project.DatasetNames()) == 0 {
		return nil
	}
	done, err := d.project.DonePreprocessing(ctx, false)
	if err != nil || !done {
		return err
	}
	for _, stage := range []model.Stage{model.StageDistance, model.StageInclade} {
		kind, ok, err := d.project.NextTask(ctx, stage)
		if err != nil {
			return fmt.Errorf("next %s task: %w", stage, err)
		}
		if ok {
			return d.queue(ctx, "", kind)
		}
	}
	return nil
}

// queue appends the task for (dataset, kind) unless one with the same
// identity is already queued or running.
func (d *Daemon) queue(ctx context.Context, dataset string, kind model.TaskKind) error {
	key := model.TaskKey{Dataset: dataset, Kind: kind}
	if d.find(key) != nil {
		return nil
	}
	task, err := d.builder.Build(dataset, kind)
	if err != nil {
		return err
	}
	d.logger.Info("queueing", "ds_name", task.DatasetName, "job", kind)
	d.toRun = append(d.toRun, task)
	d.record(ctx, model.EventQueued, task)
	return nil
}

func (d *Daemon) find(key model.TaskKey) *model.Task {
	for _, q := range [][]*model.Task{d.toRun, d.running} {
		for _, t := range q {
			if t.Key() == key {
				return t
			}
		}
	}
	return nil
}

// flush drops completed tasks from the running set, rotates the queue and
// launches tasks while the ceiling allows. Each queued task is attempted at
// most once per flush.
func (d *Daemon) flush(ctx context.Context) error {
	d.running = slices.DeleteFunc(d.running, func(t *model.Task) bool {
		if !d.project.ResultExists(t.Dataset, t.Kind) {
			return false
		}
		d.logger.Info("completed", "pid", t.Handle, "task", t.Name)
		d.record(ctx, model.EventCompleted, t)
		return true
	})

	if n := len(d.toRun); n > 1 {
		off := d.rand(n)
		d.toRun = append(d.toRun[off:len(d.toRun):len(d.toRun)], d.toRun[:off]...)
	}

	for attempts := len(d.toRun); attempts > 0 && len(d.running) < d.rt.MaxJobs && len(d.toRun) > 0; attempts-- {
		task := d.toRun[0]
		d.toRun = d.toRun[1:]
		if err := d.launch(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// launch dispatches task. A launch that yields no handle puts the task back
// at the tail of the queue.
func (d *Daemon) launch(ctx context.Context, task *model.Task) error {
	handle, err := d.backend.Launch(ctx, task)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || handle == "" {
		task.Handle = ""
		d.toRun = append(d.toRun, task)
		d.logger.Warn("unsuccessful, rescheduling", "task", task.Name, "error", err)
		d.record(ctx, model.EventRequeued, task)
		return nil
	}
	task.Handle = handle
	d.running = append(d.running, task)
	d.logger.Info("spawned", "pid", handle, "task", task.Name)
	d.record(ctx, model.EventLaunched, task)
	return nil
}

// purge drops running tasks the backend no longer reports alive, including
// those whose liveness check fails. They are not requeued; the project offers
// them again if they are still pending.
func (d *Daemon) purge(ctx context.Context) {
	d.running = slices.DeleteFunc(d.running, func(t *model.Task) bool {
		alive, err := d.backend.Alive(ctx, t.Handle)
		if err != nil {
			d.logger.Warn("liveness check failed", "pid", t.Handle, "task", t.Name, "error", err)
		}
		if alive {
			return false
		}
		d.logger.Info("purged dead task", "pid", t.Handle, "task", t.Name)
		d.record(ctx, model.EventPurged, t)
		return true
	})
}

// Terminate persists the final status, requests termination of every running
// task without waiting for it and removes the liveness marker. It runs at
// most once.
func (d *Daemon) Terminate(ctx context.Context) error {
	d.termOnce.Do(func() {
		d.logger.Info("terminating daemon")
		var errs []error
		if err := d.reportStatus(); err != nil {
			errs = append(errs, err)
		}
		for _, t := range d.running {
			if err := d.backend.Kill(ctx, t.Handle); err != nil {
				d.logger.Warn("kill failed", "pid", t.Handle, "task", t.Name, "error", err)
			}
			d.logger.Info("terminating", "pid", t.Handle, "task", t.Name)
			d.record(ctx, model.EventKilled, t)
		}
		if err := d.removeAlive(); err != nil {
			errs = append(errs, err)
		}
		d.termErr = errors.Join(errs...)
	})
	return d.termErr
}

// Snapshot returns a copy of the state published after the last tick.
func (d *Daemon) Snapshot() model.DaemonSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.snapshot
	s.JobsRunning = cloneTasks(s.JobsRunning)
	s.JobsToRun = cloneTasks(s.JobsToRun)
	return s
}

func (d *Daemon) publish() model.Status {
	st := model.Status{JobsRunning: cloneTasks(d.running), JobsToRun: cloneTasks(d.toRun)}
	d.mu.Lock()
	d.snapshot = model.DaemonSnapshot{
		Instance:  d.id,
		Project:   d.project.Name(),
		Iteration: d.loop,
		LastTick:  d.now(),
		MaxJobs:   d.rt.MaxJobs,
		Status:    st,
	}
	d.mu.Unlock()
	return st
}

func (d *Daemon) record(ctx context.Context, typ model.EventType, t *model.Task) {
	if d.journal == nil {
		return
	}
	if err := d.journal.RecordEvent(ctx, model.NewJobEvent(d.id, typ, t, d.now())); err != nil {
		d.logger.Warn("record job event", "event", typ, "task", t.Name, "error", err)
	}
}

func cloneTasks(ts []*model.Task) []*model.Task {
	out := make([]*model.Task, len(ts))
	for i, t := range ts {
		c := *t
		out[i] = &c
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
