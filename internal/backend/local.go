package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/me/miga/pkg/model"
)

// LocalBackend spawns each task as a detached local shell process. The
// handle is the process id.
type LocalBackend struct {
	tmpl   Templates
	shell  Shell
	logger *slog.Logger
}

// NewLocalBackend creates a LocalBackend.
func NewLocalBackend(t Templates, logger *slog.Logger) *LocalBackend {
	return &LocalBackend{
		tmpl:   t,
		shell:  RunShell,
		logger: logger.With("component", "local-backend"),
	}
}

// Family returns model.FamilyLocal.
func (b *LocalBackend) Family() model.BackendFamily {
	return model.FamilyLocal
}

// Launch starts the command in its own process group and returns without
// waiting for it. The process is reaped in the background so a finished task
// does not linger as a zombie that still answers liveness checks.
func (b *LocalBackend) Launch(_ context.Context, task *model.Task) (string, error) {
	cmd := exec.Command("sh", "-c", task.Command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("spawn %s: %w", task.Name, err)
	}
	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		b.logger.Debug("process exited", "pid", pid, "task", task.Name, "error", err)
	}()
	if pid <= 0 {
		return "", nil
	}
	return strconv.Itoa(pid), nil
}

// Kill runs the kill template against handle.
func (b *LocalBackend) Kill(ctx context.Context, handle string) error {
	_, err := b.shell(ctx, Format(b.tmpl.Kill, handle))
	return err
}

// Alive uses the alive template when configured and otherwise checks the
// process id with signal 0.
func (b *LocalBackend) Alive(ctx context.Context, handle string) (bool, error) {
	if b.tmpl.Alive != "" {
		return checkAlive(ctx, b.shell, b.tmpl.Alive, handle)
	}
	pid, err := strconv.Atoi(handle)
	if err != nil {
		return false, fmt.Errorf("local handle %q is not a pid", handle)
	}
	return processExists(pid), nil
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
