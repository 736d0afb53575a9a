package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Injection points for tests.
var (
	executableFn = os.Executable
	signalFn     = unix.Kill
	startTimeout = 10 * time.Second
)

// errExitedEarly reports a spawned daemon that ended before locking its pid
// file. The reason is in the daemon output file.
var errExitedEarly = errors.New("daemon exited before taking the pid lock")

// StartOptions describe a daemon to launch in the background.
type StartOptions struct {
	Project string   // absolute project directory
	Paths   Paths    // process files of the project daemon
	Args    []string // extra arguments passed to "daemon run"
}

// Start launches "miga daemon run" for the project as a detached process
// whose output is appended to the daemon output file. It returns once the
// child holds the pid lock. If another daemon wins the lock first, its pid is
// returned with ErrAlreadyRunning.
func Start(opts StartOptions) (int, error) {
	if pid, running, err := Running(opts.Paths.PIDFile); err != nil {
		return 0, err
	} else if running {
		return pid, ErrAlreadyRunning
	}

	exe, err := executableFn()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.Paths.OutputFile), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(opts.Paths.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open daemon output: %w", err)
	}
	defer out.Close()

	cmd := buildDaemonCommand(exe, opts.Project, opts.Args)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	pid := cmd.Process.Pid
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if holder, err := awaitLock(opts.Paths, pid, exited); err != nil {
		return holder, err
	}
	return pid, nil
}

// awaitLock polls the pid file until the child with pid holds it. A child
// that exits cleanly first has already run to completion.
func awaitLock(paths Paths, pid int, exited <-chan error) (int, error) {
	deadline := time.Now().Add(startTimeout)
	for {
		holder, running, err := Running(paths.PIDFile)
		if err != nil {
			return pid, err
		}
		switch {
		case running && holder == pid:
			return pid, nil
		case running && holder != 0:
			// A concurrent start won the lock; ours exits on its own.
			return holder, ErrAlreadyRunning
		}

		select {
		case werr := <-exited:
			if werr == nil {
				return pid, nil
			}
			return pid, fmt.Errorf("%w, see %s: %v", errExitedEarly, paths.OutputFile, werr)
		default:
		}
		if time.Now().After(deadline) {
			return pid, fmt.Errorf("daemon %d did not take %s within %s", pid, paths.PIDFile, startTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Stop sends SIGTERM to the daemon holding the pid file and waits up to
// timeout for it to release the file.
func Stop(path string, timeout time.Duration) error {
	pid, running, err := Running(path)
	if err != nil {
		return err
	}
	if !running {
		return ErrNotRunning
	}
	if err := signalFn(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal daemon %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		_, running, err := Running(path)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon %d did not stop within %s", pid, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildDaemonCommand(exe, project string, extra []string) *exec.Cmd {
	args := append([]string{"daemon", "run", "--project", project}, extra...)
	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}
