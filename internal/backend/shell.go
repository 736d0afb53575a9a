package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Shell runs a command line synchronously and returns its trimmed stdout.
type Shell func(ctx context.Context, command string) (string, error)

// RunShell executes command through sh -c. A non-zero exit is reported as an
// error together with whatever the command printed.
func RunShell(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, fmt.Errorf("%q exited %d: %s", command, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		return out, fmt.Errorf("run %q: %w", command, err)
	}
	return out, nil
}

// checkAlive runs an alive template for handle and reports whether it
// printed 1. Any other outcome is dead; a failed command is also returned as
// the error so callers can log it.
func checkAlive(ctx context.Context, sh Shell, tmpl, handle string) (bool, error) {
	out, err := sh(ctx, Format(tmpl, handle))
	if strings.TrimSpace(out) == "1" {
		return true, nil
	}
	return false, err
}
