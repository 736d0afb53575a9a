// Package daemon controls the background daemon process of a project: the
// pid file that keeps it single-instance, detached spawning, and stopping
// it by signal.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	ErrAlreadyRunning = errors.New("daemon already running")
	ErrNotRunning     = errors.New("daemon not running")
)

// Paths are the process files of one project daemon.
type Paths struct {
	PIDFile    string
	OutputFile string
}

// PathsFor returns the process files of the daemon named after projectName.
func PathsFor(projectDir, projectName string) Paths {
	base := filepath.Join(projectDir, "daemon", "MiGA_"+projectName)
	return Paths{PIDFile: base + ".pid", OutputFile: base + ".output"}
}

// PIDLock is an exclusive advisory lock on the pid file, held for the
// lifetime of the daemon process.
type PIDLock struct {
	file *os.File
}

// AcquirePIDLock locks path and records the current process id in it. It
// fails with ErrAlreadyRunning if another process holds the lock.
func AcquirePIDLock(path string) (*PIDLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	ok, err := tryLock(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	if !ok {
		file.Close()
		return nil, ErrAlreadyRunning
	}
	if err := file.Truncate(0); err != nil {
		unlock(file)
		file.Close()
		return nil, err
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		unlock(file)
		file.Close()
		return nil, err
	}
	return &PIDLock{file: file}, nil
}

// Release clears the recorded pid and drops the lock. The file itself stays:
// unlinking it would let a process that already opened it lock an inode no
// longer reachable by path, next to a fresh pid file locked by a third.
func (l *PIDLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	truncErr := l.file.Truncate(0)
	err := unlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(truncErr, err, closeErr)
}

// Running reports whether a daemon holds the pid file at path, and its pid.
func Running(path string) (int, bool, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer file.Close()

	ok, err := tryLock(file)
	if err != nil {
		return 0, false, err
	}
	if ok {
		// Nobody holds it: a stale file from a daemon that died.
		unlock(file)
		return 0, false, nil
	}
	pid, err := readPID(path)
	if err != nil {
		return 0, true, err
	}
	return pid, true, nil
}

func readPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	// Empty between a new holder's lock and its pid write.
	if len(strings.TrimSpace(string(raw))) == 0 {
		return 0, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	return pid, nil
}

func tryLock(file *os.File) (bool, error) {
	err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return false, err
}

func unlock(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
