package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/me/miga/internal/metadata"
	"github.com/me/miga/pkg/model"
)

// Files written by the daemon inside the project directory.
const (
	AliveFile  = "daemon/alive"
	StatusFile = "daemon/status.json"
)

// Injection points for tests.
var (
	createTempFn = os.CreateTemp
	renameFn     = os.Rename
)

func (d *Daemon) declareAlive() error {
	return writeAtomic(filepath.Join(d.project.Path(), AliveFile), []byte(d.now().Format(metadata.TimeFormat)))
}

func (d *Daemon) removeAlive() error {
	err := os.Remove(filepath.Join(d.project.Path(), AliveFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove alive file: %w", err)
	}
	return nil
}

// reportStatus publishes the in-memory snapshot and writes status.json.
func (d *Daemon) reportStatus() error {
	st := d.publish()
	buf, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return writeAtomic(filepath.Join(d.project.Path(), StatusFile), append(buf, '\n'))
}

// LastAlive returns when a daemon last declared itself alive in the project
// at dir. ok is false if no daemon ever did, or the last one terminated.
func LastAlive(dir string) (at time.Time, ok bool, err error) {
	raw, err := os.ReadFile(filepath.Join(dir, AliveFile))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read alive file: %w", err)
	}
	at, err = time.Parse(metadata.TimeFormat, strings.TrimSpace(string(raw)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse alive file: %w", err)
	}
	return at, true, nil
}

// ReadStatus returns the queues published by the last tick of a daemon in
// the project at dir. ok is false if no status was ever written.
func ReadStatus(dir string) (st model.Status, ok bool, err error) {
	raw, err := os.ReadFile(filepath.Join(dir, StatusFile))
	if errors.Is(err, fs.ErrNotExist) {
		return model.Status{}, false, nil
	}
	if err != nil {
		return model.Status{}, false, fmt.Errorf("read status file: %w", err)
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return model.Status{}, false, fmt.Errorf("parse status file: %w", err)
	}
	return st, true, nil
}

// writeAtomic replaces path through a temporary file in the same directory
// so readers never observe a partial document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := createTempFn(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return err
	}
	return renameFn(name, path)
}
