package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrLockTimeout is returned when a lock file does not disappear within the
// configured Backoff timeout.
var ErrLockTimeout = errors.New("metadata lock timeout")

// Backoff is the wait policy applied while another process holds a lock file.
// Each poll adds Step to a counter (until the counter exceeds Cap) and sleeps
// for the integer part of the counter, in units of Unit. The first polls are
// therefore immediate and later ones escalate linearly.
type Backoff struct {
	Step    float64
	Cap     float64
	Unit    time.Duration
	Timeout time.Duration // zero waits forever
}

// DefaultBackoff returns the policy used by all records unless overridden.
func DefaultBackoff() Backoff {
	return Backoff{Step: 0.1, Cap: 10, Unit: time.Second}
}

// LockPath returns the lock file guarding the document at path.
func LockPath(path string) string {
	return path + ".lock"
}

// Lock is an acquired lock file. The file holds a random owner token so a
// holder can tell whether its lock is still the one on disk.
type Lock struct {
	path  string
	token []byte
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Held reports whether the lock file still exists and carries this holder's
// token.
func (l *Lock) Held() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	return bytes.Equal(data, l.token)
}

// Release removes the lock file if it is still ours. Releasing a lock that
// has already vanished is not an error.
func (l *Lock) Release() error {
	if l == nil || !l.Held() {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// Acquire takes the lock for the document at docPath, waiting with b while
// another process holds it. The lock file is created exclusively, so two
// waiters released at once cannot both win.
func Acquire(ctx context.Context, docPath string, b Backoff) (*Lock, error) {
	lock := &Lock{path: LockPath(docPath), token: []byte(uuid.NewString())}
	w := newWaiter(b)
	for {
		f, err := os.OpenFile(lock.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write(lock.token)
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(lock.path)
				return nil, fmt.Errorf("write lock %s: %w", lock.path, werr)
			}
			return lock, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", lock.path, err)
		}
		if err := w.wait(ctx, lock.path); err != nil {
			return nil, err
		}
	}
}

// WaitUnlocked blocks until no lock file exists for docPath.
func WaitUnlocked(ctx context.Context, docPath string, b Backoff) error {
	path := LockPath(docPath)
	w := newWaiter(b)
	for {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err := w.wait(ctx, path); err != nil {
			return err
		}
	}
}

// WithLock runs fn while holding the lock for docPath. The lock is released on
// every return path, including when fn fails.
func WithLock(ctx context.Context, docPath string, b Backoff, fn func(*Lock) error) (err error) {
	lock, err := Acquire(ctx, docPath, b)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(lock)
}

type waiter struct {
	b        Backoff
	sleeper  float64
	deadline time.Time
}

func newWaiter(b Backoff) *waiter {
	w := &waiter{b: b}
	if b.Timeout > 0 {
		w.deadline = time.Now().Add(b.Timeout)
	}
	return w
}

func (w *waiter) wait(ctx context.Context, path string) error {
	if !w.deadline.IsZero() && time.Now().After(w.deadline) {
		return fmt.Errorf("%w: %s", ErrLockTimeout, path)
	}
	if w.sleeper <= w.b.Cap {
		w.sleeper += w.b.Step
	}
	d := time.Duration(int(w.sleeper)) * w.b.Unit
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
