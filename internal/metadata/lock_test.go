package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquire_Exclusive(t *testing.T) {
	ctx := context.Background()
	doc := filepath.Join(t.TempDir(), "doc.json")

	first, err := Acquire(ctx, doc, fastBackoff())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !first.Held() {
		t.Fatal("first lock should be held")
	}

	b := fastBackoff()
	b.Timeout = 10 * time.Millisecond
	if _, err := Acquire(ctx, doc, b); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Acquire err = %v, want ErrLockTimeout", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := Acquire(ctx, doc, b)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	second.Release()
}

func TestAcquire_ContextCancelled(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(LockPath(doc), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Acquire(ctx, doc, fastBackoff()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire err = %v, want context.Canceled", err)
	}
}

func TestLock_ReleaseLeavesForeignLock(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "doc.json")
	l, err := Acquire(context.Background(), doc, fastBackoff())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.Path(), []byte("other"), 0o644); err != nil {
		t.Fatal(err)
	}
	if l.Held() {
		t.Error("Held should be false once the token is replaced")
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !Exists(l.Path()) {
		t.Error("Release must not remove another holder's lock")
	}
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "doc.json")
	boom := errors.New("boom")
	err := WithLock(context.Background(), doc, fastBackoff(), func(l *Lock) error {
		if !Exists(l.Path()) {
			t.Error("lock file should exist inside WithLock")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithLock err = %v, want boom", err)
	}
	if Exists(LockPath(doc)) {
		t.Error("lock file should be removed after WithLock returns")
	}
}

func TestWaitUnlocked(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "doc.json")
	if err := WaitUnlocked(context.Background(), doc, fastBackoff()); err != nil {
		t.Fatalf("WaitUnlocked without lock: %v", err)
	}

	if err := os.WriteFile(LockPath(doc), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.Remove(LockPath(doc))
	}()
	if err := WaitUnlocked(context.Background(), doc, fastBackoff()); err != nil {
		t.Fatalf("WaitUnlocked: %v", err)
	}
}

func TestWaiter_LinearCappedSleeps(t *testing.T) {
	w := newWaiter(Backoff{Step: 0.5, Cap: 1.5, Unit: 0})
	ctx := context.Background()
	var seen []float64
	for i := 0; i < 6; i++ {
		if err := w.wait(ctx, "x"); err != nil {
			t.Fatal(err)
		}
		seen = append(seen, w.sleeper)
	}
	want := []float64{0.5, 1.0, 1.5, 2.0, 2.0, 2.0}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("sleeper progression = %v, want %v", seen, want)
		}
	}
}
