package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/me/miga/pkg/model"
)

// fastBackoff keeps lock waits short in tests.
func fastBackoff() Backoff {
	return Backoff{Step: 1, Cap: 1, Unit: time.Millisecond}
}

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return m
}

func TestCanonicalName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"E_coli_K12", "E_coli_K12"},
		{"E. coli K-12", "E__coli_K_12"},
		{"a/b", "a_b"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalName(tt.in); got != tt.want {
			t.Errorf("CanonicalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpen_CreatesWithDefaults(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ds1.json")

	r, err := Open(ctx, path, map[string]any{"name": "my genome", "type": "genome", "ref": true, "gone": nil},
		WithBackoff(fastBackoff()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m := readJSON(t, path)
	if m["name"] != "my_genome" {
		t.Errorf("name = %v, want my_genome", m["name"])
	}
	if m["type"] != "genome" {
		t.Errorf("type = %v, want genome", m["type"])
	}
	if m["ref"] != true {
		t.Errorf("ref = %v, want true", m["ref"])
	}
	if _, ok := m["gone"]; ok {
		t.Error("nil default should not be stored")
	}
	if m["created"] == nil || m["updated"] == nil {
		t.Errorf("created/updated missing: %v", m)
	}
	if Exists(r.LockPath()) {
		t.Error("lock file should be released after create")
	}
	if Exists(path + ".tmp") {
		t.Error("temporary file should be renamed away")
	}
}

func TestLoad_Missing(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r != nil {
		t.Errorf("Load of missing document = %v, want nil", r)
	}
}

func TestRecord_LazyLoadAndSetNil(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "p.json")
	if err := os.WriteFile(path, []byte(`{"name":"bad name!","keep":1,"drop":"x"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path, WithBackoff(fastBackoff()))
	if err != nil || r == nil {
		t.Fatalf("Load: %v, %v", r, err)
	}
	if r.data != nil {
		t.Fatal("document should not be read before first access")
	}

	name, err := r.Get(ctx, "name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if name != "bad_name_" {
		t.Errorf("name = %v, want bad_name_", name)
	}

	if err := r.Set(ctx, "drop", nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m := readJSON(t, path)
	if _, ok := m["drop"]; ok {
		t.Error("key set to nil should be deleted")
	}
	if m["keep"] != float64(1) {
		t.Errorf("keep = %v, want 1", m["keep"])
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rt.json")
	clock := tickingClock()

	r, err := Open(ctx, path, map[string]any{
		"name":  "rt",
		"stats": map[string]any{"n50": 1234.0},
		"list":  []any{"a", "b"},
	}, WithBackoff(fastBackoff()), WithClock(clock))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first := readJSON(t, path)

	again, err := Load(path, WithBackoff(fastBackoff()), WithClock(clock))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := again.Save(ctx); err != nil {
		t.Fatalf("Save after load: %v", err)
	}
	second := readJSON(t, path)

	if first["updated"] == second["updated"] {
		t.Error("updated stamp should change on every save")
	}
	delete(first, "updated")
	delete(second, "updated")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip changed data:\n first=%v\nsecond=%v", first, second)
	}
}

func TestRecord_EachSorted(t *testing.T) {
	ctx := context.Background()
	r, err := Open(ctx, filepath.Join(t.TempDir(), "e.json"), map[string]any{"b": 1, "a": 2},
		WithBackoff(fastBackoff()))
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	if err := r.Each(ctx, func(k string, _ any) { keys = append(keys, k) }); err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "created", "updated"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestSave_WaitsForForeignLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "w.json")
	r, err := Open(ctx, path, nil, WithBackoff(Backoff{Step: 1, Cap: 1, Unit: 5 * time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(LockPath(path), []byte("someone else"), 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Save(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("Save returned while foreign lock held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := os.Remove(LockPath(path)); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Save did not finish after lock was released")
	}
}

func TestSave_LockTimeout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "t.json")
	r, err := Open(ctx, path, nil, WithBackoff(fastBackoff()))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(LockPath(path), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	r.backoff.Timeout = 20 * time.Millisecond
	err = r.Save(ctx)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Save err = %v, want ErrLockTimeout", err)
	}
	if !Exists(LockPath(path)) {
		t.Error("foreign lock must not be removed on timeout")
	}
}

func TestSave_LockRaceIsFatal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "race.json")
	r, err := Open(ctx, path, map[string]any{"v": 1}, WithBackoff(fastBackoff()))
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	orig := writeTempFn
	t.Cleanup(func() { writeTempFn = orig })
	writeTempFn = func(name string, data []byte, perm os.FileMode) error {
		if err := orig(name, data, perm); err != nil {
			return err
		}
		// A racing process steals the lock mid-write.
		return os.WriteFile(LockPath(path), []byte("intruder"), 0o644)
	}

	if err := r.Set(ctx, "v", 2); err != nil {
		t.Fatal(err)
	}
	err = r.Save(ctx)
	var lre *model.LockRaceError
	if !errors.As(err, &lre) {
		t.Fatalf("Save err = %v, want LockRaceError", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("document must not change when a lock race is detected")
	}
	if got, _ := os.ReadFile(LockPath(path)); string(got) != "intruder" {
		t.Error("the other writer's lock must be left in place")
	}
}

func TestSave_TempVanishedIsFatal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tmp.json")
	r, err := Open(ctx, path, nil, WithBackoff(fastBackoff()))
	if err != nil {
		t.Fatal(err)
	}

	orig := writeTempFn
	t.Cleanup(func() { writeTempFn = orig })
	writeTempFn = func(string, []byte, os.FileMode) error { return nil }

	var lre *model.LockRaceError
	if err := r.Save(ctx); !errors.As(err, &lre) {
		t.Fatalf("Save err = %v, want LockRaceError", err)
	}
	if Exists(LockPath(path)) {
		t.Error("our lock should be released after a failed save")
	}
}

func TestUpdate_NoLostUpdates(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "counter.json")
	if _, err := Open(ctx, path, map[string]any{"n": 0}, WithBackoff(fastBackoff())); err != nil {
		t.Fatal(err)
	}

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := Load(path, WithBackoff(fastBackoff()))
			if err != nil {
				errs <- err
				return
			}
			for j := 0; j < perWriter; j++ {
				err := r.Update(ctx, func(d Data) error {
					n, _ := d["n"].(float64)
					d.Set("n", n+1)
					return nil
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Update: %v", err)
	}

	if got := readJSON(t, path)["n"]; got != float64(writers*perWriter) {
		t.Errorf("n = %v, want %d", got, writers*perWriter)
	}
}

func TestUpdate_ErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "u.json")
	r, err := Open(ctx, path, map[string]any{"v": "old"}, WithBackoff(fastBackoff()))
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	err = r.Update(ctx, func(d Data) error {
		d.Set("v", "new")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update err = %v, want boom", err)
	}
	if got := readJSON(t, path)["v"]; got != "old" {
		t.Errorf("v = %v, want old", got)
	}
	if Exists(LockPath(path)) {
		t.Error("lock must be released when fn fails")
	}
	if v, _ := r.Get(ctx, "v"); v != "old" {
		t.Errorf("in-memory v = %v, want old", v)
	}
}

func TestRecord_Remove(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rm.json")
	r, err := Open(ctx, path, nil, WithBackoff(fastBackoff()))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(ctx); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if Exists(path) || Exists(LockPath(path)) {
		t.Error("document and lock should be gone")
	}
}

func TestData_Strings(t *testing.T) {
	d := Data{"one": "a", "many": []any{"a", 1, "b"}, "typed": []string{"x"}}
	if got := d.Strings("one"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Strings(one) = %v", got)
	}
	if got := d.Strings("many"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Strings(many) = %v", got)
	}
	if got := d.Strings("typed"); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Strings(typed) = %v", got)
	}
	if got := d.Strings("missing"); got != nil {
		t.Errorf("Strings(missing) = %v, want nil", got)
	}
}
