package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/me/miga/pkg/model"
)

func writeRuntime(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daemon", "daemon.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRuntime_JSON(t *testing.T) {
	path := writeRuntime(t, `{
  "type": "qsub",
  "cmd": "%2$s qsub -l nodes=1:ppn=%3$d -o %4$s -N %5$s %1$s",
  "var": "%1$s=%2$s",
  "varsep": ",",
  "latency": 150,
  "maxjobs": "300",
  "ppn": 4,
  "shutdown_when_done": true,
  "queue": "bioinfo"
}`)

	rt, err := LoadRuntime(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if rt.Type != model.BackendQsub {
		t.Errorf("Type = %q, want qsub", rt.Type)
	}
	if rt.Latency != 150 || rt.MaxJobs != 300 || rt.PPN != 4 {
		t.Errorf("ints = %d/%d/%d, want 150/300/4", rt.Latency, rt.MaxJobs, rt.PPN)
	}
	if !rt.ShutdownWhenDone {
		t.Error("ShutdownWhenDone should be true")
	}
	if rt.VarSep != "," {
		t.Errorf("VarSep = %q, want ,", rt.VarSep)
	}
	if rt.Extra["queue"] != "bioinfo" {
		t.Errorf("Extra[queue] = %v, want bioinfo", rt.Extra["queue"])
	}
	if rt.Kill() != "qdel '%s'" {
		t.Errorf("Kill() = %q, want qdel default", rt.Kill())
	}
}

func TestLoadRuntime_YAMLAndZeroFromFile(t *testing.T) {
	path := writeRuntime(t, "type: bash\ncmd: \"%1$s\"\nvar: \"%1$s=%2$s\"\nmaxjobs: 0\n")
	rt, err := LoadRuntime(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if rt.MaxJobs != 0 {
		t.Errorf("MaxJobs = %d, want 0 (file values are taken as written)", rt.MaxJobs)
	}
}

func TestLoadRuntime_Errors(t *testing.T) {
	ctx := context.Background()

	if _, err := LoadRuntime(ctx, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing config should fail")
	}

	path := writeRuntime(t, `{"cmd": "x", "var": "y"}`)
	_, err := LoadRuntime(ctx, path)
	var ce *model.ConfigError
	if !errors.As(err, &ce) || ce.Key != KeyType {
		t.Errorf("err = %v, want ConfigError on type", err)
	}

	path = writeRuntime(t, `{"type": "bash", "cmd": "x", "var": "y", "latency": "soon"}`)
	if _, err := LoadRuntime(ctx, path); !errors.As(err, &ce) || ce.Key != KeyLatency {
		t.Errorf("err = %v, want ConfigError on latency", err)
	}
}

func TestRuntime_SetCoercion(t *testing.T) {
	rt := DefaultRuntime()
	tests := []struct {
		key   string
		value any
		check func() bool
	}{
		{KeyLatency, "30", func() bool { return rt.Latency == 30 }},
		{KeyMaxJobs, 12.0, func() bool { return rt.MaxJobs == 12 }},
		{KeyPPN, int64(8), func() bool { return rt.PPN == 8 }},
		{KeyShutdownWhenDone, "true", func() bool { return rt.ShutdownWhenDone }},
		{KeyShutdownWhenDone, 0, func() bool { return !rt.ShutdownWhenDone }},
		{KeyType, "msub", func() bool { return rt.Type == model.BackendMsub }},
		{"MaxJobs", 3, func() bool { return rt.MaxJobs == 3 }},
	}
	for _, tt := range tests {
		if err := rt.Set(tt.key, tt.value, false); err != nil {
			t.Errorf("Set(%q, %v): %v", tt.key, tt.value, err)
			continue
		}
		if !tt.check() {
			t.Errorf("Set(%q, %v) did not coerce as expected", tt.key, tt.value)
		}
	}
}

func TestRuntime_SetZero(t *testing.T) {
	rt := DefaultRuntime()

	err := rt.Set(KeyMaxJobs, 0, false)
	var ce *model.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Set(maxjobs, 0) err = %v, want ConfigError", err)
	}
	if rt.MaxJobs != 6 {
		t.Errorf("MaxJobs = %d, rejected value must not be stored", rt.MaxJobs)
	}

	if err := rt.Set(KeyMaxJobs, "0", true); err != nil {
		t.Fatalf("forced Set(maxjobs, 0): %v", err)
	}
	if rt.MaxJobs != 0 {
		t.Errorf("MaxJobs = %d, want 0", rt.MaxJobs)
	}

	if err := rt.Set(KeyShutdownWhenDone, false, false); err != nil {
		t.Errorf("false boolean is not a zero value: %v", err)
	}
}

func TestRuntime_KillDefaults(t *testing.T) {
	tests := []struct {
		typ  model.BackendType
		want string
	}{
		{model.BackendBash, "kill -9 '%s'"},
		{model.BackendQsub, "qdel '%s'"},
		{model.BackendMsub, "canceljob '%s'"},
		{model.BackendSlurm, "scancel '%s'"},
	}
	for _, tt := range tests {
		rt := DefaultRuntime()
		rt.Type = tt.typ
		if got := rt.Get(KeyKill); got != tt.want {
			t.Errorf("kill for %s = %v, want %q", tt.typ, got, tt.want)
		}
	}

	rt := DefaultRuntime()
	rt.KillCmd = "custom %s"
	if rt.Kill() != "custom %s" {
		t.Errorf("explicit kill template should win, got %q", rt.Kill())
	}
}

func TestRuntime_SaveAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "daemon", "daemon.json")

	rt := DefaultRuntime()
	rt.Extra["queue"] = "long"
	if err := rt.Set(KeyMaxJobs, 9, false); err != nil {
		t.Fatal(err)
	}
	if err := rt.Save(ctx, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadRuntime(ctx, path)
	if err != nil {
		t.Fatalf("LoadRuntime: %v", err)
	}
	if got.MaxJobs != 9 || got.Cmd != rt.Cmd || got.Type != rt.Type {
		t.Errorf("reloaded = %+v, want %+v", got, rt)
	}
	if got.Extra["queue"] != "long" {
		t.Errorf("Extra[queue] = %v, want long", got.Extra["queue"])
	}
}

func TestRuntime_Keys(t *testing.T) {
	rt := DefaultRuntime()
	keys := rt.Keys()
	if len(keys) == 0 || keys[0] != KeyAlive {
		t.Errorf("Keys() = %v, want sorted with alive first", keys)
	}
}
