package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/miga/internal/metadata"
	"github.com/me/miga/pkg/model"
)

// RuntimeFile is the location of the daemon configuration inside a project.
const RuntimeFile = "daemon/daemon.json"

// Keys recognized by Runtime.Set.
const (
	KeyLatency          = "latency"
	KeyMaxJobs          = "maxjobs"
	KeyPPN              = "ppn"
	KeyShutdownWhenDone = "shutdown_when_done"
	KeyType             = "type"
	KeyCmd              = "cmd"
	KeyVar              = "var"
	KeyVarSep           = "varsep"
	KeyKill             = "kill"
	KeyAlive            = "alive"
)

var intKeys = map[string]bool{KeyLatency: true, KeyMaxJobs: true, KeyPPN: true}

// Runtime is the scheduler configuration of one project, read once when the
// daemon is constructed.
type Runtime struct {
	Latency          int               // seconds between ticks
	MaxJobs          int               // concurrency ceiling
	PPN              int               // cores per task
	ShutdownWhenDone bool              // stop once both queues drain
	Type             model.BackendType // backend identifier
	Cmd              string            // launch template
	Var              string            // one variable assignment
	VarSep           string            // separator between assignments
	KillCmd          string            // empty selects the per-type default
	AliveCmd         string            // liveness check template
	Extra            map[string]any    // unrecognized keys, preserved on save
}

// DefaultRuntime returns the configuration of a local bash daemon.
func DefaultRuntime() *Runtime {
	return &Runtime{
		Latency:  2,
		MaxJobs:  6,
		PPN:      2,
		Type:     model.BackendBash,
		Cmd:      "%2$s bash '%1$s' > '%4$s' 2>&1",
		Var:      "%1$s='%2$s'",
		VarSep:   " ",
		AliveCmd: "ps -p '%1$s' | tail -n+2 | wc -l | awk '{print $1}'",
		Extra:    map[string]any{},
	}
}

// RuntimePath returns the configuration path for the project at dir.
func RuntimePath(projectDir string) string {
	return filepath.Join(projectDir, RuntimeFile)
}

// LoadRuntime reads the configuration at path. The file is JSON, but any
// YAML document is accepted too, and integers keep their integer type.
// Values are taken as written: the zero check of Set is not applied.
func LoadRuntime(ctx context.Context, path string) (*Runtime, error) {
	if err := metadata.WaitUnlocked(ctx, path, metadata.DefaultBackoff()); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read daemon config: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse daemon config %s: %w", path, err)
	}
	if values == nil {
		return nil, fmt.Errorf("parse daemon config %s: empty document", path)
	}
	rt := &Runtime{Extra: map[string]any{}}
	for k, v := range values {
		if err := rt.Set(k, v, true); err != nil {
			return nil, err
		}
	}
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	return rt, nil
}

// Validate checks the keys the daemon cannot run without.
func (rt *Runtime) Validate() error {
	if rt.Type == "" {
		return model.NewConfigError(KeyType, "is required")
	}
	if rt.Cmd == "" {
		return model.NewConfigError(KeyCmd, "is required")
	}
	if rt.Var == "" {
		return model.NewConfigError(KeyVar, "is required")
	}
	return nil
}

// Set assigns key. Integer keys are coerced to integers and
// shutdown_when_done to a boolean. A zero value is rejected unless force is
// set.
func (rt *Runtime) Set(key string, value any, force bool) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if value == nil {
		return model.NewConfigError(key, "value is required")
	}
	if intKeys[key] {
		n, err := toInt(value)
		if err != nil {
			return model.NewConfigError(key, "%v", err)
		}
		if n == 0 && !force {
			return model.NewConfigError(key, "cannot be set to zero")
		}
		switch key {
		case KeyLatency:
			rt.Latency = n
		case KeyMaxJobs:
			rt.MaxJobs = n
		case KeyPPN:
			rt.PPN = n
		}
		return nil
	}
	switch key {
	case KeyShutdownWhenDone:
		b, err := toBool(value)
		if err != nil {
			return model.NewConfigError(key, "%v", err)
		}
		rt.ShutdownWhenDone = b
	case KeyType:
		rt.Type = model.BackendType(fmt.Sprint(value))
	case KeyCmd:
		rt.Cmd = fmt.Sprint(value)
	case KeyVar:
		rt.Var = fmt.Sprint(value)
	case KeyVarSep:
		rt.VarSep = fmt.Sprint(value)
	case KeyKill:
		rt.KillCmd = fmt.Sprint(value)
	case KeyAlive:
		rt.AliveCmd = fmt.Sprint(value)
	default:
		if rt.Extra == nil {
			rt.Extra = map[string]any{}
		}
		rt.Extra[key] = value
	}
	return nil
}

// Get returns the value of key. The kill key falls back to the default
// template for the backend type.
func (rt *Runtime) Get(key string) any {
	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case KeyLatency:
		return rt.Latency
	case KeyMaxJobs:
		return rt.MaxJobs
	case KeyPPN:
		return rt.PPN
	case KeyShutdownWhenDone:
		return rt.ShutdownWhenDone
	case KeyType:
		return string(rt.Type)
	case KeyCmd:
		return rt.Cmd
	case KeyVar:
		return rt.Var
	case KeyVarSep:
		return rt.VarSep
	case KeyKill:
		return rt.Kill()
	case KeyAlive:
		return rt.AliveCmd
	}
	return rt.Extra[key]
}

// Kill returns the template used to terminate a running handle.
func (rt *Runtime) Kill() string {
	if rt.KillCmd != "" {
		return rt.KillCmd
	}
	switch rt.Type {
	case model.BackendBash:
		return "kill -9 '%s'"
	case model.BackendQsub:
		return "qdel '%s'"
	case model.BackendSlurm:
		return "scancel '%s'"
	}
	return "canceljob '%s'"
}

// Keys returns every key with a value, sorted.
func (rt *Runtime) Keys() []string {
	keys := []string{KeyLatency, KeyMaxJobs, KeyPPN, KeyShutdownWhenDone, KeyType, KeyCmd, KeyVar, KeyVarSep, KeyKill}
	if rt.AliveCmd != "" {
		keys = append(keys, KeyAlive)
	}
	for k := range rt.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the configuration to path under the metadata lock.
func (rt *Runtime) Save(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create daemon dir: %w", err)
	}
	rec, err := metadata.Open(ctx, path, nil)
	if err != nil {
		return err
	}
	return rec.Update(ctx, func(d metadata.Data) error {
		for k := range d {
			delete(d, k)
		}
		for k, v := range rt.Extra {
			d[k] = v
		}
		d[KeyLatency] = rt.Latency
		d[KeyMaxJobs] = rt.MaxJobs
		d[KeyPPN] = rt.PPN
		d[KeyShutdownWhenDone] = rt.ShutdownWhenDone
		d[KeyType] = string(rt.Type)
		d[KeyCmd] = rt.Cmd
		d[KeyVar] = rt.Var
		d[KeyVarSep] = rt.VarSep
		if rt.KillCmd != "" {
			d[KeyKill] = rt.KillCmd
		}
		if rt.AliveCmd != "" {
			d[KeyAlive] = rt.AliveCmd
		}
		return nil
	})
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%v (%T) is not an integer", v, v)
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case int64:
		return b != 0, nil
	case float64:
		return b != 0, nil
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", b)
		}
		return p, nil
	}
	return false, fmt.Errorf("%v (%T) is not a boolean", v, v)
}
