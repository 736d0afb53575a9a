// Package metadata implements the durable JSON documents shared by the
// daemon and the command-line actions of a project. Each document lives in
// its own file and is guarded by a lock file next to it, so independent
// processes never observe a half-written document.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/me/miga/pkg/model"
)

// TimeFormat is the layout of the created and updated fields.
const TimeFormat = "2006-01-02 15:04:05 -0700"

// Injection points for tests.
var (
	writeTempFn = os.WriteFile
	renameFn    = os.Rename
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// CanonicalName turns s into a filesystem-safe identifier.
func CanonicalName(s string) string {
	return unsafeName.ReplaceAllString(s, "_")
}

// Data is the decoded content of a document.
type Data map[string]any

// Set stores v under k, normalizing the special keys. A nil value deletes
// the key.
func (d Data) Set(k string, v any) {
	if v == nil {
		delete(d, k)
		return
	}
	switch k {
	case "name":
		v = CanonicalName(fmt.Sprint(v))
	case "type":
		v = fmt.Sprint(v)
	}
	d[k] = v
}

// String returns the value at k if it is a string.
func (d Data) String(k string) string {
	s, _ := d[k].(string)
	return s
}

// Bool returns the value at k if it is a boolean.
func (d Data) Bool(k string) bool {
	b, _ := d[k].(bool)
	return b
}

// Strings returns the value at k as a string slice. A single string is
// returned as a one-element slice.
func (d Data) Strings(k string) []string {
	switch v := d[k].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Keys returns the keys of d in sorted order.
func (d Data) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d Data) clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Option configures a Record.
type Option func(*Record)

// WithBackoff overrides the lock wait policy.
func WithBackoff(b Backoff) Option {
	return func(r *Record) { r.backoff = b }
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Record) { r.now = now }
}

// Record is a lazily loaded metadata document.
type Record struct {
	path    string
	data    Data
	backoff Backoff
	now     func() time.Time
}

// Exists reports whether a document exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func newRecord(path string, opts []Option) (*Record, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	r := &Record{path: abs, backoff: DefaultBackoff(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Open returns the record at path, creating it from defaults (and saving it
// immediately) when it does not exist yet. An existing document is not read
// until first accessed.
func Open(ctx context.Context, path string, defaults map[string]any, opts ...Option) (*Record, error) {
	r, err := newRecord(path, opts)
	if err != nil {
		return nil, err
	}
	if Exists(r.path) {
		return r, nil
	}
	r.data = Data{}
	for k, v := range defaults {
		r.data.Set(k, v)
	}
	if err := r.Create(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Load returns the record at path, or nil if no document exists there.
func Load(path string, opts ...Option) (*Record, error) {
	r, err := newRecord(path, opts)
	if err != nil {
		return nil, err
	}
	if !Exists(r.path) {
		return nil, nil
	}
	return r, nil
}

// Path returns the absolute path of the document.
func (r *Record) Path() string {
	return r.path
}

// LockPath returns the lock file guarding the document.
func (r *Record) LockPath() string {
	return LockPath(r.path)
}

// Create resets the created stamp and saves the current data.
func (r *Record) Create(ctx context.Context) error {
	if r.data == nil {
		r.data = Data{}
	}
	r.data["created"] = r.now().Format(TimeFormat)
	return r.Save(ctx)
}

// Reload waits for any writer to finish and re-reads the document.
func (r *Record) Reload(ctx context.Context) error {
	if err := WaitUnlocked(ctx, r.path, r.backoff); err != nil {
		return err
	}
	return r.read()
}

func (r *Record) read() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read metadata %s: %w", r.path, err)
	}
	var tmp map[string]any
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return fmt.Errorf("parse metadata %s: %w", r.path, err)
	}
	data := make(Data, len(tmp))
	for k, v := range tmp {
		data.Set(k, v)
	}
	r.data = data
	return nil
}

func (r *Record) ensure(ctx context.Context) error {
	if r.data != nil {
		return nil
	}
	return r.Reload(ctx)
}

// Data returns a copy of the document content, loading it on first access.
func (r *Record) Data(ctx context.Context) (Data, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	return r.data.clone(), nil
}

// Get returns the value stored under k.
func (r *Record) Get(ctx context.Context, k string) (any, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	return r.data[k], nil
}

// Set stores v under k in memory. Call Save to persist it.
func (r *Record) Set(ctx context.Context, k string, v any) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	r.data.Set(k, v)
	return nil
}

// Each calls fn for every key in sorted order.
func (r *Record) Each(ctx context.Context, fn func(k string, v any)) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	for _, k := range r.data.Keys() {
		fn(k, r.data[k])
	}
	return nil
}

// Save writes the document under its lock.
func (r *Record) Save(ctx context.Context) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	return WithLock(ctx, r.path, r.backoff, r.saveLocked)
}

// Update runs fn against a fresh copy of the document and saves the result,
// holding the lock for the whole read-modify-write cycle. If fn returns an
// error nothing is written.
func (r *Record) Update(ctx context.Context, fn func(Data) error) error {
	return WithLock(ctx, r.path, r.backoff, func(lock *Lock) error {
		if Exists(r.path) {
			if err := r.read(); err != nil {
				return err
			}
		} else if r.data == nil {
			r.data = Data{}
		}
		next := r.data.clone()
		if err := fn(next); err != nil {
			return err
		}
		r.data = next
		return r.saveLocked(lock)
	})
}

func (r *Record) saveLocked(lock *Lock) error {
	r.data["updated"] = r.now().Format(TimeFormat)
	buf, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", r.path, err)
	}
	tmp := r.path + ".tmp"
	if err := writeTempFn(tmp, append(buf, '\n'), 0o644); err != nil {
		return fmt.Errorf("write metadata %s: %w", tmp, err)
	}
	if !Exists(tmp) {
		return &model.LockRaceError{Path: r.path, Reason: "temporary file vanished"}
	}
	if !lock.Held() {
		os.Remove(tmp)
		return &model.LockRaceError{Path: r.path, Reason: "lock file vanished or replaced"}
	}
	if err := renameFn(tmp, r.path); err != nil {
		return fmt.Errorf("rename metadata %s: %w", r.path, err)
	}
	return nil
}

// Remove deletes the document.
func (r *Record) Remove(ctx context.Context) error {
	return WithLock(ctx, r.path, r.backoff, func(*Lock) error {
		if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove metadata %s: %w", r.path, err)
		}
		r.data = nil
		return nil
	})
}
