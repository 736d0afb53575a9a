// Package result implements the result documents written by pipeline tasks.
// A result's existence on disk is the only completion signal the daemon
// trusts.
package result

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/me/miga/internal/metadata"
)

// Sidecar selects one of the standard files of a result.
type Sidecar string

const (
	SidecarJSON  Sidecar = "json"
	SidecarStart Sidecar = "start"
	SidecarDone  Sidecar = "done"
)

// File is one registered file of a result.
type File struct {
	Role string
	Rel  string
	Abs  string
}

// Result is a metadata record describing the artifacts of one task.
type Result struct {
	record   *metadata.Record
	opts     []metadata.Option
	children []*Result
}

// Exists reports whether a result document exists at path.
func Exists(path string) bool {
	return metadata.Exists(path)
}

// Load returns the result at path, or nil if it does not exist.
func Load(ctx context.Context, path string, opts ...metadata.Option) (*Result, error) {
	return load(ctx, path, map[string]bool{}, opts)
}

// load tracks the documents already on the nesting chain in seen.
func load(ctx context.Context, path string, seen map[string]bool, opts []metadata.Option) (*Result, error) {
	rec, err := metadata.Load(path, opts...)
	if err != nil || rec == nil {
		return nil, err
	}
	r := &Result{record: rec, opts: opts}
	if err := r.reload(ctx, seen); err != nil {
		return nil, err
	}
	return r, nil
}

// Create writes a new, empty result at path. An existing document is loaded
// instead.
func Create(ctx context.Context, path string, opts ...metadata.Option) (*Result, error) {
	rec, err := metadata.Open(ctx, path, map[string]any{
		"results": []any{},
		"stats":   map[string]any{},
		"files":   map[string]any{},
	}, opts...)
	if err != nil {
		return nil, err
	}
	r := &Result{record: rec, opts: opts}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the document and resolves nested results. A nested path
// already on the chain from r is skipped, so cyclic documents terminate.
func (r *Result) Reload(ctx context.Context) error {
	return r.reload(ctx, map[string]bool{})
}

func (r *Result) reload(ctx context.Context, seen map[string]bool) error {
	if err := r.record.Reload(ctx); err != nil {
		return err
	}
	data, err := r.record.Data(ctx)
	if err != nil {
		return err
	}
	self := filepath.Clean(r.Path(SidecarJSON))
	seen[self] = true
	defer delete(seen, self)

	r.children = nil
	for _, p := range data.Strings("results") {
		if seen[filepath.Clean(p)] {
			continue
		}
		child, err := load(ctx, p, seen, r.opts)
		if err != nil {
			return fmt.Errorf("result %s: load nested %s: %w", r.Path(SidecarJSON), p, err)
		}
		if child != nil {
			r.children = append(r.children, child)
		}
	}
	return nil
}

// Path returns the path of the requested standard file.
func (r *Result) Path(which Sidecar) string {
	p := r.record.Path()
	switch which {
	case SidecarStart, SidecarDone:
		return strings.TrimSuffix(p, ".json") + "." + string(which)
	}
	return p
}

// Dir returns the directory holding the result.
func (r *Result) Dir() string {
	return filepath.Dir(r.record.Path())
}

// Record returns the underlying metadata record.
func (r *Result) Record() *metadata.Record {
	return r.record
}

// Results returns the nested results resolved at load time.
func (r *Result) Results() []*Result {
	return r.children
}

// Clean reports whether the result has been marked clean.
func (r *Result) Clean(ctx context.Context) bool {
	v, _ := r.record.Get(ctx, "clean")
	b, _ := v.(bool)
	return b
}

// MarkClean registers the result as cleaned and saves it.
func (r *Result) MarkClean(ctx context.Context) error {
	return r.record.Update(ctx, func(d metadata.Data) error {
		d.Set("clean", true)
		return nil
	})
}

// Stats returns the stats mapping.
func (r *Result) Stats(ctx context.Context) map[string]any {
	v, _ := r.record.Get(ctx, "stats")
	m, _ := v.(map[string]any)
	return m
}

// SetStat stores one statistic and saves the result.
func (r *Result) SetStat(ctx context.Context, k string, v any) error {
	return r.record.Update(ctx, func(d metadata.Data) error {
		stats, _ := d["stats"].(map[string]any)
		next := make(map[string]any, len(stats)+1)
		for sk, sv := range stats {
			next[sk] = sv
		}
		next[k] = v
		d.Set("stats", next)
		return nil
	})
}

// Files returns every registered file as (role, relative, absolute) triples.
// Roles are visited in sorted order; a role with several files yields one
// entry per file in registration order.
func (r *Result) Files(ctx context.Context) []File {
	v, _ := r.record.Get(ctx, "files")
	files := metadata.Data{}
	if m, ok := v.(map[string]any); ok {
		files = metadata.Data(m)
	}
	var out []File
	for _, role := range files.Keys() {
		for _, rel := range files.Strings(role) {
			out = append(out, File{Role: role, Rel: rel, Abs: filepath.Join(r.Dir(), rel)})
		}
	}
	return out
}

// FilePath returns the absolute paths registered under role, or nil.
func (r *Result) FilePath(ctx context.Context, role string) []string {
	var out []string
	for _, f := range r.Files(ctx) {
		if f.Role == role {
			out = append(out, f.Abs)
		}
	}
	return out
}

// AddFile registers rel (relative to Dir) under role. If only a gzipped copy
// exists it is registered instead; if neither exists nothing changes.
func (r *Result) AddFile(ctx context.Context, role, rel string) error {
	return r.AddFiles(ctx, map[string]string{role: rel})
}

// AddFiles calls AddFile for each role in files with a single save.
func (r *Result) AddFiles(ctx context.Context, files map[string]string) error {
	return r.record.Update(ctx, func(d metadata.Data) error {
		cur, _ := d["files"].(map[string]any)
		next := make(map[string]any, len(cur)+len(files))
		for k, v := range cur {
			next[k] = v
		}
		for role, rel := range files {
			if metadata.Exists(filepath.Join(r.Dir(), rel)) {
				next[role] = rel
			}
			if metadata.Exists(filepath.Join(r.Dir(), rel+".gz")) {
				next[role] = rel + ".gz"
			}
		}
		d.Set("files", next)
		return nil
	})
}

// AddResult nests child under r and saves r immediately.
func (r *Result) AddResult(ctx context.Context, child *Result) error {
	err := r.record.Update(ctx, func(d metadata.Data) error {
		d.Set("results", append(anySlice(d.Strings("results")), child.Path(SidecarJSON)))
		return nil
	})
	if err != nil {
		return err
	}
	r.children = append(r.children, child)
	return nil
}

// Remove deletes every registered file, the start and done sidecars, and the
// document itself.
func (r *Result) Remove(ctx context.Context) error {
	for _, f := range r.Files(ctx) {
		if err := os.RemoveAll(f.Abs); err != nil {
			return fmt.Errorf("remove %s: %w", f.Abs, err)
		}
	}
	for _, s := range []Sidecar{SidecarStart, SidecarDone} {
		if err := os.Remove(r.Path(s)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", r.Path(s), err)
		}
	}
	return r.record.Remove(ctx)
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
