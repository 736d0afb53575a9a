// Package project is the on-disk implementation of a project: its metadata
// document, the datasets it lists, and the result documents the pipeline
// scripts leave under data/.
package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/me/miga/internal/metadata"
	"github.com/me/miga/internal/result"
	"github.com/me/miga/pkg/model"
)

// MetadataFile is the project document, relative to the project directory.
const MetadataFile = "miga.project.json"

// Project is a project directory and the datasets it lists.
type Project struct {
	path     string
	record   *metadata.Record
	opts     []metadata.Option
	name     string
	typ      model.ProjectType
	names    []string
	datasets map[string]*Dataset
}

// IsProject reports whether dir holds a project document.
func IsProject(dir string) bool {
	return metadata.Exists(filepath.Join(dir, MetadataFile))
}

// Create initializes a project at dir with the standard layout. An existing
// project is opened instead.
func Create(ctx context.Context, dir, name string, typ model.ProjectType, opts ...metadata.Option) (*Project, error) {
	if _, ok := model.KnownProjectTypes[typ]; !ok {
		return nil, fmt.Errorf("unknown project type %q", typ)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	for _, sub := range []string{"data", "metadata", "daemon"} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create project layout: %w", err)
		}
	}
	_, err = metadata.Open(ctx, filepath.Join(abs, MetadataFile), map[string]any{
		"name":     name,
		"type":     typ,
		"datasets": []any{},
	}, opts...)
	if err != nil {
		return nil, err
	}
	return Open(ctx, abs, opts...)
}

// Open loads the project at dir.
func Open(ctx context.Context, dir string, opts ...metadata.Option) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	rec, err := metadata.Load(filepath.Join(abs, MetadataFile), opts...)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no project at %s", abs)
	}
	p := &Project{path: abs, record: rec, opts: opts}
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the absolute project directory.
func (p *Project) Path() string { return p.path }

// Name returns the canonical project name.
func (p *Project) Name() string { return p.name }

// Type returns the project type.
func (p *Project) Type() model.ProjectType { return p.typ }

// Load re-reads the project document and every dataset it lists. A listed
// dataset without a metadata document is kept by name but not loaded.
func (p *Project) Load(ctx context.Context) error {
	if err := p.record.Reload(ctx); err != nil {
		return err
	}
	data, err := p.record.Data(ctx)
	if err != nil {
		return err
	}
	p.name = data.String("name")
	if p.name == "" {
		p.name = metadata.CanonicalName(filepath.Base(p.path))
	}
	p.typ = model.ProjectType(data.String("type"))
	if p.typ == "" {
		p.typ = model.ProjectTypeMixed
	}
	p.names = data.Strings("datasets")
	p.datasets = make(map[string]*Dataset, len(p.names))
	for _, n := range p.names {
		ds, err := loadDataset(ctx, p, n)
		if err != nil {
			return err
		}
		p.datasets[n] = ds
	}
	return nil
}

// DatasetNames returns the dataset names in listing order.
func (p *Project) DatasetNames() []string {
	return slices.Clone(p.names)
}

// Dataset returns the named dataset, or nil if it is not listed or its
// metadata is missing.
func (p *Project) Dataset(name string) *Dataset {
	return p.datasets[name]
}

// AddDataset creates the dataset's metadata document and appends it to the
// project listing.
func (p *Project) AddDataset(ctx context.Context, name string, typ model.DatasetType, ref bool) (*Dataset, error) {
	if _, ok := model.KnownDatasetTypes[typ]; !ok {
		return nil, fmt.Errorf("unknown dataset type %q", typ)
	}
	name = metadata.CanonicalName(name)
	ds, err := createDataset(ctx, p, name, typ, ref)
	if err != nil {
		return nil, err
	}
	err = p.record.Update(ctx, func(d metadata.Data) error {
		names := d.Strings("datasets")
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
		d.Set("datasets", toAny(names))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !slices.Contains(p.names, name) {
		p.names = append(p.names, name)
	}
	p.datasets[name] = ds
	return ds, nil
}

// Unlink removes name from the project listing. The dataset's metadata and
// results stay on disk.
func (p *Project) Unlink(ctx context.Context, name string) error {
	found := false
	err := p.record.Update(ctx, func(d metadata.Data) error {
		names := d.Strings("datasets")
		i := slices.Index(names, name)
		if i < 0 {
			return nil
		}
		found = true
		d.Set("datasets", toAny(slices.Delete(names, i, i+1)))
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("dataset %s is not in project %s", name, p.name)
	}
	if i := slices.Index(p.names, name); i >= 0 {
		p.names = slices.Delete(p.names, i, i+1)
	}
	delete(p.datasets, name)
	return nil
}

// NextPreprocessing returns the next preprocessing task of the named
// dataset. It fails with a DatasetNotLoadedError when the dataset is listed
// but has no metadata.
func (p *Project) NextPreprocessing(ctx context.Context, name string) (model.TaskKind, bool, error) {
	ds := p.datasets[name]
	if ds == nil {
		return "", false, &model.DatasetNotLoadedError{Name: name}
	}
	return ds.NextPreprocessing(ctx)
}

// DonePreprocessing reports whether every active reference dataset has
// finished preprocessing. With strict set, a listed dataset whose metadata
// is missing counts as unfinished; otherwise it is ignored.
func (p *Project) DonePreprocessing(ctx context.Context, strict bool) (bool, error) {
	for _, n := range p.names {
		ds := p.datasets[n]
		if ds == nil {
			if strict {
				return false, nil
			}
			continue
		}
		if !ds.Active() || !ds.Reference() {
			continue
		}
		_, pending, err := ds.NextPreprocessing(ctx)
		if err != nil {
			return false, err
		}
		if pending {
			return false, nil
		}
	}
	return true, nil
}

// NextTask returns the first project-wide task of stage without a result.
// The inclade stage only runs in clade projects.
func (p *Project) NextTask(_ context.Context, stage model.Stage) (model.TaskKind, bool, error) {
	if stage == model.StageInclade && p.typ != model.ProjectTypeClade {
		return "", false, nil
	}
	for _, k := range stage.Tasks() {
		if !p.ResultExists("", k) {
			return k, true, nil
		}
	}
	return "", false, nil
}

// ResultPath returns where the result of kind for dataset is written. An
// empty dataset selects the project-wide result.
func (p *Project) ResultPath(dataset string, kind model.TaskKind) (string, error) {
	var dir string
	var ok bool
	if dataset == "" {
		dir, ok = model.ProjectResultDirs[kind]
		dataset = model.ProjectScope
	} else {
		dir, ok = model.DatasetResultDirs[kind]
	}
	if !ok {
		return "", fmt.Errorf("no result directory for %s task %s", scope(dataset), kind)
	}
	return filepath.Join(p.path, "data", dir, dataset+".json"), nil
}

// ResultExists reports whether the result document of kind for dataset is
// on disk.
func (p *Project) ResultExists(dataset string, kind model.TaskKind) bool {
	path, err := p.ResultPath(dataset, kind)
	if err != nil {
		return false
	}
	return result.Exists(path)
}

// Result loads the result of kind for dataset, or nil if it does not exist.
func (p *Project) Result(ctx context.Context, dataset string, kind model.TaskKind) (*result.Result, error) {
	path, err := p.ResultPath(dataset, kind)
	if err != nil {
		return nil, err
	}
	return result.Load(ctx, path, p.opts...)
}

// Results returns the project-wide results present on disk, in stage order.
func (p *Project) Results(ctx context.Context) ([]KindResult, error) {
	var out []KindResult
	for _, stage := range []model.Stage{model.StageDistance, model.StageInclade} {
		for _, k := range stage.Tasks() {
			r, err := p.Result(ctx, "", k)
			if err != nil {
				return nil, err
			}
			if r != nil {
				out = append(out, KindResult{Kind: k, Result: r})
			}
		}
	}
	return out, nil
}

// KindResult pairs a result with the task kind that produced it.
type KindResult struct {
	Kind   model.TaskKind
	Result *result.Result
}

func scope(dataset string) string {
	if dataset == model.ProjectScope {
		return "project"
	}
	return "dataset"
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
