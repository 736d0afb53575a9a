package project

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/me/miga/internal/metadata"
	"github.com/me/miga/internal/result"
	"github.com/me/miga/pkg/model"
)

// Dataset is one entity of a project, described by metadata/<name>.json.
type Dataset struct {
	project *Project
	name    string
	record  *metadata.Record
	typ     model.DatasetType
	active  bool
	ref     bool
}

func datasetPath(p *Project, name string) string {
	return filepath.Join(p.path, "metadata", name+".json")
}

// loadDataset returns nil when the dataset's document is missing.
func loadDataset(ctx context.Context, p *Project, name string) (*Dataset, error) {
	rec, err := metadata.Load(datasetPath(p, name), p.opts...)
	if err != nil || rec == nil {
		return nil, err
	}
	ds := &Dataset{project: p, name: name, record: rec}
	if err := ds.refresh(ctx); err != nil {
		return nil, err
	}
	return ds, nil
}

func createDataset(ctx context.Context, p *Project, name string, typ model.DatasetType, ref bool) (*Dataset, error) {
	rec, err := metadata.Open(ctx, datasetPath(p, name), map[string]any{
		"name": name,
		"type": typ,
		"ref":  ref,
	}, p.opts...)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{project: p, name: name, record: rec}
	if err := ds.refresh(ctx); err != nil {
		return nil, err
	}
	return ds, nil
}

func (ds *Dataset) refresh(ctx context.Context) error {
	data, err := ds.record.Data(ctx)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", ds.name, err)
	}
	ds.typ = model.DatasetType(data.String("type"))
	ds.active = !data.Bool("inactive")
	ds.ref = true
	if v, ok := data["ref"].(bool); ok {
		ds.ref = v
	}
	return nil
}

// Name returns the dataset name.
func (ds *Dataset) Name() string { return ds.name }

// Type returns the dataset type.
func (ds *Dataset) Type() model.DatasetType { return ds.typ }

// Active reports whether the dataset takes part in processing.
func (ds *Dataset) Active() bool { return ds.active }

// Reference reports whether the dataset is a reference (as opposed to a
// query) dataset.
func (ds *Dataset) Reference() bool { return ds.ref }

// SetActive flags the dataset active or inactive and saves it.
func (ds *Dataset) SetActive(ctx context.Context, active bool) error {
	err := ds.record.Update(ctx, func(d metadata.Data) error {
		if active {
			d.Set("inactive", nil)
		} else {
			d.Set("inactive", true)
		}
		return nil
	})
	if err != nil {
		return err
	}
	ds.active = active
	return nil
}

// NextPreprocessing returns the first preprocessing task without a result.
// Inactive datasets have nothing to run. Read-processing steps are skipped
// once an assembly exists, and steps that do not apply to the dataset type
// are skipped altogether.
func (ds *Dataset) NextPreprocessing(_ context.Context) (model.TaskKind, bool, error) {
	if !ds.active {
		return "", false, nil
	}
	assembled := ds.project.ResultExists(ds.name, model.TaskAssembly)
	for _, k := range model.PreprocessingTasks {
		if k.IsReadTask() && assembled {
			continue
		}
		if !ds.typ.Applies(k) {
			continue
		}
		if !ds.project.ResultExists(ds.name, k) {
			return k, true, nil
		}
	}
	return "", false, nil
}

// Result loads the dataset's result for kind, or nil if it does not exist.
func (ds *Dataset) Result(ctx context.Context, kind model.TaskKind) (*result.Result, error) {
	return ds.project.Result(ctx, ds.name, kind)
}

// Results returns the dataset's results present on disk, in pipeline order.
func (ds *Dataset) Results(ctx context.Context) ([]KindResult, error) {
	var out []KindResult
	for _, k := range model.PreprocessingTasks {
		r, err := ds.Result(ctx, k)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, KindResult{Kind: k, Result: r})
		}
	}
	return out, nil
}
