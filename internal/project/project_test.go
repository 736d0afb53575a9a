package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/me/miga/internal/metadata"
	"github.com/me/miga/pkg/model"
)

func testOpts() []metadata.Option {
	return []metadata.Option{metadata.WithBackoff(metadata.Backoff{Step: 1, Cap: 1, Unit: time.Millisecond})}
}

func newProject(t *testing.T, typ model.ProjectType) *Project {
	t.Helper()
	p, err := Create(context.Background(), t.TempDir(), "Test Project", typ, testOpts()...)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func addDataset(t *testing.T, p *Project, name string, typ model.DatasetType) *Dataset {
	t.Helper()
	ds, err := p.AddDataset(context.Background(), name, typ, true)
	if err != nil {
		t.Fatalf("AddDataset(%s): %v", name, err)
	}
	return ds
}

func writeResult(t *testing.T, p *Project, dataset string, kind model.TaskKind) {
	t.Helper()
	path, err := p.ResultPath(dataset, kind)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"files":{},"results":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCreate_Layout(t *testing.T) {
	p := newProject(t, model.ProjectTypeGenomes)

	if p.Name() != "Test_Project" {
		t.Errorf("Name() = %q, want canonical Test_Project", p.Name())
	}
	if p.Type() != model.ProjectTypeGenomes {
		t.Errorf("Type() = %q", p.Type())
	}
	for _, sub := range []string{"data", "metadata", "daemon", MetadataFile} {
		if _, err := os.Stat(filepath.Join(p.Path(), sub)); err != nil {
			t.Errorf("missing %s: %v", sub, err)
		}
	}
	if !IsProject(p.Path()) {
		t.Error("IsProject should recognize a created project")
	}

	if _, err := Create(context.Background(), t.TempDir(), "x", "bogus"); err == nil {
		t.Error("unknown project type should be rejected")
	}
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(context.Background(), t.TempDir(), testOpts()...); err == nil {
		t.Fatal("Open on an empty directory should fail")
	}
}

func TestAddDatasetAndReopen(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, model.ProjectTypeMixed)
	addDataset(t, p, "ds-1", model.DatasetGenome)
	addDataset(t, p, "ds2", model.DatasetMetagenome)
	addDataset(t, p, "ds2", model.DatasetMetagenome)

	q, err := Open(ctx, p.Path(), testOpts()...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := q.DatasetNames(); !slices.Equal(got, []string{"ds_1", "ds2"}) {
		t.Errorf("DatasetNames() = %v, want [ds_1 ds2]", got)
	}
	ds := q.Dataset("ds2")
	if ds == nil || ds.Type() != model.DatasetMetagenome || !ds.Active() || !ds.Reference() {
		t.Errorf("Dataset(ds2) = %+v", ds)
	}

	if _, err := q.AddDataset(ctx, "odd", model.DatasetType("plasmid"), true); err == nil {
		t.Error("AddDataset accepted an unknown dataset type")
	}
	if slices.Contains(q.DatasetNames(), "odd") {
		t.Error("rejected dataset was listed")
	}
}

func TestLoad_ListedButMissing(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, model.ProjectTypeMixed)
	addDataset(t, p, "ghost", model.DatasetGenome)
	if err := os.Remove(datasetPath(p, "ghost")); err != nil {
		t.Fatal(err)
	}
	if err := p.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Dataset("ghost") != nil {
		t.Error("dataset without metadata should not be loaded")
	}
	_, _, err := p.NextPreprocessing(ctx, "ghost")
	var nle *model.DatasetNotLoadedError
	if !errors.As(err, &nle) || nle.Name != "ghost" {
		t.Errorf("NextPreprocessing err = %v, want DatasetNotLoadedError", err)
	}

	done, err := p.DonePreprocessing(ctx, false)
	if err != nil || !done {
		t.Errorf("lenient DonePreprocessing = %v, %v; want true", done, err)
	}
	done, err = p.DonePreprocessing(ctx, true)
	if err != nil || done {
		t.Errorf("strict DonePreprocessing = %v, %v; want false", done, err)
	}
}

func TestDataset_NextPreprocessing(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, model.ProjectTypeMixed)
	ds := addDataset(t, p, "g1", model.DatasetGenome)

	next := func() model.TaskKind {
		t.Helper()
		k, ok, err := ds.NextPreprocessing(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			return ""
		}
		return k
	}

	if got := next(); got != model.TaskRawReads {
		t.Fatalf("first task = %q, want raw_reads", got)
	}
	writeResult(t, p, "g1", model.TaskRawReads)
	if got := next(); got != model.TaskTrimmedReads {
		t.Fatalf("after raw_reads = %q, want trimmed_reads", got)
	}

	// An assembly makes the remaining read steps moot.
	writeResult(t, p, "g1", model.TaskAssembly)
	if got := next(); got != model.TaskCDS {
		t.Fatalf("with assembly = %q, want cds", got)
	}

	for _, k := range []model.TaskKind{model.TaskCDS, model.TaskEssentialGenes, model.TaskSSU} {
		writeResult(t, p, "g1", k)
	}
	if got := next(); got != model.TaskMyTaxaScan {
		t.Fatalf("genome after ssu = %q, want mytaxa_scan (mytaxa is metagenome-only)", got)
	}
	for _, k := range []model.TaskKind{model.TaskMyTaxaScan, model.TaskDistances, model.TaskTaxonomy, model.TaskStats} {
		writeResult(t, p, "g1", k)
	}
	if got := next(); got != "" {
		t.Fatalf("finished dataset = %q, want nothing", got)
	}

	if err := ds.SetActive(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if p.Dataset("g1").Active() {
		t.Error("SetActive(false) should persist")
	}
}

func TestDataset_InactiveHasNothingToRun(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, model.ProjectTypeMixed)
	ds := addDataset(t, p, "off", model.DatasetGenome)
	if err := ds.SetActive(ctx, false); err != nil {
		t.Fatal(err)
	}
	if k, ok, err := p.NextPreprocessing(ctx, "off"); err != nil || ok {
		t.Errorf("NextPreprocessing = %q, %v, %v; want nothing", k, ok, err)
	}
	done, err := p.DonePreprocessing(ctx, true)
	if err != nil || !done {
		t.Errorf("inactive datasets should not block the project: %v, %v", done, err)
	}
}

func TestProject_NextTask(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		typ     model.ProjectType
		stage   model.Stage
		done    []model.TaskKind
		want    model.TaskKind
		pending bool
	}{
		{"distance first", model.ProjectTypeGenomes, model.StageDistance, nil, model.TaskProjectStats, true},
		{"distance skips done", model.ProjectTypeGenomes, model.StageDistance,
			[]model.TaskKind{model.TaskProjectStats, model.TaskHAAIDistances}, model.TaskAAIDistances, true},
		{"distance complete", model.ProjectTypeGenomes, model.StageDistance, model.DistanceTasks, "", false},
		{"inclade ignored outside clades", model.ProjectTypeGenomes, model.StageInclade, nil, "", false},
		{"inclade in clade", model.ProjectTypeClade, model.StageInclade, nil, model.TaskSubclades, true},
		{"inclade complete", model.ProjectTypeClade, model.StageInclade, model.IncladeTasks, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProject(t, tt.typ)
			for _, k := range tt.done {
				writeResult(t, p, "", k)
			}
			got, ok, err := p.NextTask(ctx, tt.stage)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.pending || got != tt.want {
				t.Errorf("NextTask = %q, %v; want %q, %v", got, ok, tt.want, tt.pending)
			}
		})
	}
}

func TestProject_ResultPaths(t *testing.T) {
	p := newProject(t, model.ProjectTypeGenomes)

	got, err := p.ResultPath("", model.TaskHAAIDistances)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(p.Path(), "data", "09.distances", "01.haai", "miga-project.json")
	if got != want {
		t.Errorf("project ResultPath = %q, want %q", got, want)
	}

	got, err = p.ResultPath("ds1", model.TaskSSU)
	if err != nil {
		t.Fatal(err)
	}
	want = filepath.Join(p.Path(), "data", "07.annotation", "01.function", "02.ssu", "ds1.json")
	if got != want {
		t.Errorf("dataset ResultPath = %q, want %q", got, want)
	}

	if _, err := p.ResultPath("ds1", model.TaskOGS); err == nil {
		t.Error("project kind with a dataset should have no result path")
	}
	if p.ResultExists("ds1", model.TaskOGS) {
		t.Error("unknown result path cannot exist")
	}
}

func TestProject_Results(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, model.ProjectTypeClade)
	ds := addDataset(t, p, "ds1", model.DatasetGenome)
	writeResult(t, p, "", model.TaskOGS)
	writeResult(t, p, "", model.TaskProjectStats)
	writeResult(t, p, "ds1", model.TaskCDS)

	prs, err := p.Results(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(prs) != 2 || prs[0].Kind != model.TaskProjectStats || prs[1].Kind != model.TaskOGS {
		t.Errorf("project Results = %+v", prs)
	}

	drs, err := ds.Results(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(drs) != 1 || drs[0].Kind != model.TaskCDS {
		t.Errorf("dataset Results = %+v", drs)
	}
}

func TestProject_Unlink(t *testing.T) {
	ctx := context.Background()
	p := newProject(t, model.ProjectTypeMixed)
	addDataset(t, p, "a", model.DatasetGenome)
	addDataset(t, p, "b", model.DatasetGenome)

	if err := p.Unlink(ctx, "a"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := p.Unlink(ctx, "a"); err == nil {
		t.Error("unlinking an absent dataset should fail")
	}
	if err := p.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if got := p.DatasetNames(); !slices.Equal(got, []string{"b"}) {
		t.Errorf("DatasetNames() = %v, want [b]", got)
	}
	if _, err := os.Stat(datasetPath(p, "a")); err != nil {
		t.Error("unlinked dataset metadata should stay on disk")
	}
}
