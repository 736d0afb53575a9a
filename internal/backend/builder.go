package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/me/miga/internal/config"
	"github.com/me/miga/pkg/model"
)

// BuilderConfig describes the project a Builder formats commands for.
type BuilderConfig struct {
	ProjectPath string // absolute project directory
	ProjectName string // project name from its metadata
	MigaRoot    string // installation root exported as MIGA
}

// Builder turns a (dataset, kind) pair into a submittable Task using the
// runtime cmd/var/varsep templates.
type Builder struct {
	cfg BuilderConfig
	rt  *config.Runtime
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig, rt *config.Runtime) *Builder {
	return &Builder{cfg: cfg, rt: rt}
}

// ScriptPath returns the script run for kind. A script in the project's own
// scripts directory overrides the installation's.
func (b *Builder) ScriptPath(kind model.TaskKind) string {
	name := string(kind) + ".bash"
	local := filepath.Join(b.cfg.ProjectPath, "scripts", name)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return filepath.Join(b.cfg.MigaRoot, "scripts", name)
}

// LogPath returns the log file for a task, creating its directory.
func (b *Builder) LogPath(kind model.TaskKind, dsName string) (string, error) {
	dir := filepath.Join(b.cfg.ProjectPath, "daemon", string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir %s: %w", dir, err)
	}
	return filepath.Join(dir, dsName+".log"), nil
}

// TaskName returns the display name: a truncated project name, the kind,
// and the dataset name (or the project-wide marker).
func (b *Builder) TaskName(kind model.TaskKind, dsName string) string {
	name := []rune(b.cfg.ProjectName)
	if len(name) > 10 {
		name = name[:10]
	}
	return fmt.Sprintf("%s:%s:%s", string(name), kind, dsName)
}

// Vars returns the variable assignments passed to the task, in order.
func (b *Builder) Vars(dataset string) [][2]string {
	vars := [][2]string{
		{"PROJECT", b.cfg.ProjectPath},
		{"RUNTYPE", string(b.rt.Type)},
		{"CORES", strconv.Itoa(b.rt.PPN)},
		{"MIGA", b.cfg.MigaRoot},
	}
	if dataset != "" {
		vars = append(vars, [2]string{"DATASET", dataset})
	}
	return vars
}

// Build formats the task for kind. dataset is empty for project-wide tasks.
func (b *Builder) Build(dataset string, kind model.TaskKind) (*model.Task, error) {
	dsName := dataset
	if dsName == "" {
		dsName = model.ProjectScope
	}
	logPath, err := b.LogPath(kind, dsName)
	if err != nil {
		return nil, err
	}

	assignments := make([]string, 0, 5)
	for _, kv := range b.Vars(dataset) {
		assignments = append(assignments, Format(b.rt.Var, kv[0], kv[1]))
	}
	name := b.TaskName(kind, dsName)
	cmd := Format(b.rt.Cmd,
		b.ScriptPath(kind),
		strings.Join(assignments, b.rt.VarSep),
		strconv.Itoa(b.rt.PPN),
		logPath,
		name,
	)
	return &model.Task{
		Dataset:     dataset,
		DatasetName: dsName,
		Kind:        kind,
		Name:        name,
		Command:     cmd,
	}, nil
}
