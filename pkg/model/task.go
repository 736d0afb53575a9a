package model

// ProjectScope is the display name used for project-wide tasks.
const ProjectScope = "miga-project"

// TaskKey identifies a task for deduplication. Dataset is empty for
// project-wide tasks.
type TaskKey struct {
	Dataset string
	Kind    TaskKind
}

// Task is a unit of work held by the scheduler. It lives only in memory and
// in the status document.
type Task struct {
	// Dataset is the dataset name, empty for project-wide tasks.
	Dataset string `json:"ds,omitempty"`
	// DatasetName is Dataset or ProjectScope.
	DatasetName string   `json:"ds_name"`
	Kind        TaskKind `json:"job"`
	Name        string   `json:"task_name"`
	Command     string   `json:"cmd"`
	// Handle is the backend identifier, set after launch.
	Handle string `json:"pid,omitempty"`
}

// Key returns the deduplication identity of the task.
func (t *Task) Key() TaskKey {
	return TaskKey{Dataset: t.Dataset, Kind: t.Kind}
}

// IsProjectWide reports whether the task is not bound to a dataset.
func (t *Task) IsProjectWide() bool {
	return t.Dataset == ""
}

// Status is the document written to daemon/status.json after every tick.
type Status struct {
	JobsRunning []*Task `json:"jobs_running"`
	JobsToRun   []*Task `json:"jobs_to_run"`
}
