package model

import "time"

// EventType names a transition recorded in the job history.
type EventType string

const (
	EventQueued    EventType = "queued"
	EventLaunched  EventType = "launched"
	EventRequeued  EventType = "requeued"
	EventCompleted EventType = "completed"
	EventPurged    EventType = "purged"
	EventKilled    EventType = "killed"
)

// JobEvent is one entry of a project's job history.
type JobEvent struct {
	ID       int64     `json:"id"`
	Instance string    `json:"instance"`
	Time     time.Time `json:"time"`
	Type     EventType `json:"event"`
	Dataset  string    `json:"ds_name"`
	Kind     TaskKind  `json:"job"`
	TaskName string    `json:"task_name"`
	Handle   string    `json:"pid,omitempty"`
}

// NewJobEvent builds an event for task.
func NewJobEvent(instance string, typ EventType, task *Task, at time.Time) *JobEvent {
	return &JobEvent{
		Instance: instance,
		Time:     at.UTC(),
		Type:     typ,
		Dataset:  task.DatasetName,
		Kind:     task.Kind,
		TaskName: task.Name,
		Handle:   task.Handle,
	}
}

// DaemonSnapshot is the externally visible state of a running daemon.
type DaemonSnapshot struct {
	Instance  string    `json:"instance"`
	Project   string    `json:"project"`
	Iteration int       `json:"iteration"`
	LastTick  time.Time `json:"last_tick"`
	MaxJobs   int       `json:"maxjobs"`
	Status
}

// DaemonInstance records one run of a project daemon.
type DaemonInstance struct {
	ID        string     `json:"id"`
	Project   string     `json:"project"`
	PID       int        `json:"pid"`
	Backend   string     `json:"type"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// EventFilter selects job events from the history.
type EventFilter struct {
	Instance string
	Dataset  string
	Type     EventType
	Limit    int
	Offset   int
}

// Clamp bounds Limit to [1, 500] with a default of 50, and Offset to >= 0.
func (f *EventFilter) Clamp() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
