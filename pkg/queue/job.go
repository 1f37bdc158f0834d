// Package queue schedules named units of work onto named Redis queues and
// runs them on pools of workers with per-job timeouts and progress metadata.
package queue

import (
	"encoding/json"
	"time"
)

const (
	// ScrapeQueue holds upstream fetch work
	ScrapeQueue = "scrape"
	// IndexQueue holds search index synchronization work
	IndexQueue = "index"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Progress type values
const (
	ProgressDeterminate   = "determinate"
	ProgressIndeterminate = "indeterminate"
)

// Progress is the coarse progress a running job reports
type Progress struct {
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Percent returns completion in [0, 100], or zero when indeterminate
func (p Progress) Percent() int {
	if p.Total <= 0 || p.Type != ProgressDeterminate {
		return 0
	}
	pct := p.Current * 100 / p.Total
	if pct > 100 {
		return 100
	}
	return pct
}

// Job is one unit of scheduled work. IDs are opaque and only useful for
// correlation.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Func        string          `json:"func"`
	Args        json.RawMessage `json:"args"`
	Timeout     time.Duration   `json:"timeout"`
	Description string          `json:"description"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`

	// Mutable state, stored as separate hash fields
	Status    Status     `json:"-"`
	Meta      Progress   `json:"-"`
	Error     string     `json:"-"`
	Worker    string     `json:"-"`
	StartedAt *time.Time `json:"-"`
	EndedAt   *time.Time `json:"-"`
}

// DecodeArgs unmarshals the job's arguments into v
func (j *Job) DecodeArgs(v interface{}) error {
	return json.Unmarshal(j.Args, v)
}

// Request describes a job to enqueue
type Request struct {
	Queue       string
	Func        string
	Args        interface{}
	Timeout     time.Duration
	Description string
	// ProgressType seeds the progress type shown before the job starts
	ProgressType string
}

// WorkerInfo is a live worker as seen by an operations view
type WorkerInfo struct {
	Name       string    `json:"name"`
	Queues     []string  `json:"queues"`
	State      string    `json:"state"`
	Heartbeat  time.Time `json:"heartbeat"`
	CurrentJob *JobView  `json:"current_job,omitempty"`
}

// JobView is the operator facing summary of a job
type JobView struct {
	ID          string `json:"id"`
	Func        string `json:"function"`
	Description string `json:"description"`
	Queue       string `json:"original_queue"`
	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Progress    int    `json:"progress"`
	Type        string `json:"type"`
}

// View summarizes the job for operators
func (j *Job) View() JobView {
	return JobView{
		ID:          j.ID,
		Func:        j.Func,
		Description: j.Description,
		Queue:       j.Queue,
		Status:      j.Status,
		Error:       j.Error,
		Current:     j.Meta.Current,
		Total:       j.Meta.Total,
		Progress:    j.Meta.Percent(),
		Type:        j.Meta.Type,
	}
}
