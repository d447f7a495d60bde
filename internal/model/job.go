// Package model defines the shared data types for jobs, batches, followers,
// and the argument vectors the core builds and executes.
package model

import "time"

// JobStatus is the lifecycle state of a single transcode job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state for a job.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ArgVector is the frozen, ordered argument list produced by the argument
// builder for a single job. It is immutable once a job is created.
type ArgVector struct {
	Args          []string `json:"args"`
	DisplayString string   `json:"displayString"`
	InputPath     string   `json:"inputPath"`
	OutputPath    string   `json:"outputPath"`
}

// Job is one encoder invocation with an immutable argument vector.
type Job struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	InputPath      string     `json:"inputPath"`
	OutputPath     string     `json:"outputPath"`
	Args           ArgVector  `json:"args"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Retried        bool       `json:"retried"`
	Cleared        bool       `json:"cleared"`
	BatchID        string     `json:"batchId"`
	AssignedWorker string     `json:"assignedWorker,omitempty"`
	ConfigFingerprint string  `json:"configFingerprint"`
}

// Clone returns a deep-enough copy safe for handing to callers outside the store.
func (j Job) Clone() Job {
	out := j
	out.Args.Args = append([]string(nil), j.Args.Args...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
