package model

// EventType identifies the shape of a bus message.
type EventType string

const (
	EventJobUpdated      EventType = "job:updated"
	EventJobCreated      EventType = "job:created"
	EventBatchProgress   EventType = "batch:progress"
	EventFollowerStatus  EventType = "follower:status"
)

// JobUpdatedEvent carries the minimum delta required for a job status change.
type JobUpdatedEvent struct {
	Type         EventType `json:"type"`
	JobID        int64     `json:"jobId"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// JobCreatedEvent announces a newly staged job within a batch.
type JobCreatedEvent struct {
	Type    EventType `json:"type"`
	JobID   int64     `json:"jobId"`
	BatchID string    `json:"batchId"`
	Name    string    `json:"name"`
}

// BatchProgressEvent reports staging progress for a batch as jobs are created.
type BatchProgressEvent struct {
	Type         EventType   `json:"type"`
	BatchID      string      `json:"batchId"`
	TotalFiles   int         `json:"totalFiles"`
	CreatedCount int         `json:"createdCount"`
	Status       BatchStatus `json:"status"`
}

// FollowerStatusEvent reports a change in a follower's liveness or load.
type FollowerStatusEvent struct {
	Type       EventType   `json:"type"`
	FollowerID string      `json:"followerId"`
	Busy       bool        `json:"busy"`
	Dead       bool        `json:"dead"`
	CurrentJob *CurrentJob `json:"currentJob,omitempty"`
}

// Topic names used on the event bus.
const (
	TopicJobs       = "jobs"
	TopicBatches    = "batches"
	TopicFollowers  = "followers"
)
