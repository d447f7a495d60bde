package follower

// Message is the envelope exchanged between a leader and a follower over
// the persistent WebSocket connection. Exactly one of the typed payload
// fields is populated, selected by Type.
type Message struct {
	Type string `json:"type"`

	// client -> leader
	Ready    *ReadyPayload    `json:"ready,omitempty"`
	Progress *ProgressPayload `json:"progress,omitempty"`
	Complete *CompletePayload `json:"complete,omitempty"`

	// leader -> client
	Job    *JobPayload `json:"job,omitempty"`
	NoWork bool        `json:"noWork,omitempty"`
}

const (
	TypeReady    = "ready"
	TypeJob      = "job"
	TypeProgress = "progress"
	TypeComplete = "complete"
	TypeNoWork   = "noWork"
)

// ReadyPayload announces that the follower has a free execution slot.
type ReadyPayload struct {
	FollowerID string `json:"followerId"`
}

// JobPayload carries everything the follower needs to run one encode
// without consulting the leader's store directly.
type JobPayload struct {
	JobID                int64    `json:"jobId"`
	Args                 []string `json:"args"`
	OutputPath           string   `json:"outputPath"`
	EstimatedDurationSec float64  `json:"estimatedDurationSec"`
}

// ProgressPayload reports an in-flight percentage for JobID.
type ProgressPayload struct {
	JobID   int64 `json:"jobId"`
	Percent int   `json:"percent"`
}

// CompletePayload reports the terminal outcome of JobID.
type CompletePayload struct {
	JobID        int64  `json:"jobId"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}
