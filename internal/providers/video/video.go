// Package video talks to the asynchronous video synthesis capability.
// Generation is submit-then-poll: Submit returns a task handle, Status
// reports progress until the task is terminal. The poll cadence and
// ceiling live with the caller, not here.
package video

import "context"

// SubmitRequest animates one source image with a motion instruction.
type SubmitRequest struct {
	ImageRef    string
	Motion      string
	AspectRatio string
}

// Terminal and non-terminal task states as the provider reports them.
const (
	StatePending   = "PENDING"
	StateRunning   = "RUNNING"
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
)

// Status is one poll observation.
type Status struct {
	State       string
	ArtifactURL string
}

// Terminal reports whether the task has finished either way.
func (s Status) Terminal() bool {
	return s.State == StateSucceeded || s.State == StateFailed
}

// Client is the submit/poll surface of a video provider.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (taskID string, err error)
	Status(ctx context.Context, taskID string) (Status, error)
}
