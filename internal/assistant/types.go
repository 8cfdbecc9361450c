package assistant

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state reported for a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Active reports whether the run is still being worked on remotely.
func (s RunStatus) Active() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		return true
	}
	return false
}

const RoleAssistant = "assistant"

type Thread struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type Run struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"threadId"`
	AssistantID string    `json:"assistantId"`
	Status      RunStatus `json:"status"`
	LastError   string    `json:"lastError,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Message is a thread message with its text parts joined.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	RunID     string    `json:"runId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type File struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Purpose   string    `json:"purpose"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// Client is the remote assistant API.
type Client interface {
	CreateThread(ctx context.Context) (*Thread, error)
	AddMessage(ctx context.Context, threadID, content string) (*Message, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	// ListMessages returns the thread's messages, newest first.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	UploadFile(ctx context.Context, filename string, data []byte) (*File, error)
}
