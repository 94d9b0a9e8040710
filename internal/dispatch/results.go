// Package dispatch is the Dispatch Engine: the single serializing
// execution context that turns the nine wire-protocol tools into
// mutations of internal/state.State, plus the LRU worker-selection and
// overflow-queue policy that never lives in State itself. Every exported
// method here runs under one *sync.Mutex — see Engine — matching
// single serializing execution context.
package dispatch

// RegisterResult is the data payload for register_worker.
type RegisterResult struct {
	Success bool   `json:"success"`
	Worker  string `json:"worker,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TaskRef is the wire shape of a dispatched task.
type TaskRef struct {
	BeadID     string `json:"bead_id"`
	AssignedAt int64  `json:"assigned_at"`
}

// PollResult is the data payload for poll_task. Exactly one of Task,
// Timeout, Cancelled is meaningful on a successful poll; Error is set
// instead when the call itself was rejected (unknown worker, already
// polling).
type PollResult struct {
	Task      *TaskRef `json:"task"`
	Timeout   bool     `json:"timeout,omitempty"`
	Cancelled bool     `json:"cancelled,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// AckResult is the data payload for ack_task.
type AckResult struct {
	Success bool   `json:"success"`
	Worker  string `json:"worker,omitempty"`
	BeadID  string `json:"bead_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SubmitResult is the data payload for submit_task and retry_task: a
// bead either dispatches straight to an available worker or lands in
// the overflow queue.
type SubmitResult struct {
	Dispatched bool   `json:"dispatched"`
	Worker     string `json:"worker,omitempty"`
	BeadID     string `json:"bead_id"`
	Queued     bool   `json:"queued,omitempty"`
	Position   int    `json:"position,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DoneResult is the data payload for worker_done.
type DoneResult struct {
	Success bool   `json:"success"`
	BeadID  string `json:"bead_id,omitempty"`
	Worker  string `json:"worker,omitempty"`
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FailedResult is the data payload for task_failed.
type FailedResult struct {
	Success bool   `json:"success"`
	BeadID  string `json:"bead_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResetResult is the data payload for reset_worker.
type ResetResult struct {
	Success      bool   `json:"success"`
	Worker       string `json:"worker,omitempty"`
	PreviousTask string `json:"previous_task,omitempty"`
	Error        string `json:"error,omitempty"`
}
