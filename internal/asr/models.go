// Package asr drives asynchronous speech recognition tasks against the
// vendor API: submit an audio URL, then poll until the vendor reports a
// terminal status.
package asr

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a recognition task.
type State string

const (
	StateCreated    State = "CREATED"    // Task exists, audio not yet uploaded
	StateUploaded   State = "UPLOADED"   // Audio is in object storage
	StateSubmitted  State = "SUBMITTED"  // Vendor accepted the task
	StateProcessing State = "PROCESSING" // Vendor reported work in progress
	StateCompleted  State = "COMPLETED"  // Vendor returned a result
	StateFailed     State = "FAILED"     // Vendor reported failure
	StateTimeout    State = "TIMEOUT"    // Polling budget exhausted
)

// legal transitions between task states
var transitions = map[State][]State{
	StateCreated:    {StateUploaded, StateFailed},
	StateUploaded:   {StateSubmitted, StateFailed},
	StateSubmitted:  {StateProcessing, StateCompleted, StateFailed, StateTimeout},
	StateProcessing: {StateProcessing, StateCompleted, StateFailed, StateTimeout},
}

// Terminal reports whether a task in state s will never change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimeout
}

// Task tracks one recognition job from creation through its terminal
// state. The correlation ID ties every log line and vendor round trip
// for the same file together.
type Task struct {
	CorrelationID string
	Filename      string
	AudioURL      string
	VendorTaskID  string
	State         State
	PollAttempts  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewTask creates a task in the CREATED state with a fresh correlation ID.
func NewTask(filename string) *Task {
	now := time.Now().UTC()
	return &Task{
		CorrelationID: uuid.New().String(),
		Filename:      filename,
		State:         StateCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (t *Task) transition(to State) error {
	for _, allowed := range transitions[t.State] {
		if allowed == to {
			t.State = to
			t.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("illegal task transition %s -> %s", t.State, to)
}

// MarkUploaded records that the audio is available at audioURL.
func (t *Task) MarkUploaded(audioURL string) error {
	if err := t.transition(StateUploaded); err != nil {
		return err
	}
	t.AudioURL = audioURL
	return nil
}

// MarkSubmitted records the vendor's task identifier.
func (t *Task) MarkSubmitted(vendorTaskID string) error {
	if err := t.transition(StateSubmitted); err != nil {
		return err
	}
	t.VendorTaskID = vendorTaskID
	return nil
}

// MarkProcessing records an in-progress poll response.
func (t *Task) MarkProcessing() error { return t.transition(StateProcessing) }

// MarkCompleted moves the task to its successful terminal state.
func (t *Task) MarkCompleted() error { return t.transition(StateCompleted) }

// MarkFailed moves the task to the failed terminal state. Failure is
// legal from any non-terminal state.
func (t *Task) MarkFailed() error {
	if t.State.Terminal() {
		return fmt.Errorf("illegal task transition %s -> %s", t.State, StateFailed)
	}
	t.State = StateFailed
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkTimeout moves the task to the timeout terminal state.
func (t *Task) MarkTimeout() error { return t.transition(StateTimeout) }

// Vendor status codes follow the upstream convention: a small range of
// integers for in-progress phases and a single completion code.
const (
	vendorStatusComplete = 4
)

// statusClass buckets a vendor status integer.
type statusClass int

const (
	statusInProgress statusClass = iota
	statusComplete
	statusFailed
)

func classifyStatus(status int) statusClass {
	switch {
	case status == vendorStatusComplete:
		return statusComplete
	case status >= 1 && status <= 3:
		return statusInProgress
	default:
		return statusFailed
	}
}

// ErrPollTimeout is returned when the polling budget is exhausted
// before the vendor reports a terminal status.
var ErrPollTimeout = errors.New("recognition task did not finish within the polling budget")

// VendorError is a terminal failure reported by the vendor.
type VendorError struct {
	Status  int
	Message string
}

func (e *VendorError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("vendor reported failure (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("vendor reported failure (status %d)", e.Status)
}

// SubmitError is a failure to hand the task to the vendor in the first
// place, before any polling happened.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return fmt.Sprintf("failed to submit recognition task: %v", e.Err) }
func (e *SubmitError) Unwrap() error { return e.Err }
