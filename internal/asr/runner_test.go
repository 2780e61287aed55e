package asr

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/callscribe/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

// fakeVendor scripts a sequence of poll responses.
type fakeVendor struct {
	submitErr error
	polls     []PollResult
	pollErrs  []error
	pollCount int
}

func (f *fakeVendor) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "order-123", nil
}

func (f *fakeVendor) Poll(ctx context.Context, id string) (*PollResult, error) {
	i := f.pollCount
	f.pollCount++
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return nil, f.pollErrs[i]
	}
	if i >= len(f.polls) {
		// Keep returning the final scripted response
		i = len(f.polls) - 1
	}
	r := f.polls[i]
	return &r, nil
}

func newTestRunner(t *testing.T, vendor Vendor, maxAttempts int) *Runner {
	t.Helper()
	return NewRunner(vendor, RunnerConfig{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: maxAttempts,
	}, testLogger(t))
}

func uploadedTask(t *testing.T) *Task {
	t.Helper()
	task := NewTask("华为-张三-13812345678.mp3")
	require.NoError(t, task.MarkUploaded("https://bucket.example/calls/a.wav"))
	return task
}

func TestRunCompletesAfterInProgressPolls(t *testing.T) {
	vendor := &fakeVendor{
		polls: []PollResult{
			{Status: 1},
			{Status: 3},
			{Status: 4, Payload: json.RawMessage(`{"lattice":[]}`)},
		},
	}
	task := uploadedTask(t)

	payload, err := newTestRunner(t, vendor, 60).Run(context.Background(), task)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lattice":[]}`, string(payload))
	assert.Equal(t, StateCompleted, task.State)
	assert.Equal(t, "order-123", task.VendorTaskID)
	assert.Equal(t, 3, task.PollAttempts)
}

func TestRunTimesOutWhenBudgetExhausted(t *testing.T) {
	vendor := &fakeVendor{polls: []PollResult{{Status: 3}}}
	task := uploadedTask(t)

	_, err := newTestRunner(t, vendor, 5).Run(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, StateTimeout, task.State)
	assert.Equal(t, 5, vendor.pollCount)
}

func TestRunCompletesOnLastAllowedPoll(t *testing.T) {
	// 59 in-progress responses, completion on the 60th poll
	polls := make([]PollResult, 60)
	for i := 0; i < 59; i++ {
		polls[i] = PollResult{Status: 3}
	}
	polls[59] = PollResult{Status: 4, Payload: json.RawMessage(`{}`)}
	vendor := &fakeVendor{polls: polls}
	task := uploadedTask(t)

	_, err := newTestRunner(t, vendor, 60).Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, task.State)
	assert.Equal(t, 60, task.PollAttempts)
}

func TestRunReportsVendorFailure(t *testing.T) {
	vendor := &fakeVendor{polls: []PollResult{{Status: 1}, {Status: -1, Message: "decode error"}}}
	task := uploadedTask(t)

	_, err := newTestRunner(t, vendor, 60).Run(context.Background(), task)
	require.Error(t, err)

	var vendorErr *VendorError
	require.ErrorAs(t, err, &vendorErr)
	assert.Equal(t, -1, vendorErr.Status)
	assert.Equal(t, StateFailed, task.State)
}

func TestRunWrapsSubmitFailure(t *testing.T) {
	vendor := &fakeVendor{submitErr: errors.New("connection refused")}
	task := uploadedTask(t)

	_, err := newTestRunner(t, vendor, 60).Run(context.Background(), task)
	require.Error(t, err)

	var submitErr *SubmitError
	assert.ErrorAs(t, err, &submitErr)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, 0, vendor.pollCount)
}

func TestRunToleratesTransientPollErrors(t *testing.T) {
	vendor := &fakeVendor{
		pollErrs: []error{errors.New("timeout"), nil},
		polls: []PollResult{
			{Status: 3}, // consumed by the errored attempt's slot
			{Status: 4, Payload: json.RawMessage(`{}`)},
		},
	}
	task := uploadedTask(t)

	_, err := newTestRunner(t, vendor, 60).Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, task.State)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	vendor := &fakeVendor{polls: []PollResult{{Status: 3}}}
	task := uploadedTask(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(t, vendor, 60).Run(ctx, task)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, task.State)
}

func TestTaskTransitions(t *testing.T) {
	task := NewTask("a.mp3")
	assert.Equal(t, StateCreated, task.State)
	assert.NotEmpty(t, task.CorrelationID)

	// Cannot submit before uploading
	assert.Error(t, task.MarkSubmitted("order-1"))

	require.NoError(t, task.MarkUploaded("https://x/y.wav"))
	require.NoError(t, task.MarkSubmitted("order-1"))
	require.NoError(t, task.MarkProcessing())
	require.NoError(t, task.MarkProcessing()) // polling repeats
	require.NoError(t, task.MarkCompleted())

	// Terminal states are frozen
	assert.Error(t, task.MarkFailed())
	assert.Error(t, task.MarkProcessing())
	assert.True(t, task.State.Terminal())
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, statusComplete, classifyStatus(4))
	assert.Equal(t, statusInProgress, classifyStatus(1))
	assert.Equal(t, statusInProgress, classifyStatus(2))
	assert.Equal(t, statusInProgress, classifyStatus(3))
	assert.Equal(t, statusFailed, classifyStatus(0))
	assert.Equal(t, statusFailed, classifyStatus(-1))
	assert.Equal(t, statusFailed, classifyStatus(5))
}
