package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yegors/callscribe/pkg/logger"
)

// RunnerConfig contains polling behavior for recognition tasks
type RunnerConfig struct {
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Runner submits a task to the vendor and polls it to a terminal
// state, recording every transition on the Task.
type Runner struct {
	vendor       Vendor
	pollInterval time.Duration
	maxAttempts  int
	logger       *logger.Logger
}

// NewRunner creates a new task runner
func NewRunner(vendor Vendor, config RunnerConfig, log *logger.Logger) *Runner {
	interval := config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := config.MaxPollAttempts
	if attempts <= 0 {
		attempts = 60
	}
	return &Runner{
		vendor:       vendor,
		pollInterval: interval,
		maxAttempts:  attempts,
		logger:       log.Named("asr-runner"),
	}
}

// Run submits the task's audio to the vendor and polls until the
// vendor reports completion or failure, or the polling budget runs
// out. The task must be in the UPLOADED state. On success the raw
// transcription payload is returned and the task is COMPLETED.
func (r *Runner) Run(ctx context.Context, task *Task) (json.RawMessage, error) {
	log := r.logger.With(
		logger.String("correlation_id", task.CorrelationID),
		logger.String("filename", task.Filename))

	vendorTaskID, err := r.vendor.Submit(ctx, SubmitRequest{
		AudioURL: task.AudioURL,
		Filename: task.Filename,
	})
	if err != nil {
		_ = task.MarkFailed()
		return nil, &SubmitError{Err: err}
	}
	if err := task.MarkSubmitted(vendorTaskID); err != nil {
		return nil, err
	}
	log.Info("Recognition task submitted", logger.String("vendor_task_id", vendorTaskID))

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			_ = task.MarkFailed()
			return nil, ctx.Err()
		case <-time.After(r.pollInterval):
		}

		task.PollAttempts = attempt
		result, err := r.vendor.Poll(ctx, vendorTaskID)
		if err != nil {
			// Transient poll errors count against the budget but do
			// not kill the task.
			log.Warn("Poll attempt failed",
				logger.Int("attempt", attempt),
				logger.Error(err))
			continue
		}

		switch classifyStatus(result.Status) {
		case statusComplete:
			if err := task.MarkCompleted(); err != nil {
				return nil, err
			}
			log.Info("Recognition task completed",
				logger.Int("attempts", attempt),
				logger.Int("payload_bytes", len(result.Payload)))
			return result.Payload, nil

		case statusFailed:
			_ = task.MarkFailed()
			log.Warn("Recognition task failed",
				logger.Int("vendor_status", result.Status),
				logger.String("message", result.Message))
			return nil, &VendorError{Status: result.Status, Message: result.Message}

		case statusInProgress:
			if task.State != StateProcessing {
				if err := task.MarkProcessing(); err != nil {
					return nil, err
				}
			}
			log.Debug("Recognition task in progress",
				logger.Int("attempt", attempt),
				logger.Int("vendor_status", result.Status))
		}
	}

	_ = task.MarkTimeout()
	log.Warn("Recognition task timed out",
		logger.Int("max_attempts", r.maxAttempts),
		logger.String("poll_interval", r.pollInterval.String()))
	return nil, fmt.Errorf("%w after %d polls", ErrPollTimeout, r.maxAttempts)
}
