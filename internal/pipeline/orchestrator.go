package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/callscribe/pkg/logger"
)

// Processor is the per-file surface the orchestrator fans out over.
type Processor interface {
	ProcessFile(ctx context.Context, input FileInput) *FileResult
}

// Progress is one batch progress report, emitted every time a file
// finishes, in completion order.
type Progress struct {
	BatchID   string      `json:"batch_id"`
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	Fraction  float64     `json:"fraction"`
	Result    *FileResult `json:"result"`
}

// ProgressFunc receives progress reports. Calls are serialized.
type ProgressFunc func(Progress)

// BatchResult summarizes a finished batch. Results are in input order.
type BatchResult struct {
	BatchID    string        `json:"batch_id"`
	Results    []*FileResult `json:"results"`
	Completed  int           `json:"completed"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Elapsed    time.Duration `json:"-"`
}

// Orchestrator fans a batch of recordings out over a bounded pool of
// workers.
type Orchestrator struct {
	processor     Processor
	maxConcurrent int // 0 = unbounded
	logger        *logger.Logger
}

// NewOrchestrator creates a new batch orchestrator
func NewOrchestrator(processor Processor, maxConcurrent int, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		processor:     processor,
		maxConcurrent: maxConcurrent,
		logger:        log.Named("orchestrator"),
	}
}

// ProcessBatch runs every input through the processor, at most
// maxConcurrent at a time, and reports progress as files finish. A
// failed file is reported in its result and does not abort its
// siblings; cancelling ctx stops workers that have not started yet and
// interrupts the rest at their next suspension point.
func (o *Orchestrator) ProcessBatch(ctx context.Context, inputs []FileInput, onProgress ProgressFunc) *BatchResult {
	batchID := uuid.New().String()
	start := time.Now()
	total := len(inputs)

	o.logger.Info("Starting batch",
		String("batch_id", batchID),
		logger.Int("files", total),
		logger.Int("max_concurrent", o.maxConcurrent))

	results := make([]*FileResult, total)

	var sem chan struct{}
	if o.maxConcurrent > 0 {
		sem = make(chan struct{}, o.maxConcurrent)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, input := range inputs {
		wg.Add(1)
		go func(i int, input FileInput) {
			defer wg.Done()

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[i] = failed(&FileResult{Filename: input.Filename}, StageInput, ctx.Err())
					o.report(batchID, &mu, &completed, total, results[i], onProgress)
					return
				}
			}

			results[i] = o.processor.ProcessFile(ctx, input)
			o.report(batchID, &mu, &completed, total, results[i], onProgress)
		}(i, input)
	}
	wg.Wait()

	batch := &BatchResult{
		BatchID: batchID,
		Results: results,
		Elapsed: time.Since(start),
	}
	for _, r := range results {
		switch r.Status {
		case StatusCompleted:
			batch.Completed++
		case StatusDuplicate:
			batch.Duplicates++
		default:
			batch.Failed++
		}
	}

	o.logger.Info("Batch finished",
		String("batch_id", batchID),
		logger.Int("completed", batch.Completed),
		logger.Int("duplicates", batch.Duplicates),
		logger.Int("failed", batch.Failed),
		String("elapsed", batch.Elapsed.String()))
	return batch
}

// report bumps the completion counter and emits a progress event. The
// counter only ever moves forward.
func (o *Orchestrator) report(batchID string, mu *sync.Mutex, completed *int, total int, result *FileResult, onProgress ProgressFunc) {
	mu.Lock()
	defer mu.Unlock()

	*completed++
	if onProgress != nil {
		onProgress(Progress{
			BatchID:   batchID,
			Completed: *completed,
			Total:     total,
			Fraction:  float64(*completed) / float64(total),
			Result:    result,
		})
	}
}
