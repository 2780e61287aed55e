package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProcessor returns canned results keyed by filename.
type scriptedProcessor struct {
	results map[string]*FileResult
	delay   time.Duration

	mu          sync.Mutex
	inFlight    int
	maxObserved int
	calls       int32
}

func (s *scriptedProcessor) ProcessFile(ctx context.Context, input FileInput) *FileResult {
	atomic.AddInt32(&s.calls, 1)

	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxObserved {
		s.maxObserved = s.inFlight
	}
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if r, ok := s.results[input.Filename]; ok {
		return r
	}
	return &FileResult{Filename: input.Filename, Status: StatusCompleted}
}

func inputs(names ...string) []FileInput {
	out := make([]FileInput, len(names))
	for i, n := range names {
		out[i] = FileInput{Filename: n, Path: "/tmp/" + n}
	}
	return out
}

func TestProcessBatchMixedResults(t *testing.T) {
	processor := &scriptedProcessor{results: map[string]*FileResult{
		"b.mp3": {Filename: "b.mp3", Status: StatusFailed, Stage: StageNormalize, Err: "unable to decode"},
		"c.mp3": {Filename: "c.mp3", Status: StatusDuplicate},
	}}
	o := NewOrchestrator(processor, 8, testLogger(t))

	batch := o.ProcessBatch(context.Background(), inputs("a.mp3", "b.mp3", "c.mp3"), nil)

	assert.NotEmpty(t, batch.BatchID)
	assert.Equal(t, 1, batch.Completed)
	assert.Equal(t, 1, batch.Duplicates)
	assert.Equal(t, 1, batch.Failed)

	// Results stay in input order regardless of completion order
	require.Len(t, batch.Results, 3)
	assert.Equal(t, "a.mp3", batch.Results[0].Filename)
	assert.Equal(t, "b.mp3", batch.Results[1].Filename)
	assert.Equal(t, "c.mp3", batch.Results[2].Filename)
}

func TestProcessBatchProgressIsMonotonic(t *testing.T) {
	processor := &scriptedProcessor{delay: time.Millisecond}
	o := NewOrchestrator(processor, 4, testLogger(t))

	var mu sync.Mutex
	var seen []Progress
	onProgress := func(p Progress) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	}

	files := inputs("a.mp3", "b.mp3", "c.mp3", "d.mp3", "e.mp3")
	batch := o.ProcessBatch(context.Background(), files, onProgress)

	require.Len(t, seen, 5)
	for i, p := range seen {
		assert.Equal(t, i+1, p.Completed, "progress count must only move forward")
		assert.Equal(t, 5, p.Total)
		assert.InDelta(t, float64(i+1)/5.0, p.Fraction, 1e-9)
		assert.Equal(t, batch.BatchID, p.BatchID)
		require.NotNil(t, p.Result)
	}
}

func TestProcessBatchHonorsConcurrencyLimit(t *testing.T) {
	processor := &scriptedProcessor{delay: 10 * time.Millisecond}
	o := NewOrchestrator(processor, 2, testLogger(t))

	o.ProcessBatch(context.Background(), inputs("a", "b", "c", "d", "e", "f"), nil)

	assert.Equal(t, int32(6), processor.calls)
	assert.LessOrEqual(t, processor.maxObserved, 2)
}

func TestProcessBatchUnboundedWhenZero(t *testing.T) {
	processor := &scriptedProcessor{delay: 20 * time.Millisecond}
	o := NewOrchestrator(processor, 0, testLogger(t))

	start := time.Now()
	o.ProcessBatch(context.Background(), inputs("a", "b", "c", "d", "e", "f", "g", "h"), nil)
	elapsed := time.Since(start)

	// All eight ran together, so the batch takes roughly one delay,
	// not eight.
	assert.Less(t, elapsed, 8*20*time.Millisecond)
	assert.GreaterOrEqual(t, processor.maxObserved, 3)
}

func TestProcessBatchCancelledContext(t *testing.T) {
	processor := &scriptedProcessor{delay: 5 * time.Millisecond}
	o := NewOrchestrator(processor, 1, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := o.ProcessBatch(ctx, inputs("a", "b", "c"), nil)

	// Every file still gets a result
	require.Len(t, batch.Results, 3)
	for _, r := range batch.Results {
		require.NotNil(t, r)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	o := NewOrchestrator(&scriptedProcessor{}, 4, testLogger(t))
	batch := o.ProcessBatch(context.Background(), nil, nil)
	assert.Empty(t, batch.Results)
	assert.Equal(t, 0, batch.Completed)
}
