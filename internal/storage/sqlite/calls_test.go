package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/callscribe/internal/transcript"
	"github.com/yegors/callscribe/pkg/logger"
)

func newTestStorage(t *testing.T) *CallStorage {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)

	storage, err := NewCallStorage(filepath.Join(t.TempDir(), "calls.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func sampleCall(filename string, uploadedAt time.Time) *CallRecord {
	return &CallRecord{
		Filename:         filename,
		Company:          "华为",
		Contact:          "张三",
		Phone:            "13812345678",
		CallTime:         "2025-06-24 11:14",
		DurationSeconds:  185.5,
		DurationDegraded: false,
		IsEffective:      true,
		SpeakerCount:     2,
		FullText:         "Speaker 1: 您好。\nSpeaker 2: 你好。",
		Utterances: []transcript.Utterance{
			{Speaker: "Speaker 1", Text: "您好。", StartMs: 0, EndMs: 1500},
			{Speaker: "Speaker 2", Text: "你好。", StartMs: 1600, EndMs: 2800},
		},
		CorrelationID: "11111111-2222-3333-4444-555555555555",
		TaskState:     "COMPLETED",
		AudioURL:      "https://calls.example/recordings/a.wav",
		UploadedAt:    uploadedAt,
	}
}

func TestStoreAndGetCall(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	id, err := storage.StoreCall(ctx, sampleCall("华为-张三-13812345678.mp3", time.Now().UTC()))
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	got, err := storage.GetCallByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "华为-张三-13812345678.mp3", got.Filename)
	assert.Equal(t, "华为", got.Company)
	assert.Equal(t, 185.5, got.DurationSeconds)
	assert.True(t, got.IsEffective)
	assert.Equal(t, "COMPLETED", got.TaskState)
	require.Len(t, got.Utterances, 2)
	assert.Equal(t, "Speaker 2", got.Utterances[1].Speaker)
}

func TestGetCallByIDMissing(t *testing.T) {
	storage := newTestStorage(t)

	got, err := storage.GetCallByID(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetCallsOrderedNewestFirst(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, name := range []string{"old.mp3", "mid.mp3", "new.mp3"} {
		rec := sampleCall(name, base.Add(time.Duration(i)*time.Hour))
		_, err := storage.StoreCall(ctx, rec)
		require.NoError(t, err)
	}

	calls, err := storage.GetCalls(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, "new.mp3", calls[0].Filename)
	assert.Equal(t, "old.mp3", calls[2].Filename)

	// Pagination
	calls, err = storage.GetCalls(ctx, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "mid.mp3", calls[0].Filename)
}

func TestRecentRecordsForDedup(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	_, err := storage.StoreCall(ctx, sampleCall("a.mp3", time.Now().UTC()))
	require.NoError(t, err)

	records, err := storage.RecentRecords(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a.mp3", records[0].Filename)
	assert.Equal(t, "华为", records[0].Company)
	assert.Equal(t, "张三", records[0].Contact)
	assert.Equal(t, "2025-06-24 11:14", records[0].CallTime)
	assert.Equal(t, 185.5, records[0].DurationSeconds)
}

func TestFilenameUploadDates(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// Uploaded twice: the later upload wins
	_, err := storage.StoreCall(ctx, sampleCall("dup.mp3", now.AddDate(0, 0, -10)))
	require.NoError(t, err)
	_, err = storage.StoreCall(ctx, sampleCall("dup.mp3", now.AddDate(0, 0, -2)))
	require.NoError(t, err)

	// Outside the lookback window
	_, err = storage.StoreCall(ctx, sampleCall("stale.mp3", now.AddDate(0, 0, -60)))
	require.NoError(t, err)

	since := now.AddDate(0, 0, -30)
	dates, err := storage.FilenameUploadDates(ctx, "",
		[]string{"dup.mp3", "stale.mp3", "unseen.mp3"}, since)
	require.NoError(t, err)

	require.Contains(t, dates, "dup.mp3")
	assert.True(t, dates["dup.mp3"].Equal(now.AddDate(0, 0, -2)),
		"later upload wins: got %v", dates["dup.mp3"])
	assert.NotContains(t, dates, "stale.mp3")
	assert.NotContains(t, dates, "unseen.mp3")

	// Empty input short-circuits
	dates, err = storage.FilenameUploadDates(ctx, "", nil, since)
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestScopeFiltersQueries(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	teamA := sampleCall("a.mp3", now)
	teamA.Scope = "team-a"
	teamB := sampleCall("b.mp3", now)
	teamB.Scope = "team-b"

	_, err := storage.StoreCall(ctx, teamA)
	require.NoError(t, err)
	_, err = storage.StoreCall(ctx, teamB)
	require.NoError(t, err)

	calls, err := storage.GetCalls(ctx, "team-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "a.mp3", calls[0].Filename)

	// Empty scope matches every record
	calls, err = storage.GetCalls(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, calls, 2)

	records, err := storage.RecentRecords(ctx, "team-b", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b.mp3", records[0].Filename)

	since := now.AddDate(0, 0, -1)
	dates, err := storage.FilenameUploadDates(ctx, "team-a", []string{"a.mp3", "b.mp3"}, since)
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.Contains(t, dates, "a.mp3")
}
