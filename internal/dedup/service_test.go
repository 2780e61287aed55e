package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	records   []Record
	uploads   map[string]time.Time
	storeErr  error
	lastSince time.Time
}

func (f *fakeStore) RecentRecords(ctx context.Context, scope string, limit int) ([]Record, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeStore) FilenameUploadDates(ctx context.Context, scope string, filenames []string, since time.Time) (map[string]time.Time, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	f.lastSince = since
	return f.uploads, nil
}

func newService(t *testing.T, store Store) *Service {
	t.Helper()
	return NewService(store, ServiceConfig{
		DaysBack:            30,
		SimilarityThreshold: 0.7,
		CandidateLimit:      200,
	}, testLogger(t))
}

func TestCheckFilenamesSplitsBatch(t *testing.T) {
	uploaded := time.Now().AddDate(0, 0, -3)
	store := &fakeStore{uploads: map[string]time.Time{
		"华为-张三-13812345678.mp3": uploaded,
	}}
	svc := newService(t, store)

	report, err := svc.CheckFilenames(context.Background(), "", []string{
		"华为-张三-13812345678.mp3",
		"腾讯-李四-13900001111.mp3",
	})
	require.NoError(t, err)

	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, "华为-张三-13812345678.mp3", report.Duplicates[0].Filename)
	assert.Equal(t, 3, report.Duplicates[0].DaysAgo)
	assert.Equal(t, []string{"腾讯-李四-13900001111.mp3"}, report.NewFiles)

	// Lookback window honors days_back
	wantSince := time.Now().AddDate(0, 0, -30)
	assert.WithinDuration(t, wantSince, store.lastSince, time.Minute)
}

func TestCheckFilenamesEmptyHistory(t *testing.T) {
	svc := newService(t, &fakeStore{uploads: map[string]time.Time{}})

	report, err := svc.CheckFilenames(context.Background(), "", []string{"a.mp3"})
	require.NoError(t, err)
	assert.Empty(t, report.Duplicates)
	assert.Equal(t, []string{"a.mp3"}, report.NewFiles)
}

func TestFindDuplicateFailsOpenOnStoreError(t *testing.T) {
	svc := newService(t, &fakeStore{storeErr: errors.New("database is locked")})

	match := svc.FindDuplicate(context.Background(), "", Record{Filename: "a.mp3"})
	assert.Nil(t, match, "a broken history must not block ingestion")
}

func TestFindDuplicateAgainstStore(t *testing.T) {
	store := &fakeStore{records: []Record{
		{
			Filename:        "earlier-upload.mp3",
			Company:         "华为",
			Contact:         "张三",
			CallTime:        "2025-06-24 11:14",
			DurationSeconds: 185,
		},
	}}
	svc := newService(t, store)

	match := svc.FindDuplicate(context.Background(), "", Record{
		Filename:        "华为-张三-13812345678.mp3",
		Company:         "华为",
		Contact:         "张三",
		CallTime:        "6月24日 上午11:14",
		DurationSeconds: 186,
	})
	require.NotNil(t, match)
	assert.Equal(t, "earlier-upload.mp3", match.Record.Filename)
	assert.GreaterOrEqual(t, match.Score, 0.7)
}
