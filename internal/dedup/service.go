package dedup

import (
	"context"
	"time"

	"github.com/yegors/callscribe/pkg/logger"
)

// Store is the persistence surface the dedup service needs.
type Store interface {
	// RecentRecords returns up to limit of the most recently uploaded
	// call records in the given scope. An empty scope matches all.
	RecentRecords(ctx context.Context, scope string, limit int) ([]Record, error)
	// FilenameUploadDates returns, for each of the given filenames
	// uploaded in the scope since the cutoff, its most recent upload time.
	FilenameUploadDates(ctx context.Context, scope string, filenames []string, since time.Time) (map[string]time.Time, error)
}

// FilenameDuplicate is one previously seen filename in a batch.
type FilenameDuplicate struct {
	Filename       string    `json:"filename"`
	LastUploadDate time.Time `json:"last_upload_date"`
	DaysAgo        int       `json:"days_ago"`
}

// FilenameReport splits a batch of filenames into already-seen and new.
type FilenameReport struct {
	Duplicates []FilenameDuplicate `json:"duplicates"`
	NewFiles   []string            `json:"new_files"`
}

// ServiceConfig contains configuration for the dedup service
type ServiceConfig struct {
	DaysBack            int
	SimilarityThreshold float64
	CandidateLimit      int
}

// Service combines the exact filename check with metadata similarity
// scoring. Both checks fail open: if history cannot be read, uploads
// proceed as non-duplicates rather than blocking the batch.
type Service struct {
	store          Store
	detector       *Detector
	daysBack       int
	candidateLimit int
	logger         *logger.Logger
}

// NewService creates a new dedup service
func NewService(store Store, config ServiceConfig, log *logger.Logger) *Service {
	daysBack := config.DaysBack
	if daysBack <= 0 {
		daysBack = 30
	}
	limit := config.CandidateLimit
	if limit <= 0 {
		limit = 200
	}
	return &Service{
		store:          store,
		detector:       NewDetector(config.SimilarityThreshold, log),
		daysBack:       daysBack,
		candidateLimit: limit,
		logger:         log.Named("dedup-service"),
	}
}

// CheckFilenames reports which of the given filenames were already
// uploaded within the lookback window.
func (s *Service) CheckFilenames(ctx context.Context, scope string, filenames []string) (*FilenameReport, error) {
	since := time.Now().AddDate(0, 0, -s.daysBack)
	seen, err := s.store.FilenameUploadDates(ctx, scope, filenames, since)
	if err != nil {
		return nil, err
	}

	report := &FilenameReport{
		Duplicates: []FilenameDuplicate{},
		NewFiles:   []string{},
	}
	now := time.Now()
	for _, name := range filenames {
		if uploaded, ok := seen[name]; ok {
			report.Duplicates = append(report.Duplicates, FilenameDuplicate{
				Filename:       name,
				LastUploadDate: uploaded,
				DaysAgo:        int(now.Sub(uploaded).Hours() / 24),
			})
		} else {
			report.NewFiles = append(report.NewFiles, name)
		}
	}
	return report, nil
}

// FindDuplicate scores candidate against recent history and returns
// the best match at or above the threshold. Store errors are logged
// and swallowed: a broken history must not block ingestion.
func (s *Service) FindDuplicate(ctx context.Context, scope string, candidate Record) *Match {
	existing, err := s.store.RecentRecords(ctx, scope, s.candidateLimit)
	if err != nil {
		s.logger.Warn("Duplicate check skipped, failed to load history",
			logger.String("candidate", candidate.Filename),
			logger.Error(err))
		return nil
	}
	return s.detector.FindDuplicate(candidate, existing)
}
