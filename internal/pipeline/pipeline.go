// Package pipeline runs uploaded call recordings through
// normalization, duplicate detection, recognition and persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/yegors/callscribe/internal/asr"
	"github.com/yegors/callscribe/internal/audio"
	"github.com/yegors/callscribe/internal/dedup"
	"github.com/yegors/callscribe/internal/storage/sqlite"
	"github.com/yegors/callscribe/internal/transcript"
	"github.com/yegors/callscribe/pkg/logger"
)

// Import logger functions
var (
	String  = logger.String
	Int64   = logger.Int64
	Float64 = logger.Float64
	Error   = logger.Error
)

// Processing stages, recorded on failed results so the caller knows
// where a file died.
const (
	StageInput     = "input"
	StageNormalize = "normalize"
	StageDedup     = "dedup"
	StageUpload    = "upload"
	StageRecognize = "recognize"
	StageParse     = "parse"
	StageStore     = "store"
)

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// FileInput is one recording handed to the pipeline.
type FileInput struct {
	Path     string // Where the uploaded bytes were saved
	Filename string // Original upload filename
	CallTime string // Optional call time supplied with the upload
	Scope    string // Salesperson or team the upload belongs to (empty = global)
}

// DuplicateInfo describes what an incoming file matched.
type DuplicateInfo struct {
	MatchedFilename string  `json:"matched_filename"`
	Score           float64 `json:"score"`
}

// FileResult is the outcome of processing one file.
type FileResult struct {
	Filename        string         `json:"filename"`
	Status          string         `json:"status"`
	Stage           string         `json:"stage,omitempty"` // Set when Status is failed
	Err             string         `json:"error,omitempty"`
	CallID          int64          `json:"call_id,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	IsEffective     bool           `json:"is_effective,omitempty"`
	Duplicate       *DuplicateInfo `json:"duplicate,omitempty"`
}

// Normalizer converts raw uploads into vendor-ready WAV files.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (*audio.NormalizedAudio, error)
}

// ObjectStore uploads normalized audio and hands back a fetch URL.
type ObjectStore interface {
	KeyFor(filename string) string
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Recognizer drives a recognition task to a terminal state.
type Recognizer interface {
	Run(ctx context.Context, task *asr.Task) (json.RawMessage, error)
}

// Deduper finds near-identical calls in recent history.
type Deduper interface {
	FindDuplicate(ctx context.Context, scope string, candidate dedup.Record) *dedup.Match
}

// RoleIdentifier labels which speaker is the sales rep.
type RoleIdentifier interface {
	SalesSpeaker(ctx context.Context, tr *transcript.Transcript) string
}

// CallStore persists finished calls.
type CallStore interface {
	StoreCall(ctx context.Context, record *sqlite.CallRecord) (int64, error)
}

// Config contains pipeline behavior settings
type Config struct {
	RetainAudioDir string // Keep normalized WAVs here after upload (empty = delete)
	DeleteUploaded bool   // Remove the uploaded object once recognition finished
}

// Pipeline processes one file end to end.
type Pipeline struct {
	normalizer Normalizer
	store      ObjectStore
	recognizer Recognizer
	assembler  *transcript.Assembler
	deduper    Deduper
	roles      RoleIdentifier
	calls      CallStore
	config     Config
	logger     *logger.Logger
}

// New creates a new processing pipeline
func New(
	normalizer Normalizer,
	store ObjectStore,
	recognizer Recognizer,
	assembler *transcript.Assembler,
	deduper Deduper,
	roles RoleIdentifier,
	calls CallStore,
	config Config,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		store:      store,
		recognizer: recognizer,
		assembler:  assembler,
		deduper:    deduper,
		roles:      roles,
		calls:      calls,
		config:     config,
		logger:     log.Named("pipeline"),
	}
}

// ProcessFile runs one recording through the full pipeline. It always
// returns a result; errors are folded into it rather than escaping, so
// one bad file never takes down its batch.
func (p *Pipeline) ProcessFile(ctx context.Context, input FileInput) *FileResult {
	result := &FileResult{Filename: input.Filename, Status: StatusFailed}
	meta := ParseFilename(input.Filename)

	log := p.logger.With(String("filename", input.Filename))
	log.Info("Processing call recording",
		String("company", meta.Company),
		String("contact", meta.Contact))

	// Normalize
	normalized, err := p.normalizer.Normalize(ctx, input.Path)
	if err != nil {
		return failed(result, StageNormalize, err)
	}
	defer p.disposeNormalized(normalized.Path, log)

	result.DurationSeconds = normalized.DurationSeconds

	// Duplicate detection against recent history
	if match := p.deduper.FindDuplicate(ctx, input.Scope, dedup.Record{
		Filename:        input.Filename,
		Company:         meta.Company,
		Contact:         meta.Contact,
		CallTime:        input.CallTime,
		DurationSeconds: normalized.DurationSeconds,
	}); match != nil {
		result.Status = StatusDuplicate
		result.Duplicate = &DuplicateInfo{
			MatchedFilename: match.Record.Filename,
			Score:           match.Score,
		}
		return result
	}

	// Upload to object storage
	task := asr.NewTask(input.Filename)
	result.CorrelationID = task.CorrelationID

	wavData, err := os.ReadFile(normalized.Path)
	if err != nil {
		return failed(result, StageUpload, err)
	}
	key := p.store.KeyFor(input.Filename)
	audioURL, err := p.store.Put(ctx, key, wavData, "audio/wav")
	if err != nil {
		_ = task.MarkFailed()
		return failed(result, StageUpload, err)
	}
	if err := task.MarkUploaded(audioURL); err != nil {
		return failed(result, StageUpload, err)
	}

	if p.config.DeleteUploaded {
		defer func() {
			if err := p.store.Delete(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("Failed to delete uploaded object", String("key", key), Error(err))
			}
		}()
	}

	// Recognition
	payload, err := p.recognizer.Run(ctx, task)
	if err != nil {
		return failed(result, StageRecognize, err)
	}

	// Assemble the transcript
	tr, err := p.assembler.Assemble(input.Filename, payload)
	if err != nil {
		return failed(result, StageParse, err)
	}
	result.DurationSeconds = tr.DurationSeconds
	result.IsEffective = tr.IsEffective

	// Role identification (best effort)
	salesSpeaker := p.roles.SalesSpeaker(ctx, tr)

	// Persist
	callID, err := p.calls.StoreCall(ctx, &sqlite.CallRecord{
		Scope:            input.Scope,
		Filename:         input.Filename,
		Company:          meta.Company,
		Contact:          meta.Contact,
		Phone:            meta.Phone,
		CallTime:         input.CallTime,
		DurationSeconds:  tr.DurationSeconds,
		DurationDegraded: tr.DurationDegraded,
		IsEffective:      tr.IsEffective,
		SpeakerCount:     tr.SpeakerCount,
		FullText:         tr.FullText,
		Utterances:       tr.Utterances,
		SalesSpeaker:     salesSpeaker,
		CorrelationID:    task.CorrelationID,
		TaskState:        string(task.State),
		AudioURL:         task.AudioURL,
		UploadedAt:       time.Now().UTC(),
	})
	if err != nil {
		return failed(result, StageStore, err)
	}

	result.Status = StatusCompleted
	result.CallID = callID
	log.Info("Call recording processed",
		Int64("call_id", callID),
		Float64("duration_secs", tr.DurationSeconds),
		String("correlation_id", task.CorrelationID))
	return result
}

// disposeNormalized moves the normalized WAV to the retain directory
// or deletes it.
func (p *Pipeline) disposeNormalized(path string, log *logger.Logger) {
	if p.config.RetainAudioDir != "" {
		if err := moveFile(path, p.config.RetainAudioDir); err != nil {
			log.Warn("Failed to retain normalized audio", Error(err))
			os.Remove(path)
		}
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to remove normalized audio", Error(err))
	}
}

// moveFile renames src into dstDir, copying when the rename crosses
// filesystems.
func moveFile(src, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}

func failed(result *FileResult, stage string, err error) *FileResult {
	result.Status = StatusFailed
	result.Stage = stage
	result.Err = err.Error()
	return result
}
