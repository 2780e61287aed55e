package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yegors/callscribe/internal/dedup"
	"github.com/yegors/callscribe/internal/transcript"
	"github.com/yegors/callscribe/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// CallRecord represents a processed call in the database
type CallRecord struct {
	ID               int64                  `json:"id"`
	Scope            string                 `json:"scope,omitempty"` // Salesperson or team the call belongs to
	Filename         string                 `json:"filename"`
	Company          string                 `json:"company,omitempty"`
	Contact          string                 `json:"contact,omitempty"`
	Phone            string                 `json:"phone,omitempty"`
	CallTime         string                 `json:"call_time,omitempty"`
	DurationSeconds  float64                `json:"duration_seconds"`
	DurationDegraded bool                   `json:"duration_degraded"`
	IsEffective      bool                   `json:"is_effective"`
	SpeakerCount     int                    `json:"speaker_count"`
	FullText         string                 `json:"full_text,omitempty"`
	Utterances       []transcript.Utterance `json:"utterances,omitempty"`
	SalesSpeaker     string                 `json:"sales_speaker,omitempty"`
	CorrelationID    string                 `json:"correlation_id"`
	TaskState        string                 `json:"task_state"`
	AudioURL         string                 `json:"audio_url,omitempty"`
	UploadedAt       time.Time              `json:"uploaded_at"`
}

// CallStorage handles persistence of processed calls
type CallStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewCallStorage opens (or creates) the SQLite database at dbPath and
// prepares the call tables.
func NewCallStorage(dbPath string, log *logger.Logger) (*CallStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		String("path", dbPath))

	// Open the database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	storage := &CallStorage{
		db:     db,
		logger: storageLogger,
	}
	if err := storage.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}

// Close closes the database connection
func (s *CallStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the underlying database handle
func (s *CallStorage) GetDB() *sql.DB {
	return s.db
}

// initDB initializes the database tables
func (s *CallStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL,
			company TEXT,
			contact TEXT,
			phone TEXT,
			call_time TEXT,
			duration_seconds REAL NOT NULL,
			duration_degraded BOOLEAN NOT NULL,
			is_effective BOOLEAN NOT NULL,
			speaker_count INTEGER NOT NULL,
			full_text TEXT,
			utterances TEXT,
			sales_speaker TEXT,
			correlation_id TEXT NOT NULL,
			task_state TEXT NOT NULL,
			audio_url TEXT,
			uploaded_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create calls table: %w", err)
	}

	// Create indexes
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_filename ON calls(filename)`)
	if err != nil {
		return fmt.Errorf("failed to create filename index: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_uploaded_at ON calls(uploaded_at)`)
	if err != nil {
		return fmt.Errorf("failed to create uploaded_at index: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_scope ON calls(scope, uploaded_at)`)
	if err != nil {
		return fmt.Errorf("failed to create scope index: %w", err)
	}

	return nil
}

// StoreCall inserts a processed call and returns its row ID.
func (s *CallStorage) StoreCall(ctx context.Context, record *CallRecord) (int64, error) {
	utterancesJSON, err := json.Marshal(record.Utterances)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal utterances: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO calls
		(scope, filename, company, contact, phone, call_time, duration_seconds, duration_degraded,
		 is_effective, speaker_count, full_text, utterances, sales_speaker,
		 correlation_id, task_state, audio_url, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Scope,
		record.Filename,
		record.Company,
		record.Contact,
		record.Phone,
		record.CallTime,
		record.DurationSeconds,
		record.DurationDegraded,
		record.IsEffective,
		record.SpeakerCount,
		record.FullText,
		string(utterancesJSON),
		record.SalesSpeaker,
		record.CorrelationID,
		record.TaskState,
		record.AudioURL,
		record.UploadedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

const callColumns = `id, scope, filename, company, contact, phone, call_time, duration_seconds,
	duration_degraded, is_effective, speaker_count, full_text, utterances,
	sales_speaker, correlation_id, task_state, audio_url, uploaded_at`

// GetCalls returns calls ordered by upload time, newest first. An empty
// scope matches every record.
func (s *CallStorage) GetCalls(ctx context.Context, scope string, limit, offset int) ([]*CallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callColumns+`
		FROM calls
		WHERE (? = '' OR scope = ?)
		ORDER BY uploaded_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		scope, scope, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	return scanCalls(rows)
}

// GetCallByID returns a single call, or nil when it does not exist.
func (s *CallStorage) GetCallByID(ctx context.Context, id int64) (*CallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query call: %w", err)
	}
	defer rows.Close()

	records, err := scanCalls(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// RecentRecords implements dedup.Store: the most recent calls in the
// given scope, reduced to the metadata the similarity detector compares.
func (s *CallStorage) RecentRecords(ctx context.Context, scope string, limit int) ([]dedup.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, company, contact, call_time, duration_seconds
		FROM calls
		WHERE (? = '' OR scope = ?)
		ORDER BY uploaded_at DESC, id DESC
		LIMIT ?`,
		scope, scope, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent calls: %w", err)
	}
	defer rows.Close()

	var records []dedup.Record
	for rows.Next() {
		var rec dedup.Record
		var company, contact, callTime sql.NullString
		if err := rows.Scan(&rec.Filename, &company, &contact, &callTime, &rec.DurationSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan recent call: %w", err)
		}
		rec.Company = company.String
		rec.Contact = contact.String
		rec.CallTime = callTime.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FilenameUploadDates implements dedup.Store: for each given filename
// uploaded since the cutoff, its most recent upload time.
func (s *CallStorage) FilenameUploadDates(ctx context.Context, scope string, filenames []string, since time.Time) (map[string]time.Time, error) {
	result := make(map[string]time.Time)
	if len(filenames) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(filenames))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(filenames)+3)
	for _, name := range filenames {
		args = append(args, name)
	}
	args = append(args, since.Format(time.RFC3339), scope, scope)

	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, MAX(uploaded_at)
		FROM calls
		WHERE filename IN (`+placeholders+`) AND uploaded_at >= ? AND (? = '' OR scope = ?)
		GROUP BY filename`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query filename uploads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, uploadedAt string
		if err := rows.Scan(&name, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filename upload: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse uploaded_at: %w", err)
		}
		result[name] = ts
	}
	return result, rows.Err()
}

func scanCalls(rows *sql.Rows) ([]*CallRecord, error) {
	var records []*CallRecord
	for rows.Next() {
		var record CallRecord
		var company, contact, phone, callTime sql.NullString
		var fullText, utterancesJSON, salesSpeaker, audioURL sql.NullString
		var uploadedAt string

		if err := rows.Scan(
			&record.ID,
			&record.Scope,
			&record.Filename,
			&company,
			&contact,
			&phone,
			&callTime,
			&record.DurationSeconds,
			&record.DurationDegraded,
			&record.IsEffective,
			&record.SpeakerCount,
			&fullText,
			&utterancesJSON,
			&salesSpeaker,
			&record.CorrelationID,
			&record.TaskState,
			&audioURL,
			&uploadedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}

		ts, err := time.Parse(time.RFC3339, uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse uploaded_at: %w", err)
		}
		record.UploadedAt = ts

		record.Company = company.String
		record.Contact = contact.String
		record.Phone = phone.String
		record.CallTime = callTime.String
		record.FullText = fullText.String
		record.SalesSpeaker = salesSpeaker.String
		record.AudioURL = audioURL.String

		if utterancesJSON.Valid && utterancesJSON.String != "" {
			if err := json.Unmarshal([]byte(utterancesJSON.String), &record.Utterances); err != nil {
				return nil, fmt.Errorf("failed to unmarshal utterances: %w", err)
			}
		}

		records = append(records, &record)
	}
	return records, rows.Err()
}
