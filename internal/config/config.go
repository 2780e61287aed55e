package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Storage  StorageConfig  `toml:"storage"`  // Data persistence settings
	Audio    AudioConfig    `toml:"audio"`    // Audio normalization settings
	OSS      OSSConfig      `toml:"oss"`      // Object storage settings for normalized audio
	ASR      ASRConfig      `toml:"asr"`      // Speech recognition vendor settings
	Pipeline PipelineConfig `toml:"pipeline"` // Batch ingestion settings
	Dedup    DedupConfig    `toml:"dedup"`    // Duplicate detection settings
	AI       AIConfig       `toml:"ai"`       // Chat completion service settings (role identification)
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // Primary HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts    []int    `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
	MaxUploadMB        int      `toml:"max_upload_mb"`         // Maximum size of a single multipart upload request in megabytes
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Type           string `toml:"type"`             // Storage backend type (currently only "sqlite" is supported)
	SQLitePath     string `toml:"sqlite_path"`      // Path to the SQLite database file
	RetainAudioDir string `toml:"retain_audio_dir"` // Optional directory to keep normalized WAV files in (empty = discard after upload)
}

// AudioConfig contains settings for audio decoding and normalization
type AudioConfig struct {
	FFmpegPath string `toml:"ffmpeg_path"` // Path to FFmpeg executable
	SampleRate int    `toml:"sample_rate"` // Target sample rate in Hz for normalized audio (16000)
	Channels   int    `toml:"channels"`    // Number of audio channels in normalized output (1 for mono)
	ScratchDir string `toml:"scratch_dir"` // Directory for temporary decode artifacts (empty = OS temp dir)
	MinClipMs  int    `toml:"min_clip_ms"` // Minimum decoded duration in milliseconds for a decode attempt to be accepted
}

// OSSConfig contains object storage settings for uploading normalized audio
// so the recognition vendor can fetch it by URL.
type OSSConfig struct {
	Endpoint        string `toml:"endpoint"`             // Object storage endpoint (e.g., "oss-cn-hangzhou.aliyuncs.com")
	Bucket          string `toml:"bucket"`               // Bucket name for normalized audio objects
	AccessKeyID     string `toml:"access_key_id"`        // Access key ID for request signing
	AccessKeySecret string `toml:"access_key_secret"`    // Access key secret for request signing
	KeyPrefix       string `toml:"key_prefix"`           // Prefix for object keys (e.g., "calls/")
	PublicRead      bool   `toml:"public_read"`          // Whether uploaded objects are publicly readable (plain URL instead of signed URL)
	SignedURLTTL    int    `toml:"signed_url_ttl_secs"`  // Lifetime of signed download URLs in seconds (used when public_read = false)
	TimeoutSeconds  int    `toml:"timeout_seconds"`      // HTTP timeout for object storage requests in seconds
	RetryMaxElapsed int    `toml:"retry_max_elapsed_ms"` // Maximum total time spent retrying a failed request in milliseconds (0 = no retries)
	DeleteUploaded  bool   `toml:"delete_uploaded"`      // Remove uploaded objects once recognition has finished
}

// ASRConfig contains settings for the asynchronous speech recognition vendor
type ASRConfig struct {
	BaseURL   string `toml:"base_url"`   // Recognition vendor API base URL
	AppID     string `toml:"app_id"`     // Vendor application ID
	SecretKey string `toml:"secret_key"` // Vendor secret key for request signing

	// Polling behavior for asynchronous recognition tasks
	PollIntervalSecs int `toml:"poll_interval_seconds"` // Seconds between result polls (default: 5)
	MaxPollAttempts  int `toml:"max_poll_attempts"`     // Maximum number of polls before a task is considered timed out (default: 60)
	TimeoutSeconds   int `toml:"timeout_seconds"`       // HTTP timeout for individual vendor requests in seconds

	// Recognition feature flags passed through to the vendor
	Diarization        bool `toml:"diarization"`         // Enable speaker separation
	Punctuation        bool `toml:"punctuation"`         // Enable automatic punctuation
	TextNormalization  bool `toml:"text_normalization"`  // Enable inverse text normalization (digits, dates)
	DisfluencyRemoval  bool `toml:"disfluency_removal"`  // Remove filler words from output
	VADSegmentation    bool `toml:"vad_segmentation"`    // Enable voice activity based segmentation
	ExpectedSpeakerNum int  `toml:"expected_speaker_num"` // Hint for expected number of speakers (0 = let vendor decide)
}

// PipelineConfig contains settings for batch ingestion
type PipelineConfig struct {
	MaxConcurrent int `toml:"max_concurrent"` // Maximum number of files processed in parallel per batch (0 = unbounded, default: 8)
}

// DedupConfig contains settings for duplicate call detection
type DedupConfig struct {
	DaysBack            int     `toml:"days_back"`            // How many days of history to check for duplicate filenames (default: 30)
	SimilarityThreshold float64 `toml:"similarity_threshold"` // Weighted similarity score at or above which a record is a duplicate (default: 0.7)
	CandidateLimit      int     `toml:"candidate_limit"`      // Maximum number of recent records to compare against (default: 200)
}

// AIConfig contains settings for the chat completion service used for
// speaker role identification
type AIConfig struct {
	APIKey         string `toml:"api_key"`         // API key for the chat completion service
	BaseURL        string `toml:"base_url"`        // Chat completion API base URL (OpenAI-compatible)
	Model          string `toml:"model"`           // Model to use for role identification
	TimeoutSeconds int    `toml:"timeout_seconds"` // HTTP timeout for chat completion requests in seconds
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults(md)

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyDefaults fills in defaults for settings that were omitted from the file.
// The decode metadata is needed to tell an omitted max_concurrent apart from an
// explicit 0, which disables the concurrency limit entirely.
func (c *Config) applyDefaults(md toml.MetaData) {
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 512
	}
	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = "ffmpeg"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.MinClipMs == 0 {
		c.Audio.MinClipMs = 1000
	}
	if c.OSS.SignedURLTTL == 0 {
		c.OSS.SignedURLTTL = 3600
	}
	if c.OSS.TimeoutSeconds == 0 {
		c.OSS.TimeoutSeconds = 60
	}
	if c.ASR.PollIntervalSecs == 0 {
		c.ASR.PollIntervalSecs = 5
	}
	if c.ASR.MaxPollAttempts == 0 {
		c.ASR.MaxPollAttempts = 60
	}
	if c.ASR.TimeoutSeconds == 0 {
		c.ASR.TimeoutSeconds = 30
	}
	if !md.IsDefined("pipeline", "max_concurrent") {
		c.Pipeline.MaxConcurrent = 8
	}
	if c.Dedup.DaysBack == 0 {
		c.Dedup.DaysBack = 30
	}
	if c.Dedup.SimilarityThreshold == 0 {
		c.Dedup.SimilarityThreshold = 0.7
	}
	if c.Dedup.CandidateLimit == 0 {
		c.Dedup.CandidateLimit = 200
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = 60
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.Type != "" && c.Storage.Type != "sqlite" {
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite_path is required")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid audio sample_rate: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("invalid audio channels: %d", c.Audio.Channels)
	}
	if c.OSS.Endpoint == "" || c.OSS.Bucket == "" {
		return fmt.Errorf("oss endpoint and bucket are required")
	}
	if c.ASR.BaseURL == "" {
		return fmt.Errorf("asr base_url is required")
	}
	if c.ASR.AppID == "" || c.ASR.SecretKey == "" {
		return fmt.Errorf("asr app_id and secret_key are required")
	}
	if c.ASR.PollIntervalSecs <= 0 {
		return fmt.Errorf("invalid asr poll_interval_seconds: %d", c.ASR.PollIntervalSecs)
	}
	if c.ASR.MaxPollAttempts <= 0 {
		return fmt.Errorf("invalid asr max_poll_attempts: %d", c.ASR.MaxPollAttempts)
	}
	if c.Pipeline.MaxConcurrent < 0 {
		return fmt.Errorf("invalid pipeline max_concurrent: %d", c.Pipeline.MaxConcurrent)
	}
	if c.Dedup.SimilarityThreshold < 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("invalid dedup similarity_threshold: %f", c.Dedup.SimilarityThreshold)
	}
	return nil
}
