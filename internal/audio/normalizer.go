package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yegors/callscribe/pkg/logger"
)

// Import logger functions
var (
	String  = logger.String
	Int     = logger.Int
	Float64 = logger.Float64
	Error   = logger.Error
)

var (
	// ErrEmptyFile indicates a zero-byte input file.
	ErrEmptyFile = errors.New("audio file is empty")
	// ErrSilentAudio indicates the file decoded successfully but contains
	// no signal at all.
	ErrSilentAudio = errors.New("decoded audio is silent")
)

// DecodeError is returned when every decode strategy in the fallback
// chain failed or produced a clip shorter than the minimum length.
type DecodeError struct {
	Filename string
	Attempts []string
	LastErr  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unable to decode %s (tried %s): %v",
		e.Filename, strings.Join(e.Attempts, ", "), e.LastErr)
}

func (e *DecodeError) Unwrap() error { return e.LastErr }

// NormalizedAudio describes the result of a successful normalization.
type NormalizedAudio struct {
	Path            string  // Path to the normalized WAV file
	DurationSeconds float64 // Decoded duration in seconds
	PeakAmplitude   int     // Maximum absolute sample value
	SampleRate      int
	Channels        int
	SizeBytes       int64
}

// NormalizerConfig contains configuration for the audio normalizer
type NormalizerConfig struct {
	FFmpegPath string
	SampleRate int
	Channels   int
	ScratchDir string // Directory for temporary decode artifacts (empty = OS temp dir)
	MinClipMs  int    // Minimum decoded duration for an attempt to be accepted
}

// Normalizer converts arbitrary call recordings into 16kHz mono WAV
// suitable for upload to the recognition vendor. Uploaded recordings
// arrive in whatever container the sales rep's phone produced, often
// with a misleading extension, so decoding walks a chain of
// strategies until one yields a plausible clip.
type Normalizer struct {
	ffmpegPath string
	sampleRate int
	channels   int
	scratchDir string
	minClipMs  int
	logger     *logger.Logger
}

// NewNormalizer creates a new audio normalizer
func NewNormalizer(config NormalizerConfig, log *logger.Logger) *Normalizer {
	scratch := config.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	return &Normalizer{
		ffmpegPath: config.FFmpegPath,
		sampleRate: config.SampleRate,
		channels:   config.Channels,
		scratchDir: scratch,
		minClipMs:  config.MinClipMs,
		logger:     log.Named("normalizer"),
	}
}

// decodeAttempt is one strategy in the fallback chain. An empty format
// lets ffmpeg infer the container from the file itself.
type decodeAttempt struct {
	name   string
	format string
}

// Normalize decodes the file at inputPath and writes a normalized WAV
// into the scratch directory. The caller owns the returned file and is
// responsible for removing it.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (*NormalizedAudio, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if info.Size() == 0 {
		return nil, ErrEmptyFile
	}

	filename := filepath.Base(inputPath)
	attempts := n.buildAttempts(inputPath)

	var (
		pcm     []byte
		tried   []string
		lastErr error
	)
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		tried = append(tried, attempt.name)

		data, durationMs, err := n.decode(ctx, inputPath, attempt.format)
		if err != nil {
			lastErr = err
			n.logger.Debug("Decode attempt failed",
				String("file", filename),
				String("attempt", attempt.name),
				Error(err))
			continue
		}
		if durationMs <= float64(n.minClipMs) {
			lastErr = fmt.Errorf("decoded clip too short: %.0fms", durationMs)
			n.logger.Debug("Decode attempt produced short clip",
				String("file", filename),
				String("attempt", attempt.name),
				Float64("duration_ms", durationMs))
			continue
		}

		pcm = data
		n.logger.Debug("Decode attempt succeeded",
			String("file", filename),
			String("attempt", attempt.name),
			Float64("duration_ms", durationMs))
		break
	}

	if pcm == nil {
		return nil, &DecodeError{Filename: filename, Attempts: tried, LastErr: lastErr}
	}

	peak := pcmPeak(pcm)
	if peak == 0 {
		return nil, ErrSilentAudio
	}

	outPath := filepath.Join(n.scratchDir, uuid.New().String()+".wav")
	if err := writeWAV(outPath, pcm, n.sampleRate, n.channels); err != nil {
		return nil, fmt.Errorf("failed to write normalized wav: %w", err)
	}
	outInfo, err := os.Stat(outPath)
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("failed to stat normalized wav: %w", err)
	}

	durationSecs := pcmDurationMs(len(pcm), n.sampleRate, n.channels) / 1000.0
	n.logger.Info("Normalized audio file",
		String("file", filename),
		Float64("duration_secs", durationSecs),
		Int("peak_amplitude", peak))

	return &NormalizedAudio{
		Path:            outPath,
		DurationSeconds: durationSecs,
		PeakAmplitude:   peak,
		SampleRate:      n.sampleRate,
		Channels:        n.channels,
		SizeBytes:       outInfo.Size(),
	}, nil
}

// buildAttempts assembles the decode fallback chain for a file:
// native decode by extension, then forced WAV, then whatever the
// container magic bytes suggest, then a fixed list of candidate
// formats.
func (n *Normalizer) buildAttempts(inputPath string) []decodeAttempt {
	attempts := []decodeAttempt{
		{name: "native", format: ""},
		{name: "forced-wav", format: "wav"},
	}

	if sniffed := sniffContainer(inputPath); sniffed != "" {
		attempts = append(attempts, decodeAttempt{name: "sniffed-" + sniffed, format: sniffed})
	}

	for _, f := range []string{"aac", "m4a", "mp4", "ogg", "flac", "mp3"} {
		attempts = append(attempts, decodeAttempt{name: "candidate-" + f, format: f})
	}

	// Drop duplicate formats while preserving order so the sniffed
	// container is not retried as a candidate.
	seen := make(map[string]bool)
	unique := attempts[:0]
	for _, a := range attempts {
		if a.format != "" && seen[a.format] {
			continue
		}
		seen[a.format] = true
		unique = append(unique, a)
	}
	return unique
}

// decode runs ffmpeg to convert inputPath into raw s16le PCM and
// returns the sample data. The intermediate scratch file is removed on
// every exit path.
func (n *Normalizer) decode(ctx context.Context, inputPath, format string) ([]byte, float64, error) {
	scratchPath := filepath.Join(n.scratchDir, uuid.New().String()+".pcm")
	defer os.Remove(scratchPath)

	args := []string{
		"-loglevel", "error",
		"-y",
	}
	if format != "" {
		// The m4a/aac family shares the mov demuxer in ffmpeg.
		demuxer := format
		switch format {
		case "m4a", "mp4":
			demuxer = "mov,mp4,m4a,3gp,3g2,mj2"
		}
		args = append(args, "-f", demuxer)
	}
	args = append(args,
		"-i", inputPath,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprintf("%d", n.channels),
		"-ar", fmt.Sprintf("%d", n.sampleRate),
		scratchPath,
	)

	cmd := exec.CommandContext(ctx, n.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, 0, fmt.Errorf("ffmpeg: %s", msg)
		}
		return nil, 0, fmt.Errorf("ffmpeg: %w", err)
	}

	data, err := os.ReadFile(scratchPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read decoded pcm: %w", err)
	}

	return data, pcmDurationMs(len(data), n.sampleRate, n.channels), nil
}

// sniffContainer inspects the first bytes of the file and returns the
// ffmpeg format name they suggest, or "" when the header is not
// recognized.
func sniffContainer(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := f.Read(header); err != nil {
		return ""
	}
	return containerFromHeader(header)
}

func containerFromHeader(header []byte) string {
	if len(header) < 12 {
		return ""
	}
	switch {
	case bytes.HasPrefix(header, []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return "wav"
	case bytes.HasPrefix(header, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(header, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(header, []byte("ID3")):
		return "mp3"
	case bytes.Equal(header[4:8], []byte("ftyp")):
		return "m4a"
	case header[0] == 0xFF && header[1]&0xF6 == 0xF0:
		return "aac" // raw ADTS stream
	case header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}
