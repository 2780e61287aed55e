package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yegors/callscribe/pkg/logger"
)

// vendorPayload is the shape of the recognition result. Only the
// utterance list is required; every duration field is optional and
// vendor deployments differ in which ones they populate.
type vendorPayload struct {
	AudioDurationMs float64           `json:"audio_duration_ms"`
	Duration        float64           `json:"duration"`
	Utterances      []vendorUtterance `json:"utterances"`
}

type vendorUtterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Assembler builds transcripts out of raw vendor payloads.
type Assembler struct {
	logger *logger.Logger
}

// NewAssembler creates a new transcript assembler
func NewAssembler(log *logger.Logger) *Assembler {
	return &Assembler{logger: log.Named("assembler")}
}

// Assemble parses payload into a Transcript for filename. Speaker
// labels are remapped to ordinals in order of first appearance, and
// the call duration is resolved through a chain of fallbacks of
// decreasing fidelity.
func (a *Assembler) Assemble(filename string, payload json.RawMessage) (*Transcript, error) {
	if len(payload) == 0 {
		return nil, &ParseError{Reason: "empty payload"}
	}

	var raw vendorPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &ParseError{Reason: "malformed json", Err: err}
	}
	if len(raw.Utterances) == 0 {
		return nil, &ParseError{Reason: "payload contains no utterances"}
	}

	utterances := make([]Utterance, len(raw.Utterances))
	for i, u := range raw.Utterances {
		utterances[i] = Utterance{
			Speaker: u.Speaker,
			Text:    strings.TrimSpace(u.Text),
			StartMs: u.StartMs,
			EndMs:   u.EndMs,
		}
	}
	utterances, speakerCount := RemapSpeakers(utterances)

	fullText := joinText(utterances)
	duration, degraded := resolveDuration(&raw, fullText)

	if degraded {
		a.logger.Warn("Call duration estimated from text length",
			logger.String("filename", filename),
			logger.Float64("duration_secs", duration))
	}

	return &Transcript{
		Filename:         filename,
		Utterances:       utterances,
		FullText:         fullText,
		DurationSeconds:  duration,
		DurationDegraded: degraded,
		SpeakerCount:     speakerCount,
		IsEffective:      IsEffective(duration),
	}, nil
}

// RemapSpeakers rewrites vendor speaker labels to stable ordinal
// labels in order of first appearance, so "spk_7, spk_2" becomes
// "Speaker 1, Speaker 2" regardless of the vendor's numbering.
func RemapSpeakers(utterances []Utterance) ([]Utterance, int) {
	mapping := make(map[string]string)
	next := 1
	out := make([]Utterance, len(utterances))
	for i, u := range utterances {
		label, ok := mapping[u.Speaker]
		if !ok {
			label = fmt.Sprintf("Speaker %d", next)
			mapping[u.Speaker] = label
			next++
		}
		out[i] = u
		out[i].Speaker = label
	}
	return out, len(mapping)
}

// resolveDuration picks the call duration from the best available
// source. The fallback chain, in order:
//  1. the vendor's explicit audio duration
//  2. the end timestamp of the last utterance
//  3. a generic top-level duration field, read as milliseconds when
//     its magnitude makes seconds implausible
//  4. a reading-speed heuristic over the transcript text (degraded)
//  5. a one second floor (degraded)
func resolveDuration(raw *vendorPayload, fullText string) (float64, bool) {
	if raw.AudioDurationMs > 0 {
		return raw.AudioDurationMs / 1000.0, false
	}

	var maxEnd int64
	for _, u := range raw.Utterances {
		if u.EndMs > maxEnd {
			maxEnd = u.EndMs
		}
	}
	if maxEnd > 0 {
		return float64(maxEnd) / 1000.0, false
	}

	if raw.Duration > 0 {
		if raw.Duration > 1000 {
			return raw.Duration / 1000.0, false
		}
		return raw.Duration, false
	}

	// Mandarin speech runs at roughly three characters per second.
	chars := len([]rune(strings.ReplaceAll(fullText, " ", "")))
	if est := float64(chars) / 3.0; est > 1.0 {
		return est, true
	}

	return 1.0, true
}

func joinText(utterances []Utterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if u.Text == "" {
			continue
		}
		parts = append(parts, u.Speaker+": "+u.Text)
	}
	return strings.Join(parts, "\n")
}
