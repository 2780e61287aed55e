// Package transcript turns raw recognition payloads into structured
// call transcripts.
package transcript

import "fmt"

// EffectiveMinSeconds is the minimum call duration for a transcript to
// count as an effective sales call. The boundary is inclusive.
const EffectiveMinSeconds = 60.0

// IsEffective reports whether a call of the given duration counts as
// an effective sales call.
func IsEffective(durationSeconds float64) bool {
	return durationSeconds >= EffectiveMinSeconds
}

// Utterance is one speaker turn in a call.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Transcript is the assembled result of one recognition task.
type Transcript struct {
	Filename         string      `json:"filename"`
	Utterances       []Utterance `json:"utterances"`
	FullText         string      `json:"full_text"`
	DurationSeconds  float64     `json:"duration_seconds"`
	DurationDegraded bool        `json:"duration_degraded"` // Duration came from a heuristic, not the audio
	SpeakerCount     int         `json:"speaker_count"`
	IsEffective      bool        `json:"is_effective"`
}

// ParseError indicates the vendor payload could not be interpreted as
// a transcript.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse recognition payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to parse recognition payload: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }
