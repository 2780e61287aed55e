package dedup

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	secondsLabelRe  = regexp.MustCompile(`时长秒数[:：]\s*(\d+)`)
	secondsSuffixRe = regexp.MustCompile(`(\d+)\s*秒`)
	durationClockRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	bareDigitsRe    = regexp.MustCompile(`^\d+$`)
)

// ParseDurationText extracts a call duration in seconds from free-form
// statistics text as recording apps render it: "时长秒数: 74",
// "通话时长: 74秒", clock notation like "01:14", or a bare count of
// seconds. The second return is false when nothing in the text looks
// like a duration.
func ParseDurationText(text string) (float64, bool) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "通话时长", ""))
	if text == "" {
		return 0, false
	}
	if m := secondsLabelRe.FindStringSubmatch(text); m != nil {
		return parseSeconds(m[1])
	}
	if m := secondsSuffixRe.FindStringSubmatch(text); m != nil {
		return parseSeconds(m[1])
	}
	if m := durationClockRe.FindStringSubmatch(text); m != nil {
		minutes, _ := strconv.Atoi(m[1])
		seconds, _ := strconv.Atoi(m[2])
		return float64(minutes*60 + seconds), true
	}
	if bareDigitsRe.MatchString(text) {
		return parseSeconds(text)
	}
	return 0, false
}

func parseSeconds(s string) (float64, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return float64(n), true
}

// resolvedDuration prefers the numeric duration and falls back to
// parsing free-form duration text.
func resolvedDuration(r Record) float64 {
	if r.DurationSeconds > 0 {
		return r.DurationSeconds
	}
	if secs, ok := ParseDurationText(r.DurationText); ok {
		return secs
	}
	return 0
}
