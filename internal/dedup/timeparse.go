package dedup

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// parsedTime is a call timestamp reduced to what the detector
// compares: a month-day key and a minute of day. Recording apps
// rarely include the year, so comparisons ignore it; the candidate
// window is only a few weeks deep anyway.
type parsedTime struct {
	date        string // "MM-DD"
	minuteOfDay int
	hasClock    bool
}

var (
	// "2025-06-24", "2025/06/24", "2025年6月24日", "6月24日", "06-24"
	dateRe = regexp.MustCompile(`(?:\d{4}[-/年])?(\d{1,2})[-/月](\d{1,2})日?`)
	// "11:14", "11：14", "下午3:05", "晚上9点30"
	clockRe = regexp.MustCompile(`(凌晨|早上|上午|中午|下午|晚上)?\s*(\d{1,2})[:：点](\d{1,2})`)
)

// parseCallTime extracts the date and clock from a call time string in
// any of the formats Chinese recording apps produce. ok is false when
// no date can be found at all.
func parseCallTime(s string) (parsedTime, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return parsedTime{}, false
	}

	dm := dateRe.FindStringSubmatch(s)
	if dm == nil {
		return parsedTime{}, false
	}
	month, _ := strconv.Atoi(dm[1])
	day, _ := strconv.Atoi(dm[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return parsedTime{}, false
	}

	pt := parsedTime{date: fmt.Sprintf("%02d-%02d", month, day)}

	// The clock has to come after the date so "06" in "06-24" is not
	// read as an hour.
	rest := s[strings.Index(s, dm[0])+len(dm[0]):]
	cm := clockRe.FindStringSubmatch(rest)
	if cm == nil {
		return pt, true
	}
	hour, _ := strconv.Atoi(cm[2])
	minute, _ := strconv.Atoi(cm[3])
	if hour > 23 || minute > 59 {
		return pt, true
	}

	switch cm[1] {
	case "下午", "晚上":
		if hour < 12 {
			hour += 12
		}
	case "凌晨", "早上", "上午":
		if hour == 12 {
			hour = 0
		}
	case "中午":
		if hour < 11 {
			hour += 12
		}
	}

	pt.minuteOfDay = hour*60 + minute
	pt.hasClock = true
	return pt, true
}
