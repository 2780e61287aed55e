// Package dedup detects duplicate call recordings. Two layers: an
// exact filename check against recent uploads, and a weighted
// similarity score over call metadata for recordings that were renamed
// between uploads.
package dedup

import (
	"math"
	"strings"

	"github.com/yegors/callscribe/pkg/logger"
)

// DefaultThreshold is the similarity score at or above which a record
// counts as a duplicate.
const DefaultThreshold = 0.7

// Record is the call metadata the detector compares.
type Record struct {
	Filename        string
	Company         string
	Contact         string
	CallTime        string // As displayed in the recording app, e.g. "6月24日 上午11:14"
	DurationSeconds float64
	DurationText    string // Free-form duration text, used when no numeric duration is known
}

// Match describes the best-scoring existing record for a candidate.
type Match struct {
	Record Record
	Score  float64
}

// Detector scores candidate records against existing ones.
type Detector struct {
	threshold float64
	logger    *logger.Logger
}

// NewDetector creates a new duplicate detector
func NewDetector(threshold float64, log *logger.Logger) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold, logger: log.Named("dedup")}
}

// FindDuplicate scores candidate against every existing record and
// returns the best match when its score reaches the threshold, nil
// otherwise. Only the single best match decides; two near-misses do
// not add up to a duplicate.
func (d *Detector) FindDuplicate(candidate Record, existing []Record) *Match {
	var best *Match
	for _, rec := range existing {
		score := d.Score(candidate, rec)
		if best == nil || score > best.Score {
			best = &Match{Record: rec, Score: score}
		}
	}
	if best == nil || best.Score < d.threshold {
		return nil
	}

	d.logger.Info("Duplicate call detected",
		logger.String("candidate", candidate.Filename),
		logger.String("matched", best.Record.Filename),
		logger.Float64("score", best.Score))
	return best
}

// Score computes the weighted similarity between two records. The
// weights shift toward the reliable signals (call time and duration)
// when contact or company metadata is missing on either side.
func (d *Detector) Score(a, b Record) float64 {
	timeScore := timeSimilarity(a.CallTime, b.CallTime)
	durScore := durationSimilarity(resolvedDuration(a), resolvedDuration(b))
	contactScore := textSimilarity(a.Contact, b.Contact)
	companyScore := textSimilarity(a.Company, b.Company)

	contactMissing := normalizeText(a.Contact) == "" || normalizeText(b.Contact) == ""
	companyMissing := normalizeText(a.Company) == "" || normalizeText(b.Company) == ""
	wTime, wDur, wContact, wCompany := weights(contactMissing, companyMissing)

	return wTime*timeScore + wDur*durScore + wContact*contactScore + wCompany*companyScore
}

// weights returns the scoring weights for (time, duration, contact,
// company) given which text fields are usable.
func weights(contactMissing, companyMissing bool) (float64, float64, float64, float64) {
	switch {
	case contactMissing && companyMissing:
		return 0.6, 0.3, 0.05, 0.05
	case contactMissing:
		return 0.55, 0.3, 0.05, 0.1
	case companyMissing:
		return 0.55, 0.3, 0.1, 0.05
	default:
		return 0.5, 0.3, 0.1, 0.1
	}
}

// timeSimilarity compares two call time strings. Parsed timestamps on
// the same date are scored by how far apart they are; different dates
// never match. When parsing fails the raw strings are compared
// instead.
func timeSimilarity(a, b string) float64 {
	ta, okA := parseCallTime(a)
	tb, okB := parseCallTime(b)

	if !okA || !okB {
		return rawTimeSimilarity(a, b)
	}
	if ta.date != tb.date {
		return 0.0
	}
	if !ta.hasClock || !tb.hasClock {
		// Same date but at least one side has no usable clock time
		return 0.5
	}

	diff := math.Abs(float64(ta.minuteOfDay - tb.minuteOfDay))
	switch {
	case diff == 0:
		return 1.0
	case diff <= 3:
		return 0.95
	case diff <= 5:
		return 0.9
	case diff <= 10:
		return 0.7
	case diff <= 15:
		return 0.5
	default:
		return 0.2
	}
}

// rawTimeSimilarity compares unparseable time strings textually.
func rawTimeSimilarity(a, b string) float64 {
	sa := stripWhitespace(a)
	sb := stripWhitespace(b)
	if sa == "" || sb == "" {
		return 0.0
	}
	if sa == sb {
		return 0.95
	}
	ra, rb := []rune(sa), []rune(sb)
	if len(ra) == len(rb) {
		diff := 0
		for i := range ra {
			if ra[i] != rb[i] {
				diff++
			}
		}
		if diff <= 2 {
			return 0.8
		}
	}
	return 0.0
}

// durationSimilarity compares call durations in seconds.
func durationSimilarity(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0.0
	}
	diff := math.Abs(a - b)
	switch {
	case diff == 0:
		return 1.0
	case diff <= 3:
		return 0.95
	case diff <= 5:
		return 0.9
	case diff <= 10:
		return 0.8
	case diff <= 15:
		return 0.6
	case diff <= 30:
		return 0.4
	default:
		return 0.1
	}
}

// textSimilarity compares contact or company names.
func textSimilarity(a, b string) float64 {
	na := normalizeText(a)
	nb := normalizeText(b)
	if na == "" || nb == "" {
		// Nothing to compare is weak evidence either way
		return 0.5
	}
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}
	ra, rb := []rune(na), []rune(nb)
	if ra[0] == rb[0] {
		return 0.6
	}
	return charOverlap(ra, rb)
}

// charOverlap counts the characters of a that also appear in b,
// relative to the longer of the two strings, capped at 0.5 so weak
// overlap never outranks the structural matches above.
func charOverlap(a, b []rune) float64 {
	inB := make(map[rune]bool, len(b))
	for _, r := range b {
		inB[r] = true
	}
	common := 0
	for _, r := range a {
		if inB[r] {
			common++
		}
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0.0
	}
	ratio := float64(common) / float64(longest)
	if ratio > 0.5 {
		return 0.5
	}
	return ratio
}

func normalizeText(s string) string {
	return strings.ToLower(stripWhitespace(s))
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
