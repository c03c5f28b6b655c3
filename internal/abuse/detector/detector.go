// Package detector holds the pure abuse heuristics. Callers load the rating
// windows and tracker activity; nothing here touches storage.
package detector

import (
	"fmt"
	"math"
	"strings"
)

type Kind string

const (
	KindSpam              Kind = "spam_rating"
	KindBot               Kind = "bot_behavior"
	KindManipulation      Kind = "rating_manipulation"
	KindSuspiciousPattern Kind = "suspicious_pattern"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
)

const (
	SpamWindowSeconds         int64 = 3600
	ManipulationWindowSeconds int64 = 86_400

	penaltyMultiplier int64 = 10

	spamFrequencyThreshold = 10
	spamVarianceMinCount   = 5
	spamVarianceThreshold  = 0.5
	spamTargetMinCount     = 3

	botActionThreshold   = 50
	botIntervalSeconds   = 10
	botIntervalMinAction = 20

	reciprocalWindowSeconds int64 = 3600
	reciprocalMin                 = 3
	reciprocalGivenMin            = 5
	lowRatingMax                  = 3
	lowRatingMin                  = 5
)

// Cooldown is how long a finding of kind suppresses a repeat finding of the
// same kind, matching the window the detector looks back over.
func Cooldown(kind Kind) int64 {
	switch kind {
	case KindManipulation:
		return ManipulationWindowSeconds
	default:
		return SpamWindowSeconds
	}
}

// ParseKind maps a kind name to a Kind. Unknown names become
// KindSuspiciousPattern.
func ParseKind(raw string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindSpam, KindBot, KindManipulation, KindSuspiciousPattern, KindRateLimitExceeded:
		return k
	}
	return KindSuspiciousPattern
}

type Rating struct {
	Rater     string
	Rated     string
	Score     int
	Timestamp int64
}

// Activity is the aggregated rate-limit window of a principal.
type Activity struct {
	Count       int64
	WindowStart int64
}

// Finding is the result of one heuristic. ConfidencePct is confidence × 100.
type Finding struct {
	Suspicious    bool
	Kind          Kind
	ConfidencePct int64
	Evidence      []string
	Penalty       int64
}

// Severity maps confidence to the 1..10 violation scale.
func (f Finding) Severity() int {
	sev := f.ConfidencePct / 10
	if sev < 1 {
		return 1
	}
	if sev > 10 {
		return 10
	}
	return int(sev)
}

func finding(kind Kind, pct int64, evidence []string, penaltyFactor int64) Finding {
	if len(evidence) == 0 {
		return Finding{}
	}
	return Finding{
		Suspicious:    true,
		Kind:          kind,
		ConfidencePct: pct,
		Evidence:      evidence,
		Penalty:       penaltyMultiplier * penaltyFactor * pct,
	}
}

// DetectSpam inspects the ratings a principal gave in the last hour.
func DetectSpam(given []Rating) Finding {
	var (
		pct      int64
		evidence []string
		count    = len(given)
	)

	if count > spamFrequencyThreshold {
		pct += 40
		evidence = append(evidence, fmt.Sprintf("High rating frequency: %d ratings in 1 hour", count))
	}

	if count >= spamVarianceMinCount {
		scores := make([]int, 0, count)
		for _, r := range given {
			scores = append(scores, r.Score)
		}
		if v := Variance(scores); v < spamVarianceThreshold {
			pct += 30
			evidence = append(evidence, fmt.Sprintf("Low rating variance: %.2f", v))
		}
	}

	if count >= spamTargetMinCount {
		targets := make(map[string]int, count)
		top := 0
		for _, r := range given {
			targets[r.Rated]++
			if targets[r.Rated] > top {
				top = targets[r.Rated]
			}
		}
		// top/count > 0.8
		if top*10 > count*8 {
			evidence = append(evidence, fmt.Sprintf("Suspicious interaction pattern: %.2f ratio", float64(top)/float64(count)))
			pct += 30
		}
	}

	return finding(KindSpam, pct, evidence, 1)
}

// DetectBot inspects the principal's rate-limit activity.
func DetectBot(activity Activity, now int64) Finding {
	var (
		pct      int64
		evidence []string
	)

	if activity.Count > botActionThreshold {
		pct += 50
		evidence = append(evidence, fmt.Sprintf("High action frequency: %d actions in 1 hour", activity.Count))
	}

	elapsed := now - activity.WindowStart
	if elapsed > 0 && activity.Count > 0 {
		interval := elapsed / activity.Count
		if interval < botIntervalSeconds && activity.Count > botIntervalMinAction {
			pct += 30
			evidence = append(evidence, fmt.Sprintf("Regular timing pattern: %ds average interval", interval))
		}
	}

	return finding(KindBot, pct, evidence, 2)
}

// DetectManipulation compares what a principal gave and received over the
// last day.
func DetectManipulation(given, received []Rating) Finding {
	var (
		pct      int64
		evidence []string
		count    = len(given)
	)

	byRater := make(map[string][]int64, len(received))
	for _, r := range received {
		byRater[r.Rater] = append(byRater[r.Rater], r.Timestamp)
	}

	reciprocal := 0
	for _, g := range given {
		for _, ts := range byRater[g.Rated] {
			delta := g.Timestamp - ts
			if delta < 0 {
				delta = -delta
			}
			if delta < reciprocalWindowSeconds {
				reciprocal++
			}
		}
	}
	// reciprocal/given > 0.3
	if reciprocal > reciprocalMin && count > reciprocalGivenMin && reciprocal*10 > count*3 {
		pct += 40
		evidence = append(evidence, fmt.Sprintf("Reciprocal rating pattern: %d reciprocal ratings", reciprocal))
	}

	low := 0
	for _, g := range given {
		if g.Score <= lowRatingMax {
			low++
		}
	}
	// low/given > 0.7
	if low > lowRatingMin && low*10 > count*7 {
		pct += 30
		evidence = append(evidence, fmt.Sprintf("Coordinated low rating pattern: %.2f ratio", float64(low)/float64(count)))
	}

	return finding(KindManipulation, pct, evidence, 3)
}

// Variance returns the population standard deviation of scores, or 1.0 when
// there are fewer than two samples.
func Variance(scores []int) float64 {
	if len(scores) < 2 {
		return 1.0
	}
	var sum float64
	for _, s := range scores {
		sum += float64(s)
	}
	mean := sum / float64(len(scores))

	var sq float64
	for _, s := range scores {
		d := float64(s) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(scores)))
}
