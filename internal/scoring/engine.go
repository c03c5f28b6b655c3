// Package scoring computes karma scores from a principal's rating history.
//
// The engine is a pure function of its Input: callers supply the current time
// and every piece of state it reads. All arithmetic is fixed-point integer;
// weights are micro-units, decay and freshness factors are per-mille, and
// every division truncates toward zero.
package scoring

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	MaxScore = 10_000

	secondsPerDay = 86_400

	baseWeight        = 100
	interactionWeight = 10

	qualityDampNum = 8
	qualityDampDen = 10

	recentActivityDays  = 30
	recentActivityMin   = 5
	recentActivityBonus = 20
	diversityMin        = 5
	diversityBonus      = 10

	consistencyMin     = 10
	consistencyBonus   = 50
	excellenceMin      = 20
	excellenceBonus    = 100
	lowRatingPenalty   = 5
	severeRatingExtra  = 10
	improvementMin     = 10
	improvementBonus   = 30
	trustedRaterScore  = 500
	trustedRaterBonus  = 20
	lowKarmaRaterScore = 100
	lowKarmaPenalty    = 10

	DefaultFreshnessPerMille = 900
)

// External data types recognised by the engine. Anything else is ignored.
const (
	ExternalPerformance = "performance"
	ExternalCrossChain  = "cross_chain"
	ExternalSentiment   = "sentiment"
)

// externalMultiplier folds weight × multiplier for each known type:
// performance 15×2.0, cross-chain 10×1.5, sentiment 5×1.0.
var externalMultiplier = map[string]int64{
	ExternalPerformance: 30,
	ExternalCrossChain:  15,
	ExternalSentiment:   5,
}

type Rating struct {
	Rater     string
	Score     int
	Timestamp int64
}

type External struct {
	Type  string
	Value int64
}

// Previous is the stored score record, if any.
type Previous struct {
	CurrentScore int64
	LastUpdated  int64
}

type Params struct {
	FreshnessPerMille int64
}

type Input struct {
	Principal string
	Now       int64
	// Ratings received by Principal in chronological order.
	Ratings     []Rating
	Previous    *Previous
	RaterScores map[string]int64
	External    []External
	Params      Params
}

type Factors struct {
	AvgRatingMicro   int64
	RatingCount      int64
	BaseScore        int64
	DecayPerMille    int64
	InteractionBonus int64
	Modifier         int64
	ExternalBonus    int64
}

// AvgRating renders the weighted average with two decimals, rounded half up.
func (f Factors) AvgRating() string {
	hundredths := (f.AvgRatingMicro + 5_000) / 10_000
	return fmt.Sprintf("%d.%02d", hundredths/100, hundredths%100)
}

// DecayFactor renders the decay multiplier with three decimals.
func (f Factors) DecayFactor() string {
	return fmt.Sprintf("%d.%03d", f.DecayPerMille/1000, f.DecayPerMille%1000)
}

type Result struct {
	Score            int64
	Factors          Factors
	VerificationHash string
}

// Calculate runs the scoring pipeline. It fails only on arithmetic overflow.
func Calculate(in Input) (Result, error) {
	freshness := in.Params.FreshnessPerMille
	if freshness <= 0 {
		freshness = DefaultFreshnessPerMille
	}

	decay := DecayPerMille(in.Previous, in.Now)

	if len(in.Ratings) == 0 {
		var current int64
		if in.Previous != nil {
			current = in.Previous.CurrentScore
		}
		decayed, err := mulDiv(current, decay, 1000)
		if err != nil {
			return Result{}, err
		}
		score := clamp(decayed, 0, MaxScore)
		return Result{
			Score:            score,
			Factors:          Factors{DecayPerMille: decay},
			VerificationHash: VerificationHash(in.Principal, in.Now, score),
		}, nil
	}

	avg, err := WeightedAverage(in.Ratings, in.Now)
	if err != nil {
		return Result{}, err
	}
	base, err := BaseScore(avg, int64(len(in.Ratings)))
	if err != nil {
		return Result{}, err
	}
	decayed, err := mulDiv(base, decay, 1000)
	if err != nil {
		return Result{}, err
	}
	interaction, err := InteractionBonus(in.Ratings, in.Now)
	if err != nil {
		return Result{}, err
	}
	modifier, err := ContextualModifier(in.Ratings, in.RaterScores)
	if err != nil {
		return Result{}, err
	}
	external, err := ExternalBonus(in.External, freshness)
	if err != nil {
		return Result{}, err
	}

	// the contextual modifier can only cancel rating-derived points, never
	// external ones
	internal, err := checkedAdd(decayed, interaction)
	if err != nil {
		return Result{}, err
	}
	if internal, err = checkedAdd(internal, modifier); err != nil {
		return Result{}, err
	}
	total, err := checkedAdd(max(internal, 0), external)
	if err != nil {
		return Result{}, err
	}
	score := clamp(total, 0, MaxScore)

	return Result{
		Score: score,
		Factors: Factors{
			AvgRatingMicro:   avg,
			RatingCount:      int64(len(in.Ratings)),
			BaseScore:        base,
			DecayPerMille:    decay,
			InteractionBonus: interaction,
			Modifier:         modifier,
			ExternalBonus:    external,
		},
		VerificationHash: VerificationHash(in.Principal, in.Now, score),
	}, nil
}

// DecayPerMille maps the time since the last score update to a multiplier.
// A principal without a stored record does not decay.
func DecayPerMille(prev *Previous, now int64) int64 {
	if prev == nil {
		return 1000
	}
	elapsed := now - prev.LastUpdated
	switch {
	case elapsed <= 7*secondsPerDay:
		return 1000
	case elapsed <= 30*secondsPerDay:
		return 950
	case elapsed <= 90*secondsPerDay:
		return 850
	default:
		return 700
	}
}

func ageDays(ts, now int64) int64 {
	if now <= ts {
		return 0
	}
	return (now - ts) / secondsPerDay
}

// WeightedAverage returns the recency and quality weighted mean in micro-units
// of a rating point. Recency is 1/(1+ageDays×0.01); scores at the extremes
// (≤2 or ≥9) are damped to 0.8.
func WeightedAverage(ratings []Rating, now int64) (int64, error) {
	var weightSum, weightedScores int64
	for _, r := range ratings {
		recency := micro * 100 / (100 + ageDays(r.Timestamp, now))
		if r.Score <= 2 || r.Score >= 9 {
			recency = recency * qualityDampNum / qualityDampDen
		}
		var err error
		if weightSum, err = checkedAdd(weightSum, recency); err != nil {
			return 0, err
		}
		contribution, err := checkedMul(int64(r.Score), recency)
		if err != nil {
			return 0, err
		}
		if weightedScores, err = checkedAdd(weightedScores, contribution); err != nil {
			return 0, err
		}
	}
	if weightSum == 0 {
		return 0, nil
	}
	return mulDiv(weightedScores, micro, weightSum)
}

// BaseScore maps the weighted average onto the convex positive curve
// ((avg−5)/5)² × 100 × count, or the small residual (1−(5−avg)/4) × 10 below 5.
func BaseScore(avgMicro, count int64) (int64, error) {
	midpoint := int64(5 * micro)
	if avgMicro >= midpoint {
		d := avgMicro - midpoint
		ratioSq := d * d / (25 * micro)
		scaled, err := checkedMul(ratioSq, baseWeight)
		if err != nil {
			return 0, err
		}
		return mulDiv(scaled, count, micro)
	}
	d := midpoint - avgMicro
	residual := 4*micro - d
	if residual <= 0 {
		return 0, nil
	}
	return residual * baseWeight / 10 / (4 * micro), nil
}

// InteractionBonus rewards volume with diminishing returns plus flat
// bonuses for recent activity and rater diversity.
func InteractionBonus(ratings []Rating, now int64) (int64, error) {
	n := int64(len(ratings))
	var bonus int64
	switch {
	case n <= 10:
		bonus = n * interactionWeight
	case n <= 50:
		bonus = 10*interactionWeight + (n-10)*(interactionWeight/2)
	default:
		tail, err := checkedMul(n-50, interactionWeight/4)
		if err != nil {
			return 0, err
		}
		bonus, err = checkedAdd(10*interactionWeight+40*(interactionWeight/2), tail)
		if err != nil {
			return 0, err
		}
	}

	recent := 0
	raters := make(map[string]struct{}, len(ratings))
	for _, r := range ratings {
		if now-r.Timestamp <= recentActivityDays*secondsPerDay {
			recent++
		}
		raters[r.Rater] = struct{}{}
	}
	if recent >= recentActivityMin {
		bonus += recentActivityBonus
	}
	if len(raters) >= diversityMin {
		bonus += diversityBonus
	}
	return bonus, nil
}

// ContextualModifier returns the signed pattern adjustment.
func ContextualModifier(ratings []Rating, raterScores map[string]int64) (int64, error) {
	n := int64(len(ratings))
	var modifier, high, lowKarma int64
	for _, r := range ratings {
		if r.Score >= 8 {
			high++
		}
		if r.Score < 4 {
			modifier -= lowRatingPenalty
		}
		if r.Score <= 2 {
			modifier -= severeRatingExtra
		}
		raterScore := raterScores[r.Rater]
		if raterScore >= trustedRaterScore {
			modifier += trustedRaterBonus
		}
		if raterScore < lowKarmaRaterScore {
			lowKarma++
		}
	}

	if high >= consistencyMin {
		modifier += consistencyBonus
	}
	if n >= excellenceMin && high*10 >= n*9 {
		modifier += excellenceBonus
	}
	if n >= improvementMin && improved(ratings) {
		modifier += improvementBonus
	}
	if lowKarma*2 > n {
		modifier -= lowKarmaPenalty
	}
	return modifier, nil
}

// improved reports whether the later half averages at least one point above
// the earlier half, compared exactly in integers.
func improved(ratings []Rating) bool {
	mid := len(ratings) / 2
	early, recent := ratings[:mid], ratings[mid:]
	var earlySum, recentSum int64
	for _, r := range early {
		earlySum += int64(r.Score)
	}
	for _, r := range recent {
		recentSum += int64(r.Score)
	}
	earlyN, recentN := int64(len(early)), int64(len(recent))
	return recentSum*earlyN >= earlySum*recentN+earlyN*recentN
}

// ExternalBonus sums oracle contributions scaled by freshness per-mille.
func ExternalBonus(entries []External, freshnessPerMille int64) (int64, error) {
	var sum int64
	for _, e := range entries {
		mult, ok := externalMultiplier[e.Type]
		if !ok {
			continue
		}
		contribution := clamp(e.Value, 0, 100) * mult
		var err error
		if sum, err = checkedAdd(sum, contribution); err != nil {
			return 0, err
		}
	}
	return mulDiv(sum, clamp(freshnessPerMille, 0, 1000), 1000)
}

// VerificationHash is hex(sha256(principal ‖ be64(timestamp) ‖ be128(score))).
func VerificationHash(principal string, timestamp, score int64) string {
	h := sha256.New()
	h.Write([]byte(principal))
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(timestamp))
	binary.BigEndian.PutUint64(buf[16:24], uint64(score))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}
