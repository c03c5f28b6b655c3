package scoring

import (
	"math"
	"testing"

	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = int64(secondsPerDay)

var now = int64(1_760_000_000)

func ratingsOf(scores []int, raters []string, ts int64) []Rating {
	out := make([]Rating, 0, len(scores))
	for i, s := range scores {
		out = append(out, Rating{Rater: raters[i%len(raters)], Score: s, Timestamp: ts})
	}
	return out
}

func repeat(score, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = score
	}
	return out
}

func TestCalculateDecaysInactivePrincipal(t *testing.T) {
	res, err := Calculate(Input{
		Principal: "agent-a",
		Now:       now,
		Previous:  &Previous{CurrentScore: 100, LastUpdated: now - 60*day},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(85), res.Score)
	assert.Less(t, res.Score, int64(100))
	assert.Equal(t, "0.850", res.Factors.DecayFactor())
	assert.Equal(t, "0.00", res.Factors.AvgRating())
}

func TestCalculateWithoutHistory(t *testing.T) {
	res, err := Calculate(Input{Principal: "fresh", Now: now})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Score)
	assert.Equal(t, int64(1000), res.Factors.DecayPerMille)
}

func TestCalculateTwelveTopRatings(t *testing.T) {
	res, err := Calculate(Input{
		Principal: "agent-a",
		Now:       now,
		Ratings:   ratingsOf(repeat(10, 12), []string{"r1", "r2", "r3"}, now),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1200), res.Factors.BaseScore)
	assert.Equal(t, int64(130), res.Factors.InteractionBonus)
	assert.Equal(t, int64(40), res.Factors.Modifier)
	assert.Equal(t, int64(1370), res.Score)
	assert.Equal(t, "10.00", res.Factors.AvgRating())
	assert.Len(t, res.VerificationHash, 64)
}

func TestCalculateClampsToMaximum(t *testing.T) {
	res, err := Calculate(Input{
		Principal: "agent-a",
		Now:       now,
		Ratings:   ratingsOf(repeat(10, 150), []string{"r1", "r2", "r3", "r4", "r5"}, now),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(MaxScore), res.Score)
}

func TestCalculateTrustedRaterOutweighsNewcomer(t *testing.T) {
	base := Input{
		Principal: "agent-a",
		Now:       now,
		Ratings:   []Rating{{Rater: "rater", Score: 10, Timestamp: now}},
	}

	trusted := base
	trusted.RaterScores = map[string]int64{"rater": 1500}
	newcomer := base
	newcomer.RaterScores = map[string]int64{"rater": 50}

	hi, err := Calculate(trusted)
	require.NoError(t, err)
	lo, err := Calculate(newcomer)
	require.NoError(t, err)
	assert.Greater(t, hi.Score, lo.Score)
}

func TestDecayPerMille(t *testing.T) {
	cases := []struct {
		elapsed int64
		want    int64
	}{
		{0, 1000},
		{7 * day, 1000},
		{8 * day, 950},
		{30 * day, 950},
		{31 * day, 850},
		{91 * day, 700},
	}
	for _, tc := range cases {
		got := DecayPerMille(&Previous{LastUpdated: now - tc.elapsed}, now)
		assert.Equal(t, tc.want, got, "elapsed %d", tc.elapsed)
	}
	assert.Equal(t, int64(1000), DecayPerMille(nil, now))
}

func TestWeightedAverage(t *testing.T) {
	avg, err := WeightedAverage([]Rating{{Score: 10, Timestamp: now}, {Score: 4, Timestamp: now}}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(6_666_666), avg)

	aged, err := WeightedAverage([]Rating{{Score: 6, Timestamp: now - 100*day}}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(6*micro), aged)
}

func TestBaseScore(t *testing.T) {
	positive, err := BaseScore(9_500_000, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(972), positive)

	residual, err := BaseScore(3*micro, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), residual)

	floor, err := BaseScore(1*micro, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), floor)
}

func TestBaseScoreOverflowFails(t *testing.T) {
	_, err := BaseScore(10*micro, math.MaxInt64)
	assert.ErrorIs(t, err, apperror.ErrArithmeticOverflow)
}

func TestInteractionBonusTiers(t *testing.T) {
	old := now - 90*day
	raters := []string{"a", "b", "c", "d", "e"}

	small, err := InteractionBonus(ratingsOf(repeat(7, 4), raters[:1], old), now)
	require.NoError(t, err)
	assert.Equal(t, int64(40), small)

	mid, err := InteractionBonus(ratingsOf(repeat(7, 30), raters[:1], old), now)
	require.NoError(t, err)
	assert.Equal(t, int64(200), mid)

	large, err := InteractionBonus(ratingsOf(repeat(7, 60), raters, old), now)
	require.NoError(t, err)
	assert.Equal(t, int64(330), large)

	recent, err := InteractionBonus(ratingsOf(repeat(7, 5), raters[:1], now), now)
	require.NoError(t, err)
	assert.Equal(t, int64(70), recent)
}

func TestContextualModifier(t *testing.T) {
	t.Run("improvement and trusted raters", func(t *testing.T) {
		scores := append(repeat(4, 5), repeat(6, 5)...)
		ratings := ratingsOf(scores, []string{"t"}, now)
		got, err := ContextualModifier(ratings, map[string]int64{"t": 500})
		require.NoError(t, err)
		assert.Equal(t, int64(230), got)
	})

	t.Run("low ratings are penalised progressively", func(t *testing.T) {
		ratings := ratingsOf([]int{1, 2, 3}, []string{"m"}, now)
		got, err := ContextualModifier(ratings, map[string]int64{"m": 200})
		require.NoError(t, err)
		assert.Equal(t, int64(-35), got)
	})

	t.Run("excellence needs ninety percent high ratings", func(t *testing.T) {
		scores := append([]int{5, 5}, repeat(9, 18)...)
		ratings := ratingsOf(scores, []string{"m"}, now)
		got, err := ContextualModifier(ratings, map[string]int64{"m": 200})
		require.NoError(t, err)
		assert.Equal(t, int64(150), got)
	})

	t.Run("mostly low karma raters", func(t *testing.T) {
		ratings := ratingsOf([]int{6, 6, 6}, []string{"x", "y", "z"}, now)
		got, err := ContextualModifier(ratings, map[string]int64{"x": 300})
		require.NoError(t, err)
		assert.Equal(t, int64(-10), got)
	})
}

func TestCalculateNegativeModifierSaturatesAtZero(t *testing.T) {
	res, err := Calculate(Input{
		Principal: "agent-a",
		Now:       now - 400*day,
		Ratings:   ratingsOf([]int{1}, []string{"m"}, now-400*day),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Score)
}

func TestCalculateModifierDoesNotCancelExternalBonus(t *testing.T) {
	res, err := Calculate(Input{
		Principal: "agent-a",
		Now:       now,
		Ratings:   ratingsOf(repeat(1, 5), []string{"m"}, now),
		External:  []External{{Type: ExternalPerformance, Value: 100}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.Factors.BaseScore)
	assert.Equal(t, int64(70), res.Factors.InteractionBonus)
	assert.Equal(t, int64(-85), res.Factors.Modifier)
	assert.Equal(t, int64(2700), res.Factors.ExternalBonus)
	assert.Equal(t, int64(2700), res.Score)
}

func TestAvgRatingRoundsHalfUp(t *testing.T) {
	cases := map[int64]string{
		7_996_000:  "8.00",
		7_995_000:  "8.00",
		7_994_999:  "7.99",
		3_333_333:  "3.33",
		9_999_999:  "10.00",
		0:          "0.00",
		10_000_000: "10.00",
	}
	for avg, want := range cases {
		assert.Equal(t, want, Factors{AvgRatingMicro: avg}.AvgRating(), "%d", avg)
	}
}

func TestExternalBonus(t *testing.T) {
	got, err := ExternalBonus([]External{
		{Type: ExternalPerformance, Value: 100},
		{Type: ExternalCrossChain, Value: 50},
		{Type: ExternalSentiment, Value: 10},
		{Type: "weather", Value: 99},
	}, DefaultFreshnessPerMille)
	require.NoError(t, err)
	assert.Equal(t, int64(3420), got)

	clamped, err := ExternalBonus([]External{
		{Type: ExternalSentiment, Value: -4},
		{Type: ExternalSentiment, Value: 250},
	}, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), clamped)
}

func TestVerificationHash(t *testing.T) {
	a := VerificationHash("agent-a", now, 1370)
	assert.Equal(t, a, VerificationHash("agent-a", now, 1370))
	assert.NotEqual(t, a, VerificationHash("agent-a", now, 1371))
	assert.NotEqual(t, a, VerificationHash("agent-a", now+1, 1370))
	assert.NotEqual(t, a, VerificationHash("agent-b", now, 1370))
}
