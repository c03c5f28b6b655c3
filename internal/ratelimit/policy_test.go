package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveLimit(t *testing.T) {
	cases := []struct {
		action Action
		karma  int64
		want   int64
	}{
		{ActionRating, 0, 10},
		{ActionRating, 100, 10},
		{ActionRating, 101, 12},
		{ActionRating, 501, 15},
		{ActionRating, 1001, 20},
		{ActionInteraction, 50, 50},
		{ActionInteraction, 600, 75},
		{Action("governance"), 200, 24},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EffectiveLimit(tc.action, tc.karma), "%s/%d", tc.action, tc.karma)
	}
}

func TestWindowExpired(t *testing.T) {
	assert.False(t, windowExpired(1000, 1000+WindowSeconds))
	assert.True(t, windowExpired(1000, 1001+WindowSeconds))
}

func TestAggregate(t *testing.T) {
	got := aggregate([]Tracker{
		{ActionType: "rating", Count: 4, WindowStart: 500},
		{ActionType: "interaction", Count: 7, WindowStart: 300},
	}, 900)
	assert.Equal(t, Activity{Count: 11, WindowStart: 300}, got)

	assert.Equal(t, Activity{WindowStart: 900}, aggregate(nil, 900))
}

func TestAggregateSkipsExpiredWindows(t *testing.T) {
	now := int64(100_000)
	got := aggregate([]Tracker{
		{ActionType: "interaction", Count: 55, WindowStart: now - 86_400},
		{ActionType: "rating", Count: 2, WindowStart: now - 60},
	}, now)
	assert.Equal(t, Activity{Count: 2, WindowStart: now - 60}, got)

	stale := aggregate([]Tracker{{ActionType: "interaction", Count: 55, WindowStart: now - WindowSeconds - 1}}, now)
	assert.Equal(t, Activity{WindowStart: now}, stale)
}
