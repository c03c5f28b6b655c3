package ratelimit

// Action identifies a rate-limited operation.
type Action string

const (
	ActionRating      Action = "rating"
	ActionInteraction Action = "interaction"

	// WindowSeconds is the length of a fixed rate-limit window.
	WindowSeconds int64 = 3600
)

// BaseLimit is the per-window allowance before the karma multiplier.
func BaseLimit(action Action) int64 {
	switch action {
	case ActionRating:
		return 10
	case ActionInteraction:
		return 50
	default:
		return 20
	}
}

// MultiplierTenths returns the karma multiplier in tenths: 2.0 above 1000,
// 1.5 above 500, 1.2 above 100, else 1.0.
func MultiplierTenths(karma int64) int64 {
	switch {
	case karma > 1000:
		return 20
	case karma > 500:
		return 15
	case karma > 100:
		return 12
	default:
		return 10
	}
}

// EffectiveLimit is floor(base × multiplier).
func EffectiveLimit(action Action, karma int64) int64 {
	return BaseLimit(action) * MultiplierTenths(karma) / 10
}

// windowExpired reports whether a window opened at start no longer covers now.
func windowExpired(start, now int64) bool {
	return now-start > WindowSeconds
}
