package domain

// RatingAward is the karma the rated principal earns for a rating. Trusted
// raters add 50% (score ≥500) or 25% (score ≥200).
func RatingAward(score int, raterScore int64) int64 {
	var base int64
	switch score {
	case 10:
		base = 50
	case 9:
		base = 35
	case 8:
		base = 20
	case 7:
		base = 10
	case 6:
		base = 5
	default:
		return 0
	}
	switch {
	case raterScore >= 500:
		return base + base/2
	case raterScore >= 200:
		return base + base/4
	}
	return base
}

// RatingPenalty is the karma deducted from the rated principal for a poor rating.
func RatingPenalty(score int) int64 {
	switch score {
	case 3:
		return 5
	case 2:
		return 15
	case 1:
		return 30
	}
	return 0
}
