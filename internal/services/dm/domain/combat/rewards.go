package combat

import "math"

// XPGain computes the experience awarded for a victory.
//
// Stronger opponents grant up to 3x XP (capped at +2 levels of scaling),
// weaker opponents degrade the reward down to a 0.25x floor, and at least
// 5 XP is always granted so every victory feels like progress.
func XPGain(r Roller, winnerLevel, loserLevel int) int {
	base := 20 + 5*max(1, loserLevel)
	variability := r.Roll(2, 6) - 2
	levelDiff := loserLevel - winnerLevel

	var multiplier float64
	if levelDiff >= 0 {
		multiplier = 1 + math.Min(2, float64(levelDiff)*0.2)
	} else {
		multiplier = math.Max(0.25, 1+float64(levelDiff)*0.1)
	}

	xp := int(math.Floor(float64(base+variability) * multiplier))
	return max(5, xp)
}

// GoldReward computes the gold awarded for a victory. Always at least 5.
func GoldReward(r Roller, victorLevel, targetLevel int) int {
	base := r.Roll(5, 6)
	levelDiff := targetLevel - victorLevel
	modifier := math.Max(0.5, 1+float64(levelDiff)*0.1)
	return max(5, int(math.Floor(float64(base)*modifier)))
}
