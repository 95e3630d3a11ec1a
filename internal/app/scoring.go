package app

import "math"

// scorePoints computes the award for a correct answer: a flat base plus a time
// bonus proportional to how much of the question window remained. An answer at
// the buzzer is worth 50, an instant answer 100.
func scorePoints(remaining, timePerQuestion int) int {
	if timePerQuestion <= 0 {
		return 50
	}
	if remaining < 0 {
		remaining = 0
	}
	if remaining > timePerQuestion {
		remaining = timePerQuestion
	}
	bonus := math.Round(50 * float64(remaining) / float64(timePerQuestion))
	return 50 + int(bonus)
}
