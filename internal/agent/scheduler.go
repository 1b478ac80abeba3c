package agent

// Frequency is the validation scheduling policy.
type Frequency string

const (
	FreqDisabled    Frequency = "disabled"
	FreqEvery1Turns Frequency = "every_1_turns"
	FreqEvery3Turns Frequency = "every_3_turns"
	FreqEvery5Turns Frequency = "every_5_turns"
)

// Interval returns the answerer-turn interval, or 0 when disabled or
// unrecognized.
func (f Frequency) Interval() int {
	switch f {
	case FreqEvery1Turns:
		return 1
	case FreqEvery3Turns:
		return 3
	case FreqEvery5Turns:
		return 5
	default:
		return 0
	}
}

// IsDue reports whether the just-completed exchange should be checked by the
// validator. The count is taken after incrementing for the completed
// exchange, so the first answerer turn is due under every_1_turns but not
// under every_3_turns.
func IsDue(answererTurnCount int, f Frequency) bool {
	n := f.Interval()
	if n <= 0 || answererTurnCount <= 0 {
		return false
	}
	return answererTurnCount%n == 0
}
