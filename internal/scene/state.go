package scene

import "holding-parade/server/internal/render"

// State is the animation state of an entity.
type State uint8

const (
	StateWalking State = iota
	StateRunning
	StateCheering
	StateExercising
	StateTalking

	stateCount
)

var stateNames = [stateCount]string{
	StateWalking:    "walking",
	StateRunning:    "running",
	StateCheering:   "cheering",
	StateExercising: "exercising",
	StateTalking:    "talking",
}

// String doubles as the manifest track name for the state.
func (s State) String() string {
	if s >= stateCount {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// stateForTrend is the state an entity enters when its trend is (re)applied.
func stateForTrend(t Trend) State {
	switch t {
	case TrendIncreasing:
		return StateRunning
	case TrendDecreasing:
		return StateExercising
	default:
		return StateWalking
	}
}

// moves reports whether the wander simulation runs in s.
func (s State) moves() bool {
	return s == StateWalking || s == StateRunning
}

func placeholderColor(t Trend) render.Color {
	switch t {
	case TrendIncreasing:
		return "#2ecc71"
	case TrendDecreasing:
		return "#e74c3c"
	default:
		return "#95a5a6"
	}
}
