package domain

// PositionSide represents the direction of a trading position.
type PositionSide int

const (
	// PositionSideLong represents a long position (buy to open).
	PositionSideLong PositionSide = iota
	// PositionSideShort represents a short position (sell to open).
	PositionSideShort
)

// String returns the string representation of the side.
func (s PositionSide) String() string {
	switch s {
	case PositionSideLong:
		return "long"
	case PositionSideShort:
		return "short"
	default:
		return "unknown"
	}
}

// Sign returns +1 for long and -1 for short, the multiplier that turns
// a favorable price move into a positive number.
func (s PositionSide) Sign() int {
	if s == PositionSideShort {
		return -1
	}
	return 1
}
