package types

// RotationState is the lifecycle state of a notes file with respect to
// rotation.
type RotationState string

// Rotation state constants
const (
	StateActive         RotationState = "active"          // Below threshold, accepting writes
	StateRotationNeeded RotationState = "rotation_needed" // Over threshold, waiting for the transaction
	StateRotating       RotationState = "rotating"        // Archive-and-rewrite transaction in progress
)

// ValidRotationStates contains all valid rotation states
var ValidRotationStates = []RotationState{
	StateActive,
	StateRotationNeeded,
	StateRotating,
}

// IsValidRotationState checks if the given state is a known rotation state.
func IsValidRotationState(state RotationState) bool {
	for _, valid := range ValidRotationStates {
		if state == valid {
			return true
		}
	}
	return false
}

// IsValidRotationTransition validates state transitions.
//
// Valid transitions:
//
//	active -> rotation_needed
//	rotation_needed -> rotating | active (lock not acquired)
//	rotating -> active (committed or rolled back)
func IsValidRotationTransition(current, next RotationState) bool {
	switch current {
	case StateActive:
		return next == StateRotationNeeded
	case StateRotationNeeded:
		return next == StateRotating || next == StateActive
	case StateRotating:
		return next == StateActive
	default:
		return false
	}
}
