package registration

// State is a registration flow's position.
type State int

const (
	StateIdle State = iota
	StateFormOffered
	StateValidationInFlight
	StateConfirmationOffered
	StateCommitted
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFormOffered:
		return "form_offered"
	case StateValidationInFlight:
		return "validation_in_flight"
	case StateConfirmationOffered:
		return "confirmation_offered"
	case StateCommitted:
		return "committed"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateCancelled || s == StateExpired
}
