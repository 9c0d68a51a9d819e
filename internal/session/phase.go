package session

// Phase is the controller's position in the session state machine.
type Phase int32

// Session phases.
const (
	PhaseIdle Phase = iota
	PhaseBootstrapping
	PhaseCatchingUp
	PhaseScanning
	PhasePersisting
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseCatchingUp:
		return "catching_up"
	case PhaseScanning:
		return "scanning"
	case PhasePersisting:
		return "persisting"
	default:
		return "idle"
	}
}
