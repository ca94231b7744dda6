package round

// State is the position of a Controller in its round state machine.
type State int32

const (
	StateIdle State = iota
	StateWaitMatch
	StateActive
	StateAwaitCompletion
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitMatch:
		return "wait-match"
	case StateActive:
		return "active"
	case StateAwaitCompletion:
		return "await-completion"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Phase names a step of a round for errors and spans.
type Phase string

const (
	PhaseEndpoint   Phase = "endpoint"
	PhaseReconnect  Phase = "reconnect-wait"
	PhaseMatch      Phase = "match-wait"
	PhaseTransfer   Phase = "transfer"
	PhaseAck        Phase = "ack-wait"
	PhaseSentinel   Phase = "sentinel"
	PhaseCompletion Phase = "completion"
)
