package feed

// State is the connection state of a Manager.
type State int32

const (
	Connecting State = iota
	Live
	Degraded
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the allowed moves. Closed is reachable from every state and is terminal.
var transitions = map[State][]State{
	Connecting: {Live, Degraded, Closed},
	Live:       {Degraded, Closed},
	Degraded:   {Live, Closed},
	Closed:     nil,
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
