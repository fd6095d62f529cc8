package pipeline

// State is one strategy in the fallback chain.
type State int

const (
	StateFull                State = iota // align + diarize over a fresh transcription
	StateDiarizeExisting                  // align + diarize over the caller's transcript
	StatePlainHeuristic                   // acoustic transcription + alternating labels
	StateHeuristicOnExisting              // alternating labels on the caller's transcript
	StateEmpty                            // no segments, error message set
	StateDone
)

var stateNames = [...]string{
	StateFull:                "full",
	StateDiarizeExisting:     "diarize_existing",
	StatePlainHeuristic:      "plain_heuristic",
	StateHeuristicOnExisting: "heuristic_on_existing",
	StateEmpty:               "empty",
	StateDone:                "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// degradeTo is the state entered when a strategy fails. Each step trades
// speaker fidelity for availability.
var degradeTo = map[State]State{
	StateFull:                StatePlainHeuristic,
	StatePlainHeuristic:      StateEmpty,
	StateDiarizeExisting:     StateHeuristicOnExisting,
	StateHeuristicOnExisting: StateEmpty,
}

// initialState picks the first strategy for a request.
func initialState(hasExisting bool) State {
	if hasExisting {
		return StateDiarizeExisting
	}
	return StateFull
}

// Next returns the state to try after s fails.
func Next(s State) State {
	if n, ok := degradeTo[s]; ok {
		return n
	}
	return StateEmpty
}
