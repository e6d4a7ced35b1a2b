package agent

import "fmt"

// State is a step of the turn state machine.
type State int

const (
	StateCheckCache State = iota
	StateRunAgent
	StateSaveCache
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCheckCache:
		return "check_cache"
	case StateRunAgent:
		return "run_agent"
	case StateSaveCache:
		return "save_cache"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func stateNames(states []State) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = st.String()
	}
	return out
}

// Event is the outcome of executing a state.
type Event int

const (
	EventCacheHit Event = iota
	EventCacheMiss
	EventCacheBypass
	EventAnswered
	EventFailed
	EventSaved
	EventSaveSkipped
)

func (e Event) String() string {
	switch e {
	case EventCacheHit:
		return "hit"
	case EventCacheMiss:
		return "miss"
	case EventCacheBypass:
		return "bypass"
	case EventAnswered:
		return "answered"
	case EventFailed:
		return "failed"
	case EventSaved:
		return "saved"
	case EventSaveSkipped:
		return "save_skipped"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type transition struct {
	from State
	on   Event
}

// transitions is the complete table; any pair not listed is a programming error.
// A failed agent run still reaches SaveCache, which skips fallback replies.
var transitions = map[transition]State{
	{StateCheckCache, EventCacheHit}:    StateDone,
	{StateCheckCache, EventCacheMiss}:   StateRunAgent,
	{StateCheckCache, EventCacheBypass}: StateRunAgent,
	{StateRunAgent, EventAnswered}:      StateSaveCache,
	{StateRunAgent, EventFailed}:        StateSaveCache,
	{StateSaveCache, EventSaved}:        StateDone,
	{StateSaveCache, EventSaveSkipped}:  StateDone,
}

// Next returns the state that follows from on ev.
func Next(from State, ev Event) (State, error) {
	to, ok := transitions[transition{from, ev}]
	if !ok {
		return StateDone, fmt.Errorf("agent: no transition from %s on %s", from, ev)
	}
	return to, nil
}
