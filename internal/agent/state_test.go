package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    State
		ev      Event
		want    State
		wantErr bool
	}{
		{from: StateCheckCache, ev: EventCacheHit, want: StateDone},
		{from: StateCheckCache, ev: EventCacheMiss, want: StateRunAgent},
		{from: StateCheckCache, ev: EventCacheBypass, want: StateRunAgent},
		{from: StateRunAgent, ev: EventAnswered, want: StateSaveCache},
		{from: StateRunAgent, ev: EventFailed, want: StateSaveCache},
		{from: StateSaveCache, ev: EventSaved, want: StateDone},
		{from: StateSaveCache, ev: EventSaveSkipped, want: StateDone},

		{from: StateCheckCache, ev: EventAnswered, wantErr: true},
		{from: StateRunAgent, ev: EventCacheHit, wantErr: true},
		{from: StateSaveCache, ev: EventFailed, wantErr: true},
		{from: StateDone, ev: EventCacheMiss, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			got, err := Next(tt.from, tt.ev)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "no transition from "+tt.from.String())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEveryPathReachesDone(t *testing.T) {
	outcomes := map[State][]Event{
		StateCheckCache: {EventCacheHit, EventCacheMiss, EventCacheBypass},
		StateRunAgent:   {EventAnswered, EventFailed},
		StateSaveCache:  {EventSaved, EventSaveSkipped},
	}

	var walk func(s State, depth int)
	walk = func(s State, depth int) {
		require.LessOrEqual(t, depth, 3, "path longer than the machine allows")
		if s == StateDone {
			return
		}
		for _, ev := range outcomes[s] {
			next, err := Next(s, ev)
			require.NoError(t, err)
			walk(next, depth+1)
		}
	}
	walk(StateCheckCache, 0)
}

func TestStateAndEventNames(t *testing.T) {
	assert.Equal(t, []string{"check_cache", "run_agent", "save_cache", "done"},
		stateNames([]State{StateCheckCache, StateRunAgent, StateSaveCache, StateDone}))
	assert.Equal(t, "state(9)", State(9).String())
	assert.Equal(t, "save_skipped", EventSaveSkipped.String())
	assert.Equal(t, "event(42)", Event(42).String())
}
