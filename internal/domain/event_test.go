package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvent_Supersedes(t *testing.T) {
	now := time.Now()
	v2 := NewRosterDelta(RosterSnapshot{SessionID: "s", Version: 2})
	v3 := NewRosterDelta(RosterSnapshot{SessionID: "s", Version: 3})

	assert.True(t, v3.Supersedes(v2))
	assert.False(t, v2.Supersedes(v3))
	assert.False(t, v2.Supersedes(v2), "same version is not newer")

	waiting := NewLifecycle("s", StateWaiting, now, 0)
	running := NewLifecycle("s", StateRunning, now, 2)
	assert.True(t, running.Supersedes(waiting))
	assert.False(t, waiting.Supersedes(running))
}

func TestNewRosterDelta_CopiesSnapshot(t *testing.T) {
	snapshot := RosterSnapshot{SessionID: "s", Version: 1, Participants: []Participant{{StudentID: 1}}}
	event := NewRosterDelta(snapshot)
	snapshot.Version = 5

	assert.Equal(t, EventRosterDelta, event.Type)
	assert.Equal(t, uint64(1), event.Version)
	assert.Equal(t, uint64(1), event.Snapshot.Version)
	assert.True(t, event.Snapshot.Contains(1))
	assert.False(t, event.Snapshot.Contains(2))
}
