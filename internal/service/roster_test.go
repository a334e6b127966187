package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exam-coordinator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterService_JoinCapacityScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.waitingSession(t, 2)

	snap, err := h.roster.Join(ctx, s.ID, student(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version)

	snap, err = h.roster.Join(ctx, s.ID, student(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, []uint{1, 2}, studentIDs(snap))

	_, err = h.roster.Join(ctx, s.ID, student(3))
	assert.ErrorIs(t, err, ErrRoomFull)

	require.NoError(t, h.roster.Leave(ctx, s.ID, 1))

	snap, err = h.roster.Join(ctx, s.ID, student(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), snap.Version)
	assert.Equal(t, []uint{2, 3}, studentIDs(snap))

	deltas := h.bus.ofKind(s.ID, domain.EventRosterDelta)
	require.Len(t, deltas, 4, "rejected join must not publish")
	for i, e := range deltas {
		assert.Equal(t, uint64(i+1), e.Version)
	}
	assert.Equal(t, []uint{2}, studentIDs(*deltas[2].Snapshot))
}

func TestRosterService_ConcurrentJoinsRespectCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const capacity = 5
	s := h.waitingSession(t, capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		joined   int
		rejected int
	)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := h.roster.Join(ctx, s.ID, student(id))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, ErrRoomFull):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(uint(i))
	}
	wg.Wait()

	assert.Equal(t, capacity, joined)
	assert.Equal(t, 15, rejected)

	snap, err := h.roster.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Participants, capacity)
	assert.Equal(t, uint64(capacity), snap.Version)

	// 发布顺序即版本顺序
	var last uint64
	for _, e := range h.bus.ofKind(s.ID, domain.EventRosterDelta) {
		assert.Greater(t, e.Version, last)
		last = e.Version
	}
}

func TestRosterService_RejoinIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.waitingSession(t, 5)

	_, err := h.roster.Join(ctx, s.ID, student(1))
	require.NoError(t, err)

	snap, err := h.roster.Join(ctx, s.ID, student(1))
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 1)
	assert.Equal(t, uint64(1), snap.Version, "rejoining while connected changes nothing")

	require.NoError(t, h.roster.MarkDisconnected(ctx, s.ID, 1))
	snap, err = h.roster.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)
	assert.False(t, snap.Participants[0].Connected)

	snap, err = h.roster.Join(ctx, s.ID, student(1))
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 1)
	assert.True(t, snap.Participants[0].Connected)
	assert.Equal(t, uint64(3), snap.Version)
}

func TestRosterService_JoinRejectedUnlessWaiting(t *testing.T) {
	h := newHarness(t)
	h.allowScheduling()
	ctx := context.Background()

	pending, err := h.lifecycle.Create(ctx, testTeacherID, CreateSessionInput{DurationSeconds: 60})
	require.NoError(t, err)
	_, err = h.roster.Join(ctx, pending.ID, student(1))
	assert.ErrorIs(t, err, ErrSessionNotJoinable)

	running := h.runningSession(t)
	_, err = h.roster.Join(ctx, running.ID, student(1))
	assert.ErrorIs(t, err, ErrSessionNotJoinable)

	_, err = h.roster.Join(ctx, "missing", student(1))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRosterService_LeaveNonMemberIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.waitingSession(t, 5)

	require.NoError(t, h.roster.Leave(ctx, s.ID, 42))
	assert.Empty(t, h.bus.ofKind(s.ID, domain.EventRosterDelta))

	assert.ErrorIs(t, h.roster.Leave(ctx, "missing", 42), ErrSessionNotFound)
}

func TestRosterService_SnapshotMatchesLatestPublished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.waitingSession(t, 5)

	empty, err := h.roster.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), empty.Version)
	assert.Empty(t, empty.Participants)

	for i := uint(1); i <= 3; i++ {
		_, err := h.roster.Join(ctx, s.ID, student(i))
		require.NoError(t, err)
	}
	deltas := h.bus.ofKind(s.ID, domain.EventRosterDelta)
	latest := deltas[len(deltas)-1]

	snap, err := h.roster.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, latest.Version, snap.Version)
	assert.Equal(t, studentIDs(*latest.Snapshot), studentIDs(snap))
}

func TestRosterService_SweepStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.waitingSession(t, 5)

	_, err := h.roster.Join(ctx, s.ID, student(1))
	require.NoError(t, err)
	_, err = h.roster.Join(ctx, s.ID, student(2))
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.roster.Heartbeat(ctx, s.ID, 2))
	h.clock.Advance(20 * time.Second)

	removed, err := h.roster.SweepStale(ctx, 45*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	snap, err := h.roster.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, studentIDs(snap))
	assert.Equal(t, uint64(3), snap.Version)

	removed, err = h.roster.SweepStale(ctx, 45*time.Second)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRosterService_MarkConnectedIgnoresNonMembers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.waitingSession(t, 5)

	require.NoError(t, h.roster.MarkConnected(ctx, s.ID, testTeacherID))
	require.NoError(t, h.roster.MarkDisconnected(ctx, s.ID, testTeacherID))
	assert.Empty(t, h.bus.ofKind(s.ID, domain.EventRosterDelta))
}

func TestRosterService_PresenceTracksLastConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.waitingSession(t, 5)
	_, err := h.roster.Join(ctx, s.ID, student(1))
	require.NoError(t, err)

	// 同一学生打开两个连接
	require.NoError(t, h.roster.MarkConnected(ctx, s.ID, 1))
	require.NoError(t, h.roster.MarkConnected(ctx, s.ID, 1))
	before := len(h.bus.ofKind(s.ID, domain.EventRosterDelta))

	require.NoError(t, h.roster.MarkDisconnected(ctx, s.ID, 1))
	snapshot, err := h.roster.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Participants, 1)
	assert.True(t, snapshot.Participants[0].Connected, "one connection is still open")
	assert.Len(t, h.bus.ofKind(s.ID, domain.EventRosterDelta), before)

	require.NoError(t, h.roster.MarkDisconnected(ctx, s.ID, 1))
	snapshot, err = h.roster.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, snapshot.Participants[0].Connected)
	assert.Len(t, h.bus.ofKind(s.ID, domain.EventRosterDelta), before+1)
}

func TestRosterService_TransientFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.waitingSession(t, 5)

	h.store.setFailure(errors.New("connection refused"))
	_, err := h.roster.Join(ctx, s.ID, student(1))
	assert.ErrorIs(t, err, ErrTransientDependency)

	h.store.setFailure(nil)
	_, err = h.roster.Join(ctx, s.ID, student(1))
	assert.NoError(t, err, "retry after recovery succeeds")
}
