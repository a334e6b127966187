package service

import (
	"context"
	"testing"
	"time"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/service/mocks"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testTeacherID = uint(1)
	testGrace     = 2 * time.Minute
)

type harness struct {
	store     *memStore
	codes     *memCodes
	bus       *recordingBus
	clock     *fakeClock
	scheduler *mocks.Scheduler
	grader    *mocks.Grader

	registry    *AccessCodeRegistry
	roster      *RosterService
	lifecycle   *LifecycleService
	submissions *SubmissionService
}

// newHarness 组装全部服务；调度器默认接受任意调用，需要精确断言的测试可以替换期望。
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		codes:     newMemCodes(),
		bus:       newRecordingBus(),
		clock:     newFakeClock(),
		scheduler: mocks.NewScheduler(t),
		grader:    mocks.NewGrader(t),
	}
	locks := NewSessionLocks()
	sessions := h.store.sessionRepo()

	h.registry = NewAccessCodeRegistry(h.codes, sessions)
	h.roster = NewRosterService(sessions, h.store.participantRepo(), h.bus, locks)
	h.roster.now = h.clock.Now
	h.lifecycle = NewLifecycleService(sessions, h.registry, h.roster, h.bus, h.scheduler, locks, LifecycleOptions{
		DefaultMaxParticipants: 50,
		SubmissionGrace:        testGrace,
	})
	h.lifecycle.now = h.clock.Now
	h.submissions = NewSubmissionService(sessions, h.store.submissionRepo(), h.grader, testGrace)
	h.submissions.now = h.clock.Now
	return h
}

func (h *harness) allowScheduling() {
	h.scheduler.On("ScheduleExpiry", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	h.scheduler.On("CancelExpiry", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.scheduler.On("ScheduleArchive", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}

// waitingSession 创建并开放一个会话。
func (h *harness) waitingSession(t *testing.T, maxParticipants int) *domain.Session {
	t.Helper()
	ctx := context.Background()
	s, err := h.lifecycle.Create(ctx, testTeacherID, CreateSessionInput{DurationSeconds: 600, MaxParticipants: maxParticipants})
	require.NoError(t, err)
	s, err = h.lifecycle.Open(ctx, testTeacherID, s.ID)
	require.NoError(t, err)
	return s
}

// runningSession 创建、开放并开始一个会话。
func (h *harness) runningSession(t *testing.T) *domain.Session {
	t.Helper()
	s := h.waitingSession(t, 10)
	s, err := h.lifecycle.Start(context.Background(), testTeacherID, s.ID)
	require.NoError(t, err)
	return s
}

func student(id uint) Student {
	return Student{ID: id, DisplayName: "student"}
}

func studentIDs(snapshot domain.RosterSnapshot) []uint {
	ids := make([]uint, 0, len(snapshot.Participants))
	for _, p := range snapshot.Participants {
		ids = append(ids, p.StudentID)
	}
	return ids
}
