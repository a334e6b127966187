package service

import (
	"context"
	"errors"
	"time"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LifecycleOptions 是会话生命周期的可配置参数。
type LifecycleOptions struct {
	DefaultMaxParticipants int
	SubmissionGrace        time.Duration
}

// CreateSessionInput 是创建会话的参数，MaxParticipants 为 0 时使用默认值。
type CreateSessionInput struct {
	DurationSeconds int
	MaxParticipants int
}

// LifecycleService 驱动会话状态机 PENDING -> WAITING -> RUNNING -> CLOSED。
// 状态转换与名单变化共用同一把会话锁，LIFECYCLE 事件与 ROSTER_DELTA 事件按提交顺序发布。
type LifecycleService struct {
	sessions  repository.SessionRepository
	registry  *AccessCodeRegistry
	roster    *RosterService
	bus       EventPublisher
	scheduler Scheduler
	locks     *SessionLocks
	opts      LifecycleOptions
	now       func() time.Time
	newID     func() string
}

// NewLifecycleService 创建 LifecycleService 实例。
func NewLifecycleService(
	sessions repository.SessionRepository,
	registry *AccessCodeRegistry,
	roster *RosterService,
	bus EventPublisher,
	scheduler Scheduler,
	locks *SessionLocks,
	opts LifecycleOptions,
) *LifecycleService {
	if sessions == nil || registry == nil || roster == nil {
		panic("dependencies cannot be nil for LifecycleService")
	}
	if bus == nil || scheduler == nil || locks == nil {
		panic("bus, scheduler and locks cannot be nil for LifecycleService")
	}
	if opts.DefaultMaxParticipants <= 0 {
		opts.DefaultMaxParticipants = 50
	}
	return &LifecycleService{
		sessions:  sessions,
		registry:  registry,
		roster:    roster,
		bus:       bus,
		scheduler: scheduler,
		locks:     locks,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Create 创建 PENDING 状态的会话并为其预留访问码。
func (s *LifecycleService) Create(ctx context.Context, teacherID uint, input CreateSessionInput) (*domain.Session, error) {
	if input.DurationSeconds <= 0 {
		return nil, ErrInvalidInput
	}
	if input.MaxParticipants < 0 {
		return nil, ErrInvalidInput
	}
	if input.MaxParticipants == 0 {
		input.MaxParticipants = s.opts.DefaultMaxParticipants
	}

	id := s.newID()
	logCtx := logrus.WithFields(logrus.Fields{"teacher_id": teacherID, "session_id": id})

	code, err := s.registry.Register(ctx, id)
	if err != nil {
		logCtx.WithError(err).Error("Failed to register access code")
		return nil, err
	}

	session := &domain.Session{
		ID:              id,
		TeacherID:       teacherID,
		AccessCode:      code,
		State:           domain.StatePending,
		DurationSeconds: input.DurationSeconds,
		MaxParticipants: input.MaxParticipants,
		CreatedAt:       s.now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		logCtx.WithError(err).Error("Failed to save new session")
		if relErr := s.registry.Release(ctx, code, id); relErr != nil {
			logCtx.WithError(relErr).Warn("Failed to release access code of unsaved session")
		}
		return nil, transient("create session", err)
	}

	s.bus.Publish(id, domain.NewLifecycle(id, domain.StatePending, session.CreatedAt, 0))
	logCtx.WithField("access_code", code).Info("Session created")
	return session, nil
}

// Get 返回会话的当前状态。
func (s *LifecycleService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, mapRepoError("load session", err, ErrSessionNotFound)
	}
	return session, nil
}

// Open 开放等候室 (PENDING -> WAITING)。
func (s *LifecycleService) Open(ctx context.Context, teacherID uint, sessionID string) (*domain.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.loadOwned(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.StatePending {
		return nil, ErrInvalidTransition
	}
	if err := s.transitionLocked(ctx, session, domain.StateWaiting); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return session, nil
}

// Start 开始考试 (WAITING -> RUNNING)，对同一会话至多成功一次。
// 成功后广播 LIFECYCLE(RUNNING)，其中携带开始时刻的名单版本，并安排到时自动关闭。
func (s *LifecycleService) Start(ctx context.Context, teacherID uint, sessionID string) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"teacher_id": teacherID, "session_id": sessionID})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.loadOwned(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.State {
	case domain.StateRunning, domain.StateClosed:
		logCtx.WithField("state", session.State).Warn("Start rejected: already started")
		return nil, ErrAlreadyStarted
	case domain.StatePending:
		return nil, ErrInvalidTransition
	}

	if err := s.transitionLocked(ctx, session, domain.StateRunning); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// 条件更新失败说明其他实例已经开始
			return nil, ErrAlreadyStarted
		}
		return nil, err
	}

	expiresAt := session.ExpiresAt()
	if err := s.scheduler.ScheduleExpiry(ctx, sessionID, *session.StartedAt, expiresAt); err != nil {
		// 考试已开始，定时器失败只影响自动关闭，教师仍可手动关闭
		logCtx.WithError(err).Error("Failed to schedule session expiry")
	}
	logCtx.WithFields(logrus.Fields{"roster_version": session.RosterVersion, "expires_at": expiresAt}).
		Info("Session started")
	return session, nil
}

// Close 由教师提前结束考试 (RUNNING -> CLOSED)。
func (s *LifecycleService) Close(ctx context.Context, teacherID uint, sessionID string) (*domain.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.loadOwned(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != domain.StateRunning {
		return nil, ErrInvalidTransition
	}
	if err := s.closeLocked(ctx, session); err != nil {
		return nil, err
	}
	if err := s.scheduler.CancelExpiry(ctx, sessionID); err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to cancel session expiry task")
	}
	return session, nil
}

// Expire 在考试时长耗尽时关闭会话。
// 仅当会话仍处于 RUNNING 且开始时刻与 startedAt 一致时生效，重复或过期的触发是空操作。
func (s *LifecycleService) Expire(ctx context.Context, sessionID string, startedAt time.Time) (bool, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return false, mapRepoError("load session", err, ErrSessionNotFound)
	}
	if session.State != domain.StateRunning || session.StartedAt == nil ||
		session.StartedAt.UnixMilli() != startedAt.UnixMilli() {
		return false, nil
	}
	if err := s.closeLocked(ctx, session); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Archive 在提交宽限期结束后归档已关闭的会话，并关闭其通知主题。
func (s *LifecycleService) Archive(ctx context.Context, sessionID string) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return mapRepoError("load session", err, ErrSessionNotFound)
	}
	if session.State != domain.StateClosed {
		return ErrInvalidTransition
	}
	if session.ArchivedAt == nil {
		if err := s.sessions.MarkArchived(ctx, sessionID, s.now()); err != nil {
			return transient("archive session", err)
		}
	}
	s.bus.CloseTopic(sessionID)
	s.roster.Forget(sessionID)
	logrus.WithField("session_id", sessionID).Info("Session archived")
	return nil
}

// CurrentEvents 从持久化状态构造会话的最新名单和生命周期事件，用于为新订阅者补齐状态。
func (s *LifecycleService) CurrentEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.roster.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return []domain.Event{
		domain.NewRosterDelta(snapshot),
		domain.NewLifecycle(sessionID, session.State, stateInstant(session), snapshot.Version),
	}, nil
}

// closeLocked 执行 RUNNING -> CLOSED：释放访问码、广播关闭、清空名单并安排归档。
func (s *LifecycleService) closeLocked(ctx context.Context, session *domain.Session) error {
	logCtx := logrus.WithField("session_id", session.ID)

	if err := s.transitionLocked(ctx, session, domain.StateClosed); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrInvalidTransition
		}
		return err
	}

	if err := s.registry.Release(ctx, session.AccessCode, session.ID); err != nil {
		// 残留的预留会在下一次解析时被识别并清理
		logCtx.WithError(err).Warn("Failed to release access code")
	}
	if _, err := s.roster.clearLocked(ctx, session.ID); err != nil {
		logCtx.WithError(err).Error("Failed to clear roster of closed session")
	}
	archiveAt := session.ClosedAt.Add(s.opts.SubmissionGrace)
	if err := s.scheduler.ScheduleArchive(ctx, session.ID, archiveAt); err != nil {
		logCtx.WithError(err).Error("Failed to schedule session archive")
	}
	logCtx.WithField("archive_at", archiveAt).Info("Session closed")
	return nil
}

// transitionLocked 持久化状态转换并广播 LIFECYCLE 事件，调用方必须持有会话锁。
func (s *LifecycleService) transitionLocked(ctx context.Context, session *domain.Session, to domain.State) error {
	if !domain.CanTransition(session.State, to) {
		return ErrInvalidTransition
	}
	// 截断到毫秒，与 MySQL DATETIME(3) 的精度一致，读回后仍能与任务中的时刻比较
	at := s.now().Truncate(time.Millisecond)
	if err := s.sessions.Transition(ctx, session.ID, session.State, to, at); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return err
		}
		return transient("transition session", err)
	}

	session.State = to
	switch to {
	case domain.StateWaiting:
		session.OpenedAt = &at
	case domain.StateRunning:
		session.StartedAt = &at
	case domain.StateClosed:
		session.ClosedAt = &at
	}
	// 会话锁内读取的 roster_version 即为当前版本
	s.bus.Publish(session.ID, domain.NewLifecycle(session.ID, to, at, session.RosterVersion))
	logrus.WithFields(logrus.Fields{"session_id": session.ID, "state": to}).Debug("Session state changed")
	return nil
}

func (s *LifecycleService) loadOwned(ctx context.Context, teacherID uint, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, mapRepoError("load session", err, ErrSessionNotFound)
	}
	if session.TeacherID != teacherID {
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "teacher_id": teacherID}).
			Warn("Rejected lifecycle action from non-owner")
		return nil, ErrNotSessionOwner
	}
	return session, nil
}

func stateInstant(session *domain.Session) time.Time {
	var at *time.Time
	switch session.State {
	case domain.StateWaiting:
		at = session.OpenedAt
	case domain.StateRunning:
		at = session.StartedAt
	case domain.StateClosed:
		at = session.ClosedAt
	}
	if at == nil {
		return session.CreatedAt
	}
	return *at
}
