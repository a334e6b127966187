package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/repository"

	"github.com/sirupsen/logrus"
)

// Student 描述加入等候室的学生身份，来自 JWT。
type Student struct {
	ID          uint
	DisplayName string
	AvatarRef   string
}

// RosterService 管理每个会话的等候室成员。
// 成员变化在会话锁内提交并发布，订阅者看到的版本顺序与提交顺序一致。
// Snapshot 读取内存中的最新快照，不会被加入操作阻塞。
type RosterService struct {
	sessions     repository.SessionRepository
	participants repository.ParticipantRepository
	bus          EventPublisher
	locks        *SessionLocks
	now          func() time.Time

	cacheMu sync.RWMutex
	cache   map[string]domain.RosterSnapshot

	connMu sync.Mutex
	conns  map[connKey]int // 每名学生当前打开的实时连接数
}

type connKey struct {
	sessionID string
	studentID uint
}

// NewRosterService 创建 RosterService 实例。
func NewRosterService(
	sessions repository.SessionRepository,
	participants repository.ParticipantRepository,
	bus EventPublisher,
	locks *SessionLocks,
) *RosterService {
	if sessions == nil || participants == nil {
		panic("repositories cannot be nil for RosterService")
	}
	if bus == nil {
		panic("EventPublisher cannot be nil for RosterService")
	}
	if locks == nil {
		panic("SessionLocks cannot be nil for RosterService")
	}
	return &RosterService{
		sessions:     sessions,
		participants: participants,
		bus:          bus,
		locks:        locks,
		now:          func() time.Time { return time.Now().UTC() },
		cache:        make(map[string]domain.RosterSnapshot),
		conns:        make(map[connKey]int),
	}
}

// Join 将学生加入处于 WAITING 状态的会话。
// 已在名单中的学生重新加入只恢复连接标志，不会重复占位。
func (s *RosterService) Join(ctx context.Context, sessionID string, student Student) (domain.RosterSnapshot, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "student_id": student.ID})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return domain.RosterSnapshot{}, mapRepoError("load session", err, ErrSessionNotFound)
	}
	if session.State != domain.StateWaiting {
		logCtx.WithField("state", session.State).Warn("Join rejected: session not waiting")
		return domain.RosterSnapshot{}, ErrSessionNotJoinable
	}

	now := s.now()
	existing, err := s.participants.Find(ctx, sessionID, student.ID)
	switch {
	case err == nil:
		return s.reconnectLocked(ctx, existing, now)
	case !errors.Is(err, repository.ErrParticipantNotFound):
		return domain.RosterSnapshot{}, transient("find participant", err)
	}

	count, err := s.participants.Count(ctx, sessionID)
	if err != nil {
		return domain.RosterSnapshot{}, transient("count participants", err)
	}
	if count >= int64(session.MaxParticipants) {
		logCtx.WithField("max_participants", session.MaxParticipants).Warn("Join rejected: room full")
		return domain.RosterSnapshot{}, ErrRoomFull
	}

	participant := &domain.Participant{
		SessionID:   sessionID,
		StudentID:   student.ID,
		DisplayName: student.DisplayName,
		AvatarRef:   student.AvatarRef,
		JoinedAt:    now,
		Connected:   true,
		LastSeenAt:  now,
	}
	version, err := s.participants.Add(ctx, participant)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 另一个实例抢先插入，按重新加入处理
			return s.refreshLocked(ctx, sessionID)
		}
		return domain.RosterSnapshot{}, mapRepoError("add participant", err, ErrSessionNotFound)
	}
	logCtx.WithField("version", version).Info("Student joined waiting room")
	return s.refreshLocked(ctx, sessionID)
}

// Leave 将学生移出名单，学生不在名单中时为空操作。
func (s *RosterService) Leave(ctx context.Context, sessionID string, studentID uint) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if _, err := s.sessions.FindByID(ctx, sessionID); err != nil {
		return mapRepoError("load session", err, ErrSessionNotFound)
	}
	_, err := s.removeLocked(ctx, sessionID, studentID)
	return err
}

// Snapshot 返回会话当前的名单快照。
func (s *RosterService) Snapshot(ctx context.Context, sessionID string) (domain.RosterSnapshot, error) {
	s.cacheMu.RLock()
	snapshot, ok := s.cache[sessionID]
	s.cacheMu.RUnlock()
	if ok {
		return snapshot, nil
	}

	snapshot, err := s.participants.Roster(ctx, sessionID)
	if err != nil {
		return domain.RosterSnapshot{}, mapRepoError("load roster", err, ErrSessionNotFound)
	}
	return s.storeSnapshot(snapshot), nil
}

// MarkConnected 在学生的实时连接建立时恢复其连接标志；非成员 (例如教师) 忽略。
func (s *RosterService) MarkConnected(ctx context.Context, sessionID string, studentID uint) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	s.trackConnection(sessionID, studentID, 1)

	p, err := s.participants.Find(ctx, sessionID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil
		}
		return transient("find participant", err)
	}
	_, err = s.reconnectLocked(ctx, p, s.now())
	return err
}

// MarkDisconnected 在学生的最后一个实时连接断开时清除其连接标志，成员资格保留到超时清理。
func (s *RosterService) MarkDisconnected(ctx context.Context, sessionID string, studentID uint) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if open := s.trackConnection(sessionID, studentID, -1); open > 0 {
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "student_id": studentID, "open": open}).
			Debug("Connection closed, student still connected")
		return nil
	}

	p, err := s.participants.Find(ctx, sessionID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil
		}
		return transient("find participant", err)
	}
	if !p.Connected {
		return nil
	}
	if _, err := s.participants.SetConnected(ctx, sessionID, studentID, false, s.now()); err != nil {
		return transient("set connected", err)
	}
	_, err = s.refreshLocked(ctx, sessionID)
	return err
}

// Heartbeat 刷新学生的最后活跃时间，不改变名单版本。
func (s *RosterService) Heartbeat(ctx context.Context, sessionID string, studentID uint) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	err := s.participants.Touch(ctx, sessionID, studentID, s.now())
	if err != nil && !errors.Is(err, repository.ErrParticipantNotFound) {
		return transient("touch participant", err)
	}
	return nil
}

// SweepStale 移除最后活跃时间早于 now-timeout 的成员，效果等同于离开。
// 返回被移除的成员数量。
func (s *RosterService) SweepStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := s.now().Add(-timeout)
	stale, err := s.participants.FindStale(ctx, cutoff)
	if err != nil {
		return 0, transient("find stale participants", err)
	}

	removed := 0
	for _, candidate := range stale {
		ok, err := s.sweepOne(ctx, candidate.SessionID, candidate.StudentID, cutoff)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{"removed": removed, "cutoff": cutoff}).Info("Swept stale participants")
	}
	return removed, nil
}

func (s *RosterService) sweepOne(ctx context.Context, sessionID string, studentID uint, cutoff time.Time) (bool, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	// 加锁后重新读取，期间可能有心跳或重新加入
	p, err := s.participants.Find(ctx, sessionID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return false, nil
		}
		return false, transient("find participant", err)
	}
	if !p.LastSeenAt.Before(cutoff) {
		return false, nil
	}
	return s.removeLocked(ctx, sessionID, studentID)
}

// clearLocked 清空会话名单并发布新快照，调用方必须持有会话锁。
func (s *RosterService) clearLocked(ctx context.Context, sessionID string) (domain.RosterSnapshot, error) {
	if _, err := s.participants.RemoveAll(ctx, sessionID); err != nil {
		return domain.RosterSnapshot{}, mapRepoError("clear roster", err, ErrSessionNotFound)
	}
	return s.refreshLocked(ctx, sessionID)
}

// Forget 丢弃会话的缓存快照，会话归档后调用。
func (s *RosterService) Forget(sessionID string) {
	s.cacheMu.Lock()
	delete(s.cache, sessionID)
	s.cacheMu.Unlock()
}

// trackConnection 调整学生的打开连接数并返回调整后的值，归零时删除记录。
func (s *RosterService) trackConnection(sessionID string, studentID uint, delta int) int {
	key := connKey{sessionID: sessionID, studentID: studentID}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	open := s.conns[key] + delta
	if open <= 0 {
		delete(s.conns, key)
		return 0
	}
	s.conns[key] = open
	return open
}

func (s *RosterService) reconnectLocked(ctx context.Context, p *domain.Participant, now time.Time) (domain.RosterSnapshot, error) {
	if p.Connected {
		if err := s.participants.Touch(ctx, p.SessionID, p.StudentID, now); err != nil {
			return domain.RosterSnapshot{}, transient("touch participant", err)
		}
		return s.Snapshot(ctx, p.SessionID)
	}
	if _, err := s.participants.SetConnected(ctx, p.SessionID, p.StudentID, true, now); err != nil {
		return domain.RosterSnapshot{}, transient("set connected", err)
	}
	logrus.WithFields(logrus.Fields{"session_id": p.SessionID, "student_id": p.StudentID}).Info("Student reconnected")
	return s.refreshLocked(ctx, p.SessionID)
}

func (s *RosterService) removeLocked(ctx context.Context, sessionID string, studentID uint) (bool, error) {
	removed, version, err := s.participants.Remove(ctx, sessionID, studentID)
	if err != nil {
		return false, mapRepoError("remove participant", err, ErrSessionNotFound)
	}
	if !removed {
		return false, nil
	}
	logrus.WithFields(logrus.Fields{"session_id": sessionID, "student_id": studentID, "version": version}).
		Info("Student left waiting room")
	_, err = s.refreshLocked(ctx, sessionID)
	return true, err
}

// refreshLocked 读取已提交的名单，更新缓存并发布 ROSTER_DELTA。
// 调用方必须持有会话锁，保证发布顺序与提交顺序一致。
func (s *RosterService) refreshLocked(ctx context.Context, sessionID string) (domain.RosterSnapshot, error) {
	snapshot, err := s.participants.Roster(ctx, sessionID)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to reload roster after change")
		return domain.RosterSnapshot{}, mapRepoError("load roster", err, ErrSessionNotFound)
	}
	snapshot = s.storeSnapshot(snapshot)
	s.bus.Publish(sessionID, domain.NewRosterDelta(snapshot))
	return snapshot, nil
}

// storeSnapshot 仅在版本更高时替换缓存，返回缓存中的最新快照。
func (s *RosterService) storeSnapshot(snapshot domain.RosterSnapshot) domain.RosterSnapshot {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if cur, ok := s.cache[snapshot.SessionID]; ok && !snapshot.Newer(cur) {
		return cur
	}
	s.cache[snapshot.SessionID] = snapshot
	return snapshot
}
