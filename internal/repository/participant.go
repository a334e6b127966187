package repository

import (
	"context"
	"time"

	"exam-coordinator/internal/domain"
)

// ParticipantRepository 定义了等候室成员的持久化操作。
// 所有会改变成员集合的方法都在同一个事务中递增会话的 roster_version 并返回新版本。
type ParticipantRepository interface {
	// Find 查找会话中的某个学生，不存在时返回 ErrParticipantNotFound。
	Find(ctx context.Context, sessionID string, studentID uint) (*domain.Participant, error)

	// Count 返回会话当前的成员数量。
	Count(ctx context.Context, sessionID string) (int64, error)

	// Add 插入成员并递增版本。
	Add(ctx context.Context, participant *domain.Participant) (uint64, error)

	// Remove 删除成员；成员不存在时 removed 为 false 且版本不变。
	Remove(ctx context.Context, sessionID string, studentID uint) (removed bool, version uint64, err error)

	// RemoveAll 清空会话的成员并递增版本。
	RemoveAll(ctx context.Context, sessionID string) (uint64, error)

	// SetConnected 修改连接标志并刷新 last_seen_at，同时递增版本。
	SetConnected(ctx context.Context, sessionID string, studentID uint, connected bool, seenAt time.Time) (uint64, error)

	// Touch 只刷新 last_seen_at，不改变版本。
	Touch(ctx context.Context, sessionID string, studentID uint, seenAt time.Time) error

	// Roster 在一次读取中返回会话的版本号和按加入顺序排列的成员。
	Roster(ctx context.Context, sessionID string) (domain.RosterSnapshot, error)

	// FindStale 返回 WAITING/RUNNING 会话中 last_seen_at 早于 before 的成员。
	FindStale(ctx context.Context, before time.Time) ([]domain.Participant, error)
}
