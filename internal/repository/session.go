package repository

import (
	"context"
	"time"

	"exam-coordinator/internal/domain"
)

// SessionRepository 定义了考试会话的持久化操作。
type SessionRepository interface {
	// Create 保存新会话。
	Create(ctx context.Context, session *domain.Session) error

	// FindByID 根据 ID 查找会话，不存在时返回 ErrSessionNotFound。
	FindByID(ctx context.Context, id string) (*domain.Session, error)

	// Transition 仅当会话当前处于 from 状态时将其改为 to，并记录对应的时间戳。
	// 没有匹配的记录时返回 ErrConflict，调用方据此判断竞争失败。
	Transition(ctx context.Context, id string, from, to domain.State, at time.Time) error

	// MarkArchived 记录归档时间，重复调用是幂等的。
	MarkArchived(ctx context.Context, id string, at time.Time) error
}
