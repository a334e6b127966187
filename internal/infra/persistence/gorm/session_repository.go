package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/repository"
)

// GormSessionRepository 是 SessionRepository 接口的 GORM 实现
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GormSessionRepository 实例
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// Create 保存新会话
func (r *GormSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create session %s: %w", session.ID, err)
	}
	return nil
}

// FindByID 根据会话 ID 查找会话
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by id %s: %w", id, err)
	}
	return &session, nil
}

// Transition 条件更新：WHERE id = ? AND state = from
func (r *GormSessionRepository) Transition(ctx context.Context, id string, from, to domain.State, at time.Time) error {
	updates := map[string]interface{}{"state": to}
	switch to {
	case domain.StateWaiting:
		updates["opened_at"] = at
	case domain.StateRunning:
		updates["started_at"] = at
	case domain.StateClosed:
		updates["closed_at"] = at
	}

	result := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("gorm: transition session %s %s->%s: %w", id, from, to, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrConflict
	}
	return nil
}

// MarkArchived 记录归档时间 (仅第一次生效)
func (r *GormSessionRepository) MarkArchived(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND archived_at IS NULL", id).
		Update("archived_at", at).Error
	if err != nil {
		return fmt.Errorf("gorm: archive session %s: %w", id, err)
	}
	return nil
}
