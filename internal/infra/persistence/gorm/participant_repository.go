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

// GormParticipantRepository 是 ParticipantRepository 接口的 GORM 实现
type GormParticipantRepository struct {
	db *gorm.DB
}

// NewGormParticipantRepository 创建 GormParticipantRepository 实例
func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParticipantRepository")
	}
	return &GormParticipantRepository{db: db}
}

// Find 查找会话中的某个学生
func (r *GormParticipantRepository) Find(ctx context.Context, sessionID string, studentID uint) (*domain.Participant, error) {
	var p domain.Participant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND student_id = ?", sessionID, studentID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("gorm: find participant %d in session %s: %w", studentID, sessionID, err)
	}
	return &p, nil
}

// Count 返回会话的成员数量
func (r *GormParticipantRepository) Count(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count participants in session %s: %w", sessionID, err)
	}
	return count, nil
}

// Add 插入成员并在同一事务中递增 roster_version
func (r *GormParticipantRepository) Add(ctx context.Context, participant *domain.Participant) (uint64, error) {
	var version uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(participant).Error; err != nil {
			if isDuplicateEntryError(err) {
				return repository.ErrDuplicateEntry
			}
			return fmt.Errorf("gorm: add participant %d to session %s: %w", participant.StudentID, participant.SessionID, err)
		}
		v, err := bumpRosterVersion(tx, participant.SessionID)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	return version, err
}

// Remove 删除成员；删除成功时递增版本
func (r *GormParticipantRepository) Remove(ctx context.Context, sessionID string, studentID uint) (bool, uint64, error) {
	var (
		removed bool
		version uint64
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("session_id = ? AND student_id = ?", sessionID, studentID).Delete(&domain.Participant{})
		if result.Error != nil {
			return fmt.Errorf("gorm: remove participant %d from session %s: %w", studentID, sessionID, result.Error)
		}
		if result.RowsAffected == 0 {
			v, err := currentRosterVersion(tx, sessionID)
			version = v
			return err
		}
		removed = true
		v, err := bumpRosterVersion(tx, sessionID)
		version = v
		return err
	})
	if err != nil {
		return false, 0, err
	}
	return removed, version, nil
}

// RemoveAll 清空会话成员并递增版本
func (r *GormParticipantRepository) RemoveAll(ctx context.Context, sessionID string) (uint64, error) {
	var version uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&domain.Participant{}).Error; err != nil {
			return fmt.Errorf("gorm: clear participants of session %s: %w", sessionID, err)
		}
		v, err := bumpRosterVersion(tx, sessionID)
		version = v
		return err
	})
	return version, err
}

// SetConnected 修改连接标志并递增版本
func (r *GormParticipantRepository) SetConnected(ctx context.Context, sessionID string, studentID uint, connected bool, seenAt time.Time) (uint64, error) {
	var version uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Participant{}).
			Where("session_id = ? AND student_id = ?", sessionID, studentID).
			Updates(map[string]interface{}{"connected": connected, "last_seen_at": seenAt})
		if result.Error != nil {
			return fmt.Errorf("gorm: set connected=%t for participant %d in session %s: %w", connected, studentID, sessionID, result.Error)
		}
		if result.RowsAffected == 0 {
			return repository.ErrParticipantNotFound
		}
		v, err := bumpRosterVersion(tx, sessionID)
		version = v
		return err
	})
	return version, err
}

// Touch 刷新 last_seen_at
func (r *GormParticipantRepository) Touch(ctx context.Context, sessionID string, studentID uint, seenAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("session_id = ? AND student_id = ?", sessionID, studentID).
		Update("last_seen_at", seenAt)
	if result.Error != nil {
		return fmt.Errorf("gorm: touch participant %d in session %s: %w", studentID, sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrParticipantNotFound
	}
	return nil
}

// Roster 在同一事务中读取版本号和成员列表，保证两者一致
func (r *GormParticipantRepository) Roster(ctx context.Context, sessionID string) (domain.RosterSnapshot, error) {
	snapshot := domain.RosterSnapshot{SessionID: sessionID}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := currentRosterVersion(tx, sessionID)
		if err != nil {
			return err
		}
		snapshot.Version = v
		participants := make([]domain.Participant, 0)
		if err := tx.Where("session_id = ?", sessionID).
			Order("joined_at asc").Order("id asc").
			Find(&participants).Error; err != nil {
			return fmt.Errorf("gorm: list participants of session %s: %w", sessionID, err)
		}
		snapshot.Participants = participants
		return nil
	})
	if err != nil {
		return domain.RosterSnapshot{}, err
	}
	return snapshot, nil
}

// FindStale 返回活跃会话中超时未响应的成员
func (r *GormParticipantRepository) FindStale(ctx context.Context, before time.Time) ([]domain.Participant, error) {
	stale := make([]domain.Participant, 0)
	err := r.db.WithContext(ctx).
		Joins("JOIN sessions ON sessions.id = participants.session_id").
		Where("sessions.state IN ?", []domain.State{domain.StateWaiting, domain.StateRunning}).
		Where("participants.last_seen_at < ?", before).
		Order("participants.session_id asc").
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find stale participants before %v: %w", before, err)
	}
	return stale, nil
}

// --- 私有辅助函数 ---

func bumpRosterVersion(tx *gorm.DB, sessionID string) (uint64, error) {
	result := tx.Model(&domain.Session{}).
		Where("id = ?", sessionID).
		UpdateColumn("roster_version", gorm.Expr("roster_version + ?", 1))
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: bump roster version of session %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, repository.ErrSessionNotFound
	}
	return currentRosterVersion(tx, sessionID)
}

func currentRosterVersion(tx *gorm.DB, sessionID string) (uint64, error) {
	var session domain.Session
	err := tx.Select("id", "roster_version").Where("id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, repository.ErrSessionNotFound
		}
		return 0, fmt.Errorf("gorm: read roster version of session %s: %w", sessionID, err)
	}
	return session.RosterVersion, nil
}
