package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"exam-coordinator/internal/domain"
	"exam-coordinator/internal/repository"
)

// GormSubmissionRepository 是 SubmissionRepository 接口的 GORM 实现
type GormSubmissionRepository struct {
	db *gorm.DB
}

// NewGormSubmissionRepository 创建 GormSubmissionRepository 实例
func NewGormSubmissionRepository(db *gorm.DB) *GormSubmissionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSubmissionRepository")
	}
	return &GormSubmissionRepository{db: db}
}

// Create 保存提交，(session_id, student_id) 唯一索引保证只有一次成功
func (r *GormSubmissionRepository) Create(ctx context.Context, submission *domain.Submission) error {
	if err := r.db.WithContext(ctx).Create(submission).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create submission of student %d in session %s: %w", submission.StudentID, submission.SessionID, err)
	}
	return nil
}

// Find 查找某个学生的提交
func (r *GormSubmissionRepository) Find(ctx context.Context, sessionID string, studentID uint) (*domain.Submission, error) {
	var s domain.Submission
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND student_id = ?", sessionID, studentID).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("gorm: find submission of student %d in session %s: %w", studentID, sessionID, err)
	}
	return &s, nil
}

// ListBySession 返回会话全部提交，排名由服务层计算
func (r *GormSubmissionRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Submission, error) {
	submissions := make([]domain.Submission, 0)
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&submissions).Error; err != nil {
		return nil, fmt.Errorf("gorm: list submissions of session %s: %w", sessionID, err)
	}
	return submissions, nil
}
