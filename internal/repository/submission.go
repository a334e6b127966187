package repository

import (
	"context"

	"exam-coordinator/internal/domain"
)

// SubmissionRepository 定义了考试提交的持久化操作。
type SubmissionRepository interface {
	// Create 保存提交；同一 (session, student) 已存在时返回 ErrDuplicateEntry。
	Create(ctx context.Context, submission *domain.Submission) error

	// Find 查找某个学生的提交，不存在时返回 ErrSubmissionNotFound。
	Find(ctx context.Context, sessionID string, studentID uint) (*domain.Submission, error)

	// ListBySession 返回会话的全部提交 (顺序不作保证)。
	ListBySession(ctx context.Context, sessionID string) ([]domain.Submission, error)
}
