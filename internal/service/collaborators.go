package service

import (
	"context"
	"time"

	"exam-coordinator/internal/domain"
)

// EventPublisher 是通知总线对服务层暴露的接口，由 hub.Bus 实现。
type EventPublisher interface {
	Publish(topic string, event domain.Event)
	CloseTopic(topic string)
}

// Grader 是外部评分服务。
// 返回包装了 ErrInvalidInput 的错误表示答案本身被拒绝，其余错误都视为暂时性失败。
type Grader interface {
	Grade(ctx context.Context, sessionID string, studentID uint, answers []byte) (domain.GradeResult, error)
}

// Scheduler 负责延时任务：考试到时自动关闭、宽限期后归档。
type Scheduler interface {
	ScheduleExpiry(ctx context.Context, sessionID string, startedAt, at time.Time) error
	CancelExpiry(ctx context.Context, sessionID string) error
	ScheduleArchive(ctx context.Context, sessionID string, at time.Time) error
}
